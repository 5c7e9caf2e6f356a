package trainer

import (
	"fmt"

	"github.com/rustyeddy/pricer/policy"
)

// TrainingFailure is returned when a Train call fails after its session was
// opened. The session is recorded as FAILED and the model version is left
// unchanged.
type TrainingFailure struct {
	SessionID string
	ProductID int64
	Algorithm policy.Algorithm
	Err       error
}

func (e *TrainingFailure) Error() string {
	return fmt.Sprintf("training %s for product %d failed (session %s): %v", e.Algorithm, e.ProductID, e.SessionID, e.Err)
}

func (e *TrainingFailure) Unwrap() error { return e.Err }
