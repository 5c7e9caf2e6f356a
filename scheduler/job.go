// Package scheduler runs pricing jobs on a pool of workers fed by an
// in-memory queue. The pool is sized to the pending load and shrinks when
// oversized.
package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type Kind string

const (
	KindUpdate  Kind = "update"
	KindRetrain Kind = "retrain"
)

// Job is one unit of work for one product.
type Job struct {
	ID        string
	BatchID   string
	Kind      Kind
	ProductID int64
	// Timesteps applies to retrain jobs.
	Timesteps int
}

func NewJob(batchID string, kind Kind, productID int64) Job {
	return Job{ID: uuid.NewString(), BatchID: batchID, Kind: kind, ProductID: productID}
}

// NewRetrainJob builds a retrain job; timesteps <= 0 leaves the choice to the
// runner.
func NewRetrainJob(batchID string, productID int64, timesteps int) Job {
	j := NewJob(batchID, KindRetrain, productID)
	j.Timesteps = timesteps
	return j
}

func (j Job) String() string {
	return fmt.Sprintf("%s product=%d job=%s", j.Kind, j.ProductID, j.ID)
}

// Runner executes jobs.
type Runner interface {
	RunJob(ctx context.Context, job Job) error
}

type RunnerFunc func(ctx context.Context, job Job) error

func (f RunnerFunc) RunJob(ctx context.Context, job Job) error { return f(ctx, job) }
