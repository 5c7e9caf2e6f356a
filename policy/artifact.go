package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const artifactFormat = "pricer.policy/v1"

type artifact struct {
	Format    string    `json:"format"`
	Algorithm Algorithm `json:"algorithm"`
	Seed      uint64    `json:"seed"`
	Timesteps int       `json:"timesteps"`
	Features  int       `json:"features"`
	SavedAt   time.Time `json:"saved_at"`
	DQN       *dqnState `json:"dqn,omitempty"`
	PPO       *ppoState `json:"ppo,omitempty"`
}

// ModelLoadError reports a model artifact that is missing, unreadable or
// does not match the requested policy family.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

func IsModelLoad(err error) bool {
	var mle *ModelLoadError
	return errors.As(err, &mle)
}

// writeArtifact writes a to path through a temp file and rename so readers
// never observe a partial artifact.
func writeArtifact(path string, a artifact) error {
	a.Format = artifactFormat
	a.Features = numFeatures
	a.SavedAt = time.Now().UTC()

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal model: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".model-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp model: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close model: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename model: %w", err)
	}
	return nil
}

func readArtifact(path string, want Algorithm) (artifact, error) {
	var a artifact
	data, err := os.ReadFile(path)
	if err != nil {
		return a, &ModelLoadError{Path: path, Err: err}
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return a, &ModelLoadError{Path: path, Err: fmt.Errorf("decode: %w", err)}
	}
	if a.Format != artifactFormat {
		return a, &ModelLoadError{Path: path, Err: fmt.Errorf("unsupported format %q", a.Format)}
	}
	if a.Algorithm != want {
		return a, &ModelLoadError{Path: path, Err: fmt.Errorf("artifact is %s, want %s", a.Algorithm, want)}
	}
	if a.Features != numFeatures {
		return a, &ModelLoadError{Path: path, Err: fmt.Errorf("artifact has %d features, want %d", a.Features, numFeatures)}
	}
	return a, nil
}
