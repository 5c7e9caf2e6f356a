// Package policy implements trainable pricing policies. A Policy maps an
// env.State to one of the env actions and can be trained against anything
// that behaves like an env.Environment.
//
// Two families are provided: a deep-Q style value learner (DQN) and a clipped
// policy-gradient learner (PPO). Both use linear function approximation over
// a small feature map of the state, so a trained model is a few dozen floats
// and persists as a JSON artifact.
package policy

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/rustyeddy/pricer/env"
)

type Algorithm string

const (
	DQN Algorithm = "DQN"
	PPO Algorithm = "PPO"
)

func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(strings.ToUpper(strings.TrimSpace(s))) {
	case DQN:
		return DQN, nil
	case PPO:
		return PPO, nil
	}
	return "", fmt.Errorf("unknown algorithm %q (want DQN or PPO)", s)
}

// Env is the environment contract a policy trains against.
type Env interface {
	Reset(ctx context.Context) (env.State, error)
	Step(ctx context.Context, a env.Action) (env.StepResult, error)
}

// Progress is reported periodically while learning.
type Progress struct {
	Timesteps  int
	Episodes   int
	MeanReward float64
}

type ProgressFunc func(Progress)

// ProgressEvery is the reporting interval, in timesteps.
const ProgressEvery = 1000

type Policy interface {
	Algorithm() Algorithm
	// Predict returns the greedy action for s. It never explores.
	Predict(s env.State) env.Action
	// Learn trains for timesteps interaction steps against e.
	Learn(ctx context.Context, e Env, timesteps int, progress ProgressFunc) error
	// Timesteps is the total number of steps the policy has learned from.
	Timesteps() int
	Save(path string) error
	Load(path string) error
}

// New returns an untrained policy with the family's fixed hyperparameters.
// The same seed always yields the same initial weights and training run.
func New(alg Algorithm, seed uint64) (Policy, error) {
	switch alg {
	case DQN:
		return NewDQN(DefaultDQNParams(), seed), nil
	case PPO:
		return NewPPO(DefaultPPOParams(), seed), nil
	}
	return nil, fmt.Errorf("unknown algorithm %q", alg)
}

// Open loads the artifact at path into a fresh policy of family alg.
func Open(path string, alg Algorithm) (Policy, error) {
	p, err := New(alg, 0)
	if err != nil {
		return nil, &ModelLoadError{Path: path, Err: err}
	}
	if err := p.Load(path); err != nil {
		return nil, err
	}
	return p, nil
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// rewardWindow keeps the last 100 rewards for progress reports.
type rewardWindow struct {
	buf  [100]float64
	n    int
	next int
}

func (w *rewardWindow) add(r float64) {
	w.buf[w.next] = r
	w.next = (w.next + 1) % len(w.buf)
	if w.n < len(w.buf) {
		w.n++
	}
}

func (w *rewardWindow) mean() float64 {
	if w.n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < w.n; i++ {
		sum += w.buf[i]
	}
	return sum / float64(w.n)
}
