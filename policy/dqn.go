package policy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/rustyeddy/pricer/env"
)

type DQNParams struct {
	LearningRate         float64 `json:"learning_rate"`
	BufferSize           int     `json:"buffer_size"`
	LearningStarts       int     `json:"learning_starts"`
	BatchSize            int     `json:"batch_size"`
	Tau                  float64 `json:"tau"`
	Gamma                float64 `json:"gamma"`
	TrainFreq            int     `json:"train_freq"`
	GradientSteps        int     `json:"gradient_steps"`
	TargetUpdateInterval int     `json:"target_update_interval"`
	ExplorationFraction  float64 `json:"exploration_fraction"`
	ExplorationInitial   float64 `json:"exploration_initial_eps"`
	ExplorationFinal     float64 `json:"exploration_final_eps"`
}

func DefaultDQNParams() DQNParams {
	return DQNParams{
		LearningRate:         1e-3,
		BufferSize:           10000,
		LearningStarts:       1000,
		BatchSize:            32,
		Tau:                  1.0,
		Gamma:                0.99,
		TrainFreq:            4,
		GradientSteps:        1,
		TargetUpdateInterval: 1000,
		ExplorationFraction:  0.1,
		ExplorationInitial:   1.0,
		ExplorationFinal:     0.05,
	}
}

type transition struct {
	s, next features
	a       int
	r       float64
	done    bool
}

// replay is a fixed-size ring buffer of transitions.
type replay struct {
	buf  []transition
	next int
	full bool
}

func newReplay(size int) *replay {
	if size <= 0 {
		size = 1
	}
	return &replay{buf: make([]transition, 0, size)}
}

func (r *replay) add(t transition) {
	if len(r.buf) < cap(r.buf) {
		r.buf = append(r.buf, t)
		return
	}
	r.buf[r.next] = t
	r.next = (r.next + 1) % len(r.buf)
}

func (r *replay) sample(rng *rand.Rand) transition {
	return r.buf[rng.IntN(len(r.buf))]
}

// DQNPolicy learns action values Q(s, a) with experience replay, a target
// network and epsilon-greedy exploration.
type DQNPolicy struct {
	params    DQNParams
	seed      uint64
	q         linear
	target    linear
	timesteps int
}

func NewDQN(params DQNParams, seed uint64) *DQNPolicy {
	d := &DQNPolicy{params: params, seed: seed}
	d.q.randomize(seed, 0.01)
	d.target = d.q
	return d
}

func (d *DQNPolicy) Algorithm() Algorithm { return DQN }
func (d *DQNPolicy) Timesteps() int       { return d.timesteps }
func (d *DQNPolicy) Params() DQNParams    { return d.params }

func (d *DQNPolicy) Predict(s env.State) env.Action {
	return argmax(d.q.scores(featurize(s)))
}

func (d *DQNPolicy) epsilon(step, total int) float64 {
	p := d.params
	horizon := p.ExplorationFraction * float64(total)
	if horizon <= 0 || float64(step) >= horizon {
		return p.ExplorationFinal
	}
	frac := float64(step) / horizon
	return p.ExplorationInitial + frac*(p.ExplorationFinal-p.ExplorationInitial)
}

func (d *DQNPolicy) Learn(ctx context.Context, e Env, timesteps int, progress ProgressFunc) error {
	if timesteps <= 0 {
		return fmt.Errorf("timesteps must be positive, got %d", timesteps)
	}
	p := d.params
	rng := newRand(d.seed + uint64(d.timesteps))
	buffer := newReplay(p.BufferSize)

	var (
		rewards  rewardWindow
		episodes int
	)

	s, err := e.Reset(ctx)
	if err != nil {
		return err
	}
	x := featurize(s)

	for t := 1; t <= timesteps; t++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		var a env.Action
		if rng.Float64() < d.epsilon(t-1, timesteps) {
			a = env.Action(rng.IntN(env.NumActions))
		} else {
			a = argmax(d.q.scores(x))
		}

		res, err := e.Step(ctx, a)
		if err != nil {
			return fmt.Errorf("step %d: %w", t, err)
		}
		next := featurize(res.State)
		buffer.add(transition{s: x, a: int(a), r: res.Reward, next: next, done: res.Done})
		rewards.add(res.Reward)
		x = next

		if res.Done {
			episodes++
			s, err = e.Reset(ctx)
			if err != nil {
				return err
			}
			x = featurize(s)
		}

		if t > p.LearningStarts && t%max(1, p.TrainFreq) == 0 {
			for g := 0; g < max(1, p.GradientSteps); g++ {
				d.train(buffer, rng)
			}
		}
		if p.TargetUpdateInterval > 0 && t%p.TargetUpdateInterval == 0 {
			d.syncTarget()
		}
		if progress != nil && t%ProgressEvery == 0 {
			progress(Progress{Timesteps: t, Episodes: episodes, MeanReward: rewards.mean()})
		}
	}

	if !d.q.finite() {
		return errors.New("dqn: weights diverged")
	}
	d.timesteps += timesteps
	return nil
}

// train runs one minibatch of semi-gradient Q-learning with a Huber loss.
func (d *DQNPolicy) train(buffer *replay, rng *rand.Rand) {
	p := d.params
	n := max(1, p.BatchSize)
	var grad linear
	for i := 0; i < n; i++ {
		tr := buffer.sample(rng)
		y := tr.r
		if !tr.done {
			best := math.Inf(-1)
			for _, v := range d.target.scores(tr.next) {
				best = math.Max(best, v)
			}
			y += p.Gamma * best
		}
		delta := d.q.score(tr.a, tr.s) - y
		delta = math.Max(-1, math.Min(1, delta))
		for k := range tr.s {
			grad[tr.a][k] += delta * tr.s[k]
		}
	}
	step := p.LearningRate / float64(n)
	for a := range d.q {
		for k := range d.q[a] {
			d.q[a][k] -= step * grad[a][k]
		}
	}
}

func (d *DQNPolicy) syncTarget() {
	tau := d.params.Tau
	for a := range d.target {
		for k := range d.target[a] {
			d.target[a][k] = tau*d.q[a][k] + (1-tau)*d.target[a][k]
		}
	}
}

type dqnState struct {
	Params DQNParams `json:"params"`
	Q      linear    `json:"q"`
	Target linear    `json:"target"`
}

func (d *DQNPolicy) Save(path string) error {
	return writeArtifact(path, artifact{
		Algorithm: DQN,
		Seed:      d.seed,
		Timesteps: d.timesteps,
		DQN:       &dqnState{Params: d.params, Q: d.q, Target: d.target},
	})
}

func (d *DQNPolicy) Load(path string) error {
	a, err := readArtifact(path, DQN)
	if err != nil {
		return err
	}
	if a.DQN == nil || !a.DQN.Q.finite() || !a.DQN.Target.finite() {
		return &ModelLoadError{Path: path, Err: errors.New("missing or invalid dqn weights")}
	}
	d.params = a.DQN.Params
	d.seed = a.Seed
	d.timesteps = a.Timesteps
	d.q = a.DQN.Q
	d.target = a.DQN.Target
	return nil
}
