package policy

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/rustyeddy/pricer/env"
)

type PPOParams struct {
	LearningRate float64 `json:"learning_rate"`
	NSteps       int     `json:"n_steps"`
	BatchSize    int     `json:"batch_size"`
	NEpochs      int     `json:"n_epochs"`
	Gamma        float64 `json:"gamma"`
	GAELambda    float64 `json:"gae_lambda"`
	ClipRange    float64 `json:"clip_range"`
	EntCoef      float64 `json:"ent_coef"`
	VFCoef       float64 `json:"vf_coef"`
}

func DefaultPPOParams() PPOParams {
	return PPOParams{
		LearningRate: 3e-4,
		NSteps:       2048,
		BatchSize:    64,
		NEpochs:      10,
		Gamma:        0.99,
		GAELambda:    0.95,
		ClipRange:    0.2,
		EntCoef:      0,
		VFCoef:       0.5,
	}
}

// PPOPolicy is a linear softmax actor with a linear value critic, trained
// with generalized advantage estimation and a clipped surrogate objective.
type PPOPolicy struct {
	params    PPOParams
	seed      uint64
	actor     linear
	critic    features
	timesteps int
}

func NewPPO(params PPOParams, seed uint64) *PPOPolicy {
	p := &PPOPolicy{params: params, seed: seed}
	p.actor.randomize(seed, 0.01)
	return p
}

func (p *PPOPolicy) Algorithm() Algorithm { return PPO }
func (p *PPOPolicy) Timesteps() int       { return p.timesteps }
func (p *PPOPolicy) Params() PPOParams    { return p.params }

// Predict returns the most probable action.
func (p *PPOPolicy) Predict(s env.State) env.Action {
	return argmax(p.actor.scores(featurize(s)))
}

func softmax(z [env.NumActions]float64) [env.NumActions]float64 {
	hi := math.Inf(-1)
	for _, v := range z {
		hi = math.Max(hi, v)
	}
	var out [env.NumActions]float64
	var sum float64
	for i, v := range z {
		out[i] = math.Exp(v - hi)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func sample(pi [env.NumActions]float64, rng *rand.Rand) int {
	u := rng.Float64()
	var acc float64
	for i, v := range pi {
		acc += v
		if u < acc {
			return i
		}
	}
	return len(pi) - 1
}

func (p *PPOPolicy) value(x features) float64 {
	var v float64
	for i := range x {
		v += p.critic[i] * x[i]
	}
	return v
}

type rolloutStep struct {
	x       features
	a       int
	logp    float64
	reward  float64
	value   float64
	done    bool
	adv     float64
	returns float64
}

func (p *PPOPolicy) Learn(ctx context.Context, e Env, timesteps int, progress ProgressFunc) error {
	if timesteps <= 0 {
		return fmt.Errorf("timesteps must be positive, got %d", timesteps)
	}
	rng := newRand(p.seed + uint64(p.timesteps))
	nSteps := max(1, p.params.NSteps)

	var (
		rewards  rewardWindow
		episodes int
	)

	s, err := e.Reset(ctx)
	if err != nil {
		return err
	}
	x := featurize(s)

	t := 0
	for t < timesteps {
		n := min(nSteps, timesteps-t)
		steps := make([]rolloutStep, 0, n)

		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			pi := softmax(p.actor.scores(x))
			a := sample(pi, rng)
			res, err := e.Step(ctx, env.Action(a))
			if err != nil {
				return fmt.Errorf("step %d: %w", t+1, err)
			}
			steps = append(steps, rolloutStep{
				x:      x,
				a:      a,
				logp:   math.Log(pi[a]),
				reward: res.Reward,
				value:  p.value(x),
				done:   res.Done,
			})
			rewards.add(res.Reward)
			t++
			x = featurize(res.State)

			if res.Done {
				episodes++
				s, err = e.Reset(ctx)
				if err != nil {
					return err
				}
				x = featurize(s)
			}
			if progress != nil && t%ProgressEvery == 0 {
				progress(Progress{Timesteps: t, Episodes: episodes, MeanReward: rewards.mean()})
			}
		}

		p.advantages(steps, p.value(x))
		p.update(steps, rng)
	}

	if !p.actor.finite() || !finite(p.critic) {
		return errors.New("ppo: weights diverged")
	}
	p.timesteps += timesteps
	return nil
}

// advantages fills in GAE advantages and value targets, bootstrapping the
// final step from last.
func (p *PPOPolicy) advantages(steps []rolloutStep, last float64) {
	gamma, lambda := p.params.Gamma, p.params.GAELambda
	var gae float64
	next := last
	for i := len(steps) - 1; i >= 0; i-- {
		st := &steps[i]
		nonTerminal := 1.0
		if st.done {
			nonTerminal = 0
		}
		delta := st.reward + gamma*next*nonTerminal - st.value
		gae = delta + gamma*lambda*nonTerminal*gae
		st.adv = gae
		st.returns = gae + st.value
		next = st.value
	}
}

func (p *PPOPolicy) update(steps []rolloutStep, rng *rand.Rand) {
	if len(steps) == 0 {
		return
	}
	var mean, sq float64
	for _, st := range steps {
		mean += st.adv
	}
	mean /= float64(len(steps))
	for _, st := range steps {
		sq += (st.adv - mean) * (st.adv - mean)
	}
	std := math.Sqrt(sq/float64(len(steps))) + 1e-8

	idx := make([]int, len(steps))
	for i := range idx {
		idx[i] = i
	}
	batch := max(1, p.params.BatchSize)
	lo, hi := 1-p.params.ClipRange, 1+p.params.ClipRange

	for epoch := 0; epoch < max(1, p.params.NEpochs); epoch++ {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for start := 0; start < len(idx); start += batch {
			end := min(start+batch, len(idx))
			var gActor linear
			var gCritic features

			for _, k := range idx[start:end] {
				st := steps[k]
				adv := (st.adv - mean) / std
				pi := softmax(p.actor.scores(st.x))
				ratio := math.Exp(math.Log(pi[st.a]) - st.logp)

				// The clipped objective has zero gradient once the ratio
				// leaves the trust region in the direction of the advantage.
				active := !(adv > 0 && ratio > hi) && !(adv < 0 && ratio < lo)

				var entropy float64
				for _, q := range pi {
					if q > 0 {
						entropy -= q * math.Log(q)
					}
				}
				for b := 0; b < env.NumActions; b++ {
					var g float64
					if active {
						ind := 0.0
						if b == st.a {
							ind = 1
						}
						g = ratio * adv * (ind - pi[b])
					}
					if p.params.EntCoef != 0 && pi[b] > 0 {
						g += p.params.EntCoef * -pi[b] * (math.Log(pi[b]) + entropy)
					}
					for i := range st.x {
						gActor[b][i] += g * st.x[i]
					}
				}

				verr := p.value(st.x) - st.returns
				for i := range st.x {
					gCritic[i] += 2 * p.params.VFCoef * verr * st.x[i]
				}
			}

			step := p.params.LearningRate / float64(end-start)
			for b := range p.actor {
				for i := range p.actor[b] {
					p.actor[b][i] += step * gActor[b][i]
				}
			}
			for i := range p.critic {
				p.critic[i] -= step * gCritic[i]
			}
		}
	}
}

func finite(x features) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

type ppoState struct {
	Params PPOParams `json:"params"`
	Actor  linear    `json:"actor"`
	Critic features  `json:"critic"`
}

func (p *PPOPolicy) Save(path string) error {
	return writeArtifact(path, artifact{
		Algorithm: PPO,
		Seed:      p.seed,
		Timesteps: p.timesteps,
		PPO:       &ppoState{Params: p.params, Actor: p.actor, Critic: p.critic},
	})
}

func (p *PPOPolicy) Load(path string) error {
	a, err := readArtifact(path, PPO)
	if err != nil {
		return err
	}
	if a.PPO == nil || !a.PPO.Actor.finite() || !finite(a.PPO.Critic) {
		return &ModelLoadError{Path: path, Err: errors.New("missing or invalid ppo weights")}
	}
	p.params = a.PPO.Params
	p.seed = a.Seed
	p.timesteps = a.Timesteps
	p.actor = a.PPO.Actor
	p.critic = a.PPO.Critic
	return nil
}
