package policy

import (
	"math"

	"github.com/rustyeddy/pricer/env"
)

const numFeatures = 6

type features [numFeatures]float64

// featurize maps a raw state onto roughly unit-scaled inputs: bias, price
// relative to base (and its square), log stock, days since sale as a
// fraction of the cap, and log sales rate.
func featurize(s env.State) features {
	rel := 0.0
	if base := s[env.IdxBasePrice]; base > 0 {
		rel = s[env.IdxCurrentPrice]/base - 1
	}
	rel = math.Max(-5, math.Min(5, rel))
	return features{
		1,
		rel,
		rel * rel,
		math.Log1p(math.Max(0, s[env.IdxStock])) / 10,
		s[env.IdxDaysSinceSale] / env.MaxDaysSinceSale,
		math.Log1p(math.Max(0, s[env.IdxSalesRate])) / 5,
	}
}

// linear holds one weight vector per action.
type linear [env.NumActions]features

func (w *linear) score(a int, x features) float64 {
	var sum float64
	for i := range x {
		sum += w[a][i] * x[i]
	}
	return sum
}

func (w *linear) scores(x features) [env.NumActions]float64 {
	var out [env.NumActions]float64
	for a := range out {
		out[a] = w.score(a, x)
	}
	return out
}

// argmax returns the best action; ties go to the lowest index.
func argmax(v [env.NumActions]float64) env.Action {
	best := 0
	for a := 1; a < len(v); a++ {
		if v[a] > v[best] {
			best = a
		}
	}
	return env.Action(best)
}

func (w *linear) finite() bool {
	for a := range w {
		for _, v := range w[a] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// randomize fills w with small deterministic noise so an untrained policy does
// not collapse onto action 0.
func (w *linear) randomize(seed uint64, scale float64) {
	r := newRand(seed)
	for a := range w {
		for i := range w[a] {
			w[a][i] = (r.Float64()*2 - 1) * scale
		}
	}
}
