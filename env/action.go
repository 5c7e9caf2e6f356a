package env

// Action indexes Deltas.
type Action int

const NumActions = 5

// Deltas are the multiplicative price moves of each action.
var Deltas = [NumActions]float64{-0.10, -0.05, 0, 0.05, 0.10}

func (a Action) Valid() bool { return a >= 0 && int(a) < NumActions }

// Delta returns the fractional move for a, or 0 for an invalid action.
func (a Action) Delta() float64 {
	if !a.Valid() {
		return 0
	}
	return Deltas[a]
}
