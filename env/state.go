package env

import (
	"math"
	"time"

	"github.com/rustyeddy/pricer/catalog"
)

// State indices.
const (
	IdxCurrentPrice = iota
	IdxBasePrice
	IdxStock
	IdxDaysSinceSale
	IdxSalesRate

	StateSize
)

// State is [current_price, base_price, stock_quantity, days_since_last_sale,
// avg_sales_per_day over the trailing 7 days].
type State [StateSize]float64

// Bounds is the observation box for one product.
type Bounds struct {
	Low  State
	High State
}

func BoundsFor(p catalog.Product) Bounds {
	return Bounds{
		Low:  State{p.MinPrice, p.MinPrice, 0, 0, 0},
		High: State{p.MaxPrice, p.MaxPrice, Unbounded, MaxDaysSinceSale, Unbounded},
	}
}

// Clip returns s with every component inside b.
func (b Bounds) Clip(s State) State {
	var out State
	for i := range s {
		out[i] = Clamp(s[i], b.Low[i], b.High[i])
	}
	return out
}

// Observe builds the state for p from its history, as of now. history must
// be ordered oldest first; records after now are ignored.
func Observe(p catalog.Product, history []catalog.PriceRecord, now time.Time) State {
	var (
		lastSale  time.Time
		soldInWin int64
	)
	windowStart := now.Add(-SalesWindow)
	for _, rec := range history {
		if rec.Timestamp.After(now) || rec.UnitsSold <= 0 {
			continue
		}
		if rec.Timestamp.After(lastSale) {
			lastSale = rec.Timestamp
		}
		if !rec.Timestamp.Before(windowStart) {
			soldInWin += rec.UnitsSold
		}
	}

	days := float64(MaxDaysSinceSale)
	if !lastSale.IsZero() {
		days = math.Floor(now.Sub(lastSale).Hours() / 24)
	}

	s := State{
		p.CurrentPrice,
		p.BasePrice,
		float64(p.StockQuantity),
		days,
		float64(soldInWin) / 7,
	}
	return BoundsFor(p).Clip(s)
}
