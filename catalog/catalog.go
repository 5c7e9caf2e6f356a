// Package catalog holds the product and price history records the pricing
// engine reads and writes, and the storage contract behind them.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// Strategy selects how a product's price is adjusted.
type Strategy string

const (
	StrategyRL     Strategy = "RL"
	StrategyStatic Strategy = "STATIC"
)

// ParseStrategy accepts the canonical names case-insensitively.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToUpper(strings.TrimSpace(s))) {
	case StrategyRL:
		return StrategyRL, nil
	case StrategyStatic:
		return StrategyStatic, nil
	}
	return "", &ValidationError{Field: "pricing_strategy", Reason: fmt.Sprintf("unknown strategy %q", s)}
}

type Product struct {
	ID                 int64     `json:"id" yaml:"id"`
	Name               string    `json:"name" yaml:"name"`
	CurrentPrice       float64   `json:"current_price" yaml:"current_price"`
	BasePrice          float64   `json:"base_price" yaml:"base_price"`
	CostPrice          float64   `json:"cost_price" yaml:"cost_price"`
	MinPrice           float64   `json:"min_price" yaml:"min_price"`
	MaxPrice           float64   `json:"max_price" yaml:"max_price"`
	StockQuantity      int64     `json:"stock_quantity" yaml:"stock_quantity"`
	Strategy           Strategy  `json:"pricing_strategy" yaml:"pricing_strategy"`
	LastPriceUpdate    time.Time `json:"last_price_update" yaml:"last_price_update,omitempty"`
	LastStrategyChange time.Time `json:"last_strategy_change" yaml:"last_strategy_change,omitempty"`
}

// Validate checks the field constraints every stored product must satisfy.
func (p Product) Validate() error {
	prices := []struct {
		name string
		v    float64
	}{
		{"current_price", p.CurrentPrice},
		{"base_price", p.BasePrice},
		{"cost_price", p.CostPrice},
		{"min_price", p.MinPrice},
		{"max_price", p.MaxPrice},
	}
	for _, f := range prices {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) || f.v < 0 {
			return &ValidationError{ProductID: p.ID, Field: f.name, Reason: "must be a non-negative number"}
		}
	}
	if p.MinPrice > p.MaxPrice {
		return &ValidationError{ProductID: p.ID, Field: "min_price", Reason: "cannot be greater than max_price"}
	}
	if p.CurrentPrice < p.MinPrice || p.CurrentPrice > p.MaxPrice {
		return &ValidationError{ProductID: p.ID, Field: "current_price", Reason: fmt.Sprintf("%.2f outside [%.2f, %.2f]", p.CurrentPrice, p.MinPrice, p.MaxPrice)}
	}
	if p.StockQuantity < 0 {
		return &ValidationError{ProductID: p.ID, Field: "stock_quantity", Reason: "cannot be negative"}
	}
	if _, err := ParseStrategy(string(p.Strategy)); err != nil {
		return &ValidationError{ProductID: p.ID, Field: "pricing_strategy", Reason: fmt.Sprintf("unknown strategy %q", p.Strategy)}
	}
	return nil
}

// PriceRecord is one immutable entry of a product's price ledger.
type PriceRecord struct {
	ID               string    `json:"id"`
	ProductID        int64     `json:"product_id"`
	Price            float64   `json:"price"`
	ChangePercentage float64   `json:"change_percentage"`
	Timestamp        time.Time `json:"timestamp"`
	UnitsSold        int64     `json:"units_sold"`
	Revenue          float64   `json:"revenue"`
}

// Validate checks a record against now before it is appended.
func (r PriceRecord) Validate(now time.Time) error {
	if math.IsNaN(r.Price) || r.Price < 0 {
		return &ValidationError{ProductID: r.ProductID, Field: "price", Reason: "cannot be negative"}
	}
	if r.ChangePercentage < -100 || r.ChangePercentage > 100 || math.IsNaN(r.ChangePercentage) {
		return &ValidationError{ProductID: r.ProductID, Field: "change_percentage", Reason: "must be between -100 and 100"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{ProductID: r.ProductID, Field: "timestamp", Reason: "is required"}
	}
	if r.Timestamp.After(now) {
		return &ValidationError{ProductID: r.ProductID, Field: "timestamp", Reason: "cannot be in the future"}
	}
	if r.UnitsSold < 0 || r.Revenue < 0 {
		return &ValidationError{ProductID: r.ProductID, Field: "units_sold", Reason: "sales figures cannot be negative"}
	}
	return nil
}

// Store is what the pricing engine needs from the catalog.
//
// CommitPrice sets the product's current price and last update time from rec
// and appends rec to the ledger in one atomic unit: either both happen or
// neither does.
type Store interface {
	Product(ctx context.Context, id int64) (Product, error)
	// Products lists products ordered by id; an empty strategy lists all.
	Products(ctx context.Context, strategy Strategy) ([]Product, error)
	CreateProduct(ctx context.Context, p *Product) error
	CommitPrice(ctx context.Context, productID int64, rec PriceRecord) error
	// RecordSale appends a ledger entry for units sold at the current price
	// and takes them out of stock, atomically. The price is not changed.
	RecordSale(ctx context.Context, productID int64, units int64, at time.Time) (PriceRecord, error)
	// HistorySince returns records with timestamp >= since, oldest first.
	HistorySince(ctx context.Context, productID int64, since time.Time) ([]PriceRecord, error)
	SetStrategy(ctx context.Context, productID int64, s Strategy, at time.Time) error
	Close() error
}

// ErrNotFound is returned when a product does not exist.
var ErrNotFound = errors.New("product not found")

// ValidationError rejects bad bounds or records before anything is written.
type ValidationError struct {
	ProductID int64
	Field     string
	Reason    string
}

func (e *ValidationError) Error() string {
	if e.ProductID != 0 {
		return fmt.Sprintf("validation: product %d: %s %s", e.ProductID, e.Field, e.Reason)
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// checkCommit validates a commit of rec against the product's bounds and its
// latest ledger entry. Shared by every Store implementation.
func checkCommit(p Product, last time.Time, rec PriceRecord, now time.Time) error {
	if rec.ProductID != 0 && rec.ProductID != p.ID {
		return &ValidationError{ProductID: p.ID, Field: "product_id", Reason: fmt.Sprintf("record belongs to product %d", rec.ProductID)}
	}
	if rec.Price < p.MinPrice || rec.Price > p.MaxPrice {
		return &ValidationError{ProductID: p.ID, Field: "price", Reason: fmt.Sprintf("%.4f outside [%.2f, %.2f]", rec.Price, p.MinPrice, p.MaxPrice)}
	}
	if err := rec.Validate(now); err != nil {
		return err
	}
	if !last.IsZero() && rec.Timestamp.Before(last) {
		return &ValidationError{ProductID: p.ID, Field: "timestamp", Reason: "older than the latest history record"}
	}
	return nil
}

// saleRecord builds the ledger entry for a sale of units of p at its current
// price and validates it like any other commit.
func saleRecord(p Product, last time.Time, units int64, at, now time.Time) (PriceRecord, error) {
	if units <= 0 {
		return PriceRecord{}, &ValidationError{ProductID: p.ID, Field: "units_sold", Reason: "must be positive"}
	}
	if units > p.StockQuantity {
		return PriceRecord{}, &ValidationError{ProductID: p.ID, Field: "units_sold", Reason: fmt.Sprintf("%d exceeds stock of %d", units, p.StockQuantity)}
	}
	rec := PriceRecord{
		ProductID: p.ID,
		Price:     p.CurrentPrice,
		Timestamp: at.UTC(),
		UnitsSold: units,
		Revenue:   float64(units) * p.CurrentPrice,
	}
	if err := checkCommit(p, last, rec, now); err != nil {
		return PriceRecord{}, err
	}
	return rec, nil
}
