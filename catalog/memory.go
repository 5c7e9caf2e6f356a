package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/pricer/internal/id"
)

type productState struct {
	p       Product
	history []PriceRecord
}

// Memory is an in-process Store. Training sandboxes and tests use it so they
// never touch the durable catalog.
type Memory struct {
	mu     sync.RWMutex
	m      map[int64]*productState
	nextID int64
	now    func() time.Time
}

func NewMemory(opts ...Option) *Memory {
	o := buildOptions(opts)
	return &Memory{m: make(map[int64]*productState), now: o.now}
}

func (s *Memory) Product(ctx context.Context, productID int64) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.m[productID]
	if !ok {
		return Product{}, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	return st.p, nil
}

func (s *Memory) Products(ctx context.Context, strategy Strategy) ([]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Product, 0, len(s.m))
	for _, st := range s.m {
		if strategy != "" && st.p.Strategy != strategy {
			continue
		}
		out = append(out, st.p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Memory) CreateProduct(ctx context.Context, p *Product) error {
	if p.Strategy == "" {
		p.Strategy = StrategyRL
	}
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == 0 {
		s.nextID++
		p.ID = s.nextID
	} else if p.ID > s.nextID {
		s.nextID = p.ID
	}
	if _, exists := s.m[p.ID]; exists {
		return &ValidationError{ProductID: p.ID, Field: "id", Reason: "already exists"}
	}
	now := s.now().UTC()
	if p.LastPriceUpdate.IsZero() {
		p.LastPriceUpdate = now
	}
	if p.LastStrategyChange.IsZero() {
		p.LastStrategyChange = now
	}
	s.m[p.ID] = &productState{p: *p}
	return nil
}

// Restore loads a product together with existing history without validating
// against the clock. Used to build snapshots of another store.
func (s *Memory) Restore(p Product, history []PriceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID > s.nextID {
		s.nextID = p.ID
	}
	h := make([]PriceRecord, len(history))
	copy(h, history)
	s.m[p.ID] = &productState{p: p, history: h}
}

func (s *Memory) CommitPrice(ctx context.Context, productID int64, rec PriceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[productID]
	if !ok {
		return fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}

	var last time.Time
	if n := len(st.history); n > 0 {
		last = st.history[n-1].Timestamp
	}
	rec.ProductID = productID
	rec.Timestamp = rec.Timestamp.UTC()
	if err := checkCommit(st.p, last, rec, s.now()); err != nil {
		return err
	}
	if rec.ID == "" {
		rec.ID = id.NewAt(rec.Timestamp)
	}

	st.p.CurrentPrice = rec.Price
	st.p.LastPriceUpdate = rec.Timestamp
	st.history = append(st.history, rec)
	return nil
}

func (s *Memory) RecordSale(ctx context.Context, productID int64, units int64, at time.Time) (PriceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[productID]
	if !ok {
		return PriceRecord{}, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}

	var last time.Time
	if n := len(st.history); n > 0 {
		last = st.history[n-1].Timestamp
	}
	rec, err := saleRecord(st.p, last, units, at, s.now())
	if err != nil {
		return PriceRecord{}, err
	}
	rec.ID = id.NewAt(rec.Timestamp)

	st.p.StockQuantity -= units
	st.history = append(st.history, rec)
	return rec, nil
}

// AdjustStock changes a product's stock by delta, flooring at zero.
func (s *Memory) AdjustStock(productID int64, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[productID]
	if !ok {
		return fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	st.p.StockQuantity += delta
	if st.p.StockQuantity < 0 {
		st.p.StockQuantity = 0
	}
	return nil
}

func (s *Memory) HistorySince(ctx context.Context, productID int64, since time.Time) ([]PriceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.m[productID]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	var out []PriceRecord
	for _, rec := range st.history {
		if !rec.Timestamp.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *Memory) SetStrategy(ctx context.Context, productID int64, strategy Strategy, at time.Time) error {
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.m[productID]
	if !ok {
		return fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	st.p.Strategy = strategy
	st.p.LastStrategyChange = at.UTC()
	return nil
}

func (s *Memory) Close() error { return nil }

// Snapshot copies one product and its history since the given time from src
// into a fresh Memory store.
func Snapshot(ctx context.Context, src Store, productID int64, since time.Time, opts ...Option) (*Memory, error) {
	p, err := src.Product(ctx, productID)
	if err != nil {
		return nil, err
	}
	history, err := src.HistorySince(ctx, productID, since)
	if err != nil {
		return nil, fmt.Errorf("snapshot history: %w", err)
	}
	m := NewMemory(opts...)
	m.Restore(p, history)
	return m, nil
}
