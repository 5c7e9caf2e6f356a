// Package pricing is the inbound surface of the engine: single and batch
// price updates, model retraining and strategy assignment.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/pricer/catalog"
	"github.com/rustyeddy/pricer/internal/logger"
	"github.com/rustyeddy/pricer/orchestrator"
	"github.com/rustyeddy/pricer/policy"
	"github.com/rustyeddy/pricer/scheduler"
	"github.com/rustyeddy/pricer/trainer"
)

type Updater interface {
	UpdatePrice(ctx context.Context, productID int64) (orchestrator.Decision, error)
}

type Trainer interface {
	Train(ctx context.Context, productID int64, alg policy.Algorithm, timesteps int) (*trainer.Model, error)
}

// Enqueuer accepts background jobs.
type Enqueuer interface {
	Enqueue(job scheduler.Job) bool
}

type Config struct {
	Algorithm policy.Algorithm
	// Timesteps is used when a single update retrains without naming its own.
	Timesteps int
	// RetrainTimesteps is used by retrain-all runs and retrain jobs.
	RetrainTimesteps int
	Parallelism      int
}

type UpdateResult struct {
	Success            bool
	Message            string
	NewPrice           float64
	PriceChangePercent float64
}

type BatchAck struct {
	BatchID string
	Jobs    int
}

type RetrainResult struct {
	Success bool
	Message string
	Trained int
	Failed  int
}

var ErrNoScheduler = errors.New("no scheduler is attached")

type Service struct {
	store   catalog.Store
	updater Updater
	trainer Trainer
	queue   Enqueuer
	cfg     Config
	log     *logger.Logger
	now     func() time.Time
}

type Option func(*Service)

func WithScheduler(q Enqueuer) Option {
	return func(s *Service) { s.queue = q }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = logger.OrNop(l) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(store catalog.Store, updater Updater, tr Trainer, cfg Config, opts ...Option) *Service {
	if cfg.Algorithm == "" {
		cfg.Algorithm = policy.DQN
	}
	if cfg.Timesteps <= 0 {
		cfg.Timesteps = 5000
	}
	if cfg.RetrainTimesteps <= 0 {
		cfg.RetrainTimesteps = 1000
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}
	s := &Service{
		store:   store,
		updater: updater,
		trainer: tr,
		cfg:     cfg,
		log:     logger.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TriggerSingleUpdate updates one product's price, retraining its model
// first when trainNew is set. A STATIC product is trained too, so its model is
// current if it moves to RL, but its price still follows static pricing.
// Failures are reported in the result.
func (s *Service) TriggerSingleUpdate(ctx context.Context, productID int64, trainNew bool, timesteps int) UpdateResult {
	if _, err := s.store.Product(ctx, productID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return UpdateResult{Message: fmt.Sprintf("Product with ID %d not found", productID)}
		}
		return errorResult(err)
	}

	trained := false
	if trainNew {
		if timesteps <= 0 {
			timesteps = s.cfg.Timesteps
		}
		if _, err := s.trainer.Train(ctx, productID, s.cfg.Algorithm, timesteps); err != nil {
			return errorResult(err)
		}
		trained = true
	}

	d, err := s.updater.UpdatePrice(ctx, productID)
	if err != nil {
		return errorResult(err)
	}

	res := UpdateResult{Success: true, NewPrice: d.NewPrice, PriceChangePercent: d.ChangePercentage}
	switch {
	case !d.Committed:
		res.NewPrice = d.OldPrice
		res.PriceChangePercent = 0
		res.Message = fmt.Sprintf("No significant price change needed (would be $%.2f)", d.NewPrice)
	case d.Strategy == catalog.StrategyStatic && trained:
		res.Message = fmt.Sprintf("Model trained; price updated using static pricing to $%.2f", d.NewPrice)
	case d.Strategy == catalog.StrategyStatic:
		res.Message = fmt.Sprintf("Price updated using static pricing to $%.2f", d.NewPrice)
	case trained:
		res.Message = fmt.Sprintf("New model trained and price updated to $%.2f", d.NewPrice)
	default:
		res.Message = fmt.Sprintf("Price updated using existing model to $%.2f", d.NewPrice)
	}
	return res
}

func errorResult(err error) UpdateResult {
	return UpdateResult{Message: fmt.Sprintf("Error updating price: %v", err)}
}

// TriggerBatchUpdate queues one update job per product and returns without
// waiting for them.
func (s *Service) TriggerBatchUpdate(ctx context.Context) (BatchAck, error) {
	if s.queue == nil {
		return BatchAck{}, ErrNoScheduler
	}
	products, err := s.store.Products(ctx, "")
	if err != nil {
		return BatchAck{}, err
	}

	ack, err := s.enqueue(products, func(batchID string, p catalog.Product) scheduler.Job {
		return scheduler.NewJob(batchID, scheduler.KindUpdate, p.ID)
	})
	if err != nil {
		return ack, err
	}
	s.log.Info("batch update queued", "batch_id", ack.BatchID, "jobs", ack.Jobs)
	return ack, nil
}

// TriggerBackgroundRetrain queues one retrain job per RL product and returns
// without waiting for them. Failures surface in the scheduler's counters and
// the products' training sessions.
func (s *Service) TriggerBackgroundRetrain(ctx context.Context, timesteps int) (BatchAck, error) {
	if s.queue == nil {
		return BatchAck{}, ErrNoScheduler
	}
	if timesteps <= 0 {
		timesteps = s.cfg.RetrainTimesteps
	}
	products, err := s.store.Products(ctx, catalog.StrategyRL)
	if err != nil {
		return BatchAck{}, err
	}

	ack, err := s.enqueue(products, func(batchID string, p catalog.Product) scheduler.Job {
		return scheduler.NewRetrainJob(batchID, p.ID, timesteps)
	})
	if err != nil {
		return ack, err
	}
	s.log.Info("retrain queued", "batch_id", ack.BatchID, "jobs", ack.Jobs, "timesteps", timesteps)
	return ack, nil
}

func (s *Service) enqueue(products []catalog.Product, job func(batchID string, p catalog.Product) scheduler.Job) (BatchAck, error) {
	ack := BatchAck{BatchID: uuid.NewString()}
	for _, p := range products {
		if !s.queue.Enqueue(job(ack.BatchID, p)) {
			return ack, fmt.Errorf("batch %s: scheduler stopped accepting jobs after %d", ack.BatchID, ack.Jobs)
		}
		ack.Jobs++
	}
	return ack, nil
}

// TriggerRetrainAll retrains every RL product with bounded parallelism. A
// failing product is logged and counted; it never stops the others.
func (s *Service) TriggerRetrainAll(ctx context.Context, timesteps int) RetrainResult {
	if timesteps <= 0 {
		timesteps = s.cfg.RetrainTimesteps
	}
	products, err := s.store.Products(ctx, catalog.StrategyRL)
	if err != nil {
		return RetrainResult{Message: fmt.Sprintf("Error: %v", err)}
	}
	if len(products) == 0 {
		return RetrainResult{Message: "No RL products found."}
	}

	var trained, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.cfg.Parallelism)
	for _, p := range products {
		g.Go(func() error {
			m, err := s.trainer.Train(ctx, p.ID, s.cfg.Algorithm, timesteps)
			if err != nil {
				failed.Add(1)
				s.log.Error("retrain failed", "product_id", p.ID, "name", p.Name, "error", err)
				return nil
			}
			trained.Add(1)
			s.log.Info("retrained", "product_id", p.ID, "name", p.Name, "version", m.Version)
			return nil
		})
	}
	_ = g.Wait()

	return RetrainResult{
		Success: true,
		Message: "All RL models retrained.",
		Trained: int(trained.Load()),
		Failed:  int(failed.Load()),
	}
}

// AssignStrategies randomly puts every product on RL or STATIC pricing for
// A/B comparison and returns how many were assigned.
func (s *Service) AssignStrategies(ctx context.Context, seed uint64) (int, error) {
	products, err := s.store.Products(ctx, "")
	if err != nil {
		return 0, err
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	at := s.now()
	for _, p := range products {
		strategy := catalog.StrategyStatic
		if rng.IntN(2) == 1 {
			strategy = catalog.StrategyRL
		}
		if err := s.store.SetStrategy(ctx, p.ID, strategy, at); err != nil {
			return 0, fmt.Errorf("assign strategy to product %d: %w", p.ID, err)
		}
	}
	s.log.Info("strategies assigned", "products", len(products))
	return len(products), nil
}

// RunJob executes one scheduler job.
func (s *Service) RunJob(ctx context.Context, job scheduler.Job) error {
	switch job.Kind {
	case scheduler.KindUpdate:
		d, err := s.updater.UpdatePrice(ctx, job.ProductID)
		if err != nil {
			return err
		}
		s.log.Debug("batch update", "batch_id", job.BatchID, "product_id", job.ProductID, "committed", d.Committed, "new_price", d.NewPrice)
		return nil
	case scheduler.KindRetrain:
		timesteps := job.Timesteps
		if timesteps <= 0 {
			timesteps = s.cfg.RetrainTimesteps
		}
		_, err := s.trainer.Train(ctx, job.ProductID, s.cfg.Algorithm, timesteps)
		return err
	}
	return fmt.Errorf("unknown job kind %q", job.Kind)
}
