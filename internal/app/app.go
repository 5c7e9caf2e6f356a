// Package app wires the configured stores, trainer, orchestrator, scheduler
// and pricing service into one unit for the CLI.
package app

import (
	"fmt"

	"github.com/rustyeddy/pricer/catalog"
	"github.com/rustyeddy/pricer/config"
	"github.com/rustyeddy/pricer/env"
	"github.com/rustyeddy/pricer/internal/keylock"
	"github.com/rustyeddy/pricer/internal/logger"
	"github.com/rustyeddy/pricer/journal"
	"github.com/rustyeddy/pricer/orchestrator"
	"github.com/rustyeddy/pricer/pricing"
	"github.com/rustyeddy/pricer/scheduler"
	"github.com/rustyeddy/pricer/trainer"
)

type App struct {
	Config       *config.Config
	Log          *logger.Logger
	Store        *catalog.SQLite
	Journal      *journal.SQLite
	Trainer      *trainer.Trainer
	Orchestrator *orchestrator.Orchestrator
	Service      *pricing.Service
	Scheduler    *scheduler.Manager
}

func Open(cfg *config.Config, log *logger.Logger) (*App, error) {
	log = logger.OrNop(log)

	alg, err := cfg.Models.ParseAlgorithm()
	if err != nil {
		return nil, err
	}
	stepInterval, err := cfg.Training.ParseStepInterval()
	if err != nil {
		return nil, fmt.Errorf("training.step_interval: %w", err)
	}
	scaleInterval, err := cfg.Scheduler.ParseScaleInterval()
	if err != nil {
		return nil, fmt.Errorf("scheduler.scale_interval: %w", err)
	}

	store, err := catalog.NewSQLite(cfg.Store.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	j, err := journal.NewSQLite(cfg.Store.DBPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open journal: %w", err)
	}

	locks := keylock.New()
	tr := trainer.New(store, j, trainer.Config{
		ModelDir: cfg.Models.Dir,
		Seed:     cfg.Models.Seed,
		MaxSteps: cfg.Training.MaxSteps,
		Live:     cfg.Training.Live,
		Sandbox: env.SandboxConfig{
			StepInterval: stepInterval,
			Demand: env.Demand{
				BaseUnits:  cfg.Training.Demand.BaseUnits,
				Elasticity: cfg.Training.Demand.Elasticity,
			},
			Restock: cfg.Training.Restock,
		},
		CacheSize: cfg.Models.CacheSize,
	}, trainer.WithLocker(locks), trainer.WithLogger(log.With("component", "trainer")))

	orch := orchestrator.New(store, tr, orchestrator.Config{
		Algorithm:       alg,
		StaticIncrement: cfg.Pricing.StaticIncrement,
		MinChange:       cfg.Pricing.MinChange,
	}, orchestrator.WithLocker(locks), orchestrator.WithLogger(log.With("component", "orchestrator")))

	a := &App{
		Config:       cfg,
		Log:          log,
		Store:        store,
		Journal:      j,
		Trainer:      tr,
		Orchestrator: orch,
	}

	a.Scheduler = scheduler.NewManager(scheduler.Config{
		WorkerMin:        cfg.Scheduler.WorkerMin,
		WorkerMax:        cfg.Scheduler.WorkerMax,
		InitialWorkers:   cfg.Scheduler.Workers,
		ScaleInterval:    scaleInterval,
		JobsPerWorker:    cfg.Scheduler.JobsPerWorker,
		ShrinkAfterTicks: scheduler.DefaultConfig().ShrinkAfterTicks,
		WarnPending:      scheduler.DefaultConfig().WarnPending,
	}, a, log.With("component", "scheduler"))

	a.Service = pricing.New(store, orch, tr, pricing.Config{
		Algorithm:        alg,
		Timesteps:        cfg.Training.Timesteps,
		RetrainTimesteps: cfg.Training.RetrainTimesteps,
		Parallelism:      cfg.Training.Parallelism,
	}, pricing.WithScheduler(a.Scheduler), pricing.WithLogger(log.With("component", "pricing")))

	return a, nil
}
