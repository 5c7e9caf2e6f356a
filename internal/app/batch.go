package app

import (
	"context"
	"fmt"

	"github.com/rustyeddy/pricer/pricing"
	"github.com/rustyeddy/pricer/scheduler"
)

// RunBatchUpdate queues an update for every product, waits for the workers to
// drain the batch and reports the scheduler counters.
func (a *App) RunBatchUpdate(ctx context.Context) (pricing.BatchAck, scheduler.Metrics, error) {
	return a.runBatch(ctx, a.Service.TriggerBatchUpdate)
}

// RunBackgroundRetrain queues a retrain job for every RL product and waits for
// the workers to finish them. timesteps <= 0 uses training.retrain_timesteps.
func (a *App) RunBackgroundRetrain(ctx context.Context, timesteps int) (pricing.BatchAck, scheduler.Metrics, error) {
	return a.runBatch(ctx, func(ctx context.Context) (pricing.BatchAck, error) {
		return a.Service.TriggerBackgroundRetrain(ctx, timesteps)
	})
}

func (a *App) runBatch(ctx context.Context, trigger func(context.Context) (pricing.BatchAck, error)) (pricing.BatchAck, scheduler.Metrics, error) {
	timeout, err := a.Config.Scheduler.ParseDrainTimeout()
	if err != nil {
		return pricing.BatchAck{}, scheduler.Metrics{}, err
	}

	a.Scheduler.Start(ctx)
	defer a.Scheduler.Stop()

	ack, err := trigger(ctx)
	if err != nil {
		return ack, a.Scheduler.Metrics(), err
	}
	a.Scheduler.CloseIntake()

	drainCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if !a.Scheduler.DrainUntil(drainCtx) {
		return ack, a.Scheduler.Metrics(), fmt.Errorf("batch %s did not drain within %s", ack.BatchID, timeout)
	}
	return ack, a.Scheduler.Metrics(), nil
}
