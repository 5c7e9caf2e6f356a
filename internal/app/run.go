package app

import (
	"context"
	"errors"

	"github.com/rustyeddy/pricer/scheduler"
)

// RunJob hands scheduler jobs to the pricing service.
func (a *App) RunJob(ctx context.Context, job scheduler.Job) error {
	return a.Service.RunJob(ctx, job)
}

// Close stops the scheduler and closes both stores.
func (a *App) Close() error {
	a.Scheduler.Stop()
	return errors.Join(a.Journal.Close(), a.Store.Close())
}
