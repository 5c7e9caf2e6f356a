// Package journal records the model registry and the training sessions run
// against it.
package journal

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// ModelRecord registers one trained policy artifact. There is at most one
// record per (ProductID, Algorithm). Version 0 means the model is known but no
// artifact has been written yet.
type ModelRecord struct {
	ProductID int64     `json:"product_id"`
	Algorithm string    `json:"algorithm"`
	Path      string    `json:"path"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
)

func (s Status) Terminal() bool { return s == StatusSucceeded || s == StatusFailed }

// TrainingSession is one Train call. Sessions only move from STARTED to a
// terminal status.
type TrainingSession struct {
	ID          string    `json:"id"`
	ProductID   int64     `json:"product_id"`
	Algorithm   string    `json:"algorithm"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Status      Status    `json:"status"`
	Successful  bool      `json:"successful"`
	Timesteps   int       `json:"timesteps"`
	Version     int       `json:"version"`
	Log         string    `json:"log"`
}

type Journal interface {
	Model(ctx context.Context, productID int64, alg string) (ModelRecord, error)
	// EnsureModel registers (productID, alg) at version 0 if it is unknown
	// and returns the current record.
	EnsureModel(ctx context.Context, productID int64, alg, path string) (ModelRecord, error)
	// RaiseVersion lifts the version to at least min.
	RaiseVersion(ctx context.Context, productID int64, alg string, min int) (ModelRecord, error)
	BumpVersion(ctx context.Context, productID int64, alg string) (ModelRecord, error)

	StartSession(ctx context.Context, productID int64, alg string, timesteps int) (TrainingSession, error)
	AppendLog(ctx context.Context, sessionID, line string) error
	CompleteSession(ctx context.Context, sessionID string, status Status, version int) (TrainingSession, error)
	Session(ctx context.Context, sessionID string) (TrainingSession, error)
	// Sessions lists sessions newest first. An empty alg matches all.
	Sessions(ctx context.Context, productID int64, alg string) ([]TrainingSession, error)

	Close() error
}

type Option func(*options)

type options struct {
	now func() time.Time
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
