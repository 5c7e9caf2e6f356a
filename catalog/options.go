package catalog

import "time"

type options struct {
	now func() time.Time
}

// Option configures a Store implementation.
type Option func(*options)

// WithClock replaces time.Now as the reference for "not in the future" checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
