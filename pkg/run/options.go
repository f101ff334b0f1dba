// Package run provides the options and results of a mirror engine pass.
package run

import (
	"time"

	"github.com/agentstation/mirrorsync/pkg/errors"
)

// Options controls one pass of the engine.
type Options struct {
	Workers   int           // Records processed concurrently; 1 means sequential
	Timeout   time.Duration // Deadline for the whole pass, 0 for none
	RunID     string        // Correlation id; generated when empty
	SubTables bool          // Ensure configured sub-tables under mirror rows (reverse pass)
}

// Apply applies the given options.
func (o *Options) Apply(opts ...Option) *Options {
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Defaults returns the default run options.
func Defaults() *Options {
	return &Options{
		Workers:   1,
		Timeout:   0,
		RunID:     "",
		SubTables: true,
	}
}

// Option is a function that configures run Options.
type Option func(*Options)

// Validate checks if the run options are valid.
func (o *Options) Validate() error {
	if o.Workers < 1 {
		return &errors.ValidationError{
			Field:   "Workers",
			Value:   o.Workers,
			Message: "workers must be at least 1",
		}
	}
	if o.Timeout < 0 {
		return &errors.ValidationError{
			Field:   "Timeout",
			Value:   o.Timeout,
			Message: "timeout must be non-negative",
		}
	}
	return nil
}

// WithWorkers configures how many records are processed concurrently.
func WithWorkers(n int) Option {
	return func(opts *Options) {
		opts.Workers = n
	}
}

// WithTimeout configures the pass timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.Timeout = timeout
	}
}

// WithRunID sets the run's correlation id.
func WithRunID(id string) Option {
	return func(opts *Options) {
		opts.RunID = id
	}
}

// WithSubTables configures whether the reverse pass ensures sub-tables.
func WithSubTables(enabled bool) Option {
	return func(opts *Options) {
		opts.SubTables = enabled
	}
}
