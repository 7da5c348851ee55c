// Package profile stores per-application execution profiles consulted when a
// multi-instance pool is started.
package profile

import (
	"context"
	"errors"
)

// ErrNotFound indicates no profile is stored for the application.
var ErrNotFound = errors.New("profile not found")

// Profile bounds a multi-instance worker pool.
type Profile struct {
	// IdleTimeout is the worker idle timeout in seconds. Zero disables it.
	IdleTimeout int `json:"idle-timeout" yaml:"idle_timeout"`
	// PoolLimit is the number of worker instances; must be positive for
	// multi-instance pools.
	PoolLimit int `json:"pool-limit" yaml:"pool_limit"`
	// Concurrency is the per-instance request concurrency hint.
	Concurrency int `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
}

// Store provides keyed access to application profiles.
type Store interface {
	Get(ctx context.Context, app string) (*Profile, error)
	Put(ctx context.Context, app string, p *Profile) error
}
