// Package pool tracks the worker pools the router dispatches into, one entry
// per started application.
package pool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/spindleworks/spindle/internal/engine"
	"github.com/spindleworks/spindle/internal/log"
	"github.com/spindleworks/spindle/internal/profile"
)

// IdleFloor is the minimum allowed non-zero idle timeout for a
// multi-instance pool, in seconds. Shorter timeouts would let instances die
// between dispatches and break instance pinning.
const IdleFloor = 60 * 60 * 24 * 30

var (
	// ErrNotFound indicates no pool is running for the application.
	ErrNotFound = errors.New("application is not running")

	// ErrInvalidProfile indicates a profile that cannot back a
	// multi-instance pool.
	ErrInvalidProfile = errors.New("invalid profile")
)

// Registry starts and tracks worker pools.
type Registry struct {
	engine engine.Engine
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*Entry
}

// NewRegistry creates a registry that starts pools on eng.
func NewRegistry(eng engine.Engine) *Registry {
	return &Registry{
		engine:  eng,
		logger:  log.WithComponent("pool"),
		entries: make(map[string]*Entry),
	}
}

// Start ensures a pool is running for app and returns its entry. created
// reports whether this call started the pool; a second start of a running
// application is a no-op. For multi-instance pools the profile is validated
// first and taskID scopes the instance names (empty defaults to "default").
func (r *Registry) Start(app string, multi bool, prof *profile.Profile, taskID string) (entry *Entry, created bool, err error) {
	poolSize := -1
	if multi {
		if err := validateProfile(app, prof); err != nil {
			return nil, false, err
		}
		poolSize = prof.PoolLimit
	}
	if taskID == "" {
		taskID = "default"
	}

	r.mu.Lock()
	if e, ok := r.entries[app]; ok {
		r.mu.Unlock()
		r.logger.Info("application already started", "app", app)
		return e, false, nil
	}
	r.mu.Unlock()

	// Starting a pool spawns processes; keep the lock dropped so concurrent
	// dispatches to other applications are not serialized behind it.
	p, err := r.engine.Start(app, prof)
	if err != nil {
		return nil, false, fmt.Errorf("start application %s: %w", app, err)
	}

	r.mu.Lock()
	if e, ok := r.entries[app]; ok {
		// Lost the race to a concurrent start; keep the winner.
		r.mu.Unlock()
		p.Stop()
		return e, false, nil
	}
	e := newEntry(app, taskID, p, prof, poolSize)
	r.entries[app] = e
	r.mu.Unlock()

	r.logger.Info("application started", "app", app, "multi", multi, "task_id", taskID)
	return e, true, nil
}

func validateProfile(app string, prof *profile.Profile) error {
	if prof == nil {
		return fmt.Errorf("%w: application %s has no profile", ErrInvalidProfile, app)
	}
	if prof.IdleTimeout != 0 && prof.IdleTimeout < IdleFloor {
		return fmt.Errorf("%w: idle-timeout %d is below the %d second floor", ErrInvalidProfile, prof.IdleTimeout, IdleFloor)
	}
	if prof.PoolLimit <= 0 {
		return fmt.Errorf("%w: pool-limit %d must be positive", ErrInvalidProfile, prof.PoolLimit)
	}
	return nil
}

// Get returns the entry for app, or nil if it is not running.
func (r *Registry) Get(app string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[app]
}

// Stop tears down the pool for app. Stopping an application that is not
// running is logged and ignored.
func (r *Registry) Stop(app string) {
	r.mu.Lock()
	e, ok := r.entries[app]
	if ok {
		delete(r.entries, app)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Info("stop requested for application that is not running", "app", app)
		return
	}
	e.pool.Stop()
	r.logger.Info("application stopped", "app", app)
}

// Info returns pool introspection for app with the dispatch counters merged
// in under "counters".
func (r *Registry) Info(ctx context.Context, app string) (json.RawMessage, error) {
	e := r.Get(app)
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, app)
	}

	blob, err := e.pool.Info(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect info for %s: %w", app, err)
	}

	var merged map[string]any
	if err := json.Unmarshal(blob, &merged); err != nil {
		return nil, fmt.Errorf("decode info for %s: %w", app, err)
	}
	merged["counters"] = e.counters.Snapshot()

	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode info for %s: %w", app, err)
	}
	return out, nil
}

// Apps lists the running applications in sorted order.
func (r *Registry) Apps() []string {
	r.mu.Lock()
	apps := make([]string, 0, len(r.entries))
	for app := range r.entries {
		apps = append(apps, app)
	}
	r.mu.Unlock()

	sort.Strings(apps)
	return apps
}

// Shutdown stops every running pool.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	entries := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.entries = make(map[string]*Entry)
	r.mu.Unlock()

	for _, e := range entries {
		e.pool.Stop()
	}
	if len(entries) > 0 {
		r.logger.Info("all applications stopped", "count", len(entries))
	}
}
