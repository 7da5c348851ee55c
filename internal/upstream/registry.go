package upstream

import "sync"

// Registry maps source keys to the reply sinks of in-flight jobs.
type Registry struct {
	mu   sync.Mutex
	jobs map[int32]*Upstream
}

// NewRegistry creates an empty job registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[int32]*Upstream)}
}

// Register inserts a sink. Keys are issued by a process-wide monotonic
// counter and never reused, so collisions cannot happen by construction.
func (r *Registry) Register(key int32, up *Upstream) {
	r.mu.Lock()
	r.jobs[key] = up
	r.mu.Unlock()
}

// Complete atomically removes and returns the sink for key, or nil if the
// job is unknown or already completed.
func (r *Registry) Complete(key int32) *Upstream {
	r.mu.Lock()
	defer r.mu.Unlock()
	up, ok := r.jobs[key]
	if !ok {
		return nil
	}
	delete(r.jobs, key)
	return up
}

// Get returns the sink for key, removing it only when final is set. An
// intermediate chunk leaves the job open; the terminal reply closes it.
func (r *Registry) Get(key int32, final bool) *Upstream {
	r.mu.Lock()
	defer r.mu.Unlock()
	up, ok := r.jobs[key]
	if !ok {
		return nil
	}
	if final {
		delete(r.jobs, key)
	}
	return up
}

// Drain removes and returns every in-flight sink. Used at shutdown so each
// pending caller still receives a terminal signal.
func (r *Registry) Drain() []*Upstream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Upstream, 0, len(r.jobs))
	for _, up := range r.jobs {
		out = append(out, up)
	}
	r.jobs = make(map[int32]*Upstream)
	return out
}

// Len reports the number of in-flight jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
