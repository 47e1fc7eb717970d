package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/pithecene-io/lhrunner/log"
	"github.com/pithecene-io/lhrunner/metrics"
)

type entry struct {
	backend  Backend
	setup    sync.Once
	disabled bool
	setupErr error
}

// Registry holds the configured backends in dispatch order and tracks
// their one-time setup.
type Registry struct {
	mu        sync.Mutex
	entries   []*entry
	logger    *log.Logger
	collector *metrics.Collector
}

// NewRegistry creates a registry. Order of backends is dispatch order.
func NewRegistry(logger *log.Logger, collector *metrics.Collector, backends ...Backend) *Registry {
	if logger == nil {
		logger = log.Nop()
	}
	r := &Registry{logger: logger, collector: collector}
	for _, b := range backends {
		r.Register(b)
	}
	return r
}

// Register appends a backend.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, &entry{backend: b})
}

// Setup runs one-time setup for every backend implementing Setuper.
// Each backend is set up at most once per registry. A failed backend is
// logged and disabled for the rest of the process.
func (r *Registry) Setup(ctx context.Context) {
	r.mu.Lock()
	entries := append([]*entry(nil), r.entries...)
	r.mu.Unlock()

	for _, e := range entries {
		s, ok := e.backend.(Setuper)
		if !ok {
			continue
		}
		e.setup.Do(func() {
			err := runSetup(ctx, s)
			if err == nil {
				return
			}
			r.mu.Lock()
			e.disabled = true
			e.setupErr = err
			r.mu.Unlock()
			r.collector.IncSetupFailure()
			r.logger.Error("backend setup failed, disabling", map[string]any{
				"backend": string(e.backend.Kind()),
				"error":   err.Error(),
			})
		})
	}
}

func runSetup(ctx context.Context, s Setuper) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("setup panicked: %v", rec)
		}
	}()
	return s.Setup(ctx)
}

// Status is a registered backend and the error that disabled it, if any.
type Status struct {
	Backend  Backend
	SetupErr error
}

// Disabled reports whether setup disabled the backend.
func (s Status) Disabled() bool { return s.SetupErr != nil }

// Statuses returns every registered backend in dispatch order, disabled
// ones included.
func (r *Registry) Statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.entries))
	for _, e := range r.entries {
		st := Status{Backend: e.backend}
		if e.disabled {
			st.SetupErr = e.setupErr
		}
		out = append(out, st)
	}
	return out
}

// Enabled returns the backends not disabled by a failed setup, in order.
func (r *Registry) Enabled() []Backend {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Backend, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.disabled {
			out = append(out, e.backend)
		}
	}
	return out
}

// Disabled returns the setup error for each disabled backend kind.
func (r *Registry) Disabled() map[Kind]error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[Kind]error)
	for _, e := range r.entries {
		if e.disabled {
			out[e.backend.Kind()] = e.setupErr
		}
	}
	return out
}

// Len returns the number of registered backends.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
