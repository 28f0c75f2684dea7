// Package fallback implements the per-service degraded-mode flag set and
// its recovery probe (§4.K). Modeled on internal/storage/pool.go's
// reconnectNotify: a mutex-guarded piece of state, bounded retries with
// jitter elsewhere in the call path, and a loop that never propagates a
// failure upward — generalized here from "one DB connection" to "a map of
// independently-tracked services."
package fallback

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Prober issues the smallest possible call to a service to check recovery.
// Implementations must respect ctx's deadline; State wraps every probe call
// with a 10-second timeout regardless.
type Prober func(ctx context.Context) error

// probeInterval is how often the health loop wakes to probe active services.
const probeInterval = 15 * time.Minute

// probeTimeout bounds a single recovery probe.
const probeTimeout = 10 * time.Second

// State tracks active_fallback: service_name -> bool (§3 Lifecycles), guarded
// by a mutex per the "small critical sections" resource-model rule (§5).
type State struct {
	mu      sync.Mutex
	active  map[string]bool
	probers map[string]Prober
	logger  *slog.Logger
}

// New constructs an empty fallback state set.
func New(logger *slog.Logger) *State {
	return &State{
		active:  map[string]bool{},
		probers: map[string]Prober{},
		logger:  logger,
	}
}

// RegisterProber associates a health probe with a service name; Run's
// health loop uses it to attempt recovery once the service is in fallback.
func (s *State) RegisterProber(service string, p Prober) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.probers[service] = p
}

// Activate enters fallback mode for service, called on retry exhaustion
// (§4.E → §4.K transition).
func (s *State) Activate(service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active[service] {
		s.logger.Warn("fallback: activated", "service", service)
	}
	s.active[service] = true
}

// Deactivate exits fallback mode for service, called after a successful
// health probe.
func (s *State) Deactivate(service string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[service] {
		s.logger.Info("fallback: deactivated", "service", service)
	}
	s.active[service] = false
}

// Active reports whether service is currently in fallback mode.
func (s *State) Active(service string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[service]
}

// activeServices snapshots the services currently in fallback, to probe
// without holding the lock across each Prober call.
func (s *State) activeServices() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var services []string
	for service, active := range s.active {
		if active {
			services = append(services, service)
		}
	}
	return services
}

// Run starts the 15-minute health-probe loop. It blocks until ctx is
// cancelled; any probe error is caught and logged, never propagated — the
// loop never crashes the process (§9 "coroutine-style control flow").
func (s *State) Run(ctx context.Context) {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.probeOnce(ctx)
		}
	}
}

func (s *State) probeOnce(ctx context.Context) {
	for _, service := range s.activeServices() {
		s.mu.Lock()
		prober := s.probers[service]
		s.mu.Unlock()
		if prober == nil {
			continue
		}
		s.probeService(ctx, service, prober)
	}
}

func (s *State) probeService(ctx context.Context, service string, prober Prober) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("fallback: probe panicked", "service", service, "recover", r)
		}
	}()

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	if err := prober(probeCtx); err != nil {
		s.logger.Debug("fallback: probe failed", "service", service, "error", err)
		return
	}
	s.Deactivate(service)
}
