// Package orchestrator implements the coordination engine: the durable
// store, event bus, presence/identity model, task lifecycle state
// machine, replay cursors, and manager cycle.
//
// Every RPC handler is a method on a single Engine value rather than a
// process-wide global, so a host process can run more than one project
// root in-process without state bleeding across them.
package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/alexpekarovsky/orchestrator/internal/bus"
	"github.com/alexpekarovsky/orchestrator/internal/config"
	"github.com/alexpekarovsky/orchestrator/internal/policy"
	"github.com/alexpekarovsky/orchestrator/internal/store"
)

// Logger is the minimal logging seam every engine subsystem depends on.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Clock abstracts time.Now so tests can control it.
type Clock func() time.Time

// Engine owns all orchestrator state: it is the single value threaded
// through every RPC handler.
type Engine struct {
	cfg    *config.Config
	policy *policy.Policy
	store  *store.Store
	bus    *bus.Bus
	logger Logger
	clock  Clock

	// stateMu is the coarse state lock (spec.md §5): held for the
	// duration of any multi-step read-modify-write over the state
	// directory. Lock order is always stateMu -> per-file lock, never
	// the reverse.
	stateMu sync.Mutex

	debugMu  sync.Mutex
	debug    debugWindow
}

// Option customizes Engine construction.
type Option func(*Engine)

// WithLogger injects a logger used across the engine and its subsystems.
func WithLogger(logger Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the engine's time source, for deterministic tests.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// New constructs an Engine over cfg and pol.
func New(cfg *config.Config, pol *policy.Policy, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		policy: pol,
		logger: nopLogger{},
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.store = store.New(store.WithLogger(e.logger))
	e.bus = bus.New(cfg.EventsPath(), cfg.AuditPath(), bus.WithLogger(e.logger))
	return e
}

func (e *Engine) now() time.Time { return e.clock().UTC() }

// Bootstrap creates the on-disk layout and seeds the roles document from
// policy if it does not already exist.
func (e *Engine) Bootstrap() error {
	if err := e.cfg.Bootstrap(); err != nil {
		return err
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	var roles RolesDocument
	path := e.rolesPath()
	err := e.store.Get(path, &roles)
	if err != nil && !isNotExist(err) {
		return fmt.Errorf("orchestrator: bootstrap roles: %w", err)
	}
	if isNotExist(err) || roles.Leader == "" {
		roles = RolesDocument{Leader: e.policy.Manager, TeamMembers: append([]string(nil), e.policy.TeamMembers...)}
		if err := e.store.Put(path, roles); err != nil {
			return fmt.Errorf("orchestrator: seed roles: %w", err)
		}
	}

	if _, err := e.bus.Emit("orchestrator.bootstrapped", bus.SourceOrchestrator, map[string]any{
		"policy":  e.policy.Name,
		"manager": e.policy.Manager,
	}); err != nil {
		return fmt.Errorf("orchestrator: emit bootstrap event: %w", err)
	}
	return nil
}

func isNotExist(err error) bool {
	if err == nil {
		return false
	}
	// store.Get wraps os.ErrNotExist unchanged (no fmt.Errorf wrap) on the
	// not-found path; errors.Is handles both the bare and wrapped cases.
	return isFsNotExist(err)
}
