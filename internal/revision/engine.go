// Package revision records, queries and rolls back the change history of host records.
package revision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rpattn/revisionable/internal/auth"
	"github.com/rpattn/revisionable/internal/domain"
	"github.com/rpattn/revisionable/internal/events"
	"github.com/rpattn/revisionable/internal/metrics"
	"github.com/rpattn/revisionable/internal/repository"
)

// Options configures an Engine.
type Options struct {
	Defaults domain.Defaults
	Users    auth.UserResolver
	Logger   *slog.Logger
	Metrics  *metrics.Recorder
	// Strict propagates revision store failures to the record mutation.
	Strict bool
	Now    func() time.Time
}

// Engine wires the registry, listener, retention, rollback and history over one
// revision repository and bus.
type Engine struct {
	Registry  *Registry
	Bus       *events.Bus
	Listener  *Listener
	Retention *Retention
	Rollback  *Rollback
	History   *History

	mu       sync.Mutex
	attached map[string]struct{}
}

// NewEngine creates an engine. Record types must be added with Register.
func NewEngine(revisions repository.RevisionRepository, bus *events.Bus, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if bus == nil {
		bus = events.NewBus()
	}

	registry := NewRegistry(opts.Defaults, logger)
	retention := NewRetention(revisions, logger, opts.Metrics)
	listenerOpts := []ListenerOption{WithStrict(opts.Strict)}
	if opts.Now != nil {
		listenerOpts = append(listenerOpts, WithClock(opts.Now))
	}

	return &Engine{
		Registry:  registry,
		Bus:       bus,
		Listener:  NewListener(revisions, registry, retention, opts.Users, logger, opts.Metrics, listenerOpts...),
		Retention: retention,
		Rollback:  NewRollback(revisions, registry, bus, logger, opts.Metrics),
		History:   NewHistory(revisions),
		attached:  map[string]struct{}{},
	}
}

// Register adds a record type and subscribes the listener to its lifecycle events.
// Re-registering a type replaces its store and config without subscribing twice.
func (e *Engine) Register(reg Registration) error {
	reg.Type = strings.TrimSpace(reg.Type)
	if err := e.Registry.Register(reg); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.attached[reg.Type]; ok {
		return nil
	}
	e.Listener.Attach(e.Bus, reg.Type)
	e.attached[reg.Type] = struct{}{}
	return nil
}

// Prune applies the type's retention limit to one subject regardless of its
// limitCleanup setting.
func (e *Engine) Prune(ctx context.Context, subject domain.SubjectRef) (int, error) {
	policy, err := e.Registry.Policy(subject.Type)
	if err != nil {
		return 0, err
	}
	if !policy.HasLimit() {
		return 0, nil
	}
	deleted, err := e.Retention.Enforce(ctx, subject, policy.Limit)
	if err != nil {
		return 0, fmt.Errorf("failed to prune %s: %w", subject, err)
	}
	return deleted, nil
}
