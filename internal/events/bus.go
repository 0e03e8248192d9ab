// Package events is a synchronous, in-process notification bus for record lifecycle
// events. Host data layers publish after each mutation; the revision listener and any
// external observers subscribe per record type.
package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rpattn/revisionable/internal/domain"
)

// Kind names a lifecycle notification.
type Kind string

const (
	Created     Kind = "created"
	Updated     Kind = "updated"
	Deleted     Kind = "deleted"
	Restored    Kind = "restored"
	RollingBack Kind = "rollingback"
)

// KindForAction maps a revision action onto its lifecycle notification.
func KindForAction(action domain.Action) Kind {
	return Kind(action)
}

// Handler reacts to a notification. Handlers run on the publishing goroutine.
type Handler func(ctx context.Context, record *domain.Record) error

// Publisher is the side of the bus host data layers depend on.
type Publisher interface {
	Publish(ctx context.Context, kind Kind, record *domain.Record) error
}

type key struct {
	recordType string
	kind       Kind
}

// Bus dispatches notifications to handlers registered for a record type and kind.
type Bus struct {
	mu       sync.RWMutex
	handlers map[key][]Handler
	any      map[Kind][]Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: map[key][]Handler{},
		any:      map[Kind][]Handler{},
	}
}

// Subscribe registers a handler for one record type and kind.
func (b *Bus) Subscribe(recordType string, kind Kind, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	k := key{recordType: recordType, kind: kind}
	b.handlers[k] = append(b.handlers[k], handler)
}

// SubscribeAll registers a handler for a kind regardless of record type.
func (b *Bus) SubscribeAll(kind Kind, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.any[kind] = append(b.any[kind], handler)
}

// Publish runs every matching handler in subscription order, type-specific handlers
// first. All handlers run even if one fails; their errors are joined.
func (b *Bus) Publish(ctx context.Context, kind Kind, record *domain.Record) error {
	if record == nil {
		return fmt.Errorf("cannot publish %s without a record", kind)
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[key{record.Type, kind}])+len(b.any[kind]))
	handlers = append(handlers, b.handlers[key{record.Type, kind}]...)
	handlers = append(handlers, b.any[kind]...)
	b.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler(ctx, record); err != nil {
			errs = append(errs, fmt.Errorf("%s handler for %s: %w", kind, record.Type, err))
		}
	}
	return errors.Join(errs...)
}
