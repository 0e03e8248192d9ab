package revision

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/rpattn/revisionable/internal/domain"
)

// RecordStore is the host data layer the engine resolves subjects through.
// Save must publish the updated notification synchronously.
type RecordStore interface {
	Find(ctx context.Context, subject domain.SubjectRef) (*domain.Record, error)
	Save(ctx context.Context, record *domain.Record) error
}

// Registration attaches revisioning to a record type.
type Registration struct {
	Type   string      `validate:"required"`
	Table  string      `validate:"required"`
	Store  RecordStore `validate:"required"`
	Config domain.RevisionConfig
}

type registeredType struct {
	table  string
	store  RecordStore
	config domain.RevisionConfig
	policy domain.Policy
}

// Registry maps type tags to their store and resolved revision policy.
type Registry struct {
	mu       sync.RWMutex
	defaults domain.Defaults
	types    map[string]registeredType
	validate *validator.Validate
	logger   *slog.Logger
}

// NewRegistry creates an empty registry resolving policies against defaults.
func NewRegistry(defaults domain.Defaults, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		defaults: defaults,
		types:    map[string]registeredType{},
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// Register adds or replaces a record type.
func (r *Registry) Register(reg Registration) error {
	reg.Type = strings.TrimSpace(reg.Type)
	if err := r.validate.Struct(reg); err != nil {
		return fmt.Errorf("invalid registration for %q: %w", reg.Type, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[reg.Type] = registeredType{
		table:  reg.Table,
		store:  reg.Store,
		config: reg.Config,
		policy: r.resolve(reg.Type, reg.Config),
	}
	return nil
}

// SetDefaults replaces the global defaults and re-resolves every policy.
func (r *Registry) SetDefaults(defaults domain.Defaults) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults = defaults
	for name, entry := range r.types {
		entry.policy = r.resolve(name, entry.config)
		r.types[name] = entry
	}
}

// Defaults returns the global defaults in effect.
func (r *Registry) Defaults() domain.Defaults {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// Policy returns the resolved policy for a record type.
func (r *Registry) Policy(recordType string) (domain.Policy, error) {
	entry, err := r.lookup(recordType)
	if err != nil {
		return domain.Policy{}, err
	}
	return entry.policy, nil
}

// Table returns the storage location name registered for a record type.
func (r *Registry) Table(recordType string) string {
	entry, err := r.lookup(recordType)
	if err != nil {
		return ""
	}
	return entry.table
}

// Types lists the registered type tags in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve loads the record a subject reference points at.
func (r *Registry) Resolve(ctx context.Context, subject domain.SubjectRef) (*domain.Record, error) {
	entry, err := r.lookup(subject.Type)
	if err != nil {
		return nil, err
	}
	record, err := entry.store.Find(ctx, subject)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrSubjectNotFound, subject)
	}
	return record, nil
}

// Save persists a record through its type's store.
func (r *Registry) Save(ctx context.Context, record *domain.Record) error {
	entry, err := r.lookup(record.Type)
	if err != nil {
		return err
	}
	return entry.store.Save(ctx, record)
}

func (r *Registry) lookup(recordType string) (registeredType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.types[recordType]
	if !ok {
		return registeredType{}, fmt.Errorf("%w: %q", domain.ErrUnknownRecordType, recordType)
	}
	return entry, nil
}

// resolve must be called with mu held.
func (r *Registry) resolve(recordType string, config domain.RevisionConfig) domain.Policy {
	policy := config.Resolve(r.defaults)
	for _, field := range policy.Invalid {
		r.logger.Warn("invalid revision config, using default",
			"type", recordType,
			"field", field,
			"error", domain.ErrConfigInvalid,
		)
	}
	return policy
}
