package revision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rpattn/revisionable/internal/auth"
	"github.com/rpattn/revisionable/internal/domain"
	"github.com/rpattn/revisionable/internal/events"
	"github.com/rpattn/revisionable/internal/metrics"
	"github.com/rpattn/revisionable/internal/repository"
)

type suppressKey struct{}

// WithoutRevisions marks ctx so that lifecycle events published under it are not
// recorded.
func WithoutRevisions(ctx context.Context) context.Context {
	return context.WithValue(ctx, suppressKey{}, true)
}

func revisionsSuppressed(ctx context.Context) bool {
	suppressed, _ := ctx.Value(suppressKey{}).(bool)
	return suppressed
}

// Listener turns record lifecycle notifications into revisions.
type Listener struct {
	revisions repository.RevisionRepository
	registry  *Registry
	retention *Retention
	users     auth.UserResolver
	logger    *slog.Logger
	metrics   *metrics.Recorder
	now       func() time.Time
	strict    bool
}

// ListenerOption configures a Listener.
type ListenerOption func(*Listener)

// WithStrict makes store failures propagate to the publisher instead of being logged.
func WithStrict(strict bool) ListenerOption {
	return func(l *Listener) { l.strict = strict }
}

// WithClock sets the timestamp source for new revisions.
func WithClock(now func() time.Time) ListenerOption {
	return func(l *Listener) { l.now = now }
}

// NewListener creates a listener writing to revisions. users may be nil.
func NewListener(
	revisions repository.RevisionRepository,
	registry *Registry,
	retention *Retention,
	users auth.UserResolver,
	logger *slog.Logger,
	recorder *metrics.Recorder,
	opts ...ListenerOption,
) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Listener{
		revisions: revisions,
		registry:  registry,
		retention: retention,
		users:     users,
		logger:    logger,
		metrics:   recorder,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Attach subscribes the listener to every lifecycle kind of a record type.
func (l *Listener) Attach(bus *events.Bus, recordType string) {
	for _, action := range domain.Actions {
		action := action
		bus.Subscribe(recordType, events.KindForAction(action), func(ctx context.Context, record *domain.Record) error {
			_, err := l.Handle(ctx, action, record)
			return err
		})
	}
}

// Handle records one lifecycle event. It returns the appended revision, or nil when the
// event did not qualify or the store failed in non-strict mode.
func (l *Listener) Handle(ctx context.Context, action domain.Action, record *domain.Record) (*domain.Revision, error) {
	revision, err := l.capture(ctx, action, record)
	if err == nil {
		return revision, nil
	}
	if !l.strict && errors.Is(err, domain.ErrStoreUnavailable) {
		l.logger.Error("failed to record revision",
			"subject_type", record.Type,
			"subject_id", record.ID,
			"action", action,
			"error", err,
		)
		return revision, nil
	}
	return revision, err
}

func (l *Listener) capture(ctx context.Context, action domain.Action, record *domain.Record) (*domain.Revision, error) {
	if record == nil {
		return nil, fmt.Errorf("cannot record %s revision without a record", action)
	}
	if revisionsSuppressed(ctx) {
		l.metrics.Skipped(record.Type, "suppressed")
		return nil, nil
	}

	policy, err := l.registry.Policy(record.Type)
	if err != nil {
		return nil, err
	}
	if !policy.Enabled {
		l.metrics.Skipped(record.Type, "disabled")
		return nil, nil
	}

	oldValues := map[string]string{}
	newValues := map[string]string{}
	switch action {
	case domain.ActionCreated:
		newValues = domain.SelectAttributes(policy, record.Attributes)
	case domain.ActionDeleted:
		oldValues = domain.SelectAttributes(policy, record.Original)
	case domain.ActionUpdated:
		oldValues = domain.SelectAttributes(policy, record.Original)
		newValues = domain.SelectAttributes(policy, record.Attributes)
		if len(domain.Diff(oldValues, newValues)) == 0 {
			l.metrics.Skipped(record.Type, "unchanged")
			return nil, nil
		}
	case domain.ActionRestored:
		oldValues = domain.SelectAttributes(policy, record.Original)
		newValues = domain.SelectAttributes(policy, record.Attributes)
	default:
		return nil, fmt.Errorf("unsupported revision action %q", action)
	}

	table := record.Table
	if table == "" {
		table = l.registry.Table(record.Type)
	}
	now := l.now()
	revision := domain.Revision{
		Action:    action,
		Subject:   record.Subject(),
		TableName: table,
		Old:       oldValues,
		New:       newValues,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if l.users != nil {
		if userID, ok := l.users.CurrentUserID(ctx); ok {
			revision.UserID = &userID
		}
	}
	if meta, ok := auth.RequestMetaFromContext(ctx); ok {
		if meta.IP != "" {
			ip := meta.IP
			revision.IP = &ip
		}
		if meta.Forwarded != "" {
			forwarded := meta.Forwarded
			revision.IPForwarded = &forwarded
		}
	}

	stored, err := l.revisions.Append(ctx, revision)
	if err != nil {
		l.metrics.StoreFailure("append")
		return nil, err
	}
	l.metrics.Written(record.Type, string(action))
	l.logger.Debug("recorded revision",
		"subject_type", record.Type,
		"subject_id", record.ID,
		"action", action,
		"revision_id", stored.ID,
	)

	if policy.LimitCleanup && policy.HasLimit() && l.retention != nil {
		if _, err := l.retention.Enforce(ctx, stored.Subject, policy.Limit); err != nil {
			l.metrics.StoreFailure("retention")
			return &stored, err
		}
	}
	return &stored, nil
}
