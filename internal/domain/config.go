package domain

// DefaultNonRevisionable is the deny-list used when a record type does not declare one.
var DefaultNonRevisionable = []string{"created_at", "updated_at", "deleted_at"}

// RevisionConfig is the per-record-type configuration supplied at registration.
// Nil fields inherit the global Defaults.
type RevisionConfig struct {
	Enabled         *bool
	Revisionable    []string
	NonRevisionable []string
	Limit           *int
	LimitCleanup    *bool
	RollbackCleanup *bool
}

// Defaults are the global revisioning options.
type Defaults struct {
	// Limit is the retention cap; 0 means unlimited.
	Limit           int
	LimitCleanup    bool
	RollbackCleanup bool
	// LogRollback records the save performed by a rollback as a fresh revision.
	LogRollback bool
}

// Policy is a RevisionConfig with all defaults applied.
type Policy struct {
	Enabled         bool
	Revisionable    map[string]struct{}
	NonRevisionable map[string]struct{}
	Limit           int
	LimitCleanup    bool
	RollbackCleanup bool
	LogRollback     bool
	// Invalid lists the fields that were malformed and replaced by defaults.
	Invalid []string
}

// HasLimit reports whether a retention cap applies.
func (p Policy) HasLimit() bool {
	return p.Limit > 0
}

// Resolve applies defaults to the config. Malformed values are replaced by the default
// and reported in Policy.Invalid rather than returned as an error.
func (c RevisionConfig) Resolve(defaults Defaults) Policy {
	policy := Policy{
		Enabled:         true,
		Revisionable:    toSet(c.Revisionable),
		Limit:           defaults.Limit,
		LimitCleanup:    defaults.LimitCleanup,
		RollbackCleanup: defaults.RollbackCleanup,
		LogRollback:     defaults.LogRollback,
	}

	if c.Enabled != nil {
		policy.Enabled = *c.Enabled
	}

	if c.NonRevisionable != nil {
		policy.NonRevisionable = toSet(c.NonRevisionable)
	} else {
		policy.NonRevisionable = toSet(DefaultNonRevisionable)
	}

	if c.Limit != nil {
		if *c.Limit < 0 {
			policy.Invalid = append(policy.Invalid, "limit")
		} else {
			policy.Limit = *c.Limit
		}
	}
	if policy.Limit < 0 {
		policy.Limit = 0
	}

	if c.LimitCleanup != nil {
		policy.LimitCleanup = *c.LimitCleanup
	}
	if c.RollbackCleanup != nil {
		policy.RollbackCleanup = *c.RollbackCleanup
	}

	return policy
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	return set
}

// Bool returns a pointer to v, for populating RevisionConfig literals.
func Bool(v bool) *bool { return &v }

// Int returns a pointer to v, for populating RevisionConfig literals.
func Int(v int) *int { return &v }
