package domain

import "testing"

func TestResolveAppliesDefaults(t *testing.T) {
	policy := RevisionConfig{}.Resolve(Defaults{Limit: 10, LimitCleanup: true, LogRollback: true})

	if !policy.Enabled {
		t.Fatalf("revisioning should be enabled by default")
	}
	if policy.Limit != 10 || !policy.HasLimit() {
		t.Fatalf("expected default limit 10, got %d", policy.Limit)
	}
	if !policy.LimitCleanup {
		t.Fatalf("expected limit cleanup from defaults")
	}
	if policy.RollbackCleanup {
		t.Fatalf("rollback cleanup should default to false")
	}
	for _, key := range DefaultNonRevisionable {
		if _, ok := policy.NonRevisionable[key]; !ok {
			t.Fatalf("expected %s in default deny-list", key)
		}
	}
}

func TestResolveOverrides(t *testing.T) {
	policy := RevisionConfig{
		Enabled:         Bool(false),
		Limit:           Int(3),
		LimitCleanup:    Bool(false),
		RollbackCleanup: Bool(true),
		NonRevisionable: []string{},
	}.Resolve(Defaults{Limit: 10, LimitCleanup: true})

	if policy.Enabled {
		t.Fatalf("expected revisioning disabled")
	}
	if policy.Limit != 3 {
		t.Fatalf("expected limit 3, got %d", policy.Limit)
	}
	if policy.LimitCleanup {
		t.Fatalf("expected limit cleanup overridden to false")
	}
	if !policy.RollbackCleanup {
		t.Fatalf("expected rollback cleanup overridden to true")
	}
	if len(policy.NonRevisionable) != 0 {
		t.Fatalf("explicit empty deny-list should stay empty, got %v", policy.NonRevisionable)
	}
}

func TestResolveInvalidLimitFallsBack(t *testing.T) {
	policy := RevisionConfig{Limit: Int(-5)}.Resolve(Defaults{Limit: 7})

	if policy.Limit != 7 {
		t.Fatalf("expected fallback to default limit 7, got %d", policy.Limit)
	}
	if len(policy.Invalid) != 1 || policy.Invalid[0] != "limit" {
		t.Fatalf("expected limit reported invalid, got %v", policy.Invalid)
	}
}

func TestParseSubjectRef(t *testing.T) {
	ref, err := ParseSubjectRef("blog.post:42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Type != "blog.post" || ref.ID != 42 {
		t.Fatalf("unexpected ref: %+v", ref)
	}
	if ref.String() != "blog.post:42" {
		t.Fatalf("unexpected string form %q", ref.String())
	}

	for _, bad := range []string{"", "post", "post:", ":1", "post:abc", "post:12x"} {
		if _, err := ParseSubjectRef(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
