package authz

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func policyAt(id string, effect Effect, priority int, updated time.Time) *CompiledPolicy {
	return &CompiledPolicy{
		ID:        uuid.MustParse(id),
		Effect:    effect,
		Priority:  priority,
		Target:    Target{},
		UpdatedAt: updated,
	}
}

const (
	idA = "00000000-0000-0000-0000-000000000001"
	idB = "00000000-0000-0000-0000-000000000002"
	idC = "00000000-0000-0000-0000-000000000003"
)

func TestCombine_HighestPriorityTierWins(t *testing.T) {
	now := time.Now()
	policies := []*CompiledPolicy{
		policyAt(idA, Permit, 10, now),
		policyAt(idB, Deny, 20, now),
	}
	req := Request{Resource: "r", Action: "a"}
	d := combine(req, "fp", policies, Deny, time.Now())
	if d.Effect != Deny {
		t.Errorf("expected deny from higher priority tier, got %s", d.Effect)
	}
}

func TestCombine_DenyOverridesPermitWithinTier(t *testing.T) {
	now := time.Now()
	policies := []*CompiledPolicy{
		policyAt(idA, Permit, 10, now),
		policyAt(idB, Deny, 10, now),
	}
	req := Request{Resource: "r", Action: "a"}
	d := combine(req, "fp", policies, Deny, time.Now())
	if d.Effect != Deny {
		t.Errorf("expected deny to override permit in same tier, got %s", d.Effect)
	}
}

func TestCombine_NoMatchUsesDefaultEffect(t *testing.T) {
	policies := []*CompiledPolicy{
		{ID: uuid.MustParse(idA), Effect: Permit, Priority: 5, Target: Target{Resources: []string{"other"}}},
	}
	req := Request{Resource: "r", Action: "a"}
	d := combine(req, "fp", policies, Deny, time.Now())
	if d.Effect != Deny {
		t.Errorf("expected default effect deny, got %s", d.Effect)
	}
	if len(d.MatchedPolicyIDs) != 0 {
		t.Error("expected no matched policy ids")
	}
}

func TestCombine_SharedPriorityDenyWinsRegardlessOfRecency(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	// Both at priority 10: the permit policy was updated more recently, but
	// priority tiering groups by priority value, not recency, so both land
	// in the same tier and deny still wins regardless of update time.
	policies := []*CompiledPolicy{
		policyAt(idA, Permit, 10, newer),
		policyAt(idB, Deny, 10, older),
	}
	req := Request{Resource: "r", Action: "a"}
	d := combine(req, "fp", policies, Deny, time.Now())
	if d.Effect != Deny {
		t.Errorf("expected deny to win within the shared priority tier, got %s", d.Effect)
	}
}

func TestCombine_IndeterminateWhenOnlyIndeterminateMatches(t *testing.T) {
	policies := []*CompiledPolicy{
		{
			ID: uuid.MustParse(idA), Effect: Permit, Priority: 10, Target: Target{},
			Condition: &Condition{Op: "eq", Attr: "missing", Value: "x"},
		},
	}
	req := Request{Resource: "r", Action: "a"}
	d := combine(req, "fp", policies, Deny, time.Now())
	if d.Effect != Indeterminate {
		t.Errorf("expected indeterminate, got %s", d.Effect)
	}
}

func TestCombine_LowerTierIgnoredWhenHigherDecides(t *testing.T) {
	now := time.Now()
	policies := []*CompiledPolicy{
		policyAt(idA, Permit, 20, now),
		policyAt(idB, Deny, 5, now),
	}
	req := Request{Resource: "r", Action: "a"}
	d := combine(req, "fp", policies, Deny, time.Now())
	if d.Effect != Permit {
		t.Errorf("expected permit from the only-contributing higher tier, got %s", d.Effect)
	}
	if len(d.MatchedPolicyIDs) != 1 || d.MatchedPolicyIDs[0] != idA {
		t.Errorf("expected only idA to be cited, got %v", d.MatchedPolicyIDs)
	}
}

func TestCombine_IndeterminateTierFallsThroughToLowerTier(t *testing.T) {
	now := time.Now()
	indeterminate := &CompiledPolicy{
		ID: uuid.MustParse(idA), Effect: Permit, Priority: 20, Target: Target{},
		Condition: &Condition{Op: "eq", Attr: "missing", Value: "x"},
	}
	lower := policyAt(idB, Permit, 5, now)
	req := Request{Resource: "r", Action: "a"}
	d := combine(req, "fp", []*CompiledPolicy{indeterminate, lower}, Deny, time.Now())
	if d.Effect != Permit {
		t.Errorf("expected fallthrough to lower determinate tier, got effect=%s reason=%s", d.Effect, d.Reason)
	}
}
