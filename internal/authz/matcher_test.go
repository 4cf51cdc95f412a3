package authz

import "testing"

func TestTarget_WildcardMatchesEverything(t *testing.T) {
	target := Target{}
	req := Request{Subject: Subject{ID: "u1", Roles: []string{"viewer"}}, Resource: "policies", Action: "read"}
	if !target.matches(req) {
		t.Error("empty target should match any request")
	}
}

func TestTarget_MatchesByRole(t *testing.T) {
	target := Target{Subjects: []string{"admin"}}
	admin := Request{Subject: Subject{ID: "u1", Roles: []string{"admin"}}}
	viewer := Request{Subject: Subject{ID: "u2", Roles: []string{"viewer"}}}
	if !target.matches(admin) {
		t.Error("expected admin role to match")
	}
	if target.matches(viewer) {
		t.Error("expected viewer role not to match")
	}
}

func TestTarget_MatchesBySubjectID(t *testing.T) {
	target := Target{Subjects: []string{"user-42"}}
	req := Request{Subject: Subject{ID: "user-42", Roles: []string{"viewer"}}}
	if !target.matches(req) {
		t.Error("expected subject id match")
	}
}

func TestTarget_ResourceAndActionWildcardStar(t *testing.T) {
	target := Target{Resources: []string{"*"}, Actions: []string{"read"}}
	req := Request{Resource: "anything", Action: "read"}
	if !target.matches(req) {
		t.Error("expected wildcard resource with matching action to match")
	}
	req2 := Request{Resource: "anything", Action: "write"}
	if target.matches(req2) {
		t.Error("expected action mismatch to fail")
	}
}

func TestTarget_AllPredicatesMustMatch(t *testing.T) {
	target := Target{Subjects: []string{"admin"}, Resources: []string{"policies"}, Actions: []string{"write"}}
	req := Request{Subject: Subject{ID: "u1", Roles: []string{"admin"}}, Resource: "policies", Action: "read"}
	if target.matches(req) {
		t.Error("expected action mismatch to prevent match despite matching subject and resource")
	}
}
