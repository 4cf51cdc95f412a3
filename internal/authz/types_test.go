package authz

import "testing"

func TestFingerprint_StableForEquivalentRequests(t *testing.T) {
	a := Request{
		Subject:  Subject{ID: "u1", Roles: []string{"admin", "viewer"}},
		Resource: "policies", Action: "read",
		Context: map[string]any{"ip": "10.0.0.1"},
	}
	b := Request{
		Subject:  Subject{ID: "u1", Roles: []string{"viewer", "admin"}}, // different order
		Resource: "policies", Action: "read",
		Context: map[string]any{"ip": "10.0.0.1"},
	}
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("expected role order not to affect fingerprint")
	}
}

func TestFingerprint_DiffersOnResource(t *testing.T) {
	a := Request{Subject: Subject{ID: "u1"}, Resource: "policies", Action: "read"}
	b := Request{Subject: Subject{ID: "u1"}, Resource: "audit", Action: "read"}
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("expected different resources to produce different fingerprints")
	}
}

func TestRequest_AttributesMergesContextOverSubject(t *testing.T) {
	req := Request{
		Subject:  Subject{ID: "u1", Attributes: map[string]any{"risk": "low"}},
		Resource: "policies", Action: "read",
		Context: map[string]any{"risk": "high"},
	}
	attrs := req.attributes()
	if attrs["risk"] != "high" {
		t.Errorf("expected context to win over subject attributes, got %v", attrs["risk"])
	}
	if attrs["subject.id"] != "u1" {
		t.Error("expected subject.id to be populated")
	}
}
