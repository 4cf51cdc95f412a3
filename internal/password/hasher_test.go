package password_test

import (
	"strings"
	"testing"

	"github.com/nexusiam/controlplane/internal/password"
)

func TestHashVerify_RoundTrip(t *testing.T) {
	hash, err := password.Hash("correct horse battery staple")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	ok, err := password.Verify("correct horse battery staple", hash)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Error("expected verify to succeed for the correct password")
	}
}

func TestVerify_WrongPassword(t *testing.T) {
	hash, _ := password.Hash("right-password")
	ok, err := password.Verify("wrong-password", hash)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if ok {
		t.Error("expected verify to fail for the wrong password")
	}
}

func TestHash_ProducesUniqueSaltPerCall(t *testing.T) {
	h1, _ := password.Hash("same-password")
	h2, _ := password.Hash("same-password")
	if h1 == h2 {
		t.Error("expected distinct salts to produce distinct encoded hashes")
	}
}

func TestVerify_RejectsMalformedHash(t *testing.T) {
	_, err := password.Verify("anything", "not-a-valid-hash")
	if err != password.ErrInvalidHash {
		t.Errorf("expected ErrInvalidHash, got %v", err)
	}
}

func TestVerify_RejectsWrongAlgorithm(t *testing.T) {
	fake := "$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA"
	_, err := password.Verify("anything", fake)
	if err != password.ErrInvalidHash {
		t.Errorf("expected ErrInvalidHash for non-argon2id hash, got %v", err)
	}
}

func TestDummyHash_VerifiesAsValidEncodingButNeverMatches(t *testing.T) {
	if !strings.HasPrefix(password.DummyHash, "$argon2id$") {
		t.Fatal("DummyHash must be a well-formed argon2id encoding")
	}
	ok, err := password.Verify("whatever the caller typed", password.DummyHash)
	if err != nil {
		t.Fatalf("Verify on DummyHash should not error: %v", err)
	}
	if ok {
		t.Error("DummyHash must never verify successfully")
	}
}
