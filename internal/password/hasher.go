// Package password implements Argon2id hashing and constant-time
// verification for the authentication core's stored credentials.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Params tunes the Argon2id work factor.
type Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var DefaultParams = &Params{
	Memory:      64 * 1024, // 64 MB
	Iterations:  1,
	Parallelism: 4,
	SaltLength:  16,
	KeyLength:   32,
}

// init reads the Argon2id cost parameters from the environment, the same
// getenv-with-fallback convention every cmd/*/main.go uses for its own
// config: unset or unparseable values keep DefaultParams' hardcoded
// defaults.
func init() {
	if v := os.Getenv("PASSWORD_HASH_MEMORY_KB"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			DefaultParams.Memory = uint32(n)
		}
	}
	if v := os.Getenv("PASSWORD_HASH_ITERATIONS"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			DefaultParams.Iterations = uint32(n)
		}
	}
	if v := os.Getenv("PASSWORD_HASH_PARALLELISM"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 8); err == nil {
			DefaultParams.Parallelism = uint8(n)
		}
	}
}

var ErrInvalidHash = errors.New("password: invalid hash format")

// Hash produces an encoded Argon2id hash: $argon2id$v=19$m=...,t=...,p=...$salt$hash
func Hash(plain string) (string, error) {
	salt := make([]byte, DefaultParams.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(plain), salt, DefaultParams.Iterations, DefaultParams.Memory, DefaultParams.Parallelism, DefaultParams.KeyLength)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, DefaultParams.Memory, DefaultParams.Iterations, DefaultParams.Parallelism, b64Salt, b64Hash)
	return encoded, nil
}

// Verify compares plain against an encoded hash in constant time.
func Verify(plain, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return false, ErrInvalidHash
	}
	if parts[1] != "argon2id" {
		return false, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, ErrInvalidHash
	}
	if version != argon2.Version {
		return false, ErrInvalidHash
	}

	p := &Params{}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Iterations, &p.Parallelism); err != nil {
		return false, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, ErrInvalidHash
	}
	decodedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, ErrInvalidHash
	}
	p.KeyLength = uint32(len(decodedHash))

	candidate := argon2.IDKey([]byte(plain), salt, p.Iterations, p.Memory, p.Parallelism, p.KeyLength)
	return subtle.ConstantTimeCompare(decodedHash, candidate) == 1, nil
}

// DummyHash is a fixed valid-looking hash used to burn the same CPU time as
// a real Verify call when the account being authenticated doesn't exist,
// so failed logins for unknown users aren't distinguishable by timing.
const DummyHash = "$argon2id$v=19$m=65536,t=1,p=4$c29tZXNhbHRzb21lc2FsdA$c29tZWhhc2hzb21laGFzaHNvbWVoYXNo"
