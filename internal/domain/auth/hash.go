package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// ErrUnknownHashType is returned when a stored hash has an unrecognized format.
var ErrUnknownHashType = errors.New("auth: unknown credential hash format")

// argon2idParams follows OWASP's minimum recommendation for Argon2id:
// 46 MiB memory, 1 iteration, 1 degree of parallelism.
var argon2idParams = &argon2id.Params{
	Memory:      46 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashSecret returns the SHA-256 hex digest of a raw credential secret. This
// is the fast-path hash used for direct map lookups.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// HashSecretArgon2id returns a PHC-formatted Argon2id hash of the raw
// secret, for operators who want to avoid storing even a SHA-256 digest at
// rest.
func HashSecretArgon2id(secret string) (string, error) {
	return argon2id.CreateHash(secret, argon2idParams)
}

// detectHashType classifies a stored credential hash.
func detectHashType(stored string) string {
	if strings.HasPrefix(stored, "$argon2id$") {
		return "argon2id"
	}
	if strings.HasPrefix(stored, "sha256:") {
		return "sha256"
	}
	if len(stored) == 64 && isHexString(stored) {
		return "sha256"
	}
	return "unknown"
}

func isHexString(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// VerifySecret checks a presented secret against a stored hash, supporting
// Argon2id (PHC format), "sha256:"-prefixed hex, and legacy bare hex.
func VerifySecret(presented, stored string) (bool, error) {
	switch detectHashType(stored) {
	case "argon2id":
		return safeArgon2idCompare(presented, stored)
	case "sha256":
		expected := strings.TrimPrefix(stored, "sha256:")
		computed := HashSecret(presented)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(expected)) == 1, nil
	default:
		return false, ErrUnknownHashType
	}
}

// safeArgon2idCompare wraps argon2id.ComparePasswordAndHash with panic
// recovery: the underlying library panics on malformed parameter strings
// (t=0, p=0) rather than returning an error.
func safeArgon2idCompare(presented, stored string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("auth: invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(presented, stored)
}
