package qr

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for PIN hashing. The PIN space is tiny, so the
// hash must stay memory-hard to keep offline guessing expensive.
const (
	pinHashMemoryKiB   = 19456
	pinHashIterations  = 2
	pinHashParallelism = 1
	pinHashSaltLength  = 16
	pinHashKeyLength   = 32
)

// ErrInvalidPIN indicates the supplied PIN is not a four digit string.
var ErrInvalidPIN = errors.New("qr: pin must be four digits")

var pinPattern = regexp.MustCompile(`^[0-9]{4}$`)

// ValidPINFormat reports whether the raw value is an acceptable PIN.
func ValidPINFormat(pin string) bool {
	return pinPattern.MatchString(pin)
}

// HashPIN derives an argon2id hash of the PIN in PHC string format.
func HashPIN(pin string) (string, error) {
	if !ValidPINFormat(pin) {
		return "", ErrInvalidPIN
	}

	salt := make([]byte, pinHashSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("qr: generating pin salt: %w", err)
	}

	key := argon2.IDKey([]byte(pin), salt, pinHashIterations, pinHashMemoryKiB, pinHashParallelism, pinHashKeyLength)

	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		pinHashMemoryKiB,
		pinHashIterations,
		pinHashParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return encoded, nil
}

// VerifyPIN reports whether the PIN matches the stored PHC-encoded hash.
// Malformed hashes verify as false rather than erroring; the caller only
// ever needs an authorized/unauthorized answer.
func VerifyPIN(encoded, pin string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memoryKiB, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memoryKiB, &iterations, &parallelism); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false
	}

	key := argon2.IDKey([]byte(pin), salt, iterations, memoryKiB, parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(key, expected) == 1
}
