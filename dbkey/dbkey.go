// Package dbkey implements password-to-key derivation and the key-tag
// sidecar that detects a page file being reopened with the wrong key.
package dbkey

import (
	"crypto/hmac"
	"crypto/sha256"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// MinPasswordLength is the minimum accepted password length; anything
	// shorter fails derivation before any file I/O occurs.
	MinPasswordLength = 8

	iterations = 10000
	keyLength  = 32 // 256 bits

	// saltLiteral is the process-wide derivation salt named by spec.md §6.
	saltLiteral = "AshPileSalt"

	// tagSaltLiteral is the fixed salt the key-tag MAC is computed over.
	tagSaltLiteral = "BlazeDBKeyTag"
)

var (
	ErrWeakPassword = errors.New("dbkey: password too weak")
	ErrKeyMismatch  = errors.New("dbkey: key mismatch")
)

// Derive runs PBKDF2-HMAC-SHA256 over password, rejecting passwords under
// MinPasswordLength before doing any work.
func Derive(password string) ([]byte, error) {
	if len(password) < MinPasswordLength {
		return nil, ErrWeakPassword
	}
	return pbkdf2.Key([]byte(password), []byte(saltLiteral), iterations, keyLength, sha256.New), nil
}

// Tag computes the key-tag MAC for key: an HMAC-SHA256 over a fixed salt,
// used to detect a page file bound to a different key than the current
// opener's.
func Tag(key []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(tagSaltLiteral))
	return mac.Sum(nil)
}

// VerifyOrCreate checks the key-tag sidecar at path against key. If the
// file is absent, it is created (first opener). If present, its contents
// are compared against Tag(key); a mismatch returns ErrKeyMismatch.
func VerifyOrCreate(path string, key []byte) error {
	want := Tag(key)

	existing, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return errors.Wrap(os.WriteFile(path, want, 0o600), "dbkey: write key-tag")
	}
	if err != nil {
		return errors.Wrap(err, "dbkey: read key-tag")
	}
	if !hmac.Equal(existing, want) {
		return ErrKeyMismatch
	}
	return nil
}
