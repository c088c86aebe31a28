package cache

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// FingerprintMode selects how much of an image feeds the cache key.
type FingerprintMode string

const (
	// FingerprintFull hashes the whole payload.
	FingerprintFull FingerprintMode = "full"
	// FingerprintPrefix hashes the first 100 base64 characters only. Images
	// that share leading bytes alias to the same key in this mode.
	FingerprintPrefix FingerprintMode = "prefix"

	prefixChars = 100
)

// Key namespaces per result kind.
const (
	SinglePrefix = "vision:"
	MultiPrefix  = "multi-vision:"
)

// Fingerprint returns the hex SHA-256 digest identifying image for cache lookup.
func Fingerprint(image []byte, mode FingerprintMode) string {
	if mode == FingerprintPrefix {
		enc := base64.StdEncoding.EncodeToString(image)
		if len(enc) > prefixChars {
			enc = enc[:prefixChars]
		}
		sum := sha256.Sum256([]byte(enc))
		return hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:])
}

// SingleKey is the cache key for a single-event result.
func SingleKey(fp string) string { return SinglePrefix + fp }

// MultiKey is the cache key for a multi-event result.
func MultiKey(fp string) string { return MultiPrefix + fp }
