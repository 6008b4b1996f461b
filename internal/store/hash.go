package store

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/vitaminmoo/bluelocate/internal/fields"
)

// ContentHash computes a content-addressable hash for a value set.
// Empty values are ignored so a profile saved with and without an unused
// field hashes the same.
func ContentHash(values fields.Values) string {
	h := sha256.New()
	for _, k := range values.Keys() {
		v := values[k]
		if v == "" {
			continue
		}
		h.Write([]byte(strings.ToLower(k)))
		h.Write([]byte{0})
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

// ShortHash returns a shortened version of the hash for display purposes.
func ShortHash(fullHash string) string {
	// Remove "sha256:" prefix and take first 12 chars
	if len(fullHash) > 19 {
		return fullHash[7:19]
	}
	return fullHash
}
