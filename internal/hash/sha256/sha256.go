// Package sha256 fingerprints apply links so downstream consumers can
// deduplicate records without comparing full URLs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/jobhunt-agent/internal/crawler"
)

// Fingerprint returns the hex SHA-256 digest of the normalized link. Links
// that do not parse as absolute URLs are hashed as given.
func Fingerprint(link string) string {
	if normalized, err := crawler.NormalizeURL(link); err == nil {
		link = normalized
	}
	return Hash([]byte(link))
}

// Hash returns the hex SHA-256 digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
