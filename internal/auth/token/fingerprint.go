package token

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint holds the two stable identity headers derived from a refresh
// token: X-Goog-QuotaUser and X-Client-Device-Id.
type Fingerprint struct {
	QuotaUser string
	DeviceID  string
}

// GetFingerprint returns the cached fingerprint for the refresh token,
// deriving it on first use. Fingerprints are evicted together with their
// credential entry.
func (c *Cache) GetFingerprint(refreshToken string) Fingerprint {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fp, ok := c.fingerprints[refreshToken]; ok {
		return fp
	}
	fp := deriveFingerprint(refreshToken)
	c.fingerprints[refreshToken] = fp
	return fp
}

// deriveFingerprint hashes the refresh token and uses the first 8 bytes,
// hex-encoded, as the quota user. The device id is the same value
// right-padded with '0' to 32 characters.
func deriveFingerprint(refreshToken string) Fingerprint {
	sum := sha256.Sum256([]byte(refreshToken))
	id := hex.EncodeToString(sum[:8])
	device := id + strings.Repeat("0", 32-len(id))
	return Fingerprint{QuotaUser: id, DeviceID: device}
}
