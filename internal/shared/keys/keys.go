// Package keys generates the opaque tokens used across the system and
// derives upstream credentials from a subscription access key.
//
// Credential derivation must be a stable function of the access key: the
// same key always yields the same UUID and password, so upstream users can
// be updated in place and cached link templates can be rewritten without
// rotating client configuration. Rotation happens only when the access key
// itself is revoked.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Hex returns n random bytes hex-encoded (2n characters).
func Hex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("keys: crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// NewAccessKey returns a 32-hex client-facing subscription secret.
func NewAccessKey() string { return Hex(16) }

// NewServerKey returns an 8-hex upstream username.
func NewServerKey() string { return Hex(4) }

// NewAPIKey returns a 64-hex admin api key.
func NewAPIKey() string { return Hex(32) }

// NewSecret returns a 32-hex admin secret used for token binding.
func NewSecret() string { return Hex(16) }

// DeriveUUID derives the vmess/vless credential UUID from an access key.
// The first 16 bytes of SHA-256(key) are stamped with version 4 and the
// RFC 4122 variant so upstream panels accept it as a well-formed UUID.
func DeriveUUID(accessKey string) string {
	sum := sha256.Sum256([]byte(accessKey))
	var id uuid.UUID
	copy(id[:], sum[:16])
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id.String()
}

// DerivePassword derives the trojan/shadowsocks password from an access key.
func DerivePassword(accessKey string) string {
	sum := sha256.Sum256([]byte(accessKey))
	return hex.EncodeToString(sum[:16])
}
