package identity

import (
	"crypto/sha256"
	"encoding/hex"
)

// AutoLoginToken derives the auto-login token for a username.
//
// The token is SHA-256(username + versionSalt) in hex. Folding the salt into
// the digest is a deliberate versioning mechanism: changing the salt makes
// every stored token fail recomputation, invalidating all existing auto-login
// sessions atomically without touching the store.
func AutoLoginToken(username, versionSalt string) string {
	sum := sha256.Sum256([]byte(username + versionSalt))
	return hex.EncodeToString(sum[:])
}
