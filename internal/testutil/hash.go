package testutil

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashPassword returns the SHA-256 digest of password as a lowercase hex
// string. Matches the hash clients send in login and signup requests.
func HashPassword(password string) string {
	h := sha256.Sum256([]byte(password))
	return hex.EncodeToString(h[:])
}
