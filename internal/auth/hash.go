package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashToken hashes a session token using SHA256. The hash is used as a cache
// key so raw tokens never sit in memory longer than the request.
func HashToken(token string) string {
	hasher := sha256.New()
	hasher.Write([]byte(token))
	return hex.EncodeToString(hasher.Sum(nil))
}
