package rate_limiter

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const GlobalIdentity = "global"

// Fingerprint identifies a credential without retaining it.
func Fingerprint(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])[:16]
}

// Identity picks the most specific bucket owner: a bring-your-own key, then
// the user, then the shared platform bucket.
func Identity(apiKey, userID string) string {
	if key := strings.TrimSpace(apiKey); key != "" {
		return "key:" + Fingerprint(key)
	}
	if user := strings.TrimSpace(userID); user != "" {
		return "user:" + user
	}
	return GlobalIdentity
}
