package session

import (
	"crypto/sha256"
	"encoding/hex"
)

// keyFor derives the storage key for a bearer token so raw credentials never
// appear in a backing store.
func keyFor(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "flow_" + hex.EncodeToString(sum[:16])
}
