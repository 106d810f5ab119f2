package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

const keyPrefix = "pdf_result:"

// GenerateKey derives the deterministic cache key for a processing result:
// a hash over the content fingerprint, the processing engine, and the
// canonicalized options. Options maps serialize with sorted keys, so insertion
// order never changes the key.
func GenerateKey(contentHash, engine string, options map[string]Value) string {
	canonical, err := json.Marshal(Map(options))
	if err != nil {
		// Value marshaling is total over the closed Value shape; err here
		// means a broken invariant, not bad input.
		canonical = []byte("{}")
	}
	sum := sha256.Sum256([]byte(contentHash + ":" + engine + ":" + string(canonical)))
	return keyPrefix + hex.EncodeToString(sum[:])
}
