package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// contentId derives a deterministic entity id from a dedup key.
//
// encoding/json sorts map keys, so structurally equal keys always hash
// to the same id, in any backend and across processes.
func contentId(kind string, key any) string {
	payload, err := json.Marshal(key)
	if err != nil {
		// dedup keys are built from plain strings, slices and scalar maps;
		// they never fail to marshal.
		panic(fmt.Errorf("dedup key for %s: %w", kind, err))
	}
	sum := sha256.Sum256(append([]byte(kind+":"), payload...))
	return hex.EncodeToString(sum[:])
}
