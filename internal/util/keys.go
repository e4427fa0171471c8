package util

import (
	"crypto/sha256"
	"fmt"
)

// MaxPathKeyLen is the longest tree path embedded verbatim in a Redis key.
const MaxPathKeyLen = 256

// Key names one piece of a tree node in Redis: prefix + ":" + kind + ":" + path.
// Paths longer than MaxPathKeyLen are replaced by "#" and the first 32 hex
// chars of their sha256, so keys stay bounded and deterministic.
func Key(prefix, kind, path string) string {
	if len(path) > MaxPathKeyLen {
		sum := sha256.Sum256([]byte(path))
		path = fmt.Sprintf("#%x", sum)[:1+32]
	}
	return prefix + ":" + kind + ":" + path
}
