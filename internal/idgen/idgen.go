// Package idgen generates process-unique identifiers for watch expressions
// without the coordination overhead of a central counter. Session and
// breakpoint ids come from github.com/google/uuid instead.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// New returns a cryptographically random 128-bit value, hex-encoded,
// prefixed with a millisecond timestamp, so ids sort roughly chronologically
// while remaining collision-free across a long-lived facade.
func New() string {
	var buf [16]byte
	// rand.Read only fails if the platform's entropy source is broken, in
	// which case an all-zero suffix still yields a usable (if colliding) id.
	_, _ = rand.Read(buf[:])
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), hex.EncodeToString(buf[:]))
}
