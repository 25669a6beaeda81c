package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// NewRunID generates a UUIDv7 for a batch run. V7 IDs are time-ordered,
// which keeps run listings naturally sorted. Falls back to v4 if the
// monotonic source fails.
func NewRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

var runIDPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-7[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// IsRunID reports whether s looks like a UUIDv7 run identifier.
func IsRunID(s string) bool {
	return runIDPattern.MatchString(s)
}

// EntryID derives a short content hash identifying a dead-letter entry.
// Collisions are unlikely but not impossible; entries are additionally
// distinguished by their position in the queue.
func EntryID(operationKey, message string, ts time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", operationKey, message, ts.UnixNano())))
	return hex.EncodeToString(sum[:])[:16]
}

// DeriveKey builds a fallback operation key from a function name and its
// formatted arguments. Keys derived this way can collide across different
// argument sets beyond the hash truncation; callers should pass explicit
// keys and rely on this only when none is supplied.
func DeriveKey(funcName string, args ...any) string {
	sum := sha256.Sum256([]byte(funcName + fmt.Sprint(args...)))
	return fmt.Sprintf("%s_%s", funcName, hex.EncodeToString(sum[:])[:8])
}
