package retry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/healthpulse/pulse-jobs/internal/metrics"
)

// deadLetterWarnThreshold is the queue size above which additions are logged
// as errors.
const deadLetterWarnThreshold = 100

// DeadLetterEntry records an operation that exhausted its retries or failed
// permanently, together with its full attempt history.
type DeadLetterEntry struct {
	ID           string          `json:"id"`
	OperationKey string          `json:"operation_key"`
	Error        string          `json:"error"`
	ErrorKind    string          `json:"error_kind"`
	RetryHistory []AttemptRecord `json:"retry_history"`
	Timestamp    time.Time       `json:"timestamp"`
}

// EvictionPolicy trims the dead letter queue after each addition. Evict
// receives the entries oldest first and returns the ones to keep.
type EvictionPolicy interface {
	Evict(entries []DeadLetterEntry) []DeadLetterEntry
}

// MaxEntries keeps only the newest N entries.
type MaxEntries struct {
	N int
}

// Evict returns the newest N entries.
func (p MaxEntries) Evict(entries []DeadLetterEntry) []DeadLetterEntry {
	if p.N <= 0 || len(entries) <= p.N {
		return entries
	}
	return entries[len(entries)-p.N:]
}

// MaxAge drops entries older than TTL.
type MaxAge struct {
	TTL time.Duration
	Now func() time.Time
}

// Evict returns the entries younger than TTL.
func (p MaxAge) Evict(entries []DeadLetterEntry) []DeadLetterEntry {
	if p.TTL <= 0 {
		return entries
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	cutoff := now().Add(-p.TTL)
	kept := entries[:0:0]
	for _, e := range entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

// deadLetterQueue is the in-memory dead letter store behind a Manager.
type deadLetterQueue struct {
	mu      sync.Mutex
	entries []DeadLetterEntry
	policy  EvictionPolicy
	logger  *slog.Logger
}

func newDeadLetterQueue(logger *slog.Logger) *deadLetterQueue {
	return &deadLetterQueue{logger: logger}
}

func (q *deadLetterQueue) setPolicy(policy EvictionPolicy) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.policy = policy
}

func (q *deadLetterQueue) setLogger(logger *slog.Logger) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.logger = logger
}

func (q *deadLetterQueue) add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, entry)
	if q.policy != nil {
		q.entries = q.policy.Evict(q.entries)
	}

	metrics.DeadLetters.Inc()

	if len(q.entries) > deadLetterWarnThreshold {
		q.logger.Error("dead letter queue above threshold",
			"size", len(q.entries),
			"threshold", deadLetterWarnThreshold,
			"operation_key", entry.OperationKey,
		)
	}
}

// snapshot returns a copy of all entries, oldest first.
func (q *deadLetterQueue) snapshot() []DeadLetterEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]DeadLetterEntry, len(q.entries))
	copy(out, q.entries)
	return out
}

// clear removes the entries with the given IDs, or all entries when no IDs
// are given. It returns the number removed.
func (q *deadLetterQueue) clear(ids ...string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	before := len(q.entries)
	if len(ids) == 0 {
		q.entries = nil
	} else {
		drop := make(map[string]bool, len(ids))
		for _, id := range ids {
			drop[id] = true
		}
		kept := q.entries[:0]
		for _, e := range q.entries {
			if !drop[e.ID] {
				kept = append(kept, e)
			}
		}
		q.entries = kept
	}
	return before - len(q.entries)
}

func (q *deadLetterQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
