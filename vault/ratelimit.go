package vault

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// pruneThreshold is the bucket count at which refilled buckets are dropped.
const pruneThreshold = 4096

// failureLimiter keeps a token bucket per beneficiary ID, known or not. Every
// attempt reserves a token before the secrets are checked; only failed
// attempts keep it, so a beneficiary who keeps succeeding is never limited.
type failureLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[uuid.UUID]*rate.Limiter
	pruneAt int
}

func newFailureLimiter(maxFailures int, window time.Duration) *failureLimiter {
	return &failureLimiter{
		limit:   rate.Every(window / time.Duration(maxFailures)),
		burst:   maxFailures,
		buckets: make(map[uuid.UUID]*rate.Limiter),
		pruneAt: pruneThreshold,
	}
}

func (f *failureLimiter) bucket(id uuid.UUID, now time.Time) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()

	l, ok := f.buckets[id]
	if ok {
		return l
	}

	if len(f.buckets) >= f.pruneAt {
		f.prune(now)
		f.pruneAt = max(2*len(f.buckets), pruneThreshold)
	}
	l = rate.NewLimiter(f.limit, f.burst)
	f.buckets[id] = l
	return l
}

// prune drops buckets that have refilled completely; they behave exactly
// like a fresh one. Buckets holding an unsettled reservation are never full.
func (f *failureLimiter) prune(now time.Time) {
	for id, l := range f.buckets {
		if l.TokensAt(now) >= float64(f.burst) {
			delete(f.buckets, id)
		}
	}
}

// Reserve takes one token from id's bucket for an attempt at now. It reports
// false, taking nothing, when the bucket is empty. The token stays taken
// unless the returned reservation is cancelled.
func (f *failureLimiter) Reserve(id uuid.UUID, now time.Time) (*rate.Reservation, bool) {
	r := f.bucket(id, now).ReserveN(now, 1)
	if !r.OK() {
		return nil, false
	}
	if r.DelayFrom(now) > 0 {
		r.CancelAt(now)
		return nil, false
	}
	return r, true
}
