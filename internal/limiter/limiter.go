package limiter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

const keyPrefix = "ratelimit:"

var (
	// ErrInvalidPolicy is returned when a quota policy resolves to a
	// non-positive limit or window. No store access happens in that case.
	ErrInvalidPolicy = errors.New("limiter: invalid policy")

	// ErrStoreUnavailable wraps any store round-trip failure. The limiter
	// never guesses a verdict; fail-open vs fail-closed is the caller's call.
	ErrStoreUnavailable = errors.New("limiter: store unavailable")
)

// Store is the persistence contract for the sliding-window log. The store,
// not the limiter, is responsible for executing Record as one atomic unit so
// that concurrent checks across processes cannot double-admit on the last
// available slot.
type Store interface {
	// Record purges events at or before now-window, counts the survivors,
	// inserts an event at now and refreshes the key's expiry to window.
	// The returned count excludes the event just inserted.
	Record(ctx context.Context, key string, now float64, window time.Duration) (int64, error)

	// Retract removes the event recorded at the given timestamp.
	Retract(ctx context.Context, key string, at float64) error

	// Count purges events at or before now-window and returns how many remain,
	// without inserting anything.
	Count(ctx context.Context, key string, now float64, window time.Duration) (int64, error)

	// Delete drops the key entirely, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
}

// Verdict is the outcome of a single Check call.
type Verdict struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      int64 // unix timestamp when the quota window resets
	RetryAfter int   // seconds to wait when blocked, 0 when allowed
}

// Limiter decides whether requests are within quota. It holds no per-identifier
// state of its own; everything lives in the store, so any number of limiter
// instances across processes share the same quotas.
type Limiter struct {
	store           Store
	defaultRequests int
	defaultWindow   int
	now             func() time.Time
}

func NewLimiter(store Store, defaultRequests, defaultWindowSeconds int) *Limiter {
	return &Limiter{
		store:           store,
		defaultRequests: defaultRequests,
		defaultWindow:   defaultWindowSeconds,
		now:             time.Now,
	}
}

// WithClock overrides the limiter's clock, primarily for testing.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	if now != nil {
		l.now = now
	}
	return l
}

// Check records a request attempt for the identifier and reports whether it is
// within quota. maxRequests and windowSeconds may be zero to use the limiter's
// defaults. Events strictly older than the window never count; an event exactly
// windowSeconds old is already outside it.
//
// The request is recorded before the verdict is known and retracted again on
// rejection. That ordering lets purge+count+insert run as one atomic store
// batch, so concurrent callers cannot both observe the same free slot.
// Rejected requests therefore never consume quota.
func (l *Limiter) Check(ctx context.Context, identifier string, maxRequests, windowSeconds int) (Verdict, error) {
	maxRequests, windowSeconds, err := l.resolvePolicy(maxRequests, windowSeconds)
	if err != nil {
		return Verdict{}, err
	}

	key := keyFor(identifier)
	window := time.Duration(windowSeconds) * time.Second
	now := toEpochSeconds(l.now())

	count, err := l.store.Record(ctx, key, now, window)
	if err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	allowed := count < int64(maxRequests)
	if !allowed {
		if err := l.store.Retract(ctx, key, now); err != nil {
			return Verdict{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	verdict := Verdict{
		Allowed: allowed,
		Limit:   maxRequests,
		Reset:   int64(math.Floor(now)) + int64(windowSeconds),
	}
	if allowed {
		verdict.Remaining = maxRequests - int(count) - 1
		if verdict.Remaining < 0 {
			verdict.Remaining = 0
		}
	} else {
		verdict.RetryAfter = windowSeconds
	}

	return verdict, nil
}

// Reset deletes the identifier's window record entirely, reporting whether one
// existed. Intended for administrative quota resets.
func (l *Limiter) Reset(ctx context.Context, identifier string) (bool, error) {
	existed, err := l.store.Delete(ctx, keyFor(identifier))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return existed, nil
}

// Usage returns how many requests the identifier has made within the window
// without recording a new one. Advisory only: the count may change the instant
// after it returns.
func (l *Limiter) Usage(ctx context.Context, identifier string, windowSeconds int) (int64, error) {
	if windowSeconds == 0 {
		windowSeconds = l.defaultWindow
	}
	if windowSeconds <= 0 {
		return 0, fmt.Errorf("%w: window_seconds=%d", ErrInvalidPolicy, windowSeconds)
	}

	window := time.Duration(windowSeconds) * time.Second
	count, err := l.store.Count(ctx, keyFor(identifier), toEpochSeconds(l.now()), window)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count, nil
}

func (l *Limiter) resolvePolicy(maxRequests, windowSeconds int) (int, int, error) {
	if maxRequests == 0 {
		maxRequests = l.defaultRequests
	}
	if windowSeconds == 0 {
		windowSeconds = l.defaultWindow
	}
	if maxRequests <= 0 || windowSeconds <= 0 {
		return 0, 0, fmt.Errorf("%w: max_requests=%d window_seconds=%d", ErrInvalidPolicy, maxRequests, windowSeconds)
	}
	return maxRequests, windowSeconds, nil
}

func keyFor(identifier string) string {
	return keyPrefix + identifier
}

func toEpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
