package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/marketgate/pkg/intercept"
)

// Failed-login defaults. The threshold is an order of magnitude above the
// auth policy because only real failures are counted.
const (
	DefaultLoginWindow    = 24 * time.Hour
	DefaultLoginThreshold = 50
	DefaultSweepInterval  = time.Hour

	DefaultLockoutMessage = "Too many failed login attempts, please try again later"
)

// FailedLoginRecord tracks the failures of one key inside a window.
type FailedLoginRecord struct {
	Key          string
	Count        int
	FirstAttempt time.Time
}

func (rec *FailedLoginRecord) expired(now time.Time, window time.Duration) bool {
	return now.Sub(rec.FirstAttempt) > window
}

// FailedLoginOption configures a FailedLoginTracker.
type FailedLoginOption func(*FailedLoginTracker)

// WithLoginWindow sets how long failures are remembered.
func WithLoginWindow(d time.Duration) FailedLoginOption {
	return func(t *FailedLoginTracker) {
		if d > 0 {
			t.window = d
		}
	}
}

// WithLoginThreshold sets how many failures lock a key out.
func WithLoginThreshold(n int) FailedLoginOption {
	return func(t *FailedLoginTracker) {
		if n > 0 {
			t.threshold = n
		}
	}
}

// WithSweepInterval sets how often StartSweeper removes expired records.
func WithSweepInterval(d time.Duration) FailedLoginOption {
	return func(t *FailedLoginTracker) {
		if d > 0 {
			t.interval = d
		}
	}
}

// WithLoginKey sets the key derivation used by Wrap.
func WithLoginKey(key KeyFunc) FailedLoginOption {
	return func(t *FailedLoginTracker) {
		if key != nil {
			t.key = key
		}
	}
}

// WithLoginLogger sets the logger.
func WithLoginLogger(logger zerolog.Logger) FailedLoginOption {
	return func(t *FailedLoginTracker) {
		t.logger = logger.With().Str("component", "failed-login").Logger()
	}
}

// WithLoginClock sets the time source.
func WithLoginClock(now func() time.Time) FailedLoginOption {
	return func(t *FailedLoginTracker) {
		t.now = now
	}
}

// WithLoginDisabled turns Wrap into a pass-through.
func WithLoginDisabled(disabled bool) FailedLoginOption {
	return func(t *FailedLoginTracker) {
		t.disabled = disabled
	}
}

// FailedLoginTracker locks out keys with sustained authentication
// failures. Unlike Limiter it inspects the login handler's outcome: only
// failures count and a success clears the key.
type FailedLoginTracker struct {
	mu      sync.Mutex
	records map[string]*FailedLoginRecord

	window    time.Duration
	threshold int
	interval  time.Duration
	key       KeyFunc
	message   string
	disabled  bool
	logger    zerolog.Logger
	now       func() time.Time

	sweepOnce sync.Once
}

// NewFailedLoginTracker creates a tracker with the default window,
// threshold and sweep interval, keyed by client and attempted email.
func NewFailedLoginTracker(opts ...FailedLoginOption) *FailedLoginTracker {
	t := &FailedLoginTracker{
		records:   make(map[string]*FailedLoginRecord),
		window:    DefaultLoginWindow,
		threshold: DefaultLoginThreshold,
		interval:  DefaultSweepInterval,
		key:       ByClientAndField("email"),
		message:   DefaultLockoutMessage,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Check reports whether key may attempt a login. Expired records are
// dropped.
func (t *FailedLoginTracker) Check(key string) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	rec, ok := t.records[key]
	if ok && rec.expired(now, t.window) {
		delete(t.records, key)
		failedLoginRecords.Set(float64(len(t.records)))
		ok = false
	}
	if !ok {
		return t.fresh(now)
	}
	return t.decision(rec)
}

// RecordOutcome records a login result for key. A failure increments the
// key's count, restarting its window if it expired; a success deletes the
// record.
func (t *FailedLoginTracker) RecordOutcome(key string, succeeded bool) Decision {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer func() { failedLoginRecords.Set(float64(len(t.records))) }()

	now := t.now()
	if succeeded {
		delete(t.records, key)
		return t.fresh(now)
	}

	rec, ok := t.records[key]
	if !ok || rec.expired(now, t.window) {
		rec = &FailedLoginRecord{Key: key, FirstAttempt: now}
		t.records[key] = rec
	}
	rec.Count++

	return t.decision(rec)
}

func (t *FailedLoginTracker) fresh(now time.Time) Decision {
	return Decision{
		Allowed:   true,
		Limit:     t.threshold,
		Remaining: t.threshold,
		ResetAt:   now.Add(t.window),
	}
}

func (t *FailedLoginTracker) decision(rec *FailedLoginRecord) Decision {
	return decide(
		Window{Key: rec.Key, Count: rec.Count, Start: rec.FirstAttempt, Length: t.window},
		t.threshold,
		rec.Count < t.threshold,
	)
}

// Record returns a copy of the record for key, if tracked.
func (t *FailedLoginTracker) Record(key string) (FailedLoginRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[key]
	if !ok {
		return FailedLoginRecord{}, false
	}
	return *rec, true
}

// Len returns the number of tracked keys.
func (t *FailedLoginTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Sweep removes every expired record and returns how many were removed.
func (t *FailedLoginTracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for key, rec := range t.records {
		if rec.expired(now, t.window) {
			delete(t.records, key)
			removed++
		}
	}

	failedLoginSweptTotal.Add(float64(removed))
	failedLoginRecords.Set(float64(len(t.records)))
	return removed
}

// StartSweeper starts a background goroutine that periodically removes
// expired records. The goroutine stops when ctx is cancelled. Only the
// first call starts it.
func (t *FailedLoginTracker) StartSweeper(ctx context.Context) {
	t.sweepOnce.Do(func() {
		go t.runSweepLoop(ctx)
	})
}

func (t *FailedLoginTracker) runSweepLoop(ctx context.Context) {
	t.logger.Info().Dur("interval", t.interval).Msg("starting failed-login sweep loop")

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info().Msg("stopping failed-login sweep loop")
			return
		case <-ticker.C:
			if n := t.Sweep(); n > 0 {
				t.logger.Debug().Int("removed", n).Msg("swept expired failed-login records")
			}
		}
	}
}

// Wrap implements intercept.Interceptor for a login handler. Locked-out
// keys are rejected before the handler runs; otherwise the handler's
// outcome is recorded.
func (t *FailedLoginTracker) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if t.disabled {
			next.ServeHTTP(w, r)
			return
		}

		key := t.key(r)
		if d := t.Check(key); !d.Allowed {
			failedLoginLockoutsTotal.Inc()
			t.logger.Warn().Str("key", key).Msg("login locked out after repeated failures")
			w.Header().Set(HeaderRetryAfter, strconv.Itoa(d.RetryAfter(t.now())))
			WriteRejection(w, http.StatusTooManyRequests, t.message)
			return
		}

		rec := intercept.NewRecorder(w, intercept.DefaultBodyLimit)
		next.ServeHTTP(rec, r)

		switch classifyLogin(rec.Outcome()) {
		case loginFailed:
			if d := t.RecordOutcome(key, false); !d.Allowed {
				ev := t.logger.Warn().Str("key", key).Int("threshold", d.Limit)
				if fr, ok := t.Record(key); ok {
					ev = ev.Int("failures", fr.Count)
				}
				ev.Msg("failed-login threshold reached")
			}
		case loginSucceeded:
			t.RecordOutcome(key, true)
		}
	})
}

type loginResult int

const (
	loginIgnored loginResult = iota
	loginFailed
	loginSucceeded
)

// classifyLogin maps a login handler outcome to a tracker event. Server
// errors, account locks, upstream rate limiting and unanswered requests
// are not credential failures and are ignored.
func classifyLogin(o intercept.Outcome) loginResult {
	switch {
	case o.Empty:
		// the handler gave up without answering, e.g. a cancelled request
		return loginIgnored
	case o.Status == http.StatusUnauthorized:
		return loginFailed
	case o.Status == http.StatusLocked, o.Status == http.StatusTooManyRequests:
		return loginIgnored
	case o.Failed() && (o.Status == http.StatusOK || (o.Status >= 400 && o.Status < 500)):
		return loginFailed
	case o.Succeeded():
		return loginSucceeded
	}
	return loginIgnored
}
