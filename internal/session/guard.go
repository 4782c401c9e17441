package session

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	mon "keyrelay-go/internal/monitoring"
	"keyrelay-go/internal/token"
)

// Outcome is the result of one authorization attempt.
type Outcome int

const (
	OutcomeAllowed Outcome = iota
	OutcomeInvalidToken
	OutcomeExpired
	OutcomeDeviceConflict
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAllowed:
		return "allowed"
	case OutcomeInvalidToken:
		return "invalid_token"
	case OutcomeExpired:
		return "expired"
	case OutcomeDeviceConflict:
		return "device_conflict"
	default:
		return "unknown"
	}
}

// Decision carries the outcome plus the record snapshot for allowed requests.
type Decision struct {
	Outcome Outcome
	Record  *token.Record
}

// Guard enforces single-active-session semantics per token. A token is locked
// to the device fingerprint of its last allowed request for the lock window;
// there is no lock table; the lock is derived from the persisted last-use
// timestamp and fingerprint alone, so it survives restarts and needs no expiry
// job.
type Guard struct {
	store    *token.Store
	cache    *Cache
	lockSpan time.Duration

	// 同一令牌的并发请求串行化，防止两台设备同时通过冲突检查
	mu    sync.Mutex
	locks map[string]*sync.Mutex

	now func() time.Time
}

// NewGuard builds a guard over the token store with the given lock window.
func NewGuard(store *token.Store, cache *Cache, lockSpan time.Duration) *Guard {
	return &Guard{
		store:    store,
		cache:    cache,
		lockSpan: lockSpan,
		locks:    make(map[string]*sync.Mutex),
		now:      time.Now,
	}
}

// Authorize decides whether a request presenting plaintext from the given
// device may proceed. On Allowed the last-use claim (timestamp, fingerprint,
// request count) is persisted before returning, which is what establishes the
// session lock for subsequent requests.
func (g *Guard) Authorize(ctx context.Context, plaintext string, fp token.Fingerprint) (Decision, error) {
	rec, found, err := g.resolve(ctx, plaintext)
	if err != nil {
		return Decision{}, err
	}
	if !found {
		mon.GuardDecisionsTotal.WithLabelValues(OutcomeInvalidToken.String()).Inc()
		return Decision{Outcome: OutcomeInvalidToken}, nil
	}

	lock := g.tokenLock(rec.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the token lock: the cached snapshot may predate another
	// device's claim.
	current, err := g.store.Get(ctx, rec.ID)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			g.cache.Invalidate(plaintext)
			mon.GuardDecisionsTotal.WithLabelValues(OutcomeInvalidToken.String()).Inc()
			return Decision{Outcome: OutcomeInvalidToken}, nil
		}
		return Decision{}, err
	}

	now := g.now()
	if current.Expired(now) {
		mon.GuardDecisionsTotal.WithLabelValues(OutcomeExpired.String()).Inc()
		return Decision{Outcome: OutcomeExpired, Record: current}, nil
	}

	if g.lockedByOther(current, fp, now) {
		mon.GuardDecisionsTotal.WithLabelValues(OutcomeDeviceConflict.String()).Inc()
		log.WithFields(log.Fields{
			"token_id": current.ID,
			"ip":       fp.IP,
		}).Warn("request rejected: token locked to another device")
		return Decision{Outcome: OutcomeDeviceConflict, Record: current}, nil
	}

	updated, err := g.store.RecordUsage(ctx, current.ID, fp)
	if err != nil {
		return Decision{}, err
	}
	g.cache.Put(plaintext, *updated)

	mon.GuardDecisionsTotal.WithLabelValues(OutcomeAllowed.String()).Inc()
	return Decision{Outcome: OutcomeAllowed, Record: updated}, nil
}

// resolve maps a plaintext token to its record, via the side cache when
// possible and the store's digest scan otherwise.
func (g *Guard) resolve(ctx context.Context, plaintext string) (*token.Record, bool, error) {
	if cached, ok := g.cache.Peek(plaintext); ok {
		return &cached, true, nil
	}
	rec, err := g.store.Validate(ctx, plaintext)
	if err != nil {
		if errors.Is(err, token.ErrInvalidToken) {
			return nil, false, nil
		}
		return nil, false, err
	}
	g.cache.Put(plaintext, *rec)
	return rec, true, nil
}

// lockedByOther reports whether the record's session lock is live and held by
// a different device. The window boundary is exclusive: a request arriving
// exactly lockSpan after the last use is no longer blocked.
func (g *Guard) lockedByOther(rec *token.Record, fp token.Fingerprint, now time.Time) bool {
	if rec.LastUsedAt.IsZero() {
		return false
	}
	if now.Sub(rec.LastUsedAt) >= g.lockSpan {
		return false
	}
	return !rec.Matches(fp)
}

func (g *Guard) tokenLock(id string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.locks[id]; ok {
		return m
	}
	m := &sync.Mutex{}
	g.locks[id] = m
	return m
}
