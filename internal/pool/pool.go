package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"keyrelay-go/internal/config"
	"keyrelay-go/internal/events"
	mon "keyrelay-go/internal/monitoring"

	log "github.com/sirupsen/logrus"
)

// Pool 管理固定的共享上游凭证集合：按调用方租约分配，过期回收，故障冷却。
//
// All state transitions happen under a single pool-wide mutex; the scan and the
// claim in Acquire are one critical section, as are fault reports. There is no
// success-based release: a credential frees itself when its lease goes stale.
type Pool struct {
	mu       sync.Mutex
	creds    []*Credential // iteration order fixed at load time
	lease    time.Duration
	cooldown time.Duration

	now       func() time.Time
	publisher events.Publisher
}

// New builds a pool from the configured credential list. Order of the input
// slice determines scan order for the lifetime of the process.
func New(entries []config.UpstreamCredential, lease, cooldown time.Duration) (*Pool, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("pool: no upstream credentials configured")
	}
	creds := make([]*Credential, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for i, e := range entries {
		if e.Value == "" {
			return nil, fmt.Errorf("pool: credential %d has empty value", i)
		}
		if _, dup := seen[e.Value]; dup {
			return nil, fmt.Errorf("pool: duplicate credential at index %d", i)
		}
		seen[e.Value] = struct{}{}
		creds = append(creds, &Credential{
			Value:  e.Value,
			Label:  e.Label,
			Status: StatusAvailable,
		})
	}
	p := &Pool{
		creds:    creds,
		lease:    lease,
		cooldown: cooldown,
		now:      time.Now,
	}
	p.updateGauges()
	return p, nil
}

// SetEventPublisher wires the event hub used to broadcast fault reports.
func (p *Pool) SetEventPublisher(pub events.Publisher) {
	p.mu.Lock()
	p.publisher = pub
	p.mu.Unlock()
}

// Acquire hands out a credential for callerID, or reports exhaustion.
//
// A caller holding a fresh lease always gets its own credential back (the
// affinity pass runs before any reassignment candidate is considered, so a
// live caller is never migrated). Otherwise the first credential that is
// available, stale-leased, or past its fault cooldown is claimed. When nothing
// qualifies the second return value is false and the caller should surface a
// service-busy condition; the pool never blocks or queues.
func (p *Pool) Acquire(callerID string) (Credential, bool) {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	// 亲和优先：凭证仍挂在该调用方名下时直接续租返回，避免无谓换钥
	for _, c := range p.creds {
		if c.Status == StatusInUse && c.AssignedCaller == callerID {
			c.LastAssignedAt = now
			mon.PoolAcquisitionsTotal.WithLabelValues("affinity").Inc()
			return *c, true
		}
	}

	for _, c := range p.creds {
		outcome := ""
		switch {
		case c.Status == StatusAvailable:
			outcome = "fresh"
		case c.Status == StatusInUse && now.Sub(c.LastAssignedAt) > p.lease:
			// 前任持有者视为已离线
			outcome = "stale_takeover"
		case c.Status == StatusFaulty && now.Sub(c.FaultyAt) > p.cooldown:
			outcome = "cooldown_retry"
		default:
			continue
		}

		c.Status = StatusInUse
		c.AssignedCaller = callerID
		c.LastAssignedAt = now
		c.FaultyAt = time.Time{}
		mon.PoolAcquisitionsTotal.WithLabelValues(outcome).Inc()
		p.updateGaugesLocked()
		log.WithFields(log.Fields{
			"caller":     callerID,
			"credential": redact(c.Value),
			"outcome":    outcome,
		}).Debug("credential acquired")
		return *c, true
	}

	mon.PoolAcquisitionsTotal.WithLabelValues("unavailable").Inc()
	return Credential{}, false
}

// ReleaseOnError quarantines a credential after an upstream fault. Idempotent;
// unknown values are ignored. This is the only transition into Faulty.
func (p *Pool) ReleaseOnError(value string) {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.creds {
		if c.Value != value {
			continue
		}
		alreadyFaulty := c.Status == StatusFaulty
		c.Status = StatusFaulty
		c.AssignedCaller = ""
		c.FaultyAt = now
		if !alreadyFaulty {
			mon.PoolFaultsTotal.Inc()
			if p.publisher != nil {
				p.publisher.Publish(context.Background(), events.TopicPoolFault, map[string]any{
					"credential": redact(c.Value),
				}, nil)
			}
			log.WithField("credential", redact(c.Value)).Warn("credential reported faulty; cooling down")
		}
		p.updateGaugesLocked()
		return
	}
}

// Snapshot returns a redacted view of all credentials for management.
func (p *Pool) Snapshot() []Info {
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Info, 0, len(p.creds))
	for _, c := range p.creds {
		out = append(out, Info{
			ValuePrefix:    redact(c.Value),
			Label:          c.Label,
			Status:         c.Status.String(),
			AssignedCaller: c.AssignedCaller,
			LastAssignedAt: c.LastAssignedAt,
			FaultyAt:       c.FaultyAt,
			LeaseFresh:     c.Status == StatusInUse && now.Sub(c.LastAssignedAt) <= p.lease,
		})
	}
	return out
}

// Size returns the fixed number of pooled credentials.
func (p *Pool) Size() int {
	return len(p.creds)
}

func (p *Pool) updateGauges() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updateGaugesLocked()
}

func (p *Pool) updateGaugesLocked() {
	counts := map[Status]int{}
	for _, c := range p.creds {
		counts[c.Status]++
	}
	for _, s := range []Status{StatusAvailable, StatusInUse, StatusFaulty} {
		mon.PoolCredentials.WithLabelValues(s.String()).Set(float64(counts[s]))
	}
}

func redact(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:8] + "..."
}
