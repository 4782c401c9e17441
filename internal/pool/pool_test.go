package pool

import (
	"sync"
	"testing"
	"time"

	"keyrelay-go/internal/config"

	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

func newTestPool(t *testing.T, lease, cooldown time.Duration, values ...string) (*Pool, *fakeClock) {
	t.Helper()
	entries := make([]config.UpstreamCredential, 0, len(values))
	for _, v := range values {
		entries = append(entries, config.UpstreamCredential{Value: v})
	}
	p, err := New(entries, lease, cooldown)
	require.NoError(t, err)
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	p.now = clk.Now
	return p, clk
}

func TestNewRejectsEmptyAndDuplicates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, time.Minute, time.Minute)
	require.Error(t, err)

	_, err = New([]config.UpstreamCredential{{Value: ""}}, time.Minute, time.Minute)
	require.Error(t, err)

	_, err = New([]config.UpstreamCredential{{Value: "k1"}, {Value: "k1"}}, time.Minute, time.Minute)
	require.Error(t, err)
}

func TestAcquireAffinityReturnsSameCredential(t *testing.T) {
	t.Parallel()
	p, clk := newTestPool(t, 2*time.Minute, 5*time.Minute, "key-a", "key-b")

	first, ok := p.Acquire("caller-1")
	require.True(t, ok)

	clk.Advance(30 * time.Second)

	second, ok := p.Acquire("caller-1")
	require.True(t, ok)
	require.Equal(t, first.Value, second.Value)
	require.True(t, second.LastAssignedAt.After(first.LastAssignedAt), "lease should be refreshed on affinity hit")
}

func TestAcquireDistinctCredentialsPerCaller(t *testing.T) {
	t.Parallel()
	p, _ := newTestPool(t, 2*time.Minute, 5*time.Minute, "key-a", "key-b")

	a, ok := p.Acquire("caller-a")
	require.True(t, ok)
	b, ok := p.Acquire("caller-b")
	require.True(t, ok)
	require.NotEqual(t, a.Value, b.Value)
}

func TestAcquireExhaustionAndStaleReassignment(t *testing.T) {
	t.Parallel()
	p, clk := newTestPool(t, 2*time.Minute, 5*time.Minute, "key-a", "key-b")

	_, ok := p.Acquire("caller-a")
	require.True(t, ok)
	_, ok = p.Acquire("caller-b")
	require.True(t, ok)

	// Both leases fresh: a third caller gets nothing.
	_, ok = p.Acquire("caller-c")
	require.False(t, ok)

	clk.Advance(2*time.Minute + time.Millisecond)

	// Both leases are now stale; the scan order is fixed at load time, so the
	// new caller takes over key-a.
	cred, ok := p.Acquire("caller-c")
	require.True(t, ok)
	require.Equal(t, "key-a", cred.Value)
	require.Equal(t, "caller-c", cred.AssignedCaller)
}

func TestAffinityWinsOverReassignableCandidates(t *testing.T) {
	t.Parallel()
	p, clk := newTestPool(t, 2*time.Minute, 5*time.Minute, "key-a", "key-b")

	_, ok := p.Acquire("caller-a")
	require.True(t, ok)
	b, ok := p.Acquire("caller-b")
	require.True(t, ok)
	require.Equal(t, "key-b", b.Value)

	clk.Advance(2*time.Minute + time.Millisecond)

	// key-a is stale and would be picked first by the scan, but caller-b must
	// keep its own credential.
	again, ok := p.Acquire("caller-b")
	require.True(t, ok)
	require.Equal(t, "key-b", again.Value)
}

func TestReleaseOnErrorQuarantinesUntilCooldown(t *testing.T) {
	t.Parallel()
	p, clk := newTestPool(t, 2*time.Minute, 5*time.Minute, "key-a")

	cred, ok := p.Acquire("caller-a")
	require.True(t, ok)

	p.ReleaseOnError(cred.Value)

	// Quarantined for a different caller even though the assignment is gone.
	_, ok = p.Acquire("caller-b")
	require.False(t, ok)

	clk.Advance(5 * time.Minute)
	_, ok = p.Acquire("caller-b")
	require.False(t, ok, "cooldown boundary is exclusive")

	clk.Advance(time.Millisecond)
	cred, ok = p.Acquire("caller-b")
	require.True(t, ok)
	require.Equal(t, "key-a", cred.Value)
	require.True(t, cred.FaultyAt.IsZero(), "claim clears the fault timestamp")
}

func TestReleaseOnErrorIsIdempotent(t *testing.T) {
	t.Parallel()
	p, clk := newTestPool(t, 2*time.Minute, 5*time.Minute, "key-a")

	cred, ok := p.Acquire("caller-a")
	require.True(t, ok)

	p.ReleaseOnError(cred.Value)
	firstFault := p.Snapshot()[0].FaultyAt

	clk.Advance(time.Minute)
	p.ReleaseOnError(cred.Value)
	secondFault := p.Snapshot()[0].FaultyAt

	// A repeat report restarts the cooldown clock but is otherwise a no-op.
	require.True(t, secondFault.After(firstFault))
	require.Equal(t, "faulty", p.Snapshot()[0].Status)
}

func TestReleaseOnErrorUnknownValueIgnored(t *testing.T) {
	t.Parallel()
	p, _ := newTestPool(t, 2*time.Minute, 5*time.Minute, "key-a")

	p.ReleaseOnError("never-issued")
	require.Equal(t, "available", p.Snapshot()[0].Status)
}

func TestAcquireAfterFaultPrefersHealthyCredential(t *testing.T) {
	t.Parallel()
	p, _ := newTestPool(t, 2*time.Minute, 5*time.Minute, "key-a", "key-b")

	cred, ok := p.Acquire("caller-a")
	require.True(t, ok)
	require.Equal(t, "key-a", cred.Value)

	p.ReleaseOnError("key-a")

	// caller-a lost its credential to the fault; the next acquire claims the
	// healthy one rather than the quarantined one.
	cred, ok = p.Acquire("caller-a")
	require.True(t, ok)
	require.Equal(t, "key-b", cred.Value)
}

func TestSnapshotRedactsSecrets(t *testing.T) {
	t.Parallel()
	p, _ := newTestPool(t, 2*time.Minute, 5*time.Minute, "sk-verylongsecretvalue")

	infos := p.Snapshot()
	require.Len(t, infos, 1)
	require.Equal(t, "sk-veryl...", infos[0].ValuePrefix)
	require.NotContains(t, infos[0].ValuePrefix, "secretvalue")
}

func TestConcurrentAcquireNeverDoubleAssigns(t *testing.T) {
	t.Parallel()
	p, _ := newTestPool(t, 2*time.Minute, 5*time.Minute, "key-a", "key-b", "key-c")

	var wg sync.WaitGroup
	results := make(chan string, 64)
	for i := 0; i < 8; i++ {
		caller := string(rune('a' + i))
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 8; j++ {
				if cred, ok := p.Acquire(id); ok {
					results <- id + ":" + cred.Value
				}
			}
		}(caller)
	}
	wg.Wait()
	close(results)

	// Within a fresh lease window every caller must observe a stable mapping,
	// and no credential may be mapped to two callers at once.
	credByCaller := map[string]string{}
	callerByCred := map[string]string{}
	for r := range results {
		caller, cred := r[:1], r[2:]
		if prev, ok := credByCaller[caller]; ok {
			require.Equal(t, prev, cred, "caller switched credentials mid-lease")
		}
		credByCaller[caller] = cred
		if prev, ok := callerByCred[cred]; ok {
			require.Equal(t, prev, caller, "credential handed to two callers")
		}
		callerByCred[cred] = caller
	}
}
