// ABOUTME: Tests for the idempotency guard
// ABOUTME: Covers replay refusal, expiry, release, eviction at capacity, sweeping and concurrency

package idempotency

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestGuard(t *testing.T, ttl time.Duration, maxKeys int) (*Guard, *clock) {
	t.Helper()
	g := New(ttl, maxKeys, time.Hour)
	t.Cleanup(g.Close)
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	g.now = c.now
	return g, c
}

func TestGuard_ClaimRefusesReplay(t *testing.T) {
	g, _ := newTestGuard(t, time.Minute, 10)

	assert.True(t, g.Claim("k"))
	assert.False(t, g.Claim("k"))
	assert.True(t, g.Claim("other"))
}

func TestGuard_ClaimExpires(t *testing.T) {
	g, c := newTestGuard(t, time.Minute, 10)

	assert.True(t, g.Claim("k"))
	c.advance(59 * time.Second)
	assert.False(t, g.Claim("k"))
	c.advance(2 * time.Second)
	assert.True(t, g.Claim("k"))
	assert.Equal(t, 1, g.Len())
}

func TestGuard_Release(t *testing.T) {
	g, _ := newTestGuard(t, time.Minute, 10)

	assert.True(t, g.Claim("k"))
	g.Release("k")
	g.Release("never-claimed")
	assert.True(t, g.Claim("k"))
}

func TestGuard_EvictsOldestAtCapacity(t *testing.T) {
	g, _ := newTestGuard(t, time.Minute, 2)

	assert.True(t, g.Claim("a"))
	assert.True(t, g.Claim("b"))
	assert.True(t, g.Claim("c"))

	assert.Equal(t, 2, g.Len())
	assert.True(t, g.Claim("a"), "oldest claim was evicted")
	assert.False(t, g.Claim("c"))
}

func TestGuard_Sweep(t *testing.T) {
	g, c := newTestGuard(t, time.Minute, 10)

	g.Claim("old")
	c.advance(30 * time.Second)
	g.Claim("new")
	c.advance(45 * time.Second)

	g.sweep()
	assert.Equal(t, 1, g.Len())
	assert.False(t, g.Claim("new"))
}

func TestKey_ScopesByConversation(t *testing.T) {
	assert.NotEqual(t, Key("3", "u1", "abc"), Key("3", "u2", "abc"))
	assert.NotEqual(t, Key("3", "u1", "abc"), Key("4", "u1", "abc"))
	assert.Equal(t, Key("3", "u1", "abc"), Key("3", "u1", "abc"))
}

func TestGuard_ConcurrentClaimsHaveOneWinner(t *testing.T) {
	g, _ := newTestGuard(t, time.Minute, 100)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Claim("same") {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestGuard_CloseTwice(t *testing.T) {
	g := New(time.Minute, 10, 10*time.Millisecond)
	g.Close()
	g.Close()
}
