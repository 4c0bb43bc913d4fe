// ABOUTME: TTL and size bounded claim table for Idempotency-Key headers
// ABOUTME: Claims are ordered oldest first so eviction at capacity is O(1)

package idempotency

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

type claim struct {
	at   time.Time
	elem *list.Element
}

// Guard records claimed idempotency keys. It is safe for concurrent use.
type Guard struct {
	mu      sync.Mutex
	claims  map[string]*claim
	order   *list.List // oldest claim at front
	ttl     time.Duration
	maxKeys int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a Guard holding at most maxKeys claims for ttl each and starts
// a janitor that drops expired claims every sweep interval.
func New(ttl time.Duration, maxKeys int, sweep time.Duration) *Guard {
	if maxKeys <= 0 {
		maxKeys = 1
	}
	if sweep <= 0 {
		sweep = time.Minute
	}
	g := &Guard{
		claims:  make(map[string]*claim),
		order:   list.New(),
		ttl:     ttl,
		maxKeys: maxKeys,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go g.janitor(sweep)
	return g
}

// Key scopes a client-supplied header value to one conversation
func Key(topic, userID, header string) string {
	return strings.Join([]string{topic, userID, header}, "\x00")
}

// Claim marks key as used. It returns false when key is already claimed and
// its claim has not expired.
func (g *Guard) Claim(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if c, ok := g.claims[key]; ok {
		if now.Sub(c.at) < g.ttl {
			return false
		}
		g.removeLocked(key, c)
	}

	if len(g.claims) >= g.maxKeys {
		if front := g.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			g.removeLocked(oldest, g.claims[oldest])
		}
	}

	g.claims[key] = &claim{at: now, elem: g.order.PushBack(key)}
	return true
}

// Release drops a claim so the key can be retried after a failed request
func (g *Guard) Release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.claims[key]; ok {
		g.removeLocked(key, c)
	}
}

// Len reports the number of live claims, expired ones included until swept
func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.claims)
}

func (g *Guard) removeLocked(key string, c *claim) {
	g.order.Remove(c.elem)
	delete(g.claims, key)
}

func (g *Guard) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.sweep()
		case <-g.done:
			return
		}
	}
}

// sweep drops expired claims from the front of the order list
func (g *Guard) sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for front := g.order.Front(); front != nil; front = g.order.Front() {
		key, _ := front.Value.(string)
		c := g.claims[key]
		if now.Sub(c.at) < g.ttl {
			return
		}
		g.removeLocked(key, c)
	}
}

// Close stops the janitor. It is safe to call more than once.
func (g *Guard) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		close(g.done)
		g.closed = true
	}
}
