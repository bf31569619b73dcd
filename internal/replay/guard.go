// Package replay tracks consumed proof nonces for the length of the freshness window.
package replay

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"zkdpp/internal/domain"
	"zkdpp/pkg/logger"
)

// Guard accepts a nonce exactly once. A false result means the nonce was already consumed.
// A nonce is held until max(first seen, generatedAt) plus the freshness window, which is
// when the package carrying it stops being fresh. A zero generatedAt means first seen.
type Guard interface {
	CheckAndStore(ctx context.Context, nonce, predicateID string, generatedAt time.Time) (bool, error)
	EvictExpired() int
	Len() int
	Start()
	Stop()
}

const shardCount = 32

type shard struct {
	mu      sync.RWMutex
	records map[string]domain.NonceRecord
}

// MemoryGuard is an in-process guard. Nonces are partitioned across shards so that
// unrelated nonces never contend on the same lock.
type MemoryGuard struct {
	shards   [shardCount]*shard
	window   time.Duration
	interval time.Duration
	now      func() time.Time
	logger   logger.Logger

	lifecycle sync.Mutex
	started   bool
	stop      chan struct{}
	done      chan struct{}
}

// Option customises a MemoryGuard.
type Option func(*MemoryGuard)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *MemoryGuard) { g.now = now }
}

// NewMemoryGuard builds a guard that forgets nonces once they expire, sweeping every interval.
func NewMemoryGuard(window, interval time.Duration, log logger.Logger, opts ...Option) *MemoryGuard {
	g := &MemoryGuard{
		window:   window,
		interval: interval,
		now:      time.Now,
		logger:   log,
	}
	for i := range g.shards {
		g.shards[i] = &shard{records: make(map[string]domain.NonceRecord)}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *MemoryGuard) shardFor(nonce string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(nonce))
	return g.shards[h.Sum32()%shardCount]
}

// retainUntil is the instant after which a package generated at generatedAt and first
// seen at seen can no longer pass the freshness gate.
func retainUntil(seen, generatedAt time.Time, window time.Duration) time.Time {
	if generatedAt.After(seen) {
		return generatedAt.Add(window)
	}
	return seen.Add(window)
}

// CheckAndStore inserts the nonce if absent. Nonces are global across predicates.
func (g *MemoryGuard) CheckAndStore(_ context.Context, nonce, predicateID string, generatedAt time.Time) (bool, error) {
	s := g.shardFor(nonce)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.records[nonce]; seen {
		return false, nil
	}
	now := g.now()
	s.records[nonce] = domain.NonceRecord{
		Nonce:       nonce,
		PredicateID: predicateID,
		FirstSeenAt: now,
		ExpiresAt:   retainUntil(now, generatedAt, g.window),
	}
	return true, nil
}

// EvictExpired removes records past their expiry and returns how many were removed.
// Candidates are collected under a read lock and each delete takes the write lock on its
// own, so a sweep never holds a shard for longer than one map mutation.
func (g *MemoryGuard) EvictExpired() int {
	now := g.now()
	removed := 0
	for _, s := range g.shards {
		s.mu.RLock()
		var expired []string
		for nonce, rec := range s.records {
			if now.After(rec.ExpiresAt) {
				expired = append(expired, nonce)
			}
		}
		s.mu.RUnlock()

		for _, nonce := range expired {
			s.mu.Lock()
			if rec, ok := s.records[nonce]; ok && now.After(rec.ExpiresAt) {
				delete(s.records, nonce)
				removed++
			}
			s.mu.Unlock()
		}
	}
	return removed
}

// Len returns the number of tracked nonces.
func (g *MemoryGuard) Len() int {
	total := 0
	for _, s := range g.shards {
		s.mu.RLock()
		total += len(s.records)
		s.mu.RUnlock()
	}
	return total
}

// Start launches the eviction loop. Calling it twice is a no-op.
func (g *MemoryGuard) Start() {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()
	if g.started {
		return
	}
	g.started = true
	g.stop = make(chan struct{})
	g.done = make(chan struct{})

	go func() {
		defer close(g.done)
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := g.EvictExpired(); n > 0 {
					g.logger.Debug("Evicted expired nonces", map[string]interface{}{
						"evicted":   n,
						"remaining": g.Len(),
					})
				}
			case <-g.stop:
				return
			}
		}
	}()
	g.logger.Info("Replay guard sweep started", map[string]interface{}{
		"window":   g.window.String(),
		"interval": g.interval.String(),
	})
}

// Stop halts the eviction loop and waits for it to exit.
func (g *MemoryGuard) Stop() {
	g.lifecycle.Lock()
	defer g.lifecycle.Unlock()
	if !g.started {
		return
	}
	close(g.stop)
	<-g.done
	g.started = false
	g.logger.Info("Replay guard sweep stopped", nil)
}
