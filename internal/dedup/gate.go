// Package dedup guards inbound webhook events so each provider message id
// causes side effects at most once.
package dedup

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/wolfman30/salon-booking-bot/internal/observability/metrics"
	"github.com/wolfman30/salon-booking-bot/pkg/logging"
)

// DefaultCapacity bounds the in-process tier.
const DefaultCapacity = 10_000

// Store answers whether a message id is already in the persistent message log.
type Store interface {
	Seen(ctx context.Context, messageID string) (bool, error)
}

// Claimer atomically claims a message id across processes. Claim returns
// false when another process got there first.
type Claimer interface {
	Claim(ctx context.Context, messageID string) (bool, error)
}

// Config sizes the in-process tier.
type Config struct {
	// Capacity is the number of ids kept before the oldest half is evicted.
	Capacity int
	// MaxAge makes in-process entries older than this count as unseen so the
	// persistent tier is consulted again. Zero keeps entries until evicted.
	MaxAge time.Duration
	Now    func() time.Time
}

// Gate is the two-tier at-most-once check, with an optional shared claim.
type Gate struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, time.Time]
	capacity int
	maxAge   time.Duration
	now      func() time.Time

	store   Store
	claimer Claimer
	logger  *logging.Logger
	metrics *metrics.DedupMetrics
}

// NewGate builds a gate. store and claimer are optional.
func NewGate(cfg Config, store Store, claimer Claimer, logger *logging.Logger, m *metrics.DedupMetrics) *Gate {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logging.Default()
	}
	// One spare slot so the cache never evicts on its own; reserve trims in bulk.
	cache, err := lru.New[string, time.Time](cfg.Capacity + 1)
	if err != nil {
		panic("dedup: " + err.Error())
	}
	return &Gate{
		cache:    cache,
		capacity: cfg.Capacity,
		maxAge:   cfg.MaxAge,
		now:      cfg.Now,
		store:    store,
		claimer:  claimer,
		logger:   logger,
		metrics:  m,
	}
}

// ShouldProcess reports whether the event should be handled. It never fails:
// errors from the shared tiers are logged and the decision falls back to the
// in-process tier. The id is recorded in memory before returning true.
func (g *Gate) ShouldProcess(ctx context.Context, messageID string) bool {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return true
	}

	if !g.reserve(messageID) {
		g.metrics.ObserveDecision("memory", true)
		g.logger.Debug("dedup: duplicate in memory", "wa_message_id", messageID)
		return false
	}

	if g.store != nil {
		seen, err := g.store.Seen(ctx, messageID)
		switch {
		case err != nil:
			g.logger.Warn("dedup: message log lookup failed, relying on memory only",
				"wa_message_id", messageID, "error", err)
		case seen:
			g.metrics.ObserveDecision("store", true)
			g.logger.Debug("dedup: duplicate in message log", "wa_message_id", messageID)
			return false
		}
	}

	if g.claimer != nil {
		won, err := g.claimer.Claim(ctx, messageID)
		switch {
		case err != nil:
			g.logger.Warn("dedup: shared claim failed, continuing", "wa_message_id", messageID, "error", err)
		case !won:
			g.metrics.ObserveDecision("claim", true)
			g.logger.Debug("dedup: claimed by another process", "wa_message_id", messageID)
			return false
		}
	}

	g.metrics.ObserveDecision("none", false)
	return true
}

// reserve records id in memory unless a fresh entry already exists. Recording
// before the slower tiers run closes the window for near-simultaneous
// duplicates inside this process.
func (g *Gate) reserve(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if seenAt, ok := g.cache.Peek(id); ok {
		if g.maxAge <= 0 || now.Sub(seenAt) < g.maxAge {
			return false
		}
		g.cache.Remove(id)
	}
	g.cache.Add(id, now)
	if g.cache.Len() > g.capacity {
		g.evictHalf()
	}
	return true
}

func (g *Gate) evictHalf() {
	drop := g.cache.Len() / 2
	for i := 0; i < drop; i++ {
		g.cache.RemoveOldest()
	}
	g.logger.Debug("dedup: evicted oldest entries", "evicted", drop, "remaining", g.cache.Len())
}

// Seen reports whether id is in memory, without recording it.
func (g *Gate) Seen(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cache.Contains(id)
}

// Len is the number of ids currently held in memory.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cache.Len()
}

// Purge drops every in-process entry, as a restart would.
func (g *Gate) Purge() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cache.Purge()
}
