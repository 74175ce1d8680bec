package oracle

import (
	"errors"
	"fmt"
	"sync"

	"OptionLedger/internal/position"
)

var (
	// ErrNoPrice means no spot print has arrived for the asset pair yet.
	ErrNoPrice = errors.New("no spot price available")

	// ErrNoVol means no implied-vol print has arrived for the underlying
	// yet.
	ErrNoVol = errors.New("no implied vol available")
)

// SpotOracle quotes the underlying price in strike-asset terms
// (6-dp fixed point).
type SpotOracle interface {
	GetSpotPrice(base, quote position.AssetID) (uint64, error)
}

// VolOracle quotes implied volatility per underlying (6-dp fixed point,
// 1_000_000 = 100%).
type VolOracle interface {
	GetImpliedVol(underlying position.AssetID) (uint64, error)
}

// SpotUpdate is one parsed spot print off the price feed.
type SpotUpdate struct {
	Base      position.AssetID
	Quote     position.AssetID
	Price     uint64
	Sequence  int64
	Timestamp int64 // epoch microseconds
}

// VolUpdate is one parsed implied-vol print off the vol feed.
type VolUpdate struct {
	Underlying position.AssetID
	Vol        uint64
	Sequence   int64
	Timestamp  int64
}

type spotEntry struct {
	price    uint64
	sequence int64
}

type volEntry struct {
	vol      uint64
	sequence int64
}

type pairKey struct {
	Base  position.AssetID
	Quote position.AssetID
}

// FeedCache is the feed-backed implementation of both oracles. Feed
// consumers write from the ingestion goroutine while the engine reads on
// the serving path, so access is guarded. Per-feed sequence numbers are
// monotone: a print with a stale sequence is dropped, which makes
// redelivered feed messages idempotent.
type FeedCache struct {
	mu    sync.RWMutex
	spots map[pairKey]spotEntry
	vols  map[position.AssetID]volEntry
}

func NewFeedCache() *FeedCache {
	return &FeedCache{
		spots: make(map[pairKey]spotEntry),
		vols:  make(map[position.AssetID]volEntry),
	}
}

// ApplySpot stores a spot print. Returns false when the print is stale
// (sequence at or below the cached one).
func (c *FeedCache) ApplySpot(u SpotUpdate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := pairKey{Base: u.Base, Quote: u.Quote}
	if cur, ok := c.spots[key]; ok && u.Sequence <= cur.sequence {
		return false
	}
	c.spots[key] = spotEntry{price: u.Price, sequence: u.Sequence}
	return true
}

// ApplyVol stores a vol print. Returns false when the print is stale.
func (c *FeedCache) ApplyVol(u VolUpdate) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.vols[u.Underlying]; ok && u.Sequence <= cur.sequence {
		return false
	}
	c.vols[u.Underlying] = volEntry{vol: u.Vol, sequence: u.Sequence}
	return true
}

func (c *FeedCache) GetSpotPrice(base, quote position.AssetID) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if base == quote {
		return 0, nil // same asset, flagged as rate 0
	}

	entry, ok := c.spots[pairKey{Base: base, Quote: quote}]
	if !ok {
		return 0, fmt.Errorf("pair %d/%d: %w", base, quote, ErrNoPrice)
	}
	return entry.price, nil
}

func (c *FeedCache) GetImpliedVol(underlying position.AssetID) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.vols[underlying]
	if !ok {
		return 0, fmt.Errorf("underlying %d: %w", underlying, ErrNoVol)
	}
	return entry.vol, nil
}
