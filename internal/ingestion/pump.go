package ingestion

import (
	"context"
	"log"

	"OptionLedger/internal/observability"
	"OptionLedger/internal/oracle"
)

// FeedPump drains raw prints from the subscriber channel, parses them,
// and applies them to the market-data cache. A print that fails to parse
// is ACKed and counted: redelivering garbage never helps. A print older
// than the cached sequence is dropped silently by the cache, which makes
// JetStream redelivery idempotent.
type FeedPump struct {
	feedChan <-chan RawFeed
	cache    *oracle.FeedCache
	metrics  *observability.Metrics
}

func NewFeedPump(feedChan <-chan RawFeed, cache *oracle.FeedCache, metrics *observability.Metrics) *FeedPump {
	return &FeedPump{
		feedChan: feedChan,
		cache:    cache,
		metrics:  metrics,
	}
}

// Run processes prints until the context is cancelled or the channel closes.
func (p *FeedPump) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-p.feedChan:
			if !ok {
				return nil
			}
			p.process(raw)
		}
	}
}

func (p *FeedPump) process(raw RawFeed) {
	feedType := FeedTypeForSubject(raw.Subject)

	switch feedType {
	case "SpotPrice":
		u, err := ParseSpotPrice(raw.Data)
		if err != nil {
			log.Printf("WARN: dropping unparseable print subject=%s: %v", raw.Subject, err)
			p.countParseError(feedType)
			raw.AckFunc()
			return
		}
		if !p.cache.ApplySpot(u) {
			p.countStaleDrop(feedType)
			raw.AckFunc()
			return
		}
		p.countUpdate(feedType)
		raw.AckFunc()

	case "ImpliedVol":
		u, err := ParseImpliedVol(raw.Data)
		if err != nil {
			log.Printf("WARN: dropping unparseable print subject=%s: %v", raw.Subject, err)
			p.countParseError(feedType)
			raw.AckFunc()
			return
		}
		if !p.cache.ApplyVol(u) {
			p.countStaleDrop(feedType)
			raw.AckFunc()
			return
		}
		p.countUpdate(feedType)
		raw.AckFunc()

	default:
		log.Printf("WARN: unknown feed subject %s", raw.Subject)
		p.countParseError("unknown")
		raw.AckFunc()
	}
}

func (p *FeedPump) countUpdate(feed string) {
	if p.metrics != nil {
		p.metrics.FeedUpdates.WithLabelValues(feed).Inc()
	}
}

func (p *FeedPump) countStaleDrop(feed string) {
	if p.metrics != nil {
		p.metrics.FeedStaleDrops.WithLabelValues(feed).Inc()
	}
}

func (p *FeedPump) countParseError(feed string) {
	if p.metrics != nil {
		p.metrics.FeedParseErrors.WithLabelValues(feed).Inc()
	}
}
