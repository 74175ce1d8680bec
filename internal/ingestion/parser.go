package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"OptionLedger/internal/oracle"
	"OptionLedger/internal/position"
)

// --- JSON wire formats ---
// Field names use snake_case to match upstream producers. Prices and
// vols are 6-dp fixed point integers on the wire.

type spotPriceJSON struct {
	BaseAsset   uint8  `json:"base_asset"`
	QuoteAsset  uint8  `json:"quote_asset"`
	Price       uint64 `json:"price"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

type impliedVolJSON struct {
	Underlying  uint8  `json:"underlying"`
	Vol         uint64 `json:"vol"`
	Sequence    int64  `json:"sequence"`
	TimestampUs int64  `json:"timestamp_us"`
}

// ParseSpotPrice converts a raw price print into a cache update.
func ParseSpotPrice(data []byte) (oracle.SpotUpdate, error) {
	var j spotPriceJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return oracle.SpotUpdate{}, fmt.Errorf("parse SpotPrice: %w", err)
	}
	if j.Price == 0 {
		return oracle.SpotUpdate{}, fmt.Errorf("parse SpotPrice: zero price")
	}
	return oracle.SpotUpdate{
		Base:      position.AssetID(j.BaseAsset),
		Quote:     position.AssetID(j.QuoteAsset),
		Price:     j.Price,
		Sequence:  j.Sequence,
		Timestamp: j.TimestampUs,
	}, nil
}

// ParseImpliedVol converts a raw vol print into a cache update.
func ParseImpliedVol(data []byte) (oracle.VolUpdate, error) {
	var j impliedVolJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return oracle.VolUpdate{}, fmt.Errorf("parse ImpliedVol: %w", err)
	}
	if j.Vol == 0 {
		return oracle.VolUpdate{}, fmt.Errorf("parse ImpliedVol: zero vol")
	}
	return oracle.VolUpdate{
		Underlying: position.AssetID(j.Underlying),
		Vol:        j.Vol,
		Sequence:   j.Sequence,
		Timestamp:  j.TimestampUs,
	}, nil
}

// FeedTypeForSubject maps a subject to the feed type that parses it.
func FeedTypeForSubject(subject string) string {
	switch {
	case strings.HasPrefix(subject, "option.prices."):
		return "SpotPrice"
	case strings.HasPrefix(subject, "option.vol."):
		return "ImpliedVol"
	default:
		return ""
	}
}
