package models

import "math"

// EnrichmentItem is an entity reference plus its last known price.
// A zero Price means "no price yet".
type EnrichmentItem struct {
	ID      string  `json:"id"`
	TokenID string  `json:"token_id,omitempty"`
	Price   float64 `json:"price"`
}

// HasValidPrice reports whether the item already carries a usable price.
func (i EnrichmentItem) HasValidPrice() bool {
	return ValidPrice(i.Price)
}

// LookupKey is the upstream reference used to fetch the price.
func (i EnrichmentItem) LookupKey() string {
	if i.TokenID != "" {
		return i.TokenID
	}
	return i.ID
}

// ValidPrice is the single definition of a usable price: finite and positive.
func ValidPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

// PriceUpdate is one enriched price published to Kafka for the price sink.
type PriceUpdate struct {
	EntityID  string  `json:"entity_id"`
	TokenID   string  `json:"token_id,omitempty"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // unix micro
	SeqID     int64   `json:"seq_id"`    // monotonic per enrichment run
}
