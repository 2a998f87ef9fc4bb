package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rajasatyajit/FuelWatch/internal/models"
)

// PriceLoader reads the current price table
type PriceLoader interface {
	CurrentPrices(ctx context.Context) ([]models.Price, error)
}

type lastKnown struct {
	price float64
	at    time.Time
}

// ChangeCache holds the last known (price, timestamp) of every (station,
// fuel) pair for the lifetime of one snapshot run. It is not safe for
// concurrent use.
type ChangeCache struct {
	entries map[models.PriceKey]lastKnown
}

// NewChangeCache returns an empty cache
func NewChangeCache() *ChangeCache {
	return &ChangeCache{entries: make(map[models.PriceKey]lastKnown)}
}

// LoadChangeCache builds a cache from every current price row
func LoadChangeCache(ctx context.Context, src PriceLoader) (*ChangeCache, error) {
	prices, err := src.CurrentPrices(ctx)
	if err != nil {
		return nil, fmt.Errorf("load current prices: %w", err)
	}

	c := &ChangeCache{entries: make(map[models.PriceKey]lastKnown, len(prices))}
	for _, p := range prices {
		c.entries[p.Key()] = lastKnown{price: p.Price, at: p.UpdatedAt}
	}
	return c, nil
}

// Observe reports whether p differs from the last known value of its pair
// and records it either way
func (c *ChangeCache) Observe(p models.Price) bool {
	key := p.Key()
	prev, ok := c.entries[key]
	if ok && prev.price == p.Price && prev.at.Equal(p.UpdatedAt) {
		return false
	}
	c.entries[key] = lastKnown{price: p.Price, at: p.UpdatedAt}
	return true
}

// Len returns the number of known pairs
func (c *ChangeCache) Len() int { return len(c.entries) }
