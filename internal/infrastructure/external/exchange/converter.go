package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/garyjia/reimburse-approvals/internal/application/port"
)

// Conversion sources
const (
	SourceLive     = "live"
	SourceCache    = "cache"
	SourceFallback = "fallback"
)

type cacheEntry struct {
	rates     *Rates
	fetchedAt time.Time
}

// CachedConverter implements port.CurrencyConverter over a RateFetcher.
// Successful fetches are cached per base currency for the TTL; failed
// fetches fall back to the static tables and are not cached.
type CachedConverter struct {
	fetcher RateFetcher
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger

	mu      sync.RWMutex
	entries map[string]cacheEntry
	group   singleflight.Group
}

// NewCachedConverter creates a converter with the given cache TTL
func NewCachedConverter(fetcher RateFetcher, ttl time.Duration, logger *zap.Logger) *CachedConverter {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedConverter{
		fetcher: fetcher,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
		entries: make(map[string]cacheEntry),
	}
}

var _ port.CurrencyConverter = (*CachedConverter)(nil)

// Convert converts amount from one currency to another
func (c *CachedConverter) Convert(ctx context.Context, amount decimal.Decimal, from, to string) (port.Conversion, error) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return port.Conversion{Amount: amount, Rate: decimal.NewFromInt(1), RateDate: c.now(), Source: SourceLive}, nil
	}

	rates, source := c.ratesFor(ctx, from)
	r, ok := rates.Rates[to]
	if !ok || r.IsZero() {
		return port.Conversion{}, fmt.Errorf("no exchange rate from %s to %s", from, to)
	}

	date, err := time.Parse("2006-01-02", rates.Date)
	if err != nil {
		date = c.now()
	}
	return port.Conversion{
		Amount:   amount.Mul(r),
		Rate:     r,
		RateDate: date,
		Source:   source,
	}, nil
}

// Warm fetches base into the cache, replacing any entry
func (c *CachedConverter) Warm(ctx context.Context, base string) error {
	base = strings.ToUpper(base)
	_, err := c.fetch(ctx, base)
	return err
}

// Invalidate drops the cached table of base
func (c *CachedConverter) Invalidate(base string) {
	c.mu.Lock()
	delete(c.entries, strings.ToUpper(base))
	c.mu.Unlock()
}

// InvalidateAll empties the cache
func (c *CachedConverter) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

func (c *CachedConverter) ratesFor(ctx context.Context, base string) (*Rates, string) {
	c.mu.RLock()
	entry, ok := c.entries[base]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry.rates, SourceCache
	}

	rates, err := c.fetch(ctx, base)
	if err != nil {
		c.logger.Warn("Exchange rate fetch failed, using fallback table",
			zap.String("base", base),
			zap.Error(err))
		return FallbackRates(base, c.now()), SourceFallback
	}
	return rates, SourceLive
}

// fetch collapses concurrent requests for the same base into one call
func (c *CachedConverter) fetch(ctx context.Context, base string) (*Rates, error) {
	v, err, _ := c.group.Do(base, func() (interface{}, error) {
		rates, err := c.fetcher.FetchRates(ctx, base)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[base] = cacheEntry{rates: rates, fetchedAt: c.now()}
		c.mu.Unlock()
		return rates, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Rates), nil
}
