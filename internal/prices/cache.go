package prices

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Fetcher is the upstream price source used by Cache.
type Fetcher interface {
	Fetch(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
}

type entry struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// Cache keeps USD prices per symbol for a bounded time. Zero, missing and
// expired entries are refetched on demand.
type Cache struct {
	mu      sync.Mutex
	src     Fetcher
	ttl     time.Duration
	now     func() time.Time
	entries map[string]entry
}

func NewCache(src Fetcher, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		src:     src,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]entry),
	}
}

// SetClock replaces the time source; used by tests.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

func (c *Cache) valid(e entry, ok bool, now time.Time) bool {
	return ok && e.price.IsPositive() && now.Sub(e.fetchedAt) < c.ttl
}

// Price returns the USD price of symbol, fetching it when the cached value is
// not usable.
func (c *Cache) Price(ctx context.Context, symbol string) (decimal.Decimal, error) {
	sym := strings.ToUpper(strings.TrimSpace(symbol))
	if sym == "" {
		return decimal.Zero, fmt.Errorf("empty price symbol")
	}

	c.mu.Lock()
	e, ok := c.entries[sym]
	if c.valid(e, ok, c.now()) {
		c.mu.Unlock()
		return e.price, nil
	}
	c.mu.Unlock()

	if err := c.Refresh(ctx, sym); err != nil {
		return decimal.Zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok = c.entries[sym]
	if !ok || !e.price.IsPositive() {
		return decimal.Zero, fmt.Errorf("no price for %s", sym)
	}
	return e.price, nil
}

// Refresh fetches the given symbols and stores whatever the source returned.
func (c *Cache) Refresh(ctx context.Context, symbols ...string) error {
	got, err := c.src.Fetch(ctx, symbols)
	if err != nil {
		return fmt.Errorf("could not refresh prices for %v: %w", symbols, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		p, ok := got[s]
		if !ok {
			slog.Warn("price source returned no price", "symbol", s)
			continue
		}
		c.entries[s] = entry{price: p, fetchedAt: now}
	}
	return nil
}
