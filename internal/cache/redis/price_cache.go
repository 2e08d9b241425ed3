package redis

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/betledger/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes. A market's
// prices live at "prices:{marketID}" with one field per outcome index
// ("0", "1", …), "n" for the outcome count and "ts" in Unix nanoseconds.
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A positive ttl expires idle markets.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

// SetPrices replaces the cached prices of a market.
func (pc *PriceCache) SetPrices(ctx context.Context, marketID string, prices []*big.Int, ts time.Time) error {
	key := pc.c.key("prices", marketID)
	fields := make(map[string]any, len(prices)+2)
	for i, p := range prices {
		fields[strconv.Itoa(i)] = p.String()
	}
	fields["n"] = strconv.Itoa(len(prices))
	fields["ts"] = strconv.FormatInt(ts.UnixNano(), 10)

	_, err := pc.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		if pc.ttl > 0 {
			pipe.Expire(ctx, key, pc.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set prices %s: %w", marketID, err)
	}
	return nil
}

// GetPrices returns the cached prices and when they were written. It returns
// domain.ErrNotFound when nothing is cached for the market.
func (pc *PriceCache) GetPrices(ctx context.Context, marketID string) ([]*big.Int, time.Time, error) {
	vals, err := pc.c.rdb.HGetAll(ctx, pc.c.key("prices", marketID)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get prices %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return nil, time.Time{}, fmt.Errorf("redis: prices %s: %w", marketID, domain.ErrNotFound)
	}

	n, err := strconv.Atoi(vals["n"])
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse outcome count %s: %w", marketID, err)
	}
	prices := make([]*big.Int, n)
	for i := range prices {
		p, ok := new(big.Int).SetString(vals[strconv.Itoa(i)], 10)
		if !ok {
			return nil, time.Time{}, fmt.Errorf("redis: parse price %s[%d]: %q", marketID, i, vals[strconv.Itoa(i)])
		}
		prices[i] = p
	}

	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", marketID, err)
	}
	return prices, time.Unix(0, tsNano).UTC(), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
