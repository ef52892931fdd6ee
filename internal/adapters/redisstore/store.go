// Package redisstore keeps the rolling trade window in Redis so reports survive a process restart.
//
// Each account uses three keys: a sorted set of trade keys (market/ID) scored by execution time
// in milliseconds, a hash of trade key to the JSON-encoded trade, and the trim watermark.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"whaleTracker/internal/domain"
	"whaleTracker/internal/ports"
)

const (
	defaultKeyPrefix = "whale"
	rangeChunk       = 500
)

// appendScript inserts the trade only when it is newer than the watermark and not yet indexed.
// It returns 1 when added, 0 for a duplicate and -1 for a stale trade.
// KEYS: index, data, floor. ARGV: score, member, payload, ttl millis (0 = none), retention cutoff millis.
var appendScript = redis.NewScript(`
local cutoff = tonumber(ARGV[5])
local floor = redis.call('GET', KEYS[3])
if floor and tonumber(floor) > cutoff then
  cutoff = tonumber(floor)
end
if tonumber(ARGV[1]) < cutoff then
  return -1
end
if redis.call('ZADD', KEYS[1], 'NX', ARGV[1], ARGV[2]) == 0 then
  return 0
end
redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
local ttl = tonumber(ARGV[4])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
  redis.call('PEXPIRE', KEYS[2], ttl)
end
return 1
`)

// trimScript removes every trade scored below ARGV[1] and raises the watermark to it.
// KEYS: index, data, floor. ARGV: bound millis, ttl millis (0 = none).
var trimScript = redis.NewScript(`
local bound = tonumber(ARGV[1])
local floor = redis.call('GET', KEYS[3])
if not floor or tonumber(floor) < bound then
  redis.call('SET', KEYS[3], ARGV[1])
end
local ttl = tonumber(ARGV[2])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[3], ttl)
end
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
for i = 1, #ids, 500 do
  local chunk = {unpack(ids, i, math.min(i + 499, #ids))}
  redis.call('ZREM', KEYS[1], unpack(chunk))
  redis.call('HDEL', KEYS[2], unpack(chunk))
end
return #ids
`)

// Config holds configuration for the Redis trade store.
type Config struct {
	Client    redis.UniversalClient
	KeyPrefix string        // Defaults to "whale"
	Retention time.Duration // Older trades are refused and idle accounts expire, zero disables
	Logger    ports.Logger
	Now       func() time.Time // Clock for the retention cutoff, defaults to time.Now
}

// Store implements ports.TradeStore on Redis.
type Store struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	logger    ports.Logger
	now       func() time.Time
}

var _ ports.TradeStore = (*Store)(nil)

// New creates a new Redis trade store.
func New(cfg Config) (*Store, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Redis trade store")
	}
	if cfg.Client == nil {
		return nil, fmt.Errorf("redis client is required: %w", ports.ErrConfigurationError)
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Store{client: cfg.Client, prefix: prefix, retention: cfg.Retention, logger: cfg.Logger, now: now}, nil
}

// Ping checks connectivity to the Redis server.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w: %w", ports.ErrDBConnection, err)
	}
	return nil
}

// record is the stored form of a trade.
type record struct {
	ID         string          `json:"id"`
	Account    string          `json:"account"`
	Market     string          `json:"market"`
	Side       domain.Side     `json:"side"`
	Price      decimal.Decimal `json:"price"`
	Size       decimal.Decimal `json:"size"`
	USDValue   decimal.Decimal `json:"usd_value"`
	ExecutedAt time.Time       `json:"executed_at"`
}

func toRecord(t *domain.Trade) record {
	return record{
		ID: t.ID, Account: t.Account, Market: t.Market, Side: t.Side,
		Price: t.Price, Size: t.Size, USDValue: t.USDValue, ExecutedAt: t.ExecutedAt,
	}
}

func (r record) trade() *domain.Trade {
	return &domain.Trade{
		ID: r.ID, Account: r.Account, Market: r.Market, Side: r.Side,
		Price: r.Price, Size: r.Size, USDValue: r.USDValue, ExecutedAt: r.ExecutedAt,
	}
}

func (s *Store) keys(account string) (index, data, floor string) {
	index = fmt.Sprintf("%s:trades:%s", s.prefix, account)
	return index, index + ":data", index + ":floor"
}

// Append stores the trade unless its key is already present or it is older than the
// trim watermark or the retention cutoff.
func (s *Store) Append(ctx context.Context, account string, trade *domain.Trade) (bool, error) {
	if trade == nil {
		return false, fmt.Errorf("append nil trade: %w", ports.ErrInvalidRequest)
	}
	payload, err := json.Marshal(toRecord(trade))
	if err != nil {
		return false, fmt.Errorf("encode trade %s: %w: %w", trade.Key(), ports.ErrStore, err)
	}

	cutoff := int64(math.MinInt64)
	if s.retention > 0 {
		cutoff = s.now().Add(-s.retention).UnixMilli()
	}
	index, data, floor := s.keys(account)
	res, err := appendScript.Run(ctx, s.client, []string{index, data, floor},
		trade.ExecutedAt.UnixMilli(), trade.Key(), payload, s.retention.Milliseconds(), cutoff).Int()
	if err != nil {
		return false, fmt.Errorf("append trade %s: %w: %w", trade.Key(), ports.ErrStore, err)
	}
	if res < 0 {
		return false, fmt.Errorf("append trade %s executed %s: %w", trade.Key(), trade.ExecutedAt.UTC().Format(time.RFC3339), ports.ErrStaleTrade)
	}
	return res == 1, nil
}

// Range returns trades with start <= ExecutedAt < end, ordered by ExecutedAt then ID.
// A trade removed by a concurrent Trim between the index and data reads is omitted.
func (s *Store) Range(ctx context.Context, account string, start, end time.Time) ([]*domain.Trade, error) {
	if !start.Before(end) {
		return []*domain.Trade{}, nil
	}
	index, data, _ := s.keys(account)

	// Scores are whole milliseconds; the exact bounds are applied after decoding.
	ids, err := s.client.ZRangeByScore(ctx, index, &redis.ZRangeBy{
		Min: strconv.FormatInt(start.UnixMilli(), 10),
		Max: strconv.FormatInt(end.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("range index %s: %w: %w", index, ports.ErrStore, err)
	}

	trades := make([]*domain.Trade, 0, len(ids))
	for lo := 0; lo < len(ids); lo += rangeChunk {
		hi := min(lo+rangeChunk, len(ids))
		values, err := s.client.HMGet(ctx, data, ids[lo:hi]...).Result()
		if err != nil {
			return nil, fmt.Errorf("range data %s: %w: %w", data, ports.ErrStore, err)
		}
		for i, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			var rec record
			if err := json.Unmarshal([]byte(raw), &rec); err != nil {
				s.logger.Warn(ctx, "Skipping undecodable stored trade", map[string]interface{}{"account": account, "tradeKey": ids[lo+i], "error": err.Error()})
				continue
			}
			if rec.ExecutedAt.Before(start) || !rec.ExecutedAt.Before(end) {
				continue
			}
			trades = append(trades, rec.trade())
		}
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].Before(trades[j]) })
	return trades, nil
}

// Trim removes trades executed before olderThan and raises the trim watermark to it.
func (s *Store) Trim(ctx context.Context, account string, olderThan time.Time) (int, error) {
	index, data, floor := s.keys(account)
	removed, err := trimScript.Run(ctx, s.client, []string{index, data, floor},
		olderThan.UnixMilli(), s.retention.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("trim %s: %w: %w", index, ports.ErrStore, err)
	}
	if removed > 0 {
		s.logger.Debug(ctx, "Trimmed stored trades", map[string]interface{}{"account": account, "removed": removed})
	}
	return removed, nil
}
