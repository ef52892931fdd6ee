package redisstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whaleTracker/internal/domain"
	"whaleTracker/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

const account = "714638"

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupStore(t *testing.T, retention time.Duration) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s, err := New(Config{
		Client:    client,
		Retention: retention,
		Logger:    &mockLogger{},
		Now:       func() time.Time { return base.Add(time.Minute) },
	})
	require.NoError(t, err)
	return s, mr
}

func newTrade(id string, offset time.Duration) *domain.Trade {
	return &domain.Trade{
		ID:         id,
		Account:    account,
		Market:     "1",
		Side:       domain.Sell,
		Price:      decimal.RequireFromString("3000.5"),
		Size:       decimal.RequireFromString("2"),
		USDValue:   decimal.RequireFromString("6001"),
		ExecutedAt: base.Add(offset),
	}
}

func ids(trades []*domain.Trade) []string {
	out := make([]string, 0, len(trades))
	for _, t := range trades {
		out = append(out, t.ID)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Client: redis.NewClient(&redis.Options{})})
	assert.Error(t, err)
	_, err = New(Config{Logger: &mockLogger{}})
	assert.Error(t, err)
}

func TestStore_AppendRoundTripsAndDeduplicates(t *testing.T) {
	s, _ := setupStore(t, 0)
	ctx := context.Background()
	require.NoError(t, s.Ping(ctx))

	added, err := s.Append(ctx, account, newTrade("1", time.Second))
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.Append(ctx, account, newTrade("1", time.Second))
	require.NoError(t, err)
	assert.False(t, added)

	got, err := s.Range(ctx, account, base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.Sell, got[0].Side)
	assert.True(t, decimal.RequireFromString("6001").Equal(got[0].USDValue))
	assert.True(t, base.Add(time.Second).Equal(got[0].ExecutedAt))
}

func TestStore_RangeOrderAndBounds(t *testing.T) {
	s, _ := setupStore(t, 0)
	ctx := context.Background()

	for _, tr := range []*domain.Trade{
		newTrade("c", 2*time.Minute),
		newTrade("b", time.Minute),
		newTrade("a", time.Minute),
		newTrade("z", 0),
		newTrade("late", 5*time.Minute),
	} {
		_, err := s.Append(ctx, account, tr)
		require.NoError(t, err)
	}

	got, err := s.Range(ctx, account, base, base.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a", "b", "c"}, ids(got))

	got, err = s.Range(ctx, account, base.Add(time.Minute), base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(got))

	got, err = s.Range(ctx, "other", base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_Trim(t *testing.T) {
	s, mr := setupStore(t, 0)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, account, newTrade(fmt.Sprint(i), time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	removed, err := s.Trim(ctx, account, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	got, err := s.Range(ctx, account, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3", "4"}, ids(got))

	fields, err := mr.HKeys("whale:trades:" + account + ":data")
	require.NoError(t, err)
	assert.Len(t, fields, 3)

	removed, err = s.Trim(ctx, account, base)
	require.NoError(t, err)
	assert.Zero(t, removed)

	// The watermark keeps the highest bound and refuses redelivered trimmed trades.
	floor, err := mr.Get("whale:trades:" + account + ":floor")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprint(base.Add(2*time.Minute).UnixMilli()), floor)

	added, err := s.Append(ctx, account, newTrade("0", 0))
	assert.ErrorIs(t, err, ports.ErrStaleTrade)
	assert.False(t, added)

	added, err = s.Append(ctx, account, newTrade("5", 2*time.Minute))
	require.NoError(t, err)
	assert.True(t, added)
}

func TestStore_RefusesTradesBeyondRetention(t *testing.T) {
	s, _ := setupStore(t, 10*time.Minute)
	ctx := context.Background()

	added, err := s.Append(ctx, account, newTrade("old", -time.Hour))
	assert.ErrorIs(t, err, ports.ErrStaleTrade)
	assert.False(t, added)

	got, err := s.Range(ctx, account, base.Add(-2*time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_SameIDOnDifferentMarkets(t *testing.T) {
	s, _ := setupStore(t, 0)
	ctx := context.Background()

	eth := newTrade("7", time.Second)
	btc := newTrade("7", time.Second)
	btc.Market = "2"
	for _, tr := range []*domain.Trade{btc, eth, eth} {
		_, err := s.Append(ctx, account, tr)
		require.NoError(t, err)
	}

	got, err := s.Range(ctx, account, base, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].Market)
	assert.Equal(t, "2", got[1].Market)
}

func TestStore_RetentionSetsExpiry(t *testing.T) {
	s, mr := setupStore(t, 10*time.Minute)
	ctx := context.Background()

	_, err := s.Append(ctx, account, newTrade("1", 0))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, mr.TTL("whale:trades:"+account))

	mr.FastForward(11 * time.Minute)
	got, err := s.Range(ctx, account, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_ErrorsWhenServerIsDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	s, err := New(Config{Client: client, Logger: &mockLogger{}})
	require.NoError(t, err)
	mr.Close()

	_, err = s.Append(context.Background(), account, newTrade("1", 0))
	assert.Error(t, err)
	_, err = s.Range(context.Background(), account, base, base.Add(time.Minute))
	assert.Error(t, err)
	_, err = s.Trim(context.Background(), account, base)
	assert.Error(t, err)
}
