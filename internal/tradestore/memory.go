// Package tradestore provides the in-process rolling window of trades per monitored account.
package tradestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"whaleTracker/internal/domain"
	"whaleTracker/internal/ports"
)

// Config holds configuration for the in-memory store.
type Config struct {
	// Retention is the maximum horizon an entry is kept for, measured against Now.
	// Zero disables horizon-based eviction; Trim still applies.
	Retention time.Duration
	// Now is the clock used for eviction. Defaults to time.Now.
	Now func() time.Time
}

// series is the ordered trade list of one account.
type series struct {
	trades []*domain.Trade     // sorted by ExecutedAt, then ID
	keys   map[string]struct{} // Trade.Key of every stored trade
	floor  time.Time           // trim watermark, older trades are refused
}

// MemoryStore implements ports.TradeStore with a sorted slice per account.
type MemoryStore struct {
	mu        sync.RWMutex
	accounts  map[string]*series
	retention time.Duration
	now       func() time.Time
}

var _ ports.TradeStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore(cfg Config) *MemoryStore {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		accounts:  make(map[string]*series),
		retention: cfg.Retention,
		now:       now,
	}
}

// Append inserts the trade in execution-time order. Duplicate keys are ignored and
// trades older than the trim watermark or the retention horizon are refused as stale.
func (s *MemoryStore) Append(ctx context.Context, account string, trade *domain.Trade) (bool, error) {
	if trade == nil {
		return false, fmt.Errorf("append nil trade: %w", ports.ErrInvalidRequest)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ser := s.seriesFor(account)
	cutoff := ser.floor
	if s.retention > 0 {
		horizon := s.now().Add(-s.retention)
		ser.removeBefore(horizon)
		if horizon.After(cutoff) {
			cutoff = horizon
		}
	}
	if trade.ExecutedAt.Before(cutoff) {
		return false, fmt.Errorf("append trade %s executed %s, cutoff %s: %w",
			trade.Key(), trade.ExecutedAt.UTC().Format(time.RFC3339), cutoff.UTC().Format(time.RFC3339), ports.ErrStaleTrade)
	}
	if _, dup := ser.keys[trade.Key()]; dup {
		return false, nil
	}

	// Late trades land in place, so Range never depends on arrival order.
	idx := sort.Search(len(ser.trades), func(i int) bool { return !ser.trades[i].Before(trade) })
	ser.trades = append(ser.trades, nil)
	copy(ser.trades[idx+1:], ser.trades[idx:])
	ser.trades[idx] = trade
	ser.keys[trade.Key()] = struct{}{}
	return true, nil
}

// Range returns trades with start <= ExecutedAt < end in ascending order.
func (s *MemoryStore) Range(ctx context.Context, account string, start, end time.Time) ([]*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ser, ok := s.accounts[account]
	if !ok || !start.Before(end) {
		return []*domain.Trade{}, nil
	}
	lo := ser.lowerBound(start)
	hi := ser.lowerBound(end)
	out := make([]*domain.Trade, hi-lo)
	copy(out, ser.trades[lo:hi])
	return out, nil
}

// Trim removes trades executed before olderThan and raises the trim watermark to it.
func (s *MemoryStore) Trim(ctx context.Context, account string, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ser := s.seriesFor(account)
	if olderThan.After(ser.floor) {
		ser.floor = olderThan
	}
	return ser.removeBefore(olderThan), nil
}

// seriesFor returns the account's series, creating it if needed. Callers hold s.mu.
func (s *MemoryStore) seriesFor(account string) *series {
	ser, ok := s.accounts[account]
	if !ok {
		ser = &series{keys: make(map[string]struct{})}
		s.accounts[account] = ser
	}
	return ser
}

// Len returns the number of stored trades for an account.
func (s *MemoryStore) Len(account string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ser, ok := s.accounts[account]; ok {
		return len(ser.trades)
	}
	return 0
}

// lowerBound returns the index of the first trade executed at or after t.
func (ser *series) lowerBound(t time.Time) int {
	return sort.Search(len(ser.trades), func(i int) bool { return !ser.trades[i].ExecutedAt.Before(t) })
}

func (ser *series) removeBefore(t time.Time) int {
	idx := ser.lowerBound(t)
	if idx == 0 {
		return 0
	}
	for _, tr := range ser.trades[:idx] {
		delete(ser.keys, tr.Key())
	}
	// Copy so the dropped prefix can be collected.
	ser.trades = append([]*domain.Trade(nil), ser.trades[idx:]...)
	return idx
}
