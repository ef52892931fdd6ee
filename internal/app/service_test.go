package app

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whaleTracker/internal/aggregate"
	"whaleTracker/internal/domain"
	"whaleTracker/internal/notify"
	"whaleTracker/internal/ports"
	"whaleTracker/internal/tradestore"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

type mockNotifier struct {
	mu      sync.Mutex
	trades  []*domain.Trade
	result  notify.Result
	err     error
	block   chan struct{} // When set, NotifySell waits on it
	entered chan struct{}
}

func (m *mockNotifier) NotifySell(ctx context.Context, trade *domain.Trade) (notify.Result, error) {
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return notify.Result{}, ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trades = append(m.trades, trade)
	return m.result, m.err
}

func (m *mockNotifier) calls() []*domain.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*domain.Trade(nil), m.trades...)
}

type mockAggregator struct {
	window domain.Window
	stats  aggregate.Stats
	ran    chan struct{}
}

func (m *mockAggregator) Run(ctx context.Context) error {
	if m.ran != nil {
		close(m.ran)
	}
	<-ctx.Done()
	return nil
}

func (m *mockAggregator) Window() domain.Window  { return m.window }
func (m *mockAggregator) Stats() aggregate.Stats { return m.stats }

// scriptedFeed delivers its trades to the handler, then streams until canceled or fails with err.
type scriptedFeed struct {
	handler ports.TradeHandler
	trades  []*domain.Trade
	err     error
	status  domain.ConnectionStatus
}

func (f *scriptedFeed) Run(ctx context.Context) error {
	for _, t := range f.trades {
		f.handler.HandleTrade(ctx, t)
	}
	if f.err != nil {
		return f.err
	}
	<-ctx.Done()
	return nil
}

func (f *scriptedFeed) Status() domain.ConnectionStatus { return f.status }

type failingStore struct{}

func (failingStore) Append(ctx context.Context, account string, trade *domain.Trade) (bool, error) {
	return false, ports.ErrStore
}

func (failingStore) Range(ctx context.Context, account string, start, end time.Time) ([]*domain.Trade, error) {
	return nil, ports.ErrStore
}

func (failingStore) Trim(ctx context.Context, account string, olderThan time.Time) (int, error) {
	return 0, ports.ErrStore
}

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func trade(id int, side domain.Side) *domain.Trade {
	return &domain.Trade{
		ID:         strconv.Itoa(id),
		Account:    "42",
		Market:     "1",
		Side:       side,
		Price:      decimal.NewFromInt(3000),
		Size:       decimal.NewFromInt(1),
		USDValue:   decimal.NewFromInt(3000),
		ExecutedAt: baseTime.Add(time.Duration(id) * time.Second),
	}
}

func newTestService(t *testing.T, store ports.TradeStore, n SellNotifier, agg WindowAggregator, queue int) (*TrackerService, *mockLogger) {
	t.Helper()
	log := &mockLogger{}
	svc, err := NewTrackerService(Config{
		Logger:        log,
		Store:         store,
		Notifier:      n,
		Aggregator:    agg,
		Account:       "42",
		QueueSize:     queue,
		ShutdownGrace: time.Second,
	})
	require.NoError(t, err)
	return svc, log
}

func TestNewTrackerService_Validation(t *testing.T) {
	store := tradestore.NewMemoryStore(tradestore.Config{})
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing logger", Config{Store: store, Notifier: &mockNotifier{}, Aggregator: &mockAggregator{}, Account: "42"}},
		{"missing store", Config{Logger: &mockLogger{}, Notifier: &mockNotifier{}, Aggregator: &mockAggregator{}, Account: "42"}},
		{"missing notifier", Config{Logger: &mockLogger{}, Store: store, Aggregator: &mockAggregator{}, Account: "42"}},
		{"missing aggregator", Config{Logger: &mockLogger{}, Store: store, Notifier: &mockNotifier{}, Account: "42"}},
		{"missing account", Config{Logger: &mockLogger{}, Store: store, Notifier: &mockNotifier{}, Aggregator: &mockAggregator{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewTrackerService(tt.cfg)
			assert.Error(t, err)
			assert.Nil(t, svc)
		})
	}
}

func TestHandleTrade_StoresAndQueuesSells(t *testing.T) {
	store := tradestore.NewMemoryStore(tradestore.Config{})
	svc, _ := newTestService(t, store, &mockNotifier{}, &mockAggregator{}, 8)
	ctx := context.Background()

	svc.HandleTrade(ctx, trade(1, domain.Buy))
	svc.HandleTrade(ctx, trade(2, domain.Sell))
	svc.HandleTrade(ctx, trade(2, domain.Sell)) // Replayed after reconnect
	svc.HandleTrade(ctx, trade(3, domain.Sell))

	assert.Equal(t, 3, store.Len("42"))
	assert.Len(t, svc.alerts, 2)

	c := svc.Status().Counters
	assert.Equal(t, int64(3), c.TradesIngested)
	assert.Equal(t, int64(1), c.Duplicates)
	assert.Equal(t, int64(2), c.SellAlerts)
	assert.Zero(t, c.AlertsDropped)
}

func TestHandleTrade_QueueFullDropsAlert(t *testing.T) {
	store := tradestore.NewMemoryStore(tradestore.Config{})
	svc, log := newTestService(t, store, &mockNotifier{}, &mockAggregator{}, 1)
	ctx := context.Background()

	svc.HandleTrade(ctx, trade(1, domain.Sell))
	svc.HandleTrade(ctx, trade(2, domain.Sell))

	c := svc.Status().Counters
	assert.Equal(t, int64(2), c.SellAlerts)
	assert.Equal(t, int64(1), c.AlertsDropped)
	assert.Equal(t, 2, store.Len("42"), "dropped alerts are still stored for aggregation")
	assert.Contains(t, log.warnMsgs, "HandleTrade: Alert queue full, sell alert dropped")
}

func TestHandleTrade_StoreFailureStillAlerts(t *testing.T) {
	svc, log := newTestService(t, failingStore{}, &mockNotifier{}, &mockAggregator{}, 4)

	svc.HandleTrade(context.Background(), trade(1, domain.Sell))

	c := svc.Status().Counters
	assert.Equal(t, int64(1), c.StoreErrors)
	assert.Equal(t, int64(1), c.SellAlerts)
	assert.Len(t, svc.alerts, 1)
	assert.Contains(t, log.errorMsgs, "HandleTrade: Failed to append trade to store")
}

func TestHandleTrade_SellBeyondRetentionNotAlerted(t *testing.T) {
	store := tradestore.NewMemoryStore(tradestore.Config{
		Retention: 11 * time.Minute,
		Now:       func() time.Time { return baseTime.Add(72 * time.Hour) },
	})
	svc, _ := newTestService(t, store, &mockNotifier{}, &mockAggregator{}, 4)
	ctx := context.Background()

	old := trade(1, domain.Sell)
	svc.HandleTrade(ctx, old)
	svc.HandleTrade(ctx, old) // Snapshot replayed after reconnect

	assert.Zero(t, store.Len("42"))
	assert.Empty(t, svc.alerts)

	c := svc.Status().Counters
	assert.Equal(t, int64(2), c.StaleTrades)
	assert.Zero(t, c.SellAlerts)
	assert.Zero(t, c.TradesIngested)
	assert.Zero(t, c.StoreErrors)
}

func TestHandleTrade_TrimmedSellRedeliveredNotAlerted(t *testing.T) {
	store := tradestore.NewMemoryStore(tradestore.Config{
		Retention: time.Hour,
		Now:       func() time.Time { return baseTime.Add(time.Minute) },
	})
	svc, _ := newTestService(t, store, &mockNotifier{}, &mockAggregator{}, 4)
	ctx := context.Background()

	svc.HandleTrade(ctx, trade(1, domain.Sell))
	require.Len(t, svc.alerts, 1)

	removed, err := store.Trim(ctx, "42", baseTime.Add(30*time.Second))
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	svc.HandleTrade(ctx, trade(1, domain.Sell))

	assert.Len(t, svc.alerts, 1)
	c := svc.Status().Counters
	assert.Equal(t, int64(1), c.SellAlerts)
	assert.Equal(t, int64(1), c.StaleTrades)
	assert.Zero(t, c.Duplicates)
}

func TestStart_DispatchesSellsAndCounts(t *testing.T) {
	store := tradestore.NewMemoryStore(tradestore.Config{})
	n := &mockNotifier{result: notify.Result{Broadcast: true, Pushed: 2, Suppressed: 1}}
	agg := &mockAggregator{
		window: domain.NewWindow(baseTime, 5*time.Minute),
		stats:  aggregate.Stats{ReportsEmitted: 3, StoreErrors: 1},
		ran:    make(chan struct{}),
	}
	svc, _ := newTestService(t, store, n, agg, 8)
	feed := &scriptedFeed{
		handler: svc,
		trades:  []*domain.Trade{trade(1, domain.Sell), trade(2, domain.Buy), trade(1, domain.Sell), trade(3, domain.Sell)},
		status:  domain.ConnectionStatus{State: domain.StateStreaming, Reconnects: 2, DecodeErrors: 5},
	}
	extra := &mockAggregator{ran: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx, feed, extra) }()

	require.Eventually(t, func() bool { return svc.Status().Counters.PushesSent == 4 }, 2*time.Second, 10*time.Millisecond)
	<-agg.ran
	<-extra.ran

	calls := n.calls()
	assert.Equal(t, "1", calls[0].ID)
	assert.Equal(t, "3", calls[1].ID)

	st := svc.Status()
	assert.Equal(t, "42", st.Account)
	assert.Equal(t, domain.StateStreaming, st.Connection.State)
	assert.False(t, st.StartedAt.IsZero())
	assert.Equal(t, agg.window, st.Window)
	assert.Equal(t, int64(3), st.Counters.TradesIngested)
	assert.Equal(t, int64(1), st.Counters.Duplicates)
	assert.Equal(t, int64(4), st.Counters.PushesSent)
	assert.Equal(t, int64(2), st.Counters.PushesSkipped)
	assert.Equal(t, int64(3), st.Counters.ReportsEmitted)
	assert.Equal(t, int64(1), st.Counters.StoreErrors)
	assert.Equal(t, int64(2), st.Counters.Reconnects)
	assert.Equal(t, int64(5), st.Counters.DecodeErrors)
	assert.Zero(t, st.Counters.BroadcastFails)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestStart_BroadcastFailureCounted(t *testing.T) {
	store := tradestore.NewMemoryStore(tradestore.Config{})
	n := &mockNotifier{result: notify.Result{Failed: 1}, err: ports.ErrDeliveryFailed}
	svc, log := newTestService(t, store, n, &mockAggregator{}, 8)
	feed := &scriptedFeed{handler: svc, trades: []*domain.Trade{trade(1, domain.Sell)}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx, feed) }()

	require.Eventually(t, func() bool { return svc.Status().Counters.BroadcastFails == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), svc.Status().Counters.PushFailures)
	cancel()
	require.NoError(t, <-done)

	log.mu.Lock()
	defer log.mu.Unlock()
	assert.Contains(t, log.warnMsgs, "dispatch: Sell alert delivered partially")
}

func TestStart_FeedFailureStopsService(t *testing.T) {
	store := tradestore.NewMemoryStore(tradestore.Config{})
	svc, _ := newTestService(t, store, &mockNotifier{}, &mockAggregator{}, 8)
	feedErr := errors.New("feed gave up")
	feed := &scriptedFeed{handler: svc, err: feedErr}

	err := svc.Start(context.Background(), feed)
	require.Error(t, err)
	assert.ErrorIs(t, err, feedErr)
}

func TestStart_RequiresFeed(t *testing.T) {
	svc, _ := newTestService(t, tradestore.NewMemoryStore(tradestore.Config{}), &mockNotifier{}, &mockAggregator{}, 8)
	assert.ErrorIs(t, svc.Start(context.Background(), nil), ports.ErrConfigurationError)
}

func TestStart_InFlightDispatchAbandonedOnShutdown(t *testing.T) {
	store := tradestore.NewMemoryStore(tradestore.Config{})
	n := &mockNotifier{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	svc, _ := newTestService(t, store, n, &mockAggregator{}, 8)
	feed := &scriptedFeed{handler: svc, trades: []*domain.Trade{trade(1, domain.Sell), trade(2, domain.Sell)}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx, feed) }()

	<-n.entered
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	assert.Empty(t, n.calls(), "blocked dispatch returns on cancel without completing")
}

func TestStatus_BeforeStart(t *testing.T) {
	svc, _ := newTestService(t, tradestore.NewMemoryStore(tradestore.Config{}), &mockNotifier{}, &mockAggregator{}, 8)
	st := svc.Status()
	assert.Equal(t, domain.StateDisconnected, st.Connection.State)
	assert.True(t, st.StartedAt.IsZero())
}

type stuckPublisher struct {
	entered chan struct{}
	release chan struct{}
}

func (p *stuckPublisher) PublishReport(ctx context.Context, report *domain.Report) error {
	close(p.entered)
	<-p.release
	return errors.New("telegram timeout")
}

func TestStatus_ResponsiveDuringSlowReportPublish(t *testing.T) {
	store := tradestore.NewMemoryStore(tradestore.Config{})
	pub := &stuckPublisher{entered: make(chan struct{}), release: make(chan struct{})}
	agg, err := aggregate.New(aggregate.Config{
		Store: store, Publisher: pub, Logger: &mockLogger{},
		Account: "42", Interval: time.Minute, Start: baseTime,
	})
	require.NoError(t, err)
	svc, _ := newTestService(t, store, &mockNotifier{}, agg, 8)

	done := make(chan aggregate.CycleOutcome, 1)
	go func() { done <- agg.RunCycle(context.Background()) }()
	<-pub.entered

	got := make(chan domain.ServiceStatus, 1)
	go func() { got <- svc.Status() }()
	select {
	case st := <-got:
		assert.Equal(t, baseTime, st.Window.Start)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Status blocked behind report publishing")
	}

	close(pub.release)
	assert.Equal(t, aggregate.CyclePublishFail, <-done)
	assert.Equal(t, int64(1), svc.Status().Counters.ReportFailures)
}
