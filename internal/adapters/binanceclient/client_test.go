package binanceclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whaleTracker/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		BaseURL: srv.URL,
		Symbols: map[string]string{"1": "ethusdt", "2": "BADUSDT"},
		Logger:  &mockLogger{},
	})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresLogger(t *testing.T) {
	c, err := New(Config{})
	assert.Error(t, err)
	assert.Nil(t, c)
}

func TestNew_BaseURLSelection(t *testing.T) {
	c, err := New(Config{Logger: &mockLogger{}})
	require.NoError(t, err)
	assert.Equal(t, baseURLProduction, c.futuresClient.BaseURL)

	c, err = New(Config{Logger: &mockLogger{}, UseTestnet: true})
	require.NoError(t, err)
	assert.Equal(t, baseURLTestnet, c.futuresClient.BaseURL)
}

func TestClient_LastPrice(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/fapi/v1/ticker/24hr", r.URL.Path)
		switch r.URL.Query().Get("symbol") {
		case "ETHUSDT":
			w.Write([]byte(`{"symbol":"ETHUSDT","lastPrice":"3000.10","priceChange":"1","volume":"10"}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
		}
	})
	ctx := context.Background()

	price, ok, err := c.LastPrice(ctx, "1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "3000.1", price.String())

	// Served from cache.
	_, _, err = c.LastPrice(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	// Expired cache goes back to the API.
	c.now = func() time.Time { return time.Now().Add(time.Minute) }
	_, _, err = c.LastPrice(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())

	_, ok, err = c.LastPrice(ctx, "2")
	assert.ErrorIs(t, err, ports.ErrNotFound)
	assert.False(t, ok)

	_, ok, err = c.LastPrice(ctx, "unmapped")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_LastPriceConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: url, Symbols: map[string]string{"1": "ETHUSDT"}, Logger: &mockLogger{}})
	require.NoError(t, err)
	_, ok, err := c.LastPrice(context.Background(), "1")
	assert.ErrorIs(t, err, ports.ErrConnectionFailed)
	assert.False(t, ok)
}

func TestClient_Symbol(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	s, ok := c.Symbol("1")
	assert.True(t, ok)
	assert.Equal(t, "ETHUSDT", s)
}
