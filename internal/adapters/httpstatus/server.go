// Package httpstatus serves the health and status endpoints of the tracker.
package httpstatus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"whaleTracker/internal/domain"
	"whaleTracker/internal/ports"
)

const (
	RequestIDHeaderKey = "X-Request-ID"

	defaultShutdownTimeout = 5 * time.Second
	readHeaderTimeout      = 5 * time.Second
)

// StatusSource provides the current service snapshot.
type StatusSource interface {
	Status() domain.ServiceStatus
}

// Config holds configuration for the status server.
type Config struct {
	Addr            string // Listen address, e.g. ":8080"
	Source          StatusSource
	Logger          ports.Logger
	ShutdownTimeout time.Duration
}

// Server exposes GET /healthz and GET /status.
type Server struct {
	addr            string
	source          StatusSource
	logger          ports.Logger
	shutdownTimeout time.Duration
	router          *gin.Engine
}

// connectionView is the JSON shape of the connection section.
type connectionView struct {
	State         string     `json:"state"`
	RetryCount    int        `json:"retry_count"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	ConnectedAt   *time.Time `json:"connected_at,omitempty"`
}

type windowView struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type statusView struct {
	Account    string          `json:"account"`
	Connection connectionView  `json:"connection"`
	Window     windowView      `json:"window"`
	Counters   domain.Counters `json:"counters"`
	StartedAt  time.Time       `json:"started_at"`
	Uptime     string          `json:"uptime"`
}

// New creates a new status server.
func New(cfg Config) (*Server, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for status server")
	}
	if cfg.Source == nil {
		return nil, fmt.Errorf("status source is required: %w", ports.ErrConfigurationError)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	s := &Server{
		addr:            cfg.Addr,
		source:          cfg.Source,
		logger:          cfg.Logger,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
	s.router = s.setupRoutes()
	return s, nil
}

// Handler returns the HTTP handler serving the status routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(s.loggerMiddleware())
	router.Use(gin.Recovery())

	router.GET("/healthz", s.healthz)
	router.GET("/status", s.status)
	return router
}

func (s *Server) healthz(c *gin.Context) {
	st := s.source.Status()
	code := http.StatusOK
	if st.Connection.State != domain.StateStreaming {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"state": st.Connection.State.String()})
}

func (s *Server) status(c *gin.Context) {
	st := s.source.Status()
	view := statusView{
		Account: st.Account,
		Connection: connectionView{
			State:      st.Connection.State.String(),
			RetryCount: st.Connection.RetryCount,
		},
		Window:    windowView{Start: st.Window.Start, End: st.Window.End},
		Counters:  st.Counters,
		StartedAt: st.StartedAt,
	}
	if st.Connection.State == domain.StateBackoff && !st.Connection.NextAttemptAt.IsZero() {
		next := st.Connection.NextAttemptAt
		view.Connection.NextAttemptAt = &next
	}
	if st.Connection.State == domain.StateStreaming && !st.Connection.ConnectedAt.IsZero() {
		at := st.Connection.ConnectedAt
		view.Connection.ConnectedAt = &at
	}
	if !st.StartedAt.IsZero() {
		view.Uptime = time.Since(st.StartedAt).Truncate(time.Second).String()
	}
	c.JSON(http.StatusOK, view)
}

// Run serves until ctx is canceled, then shuts the listener down gracefully.
func (s *Server) Run(ctx context.Context) error {
	op := "Run"
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, op+": Status server listening", map[string]interface{}{"addr": s.addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error(ctx, err, op+": Status server failed", map[string]interface{}{"addr": s.addr})
		return fmt.Errorf("%s failed: %w", op, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn(ctx, op+": Status server shutdown incomplete", map[string]interface{}{"error": err.Error()})
		return fmt.Errorf("%s shutdown failed: %w", op, err)
	}
	s.logger.Info(ctx, op+": Status server stopped")
	return nil
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeaderKey)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeaderKey, requestID)
		c.Next()
	}
}

func (s *Server) loggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug(c.Request.Context(), "HTTP request served", map[string]interface{}{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"latency":   time.Since(start).String(),
			"requestID": c.Writer.Header().Get(RequestIDHeaderKey),
		})
	}
}
