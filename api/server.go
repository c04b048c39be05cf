package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/merklemind/core"
	"github.com/web3guy0/merklemind/storage"
	"github.com/web3guy0/merklemind/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP API - Admin endpoints for polls, threshold, deposits and orders
// ═══════════════════════════════════════════════════════════════════════════════

// Advisor proposes a long and a short pick
type Advisor interface {
	Propose(ctx context.Context) ([]types.Proposal, error)
}

// PairTrader opens and closes a long/short pair on the venue
type PairTrader interface {
	OpenPair(ctx context.Context, long, short string) ([]string, error)
	ClosePair(ctx context.Context, long, short string) ([]string, error)
}

// History reads persisted polls, trades and totals
type History interface {
	GetStats() (map[string]interface{}, error)
	GetPoll(pollID string) (*storage.PollRecord, error)
	GetRecentPolls(limit int) ([]storage.PollRecord, error)
	GetRecentTrades(limit int) ([]storage.TradeLog, error)
}

// Breaker reports whether venue calls are paused
type Breaker interface {
	IsTripped() bool
}

// Feed reports the live price stream connection
type Feed interface {
	IsConnected() bool
}

// ServerConfig describes the HTTP server dependencies
type ServerConfig struct {
	Addr       string
	AdminToken string
	Engine     *core.Engine
	Ledger     *core.Ledger
	Advisor    Advisor    // optional
	Trader     PairTrader // optional
	History    History    // optional
	Breaker    Breaker    // optional
	Feed       Feed       // optional

	OrderTimeout time.Duration
	LLMTimeout   time.Duration
}

// Server serves the admin HTTP API
type Server struct {
	addr   string
	router *gin.Engine
	cfg    ServerConfig
}

// NewServer builds the router
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil || cfg.Ledger == nil {
		return nil, errors.New("http server requires engine and ledger")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":3000"
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{addr: cfg.Addr, router: router, cfg: cfg}

	router.GET("/healthz", s.handleHealth)

	admin := router.Group("/", requireAdmin(cfg.AdminToken))
	admin.POST("/create-poll", s.handleCreatePoll)
	admin.POST("/configure", s.handleConfigure)
	admin.POST("/verify-deposit", s.handleVerifyDeposit)
	admin.GET("/proposal", s.handleProposal)
	admin.POST("/open-order", s.handleOpenOrder)
	admin.POST("/close-order", s.handleCloseOrder)
	admin.GET("/stats", s.handleStats)
	admin.GET("/polls", s.handleRecentPolls)
	admin.GET("/polls/:id", s.handleGetPoll)
	admin.GET("/trades", s.handleRecentTrades)

	return s, nil
}

// Handler exposes the router for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address
func (s *Server) Addr() string {
	return s.addr
}

// Start serves until ctx is cancelled or the listener fails
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	log.Info().Str("addr", s.addr).Msg("🌐 HTTP server listening")

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

// requireAdmin checks the bearer token in constant time
func requireAdmin(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		given, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || given == "" {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		if token == "" || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
			log.Warn().Str("ip", c.ClientIP()).Str("path", c.Request.URL.Path).Msg("Rejected admin request")
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Str("ip", c.ClientIP()).
			Dur("dur", time.Since(start)).
			Msg("HTTP request")
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
