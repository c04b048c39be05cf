package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/merklemind/core"
	"github.com/web3guy0/merklemind/exec"
	"github.com/web3guy0/merklemind/storage"
)

type createPollRequest struct {
	Pair   string `json:"pair"`
	Action string `json:"action"`
}

type configureRequest struct {
	Threshold *int `json:"threshold"`
}

type depositRequest struct {
	UserID *int64   `json:"user_id"`
	Amount *float64 `json:"amount"`
}

type pairRequest struct {
	Long  string `json:"long"`
	Short string `json:"short"`
}

func (s *Server) handleCreatePoll(c *gin.Context) {
	var req createPollRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Pair) == "" || strings.TrimSpace(req.Action) == "" {
		c.String(http.StatusBadRequest, "Missing pair or action")
		return
	}

	_, err := s.cfg.Engine.OpenTradePoll(c.Request.Context(), req.Pair, req.Action)
	switch {
	case errors.Is(err, core.ErrInvalidAction):
		c.String(http.StatusBadRequest, "Invalid action. Use long or short.")
	case err != nil:
		log.Error().Err(err).Msg("Error creating poll")
		c.String(http.StatusInternalServerError, "Error creating poll")
	default:
		c.String(http.StatusOK, "Poll created")
	}
}

func (s *Server) handleConfigure(c *gin.Context) {
	var req configureRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Threshold == nil {
		c.String(http.StatusBadRequest, "Invalid threshold value")
		return
	}
	if err := s.cfg.Engine.Session().SetTradeThreshold(*req.Threshold); err != nil {
		c.String(http.StatusBadRequest, "Invalid threshold value")
		return
	}
	c.String(http.StatusOK, fmt.Sprintf("Trade threshold set to: %d", *req.Threshold))
}

func (s *Server) handleVerifyDeposit(c *gin.Context) {
	var req depositRequest
	userID, amount, err := req.bind(c)
	if err != nil {
		c.String(http.StatusBadRequest, "Invalid request. User ID and amount are required.")
		return
	}

	total, err := s.cfg.Ledger.RecordDeposit(userID, amount)
	switch {
	case errors.Is(err, core.ErrInvalidAmount):
		c.String(http.StatusBadRequest, "Invalid request. User ID and amount are required.")
	case err != nil:
		log.Error().Err(err).Int64("user_id", userID).Msg("Error verifying deposit")
		c.String(http.StatusInternalServerError, "Error verifying deposit")
	default:
		c.String(http.StatusOK, fmt.Sprintf("Deposit verified. Total deposits: %s", total.String()))
	}
}

func (r *depositRequest) bind(c *gin.Context) (int64, decimal.Decimal, error) {
	if err := c.ShouldBindJSON(r); err != nil {
		return 0, decimal.Zero, fmt.Errorf("%w: %v", core.ErrInvalidDeposit, err)
	}
	if r.UserID == nil || r.Amount == nil {
		return 0, decimal.Zero, core.ErrInvalidDeposit
	}
	// negative ids are chats, not users
	if *r.UserID <= 0 {
		return 0, decimal.Zero, fmt.Errorf("%w: user id %d", core.ErrInvalidDeposit, *r.UserID)
	}
	return *r.UserID, decimal.NewFromFloat(*r.Amount), nil
}

func (s *Server) handleProposal(c *gin.Context) {
	if s.cfg.Advisor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "advisor not configured"})
		return
	}

	ctx, cancel := withTimeout(c.Request.Context(), s.cfg.LLMTimeout)
	defer cancel()

	proposals, err := s.cfg.Advisor.Propose(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Advisor failed")
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, proposals)
}

func (s *Server) handleOpenOrder(c *gin.Context) {
	s.handlePair(c, "open")
}

func (s *Server) handleCloseOrder(c *gin.Context) {
	s.handlePair(c, "close")
}

func (s *Server) handlePair(c *gin.Context, op string) {
	if s.cfg.Trader == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trading not configured"})
		return
	}

	var req pairRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Long) == "" || strings.TrimSpace(req.Short) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "long and short are required"})
		return
	}

	ctx, cancel := withTimeout(c.Request.Context(), s.cfg.OrderTimeout)
	defer cancel()

	var hashes []string
	var err error
	if op == "open" {
		hashes, err = s.cfg.Trader.OpenPair(ctx, req.Long, req.Short)
	} else {
		hashes, err = s.cfg.Trader.ClosePair(ctx, req.Long, req.Short)
	}

	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, exec.ErrPositionNotFound) {
			status = http.StatusNotFound
		}
		log.Error().Err(err).Str("op", op).Str("long", req.Long).Str("short", req.Short).Msg("Pair order failed")
		c.JSON(status, gin.H{"error": err.Error(), "hashes": hashes})
		return
	}

	log.Info().Str("op", op).Str("long", req.Long).Str("short", req.Short).Strs("hashes", hashes).Msg("✅ Pair order placed")
	c.JSON(http.StatusOK, gin.H{"hashes": hashes})
}

// ═══════════════════════════════════════════════════════════════════════════════
// MONITORING
// ═══════════════════════════════════════════════════════════════════════════════

const defaultHistoryLimit = 20

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{"status": "ok"}
	if s.cfg.Breaker != nil {
		tripped := s.cfg.Breaker.IsTripped()
		body["venue_paused"] = tripped
		if tripped {
			body["status"] = "degraded"
		}
	}
	if s.cfg.Feed != nil {
		body["price_feed_connected"] = s.cfg.Feed.IsConnected()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleStats(c *gin.Context) {
	if !s.requireHistory(c) {
		return
	}
	stats, err := s.cfg.History.GetStats()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}
	stats["pool_total"] = s.cfg.Ledger.Total().String()
	stats["trade_threshold"] = s.cfg.Engine.Session().TradeThreshold()
	c.JSON(http.StatusOK, stats)
}

func (s *Server) handleRecentPolls(c *gin.Context) {
	if !s.requireHistory(c) {
		return
	}
	polls, err := s.cfg.History.GetRecentPolls(historyLimit(c))
	if err != nil {
		log.Error().Err(err).Msg("Failed to load polls")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load polls"})
		return
	}
	c.JSON(http.StatusOK, polls)
}

func (s *Server) handleGetPoll(c *gin.Context) {
	if !s.requireHistory(c) {
		return
	}
	poll, err := s.cfg.History.GetPoll(c.Param("id"))
	switch {
	case errors.Is(err, storage.ErrPollNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "poll not found"})
	case err != nil:
		log.Error().Err(err).Msg("Failed to load poll")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load poll"})
	default:
		c.JSON(http.StatusOK, poll)
	}
}

func (s *Server) handleRecentTrades(c *gin.Context) {
	if !s.requireHistory(c) {
		return
	}
	trades, err := s.cfg.History.GetRecentTrades(historyLimit(c))
	if err != nil {
		log.Error().Err(err).Msg("Failed to load trades")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load trades"})
		return
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) requireHistory(c *gin.Context) bool {
	if s.cfg.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history not configured"})
		return false
	}
	return true
}

func historyLimit(c *gin.Context) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 || n > 100 {
		return defaultHistoryLimit
	}
	return n
}
