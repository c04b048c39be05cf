package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/merklemind/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION LAYER - Turn a decided recommendation into a venue order
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow:
//   Decision → Executor → Notice → OrderPlacer → Success / Failure notice
//
// Every outcome becomes a channel message. Nothing is returned or raised to
// the caller.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	MsgNoRecommendation = "No recommended pair or action to execute trade."
)

// Notifier posts text to a chat
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) (int, error)
}

// OrderPlacer opens a position on the venue and returns its acknowledgment
type OrderPlacer interface {
	OpenPosition(ctx context.Context, pair string, action types.Action) (string, error)
}

// TradeJournal persists execution attempts
type TradeJournal interface {
	TradeRecorded(rec types.TradeRecord) error
}

// Executor runs trades decided by the poll
type Executor struct {
	notifier  Notifier
	placer    OrderPlacer
	journal   TradeJournal
	channelID int64
	timeout   time.Duration

	mu        sync.RWMutex
	lastTrade *types.TradeRecord

	// Metrics
	totalTrades  int64
	executed     int64
	failedTrades int64
}

// NewExecutor creates the trade executor. journal may be nil; a zero
// timeout leaves order placement bounded only by the caller's context.
func NewExecutor(notifier Notifier, placer OrderPlacer, channelID int64, timeout time.Duration, journal TradeJournal) *Executor {
	log.Info().
		Int64("channel", channelID).
		Dur("order_timeout", timeout).
		Msg("⚡ Executor initialized")

	return &Executor{
		notifier:  notifier,
		placer:    placer,
		journal:   journal,
		channelID: channelID,
		timeout:   timeout,
	}
}

// ExecuteTrade places the order for rec and reports the outcome to the channel
func (e *Executor) ExecuteTrade(ctx context.Context, rec *types.Recommendation) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Recovered from panic during trade execution")
			e.finish(ctx, types.TradeRecord{Status: types.TradeStatusFailed, Error: fmt.Sprint(r)},
				fmt.Sprintf("Error executing trade: %v", r))
		}
	}()

	if rec == nil || rec.Pair == "" || rec.Action == "" {
		log.Error().Msg(MsgNoRecommendation)
		e.finish(ctx, types.TradeRecord{Status: types.TradeStatusSkipped, Error: MsgNoRecommendation}, MsgNoRecommendation)
		return
	}

	e.notify(ctx, fmt.Sprintf("Executing %s trade on %s based on poll results...", rec.Action, rec.Pair))

	log.Info().
		Str("pair", rec.Pair).
		Str("action", string(rec.Action)).
		Msg("📤 Placing order")

	orderCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		orderCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	record := types.TradeRecord{Pair: rec.Pair, Action: rec.Action}
	ack, err := e.placer.OpenPosition(orderCtx, rec.Pair, rec.Action)
	if err != nil {
		log.Error().Err(err).Str("pair", rec.Pair).Msg("❌ Trade failed")
		record.Status = types.TradeStatusFailed
		record.Error = err.Error()
		e.finish(ctx, record, fmt.Sprintf("Error executing trade: %v", err))
		return
	}

	log.Info().Str("pair", rec.Pair).Str("tx", ack).Msg("✅ Trade executed")
	record.Status = types.TradeStatusExecuted
	record.TxHash = ack
	e.finish(ctx, record, fmt.Sprintf("Trade executed: %s", ack))
}

func (e *Executor) finish(ctx context.Context, record types.TradeRecord, notice string) {
	record.Timestamp = time.Now()

	e.mu.Lock()
	e.lastTrade = &record
	if record.Status != types.TradeStatusSkipped {
		e.totalTrades++
	}
	switch record.Status {
	case types.TradeStatusExecuted:
		e.executed++
	case types.TradeStatusFailed:
		e.failedTrades++
	}
	e.mu.Unlock()

	if e.journal != nil {
		if err := e.journal.TradeRecorded(record); err != nil {
			log.Warn().Err(err).Msg("Failed to persist trade")
		}
	}

	e.notify(ctx, notice)
}

func (e *Executor) notify(ctx context.Context, text string) {
	if _, err := e.notifier.SendMessage(ctx, e.channelID, text); err != nil {
		log.Error().Err(err).Msg("Failed to send channel message")
	}
}

// LastTrade returns the most recent execution attempt, nil if none
func (e *Executor) LastTrade() *types.TradeRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.lastTrade == nil {
		return nil
	}
	rec := *e.lastTrade
	return &rec
}

// GetMetrics returns execution metrics
func (e *Executor) GetMetrics() map[string]interface{} {
	e.mu.RLock()
	defer e.mu.RUnlock()

	successRate := float64(0)
	if e.totalTrades > 0 {
		successRate = float64(e.executed) / float64(e.totalTrades) * 100
	}

	return map[string]interface{}{
		"total_trades":    e.totalTrades,
		"executed_trades": e.executed,
		"failed_trades":   e.failedTrades,
		"success_rate":    successRate,
	}
}
