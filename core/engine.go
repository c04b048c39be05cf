package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/merklemind/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE - Vote tally & decision policy
// ═══════════════════════════════════════════════════════════════════════════════
//
// Flow:
//   Poll update → Tally → Threshold? → Stop poll → yes > no ? Execute : Report
//
// A poll triggers once yes+no reaches the trade threshold. The trade is only
// executed on a strict yes majority; ties and no-majorities are reported.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	MsgTradeRejected = "Trade not executed. More 'No' votes."

	resultExecuted = "executed"
	resultRejected = "rejected"
)

// TradeExecutor runs a decided trade and reports the outcome itself
type TradeExecutor interface {
	ExecuteTrade(ctx context.Context, rec *types.Recommendation)
}

// Decision is what the engine did with a poll update
type Decision int

const (
	DecisionIgnored Decision = iota
	DecisionPending
	DecisionExecuted
	DecisionRejected
	DecisionCloseFailed
)

func (d Decision) String() string {
	switch d {
	case DecisionIgnored:
		return "ignored"
	case DecisionPending:
		return "pending"
	case DecisionExecuted:
		return "executed"
	case DecisionRejected:
		return "rejected"
	case DecisionCloseFailed:
		return "close_failed"
	default:
		return "unknown"
	}
}

type Engine struct {
	session   *Session
	polls     *PollManager
	messenger Messenger
	executor  TradeExecutor
	channelID int64
}

// NewEngine wires the decision policy
func NewEngine(session *Session, polls *PollManager, messenger Messenger, executor TradeExecutor, channelID int64) *Engine {
	return &Engine{
		session:   session,
		polls:     polls,
		messenger: messenger,
		executor:  executor,
		channelID: channelID,
	}
}

// Session exposes the shared state
func (e *Engine) Session() *Session {
	return e.session
}

// OpenTradePoll asks the channel whether to take action on pair. The pair and
// action become the live recommendation once the poll is published.
func (e *Engine) OpenTradePoll(ctx context.Context, pair, action string) (types.Poll, error) {
	pair = strings.TrimSpace(pair)
	if pair == "" {
		return types.Poll{}, fmt.Errorf("pair is required")
	}
	a, err := types.ParseAction(action)
	if err != nil {
		return types.Poll{}, ErrInvalidAction
	}

	rec := &types.Recommendation{Pair: pair, Action: a}
	question := fmt.Sprintf("Should we %s %s for the day?", a, pair)

	return e.polls.Create(ctx, e.channelID, question, []string{"Yes", "No"}, rec)
}

// ClosePoll stops the current poll without executing anything
func (e *Engine) ClosePoll(ctx context.Context) (types.Tally, error) {
	poll := e.session.CurrentPoll()
	if poll == nil || !e.session.claim(poll.PollID) {
		return types.Tally{}, ErrNoActivePoll
	}

	tally, err := e.polls.Close(ctx, poll.ChannelID, poll.MessageID)
	if err != nil {
		e.session.setState(poll.PollID, types.PollStateOpen)
		return types.Tally{}, err
	}
	e.session.setState(poll.PollID, types.PollStateClosed)
	e.polls.resolved(*poll, "cancelled")
	return tally, nil
}

// HandlePollUpdate applies a vote update and, when the threshold is met,
// closes the poll and executes or rejects the recommendation.
func (e *Engine) HandlePollUpdate(ctx context.Context, upd types.PollUpdate) Decision {
	poll, matched, decided := e.session.tally(upd)
	if !matched {
		log.Debug().Str("poll_id", upd.PollID).Msg("Ignoring update for untracked poll")
		return DecisionIgnored
	}

	log.Info().
		Str("poll_id", poll.PollID).
		Int("yes", poll.YesCount).
		Int("no", poll.NoCount).
		Str("state", string(poll.State)).
		Msg("🗳️ Poll tally")

	if !decided {
		if poll.State == types.PollStateOpen {
			return DecisionPending
		}
		return DecisionIgnored
	}

	if _, err := e.polls.Close(ctx, poll.ChannelID, poll.MessageID); err != nil {
		e.session.setState(poll.PollID, types.PollStateOpen)
		log.Error().Err(err).Str("poll_id", poll.PollID).Msg("Error stopping poll")
		e.notify(ctx, fmt.Sprintf("Error closing poll: %v", err))
		return DecisionCloseFailed
	}
	e.session.setState(poll.PollID, types.PollStateClosed)
	poll.State = types.PollStateClosed

	if poll.YesCount > poll.NoCount {
		e.polls.resolved(poll, resultExecuted)
		e.executor.ExecuteTrade(ctx, e.session.Recommendation())
		return DecisionExecuted
	}

	e.polls.resolved(poll, resultRejected)
	e.notify(ctx, MsgTradeRejected)
	return DecisionRejected
}

func (e *Engine) notify(ctx context.Context, text string) {
	if _, err := e.messenger.SendMessage(ctx, e.channelID, text); err != nil {
		log.Error().Err(err).Msg("Failed to send channel message")
	}
}
