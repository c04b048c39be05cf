package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Action is the side the group votes on
type Action string

const (
	ActionLong  Action = "long"
	ActionShort Action = "short"
)

// ParseAction normalizes a user supplied side
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionLong:
		return ActionLong, nil
	case ActionShort:
		return ActionShort, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// IsLong reports whether the action opens a long position
func (a Action) IsLong() bool {
	return a == ActionLong
}

// Recommendation is the pair and side currently proposed for trading
type Recommendation struct {
	Pair   string `json:"pair"`
	Action Action `json:"action"`
}

// PollState is the lifecycle state of the tracked poll
type PollState string

const (
	PollStateOpen             PollState = "open"
	PollStateThresholdReached PollState = "threshold_reached"
	PollStateClosed           PollState = "closed"
)

// Poll is the poll currently tracked by the decision policy
type Poll struct {
	PollID    string    `json:"poll_id"`
	MessageID int       `json:"message_id"`
	ChannelID int64     `json:"channel_id"`
	Question  string    `json:"question"`
	Pair      string    `json:"pair"`
	Action    Action    `json:"action"`
	YesCount  int       `json:"yes_count"`
	NoCount   int       `json:"no_count"`
	State     PollState `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// Closed reports whether the poll reached its terminal state
func (p Poll) Closed() bool {
	return p.State == PollStateClosed
}

// Tally is a yes/no vote count
type Tally struct {
	Yes int `json:"yes"`
	No  int `json:"no"`
}

// Total returns yes+no
func (t Tally) Total() int {
	return t.Yes + t.No
}

// PollUpdate is a vote-count update pushed by the messaging platform
type PollUpdate struct {
	PollID string
	Tally  Tally
	Closed bool
}

// TradeStatus is the outcome of an execution attempt
type TradeStatus string

const (
	TradeStatusExecuted TradeStatus = "executed"
	TradeStatusFailed   TradeStatus = "failed"
	TradeStatusSkipped  TradeStatus = "skipped"
)

// TradeRecord for persistence and display
type TradeRecord struct {
	Pair      string
	Action    Action
	Status    TradeStatus
	TxHash    string
	Error     string
	Timestamp time.Time
}

// Position is an open venue position
type Position struct {
	PairType   string          `json:"pairType"`
	IsLong     bool            `json:"isLong"`
	Size       decimal.Decimal `json:"size"`
	Collateral decimal.Decimal `json:"collateral"`
}

// Symbol returns the pair id portion of the venue pair type
func (p Position) Symbol() string {
	if idx := strings.LastIndex(p.PairType, "::"); idx >= 0 {
		return p.PairType[idx+2:]
	}
	return p.PairType
}

// Proposal is one advisor pick
type Proposal struct {
	ID          string `json:"id"`
	Explanation string `json:"explanation"`
	Side        Action `json:"side"`
}
