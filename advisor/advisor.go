package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/web3guy0/merklemind/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ADVISOR - LLM long/short pick over venue market data
// ═══════════════════════════════════════════════════════════════════════════════

var (
	ErrEmptyCompletion = errors.New("llm returned no content")
	ErrBadCompletion   = errors.New("llm reply is not a token pick")
	ErrUnknownPair     = errors.New("llm picked a pair not in market data")
	ErrNoMarketData    = errors.New("no market data")
)

const systemPrompt = "You are a professional crypto trader. Guide the user by analyzing the provided token data."

const sampleOutput = `Sample Output:
     {id: "BTC_USD",
      explanation: "your reasoning text"
}`

// Completer is a single-shot LLM call
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Snapshotter supplies merged market data
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]MarketSnapshot, error)
}

// LivePrices is an optional source of fresher prices
type LivePrices interface {
	Snapshot() map[string]decimal.Decimal
}

// Advisor proposes one pair to buy and one to sell
type Advisor struct {
	market Snapshotter
	llm    Completer
	live   LivePrices
}

// New creates an advisor. live may be nil.
func New(market Snapshotter, llm Completer, live LivePrices) *Advisor {
	return &Advisor{market: market, llm: llm, live: live}
}

// Propose returns [long pick, short pick]
func (a *Advisor) Propose(ctx context.Context) ([]types.Proposal, error) {
	snapshot, err := a.market.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("market data: %w", err)
	}
	if len(snapshot) == 0 {
		return nil, ErrNoMarketData
	}
	a.overlayLive(snapshot)

	input, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(snapshot))
	for _, s := range snapshot {
		known[s.ID] = true
	}

	buyPrompt := fmt.Sprintf("Take the below input data for each token and return the best token id we should buy\n\nInput:\n%s\n\n%s", input, sampleOutput)
	long, err := a.pick(ctx, buyPrompt, types.ActionLong, known)
	if err != nil {
		return nil, err
	}

	sellPrompt := fmt.Sprintf("Take the below input data for each token and return the best token id we should sell. Please make sure to exclude %s from the list.\n\nInput:\n%s\n\n%s", long.ID, input, sampleOutput)
	short, err := a.pick(ctx, sellPrompt, types.ActionShort, known)
	if err != nil {
		return nil, err
	}
	if short.ID == long.ID {
		return nil, fmt.Errorf("%w: short pick repeats %s", ErrBadCompletion, long.ID)
	}

	log.Info().
		Str("long", long.ID).
		Str("short", short.ID).
		Int("pairs", len(snapshot)).
		Msg("🧠 Advisor proposal ready")

	return []types.Proposal{long, short}, nil
}

func (a *Advisor) pick(ctx context.Context, prompt string, side types.Action, known map[string]bool) (types.Proposal, error) {
	content, err := a.llm.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return types.Proposal{}, fmt.Errorf("%s pick: %w", side, err)
	}
	if !gjson.Valid(content) {
		return types.Proposal{}, fmt.Errorf("%s pick: %w", side, ErrBadCompletion)
	}

	id := strings.TrimSpace(gjson.Get(content, "id").String())
	if id == "" {
		return types.Proposal{}, fmt.Errorf("%s pick: %w", side, ErrBadCompletion)
	}
	if !known[id] {
		return types.Proposal{}, fmt.Errorf("%s pick %q: %w", side, id, ErrUnknownPair)
	}

	return types.Proposal{
		ID:          id,
		Explanation: gjson.Get(content, "explanation").String(),
		Side:        side,
	}, nil
}

func (a *Advisor) overlayLive(snapshot []MarketSnapshot) {
	if a.live == nil {
		return
	}
	prices := a.live.Snapshot()
	for i := range snapshot {
		if p, ok := prices[snapshot[i].ID]; ok {
			snapshot[i].Price = p
			if !snapshot[i].Price24Ago.IsZero() {
				snapshot[i].PriceDiff1D = p.Sub(snapshot[i].Price24Ago)
			}
		}
	}
}
