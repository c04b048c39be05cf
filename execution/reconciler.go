package execution

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/merklemind/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RECONCILIATION - Startup position check
// ═══════════════════════════════════════════════════════════════════════════════
//
// On startup, we:
// 1. Load recent executed trades from the journal
// 2. Fetch open positions from the venue
// 3. Warn about executed trades whose position is gone
//
// Nothing is opened or closed here.
//
// ═══════════════════════════════════════════════════════════════════════════════

// PositionReader lists open venue positions
type PositionReader interface {
	GetPositions(ctx context.Context, address string) ([]types.Position, error)
	Address() string
}

// TradeHistory lists journaled executions
type TradeHistory interface {
	ExecutedTrades(limit int) ([]types.TradeRecord, error)
}

// ReconcileReport summarizes a startup check
type ReconcileReport struct {
	OpenPositions []types.Position
	Missing       []types.TradeRecord
}

type Reconciler struct {
	venue   PositionReader
	history TradeHistory
	limit   int
}

// NewReconciler creates a position reconciler. history may be nil.
func NewReconciler(venue PositionReader, history TradeHistory) *Reconciler {
	return &Reconciler{
		venue:   venue,
		history: history,
		limit:   20,
	}
}

// Reconcile compares journaled executions with the venue's open positions
func (r *Reconciler) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	positions, err := r.venue.GetPositions(ctx, r.venue.Address())
	if err != nil {
		return nil, fmt.Errorf("fetch positions: %w", err)
	}

	report := &ReconcileReport{OpenPositions: positions}
	for _, p := range positions {
		log.Info().
			Str("pair", p.Symbol()).
			Bool("long", p.IsLong).
			Str("size", p.Size.StringFixed(2)).
			Str("collateral", p.Collateral.StringFixed(2)).
			Msg("📥 Open position")
	}

	if r.history == nil {
		log.Info().Msg("📦 No trade journal - skipping reconciliation")
		return report, nil
	}

	trades, err := r.history.ExecutedTrades(r.limit)
	if err != nil {
		return report, fmt.Errorf("load trades: %w", err)
	}

	for _, t := range trades {
		if hasPosition(positions, t) {
			continue
		}
		report.Missing = append(report.Missing, t)
		log.Warn().
			Str("pair", t.Pair).
			Str("action", string(t.Action)).
			Str("tx", t.TxHash).
			Time("executed_at", t.Timestamp).
			Msg("⚠️ Executed trade has no open position")
	}

	log.Info().
		Int("open", len(positions)).
		Int("missing", len(report.Missing)).
		Msg("✅ Position reconciliation complete")

	return report, nil
}

func hasPosition(positions []types.Position, t types.TradeRecord) bool {
	for _, p := range positions {
		if p.Symbol() == t.Pair && p.IsLong == t.Action.IsLong() {
			return true
		}
	}
	return false
}
