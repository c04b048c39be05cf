package core

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DEPOSIT LEDGER - USDC deposited per user, never decremented
// ═══════════════════════════════════════════════════════════════════════════════

// DepositJournal persists accepted deposits
type DepositJournal interface {
	DepositRecorded(userID int64, amount decimal.Decimal) error
}

type Ledger struct {
	mu       sync.RWMutex
	deposits map[int64]decimal.Decimal
	journal  DepositJournal
}

// NewLedger creates an empty ledger. journal may be nil.
func NewLedger(journal DepositJournal) *Ledger {
	return &Ledger{
		deposits: make(map[int64]decimal.Decimal),
		journal:  journal,
	}
}

// Restore seeds balances loaded from the journal
func (l *Ledger) Restore(balances map[int64]decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for userID, amount := range balances {
		l.deposits[userID] = l.deposits[userID].Add(amount)
	}
}

// RecordDeposit credits amount to userID and returns the total across all users
func (l *Ledger) RecordDeposit(userID int64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, ErrInvalidAmount
	}

	l.mu.Lock()
	// credited only once journaled
	if l.journal != nil {
		if err := l.journal.DepositRecorded(userID, amount); err != nil {
			l.mu.Unlock()
			log.Error().Err(err).Int64("user_id", userID).Msg("Failed to journal deposit")
			return decimal.Zero, fmt.Errorf("journal deposit: %w", err)
		}
	}
	l.deposits[userID] = l.deposits[userID].Add(amount)
	total := l.totalLocked()
	l.mu.Unlock()

	log.Info().
		Int64("user_id", userID).
		Str("amount", amount.String()).
		Str("total", total.String()).
		Msg("💵 Deposit recorded")

	return total, nil
}

// Balance returns the deposited amount for userID
func (l *Ledger) Balance(userID int64) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.deposits[userID]
}

// Total returns the sum of all deposits
func (l *Ledger) Total() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalLocked()
}

func (l *Ledger) totalLocked() decimal.Decimal {
	total := decimal.Zero
	for _, amount := range l.deposits {
		total = total.Add(amount)
	}
	return total
}
