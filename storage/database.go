package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/merklemind/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - Poll history, deposit journal and trade log
// ═══════════════════════════════════════════════════════════════════════════════

// ErrPollNotFound is returned by GetPoll for unknown poll ids
var ErrPollNotFound = errors.New("poll not found")

type Database struct {
	db *gorm.DB
}

// Models

type PollRecord struct {
	PollID    string `gorm:"primaryKey"`
	MessageID int
	ChannelID int64
	Question  string
	Pair      string
	Action    string
	YesCount  int
	NoCount   int
	Closed    bool   `gorm:"index"`
	Result    string // "executed", "rejected", "cancelled"
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Deposit struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	UserID    int64           `gorm:"index"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,6)"`
	CreatedAt time.Time
}

type TradeLog struct {
	ID        string `gorm:"primaryKey"`
	Pair      string `gorm:"index"`
	Action    string
	Status    string `gorm:"index"` // "executed", "failed", "skipped"
	TxHash    string
	Error     string
	CreatedAt time.Time
}

// New opens the database at dsn: a postgres:// URL, or a SQLite file path
func New(dsn string) (*Database, error) {
	var db *gorm.DB
	var err error

	cfg := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dsn), cfg)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dsn).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(&PollRecord{}, &Deposit{}, &TradeLog{}); err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

// Poll operations

// PollOpened stores a newly published poll
func (d *Database) PollOpened(p types.Poll) error {
	return d.db.Create(&PollRecord{
		PollID:    p.PollID,
		MessageID: p.MessageID,
		ChannelID: p.ChannelID,
		Question:  p.Question,
		Pair:      p.Pair,
		Action:    string(p.Action),
		YesCount:  p.YesCount,
		NoCount:   p.NoCount,
		CreatedAt: p.CreatedAt,
	}).Error
}

// PollResolved records the final tally and outcome of a poll
func (d *Database) PollResolved(p types.Poll, result string) error {
	return d.db.Model(&PollRecord{}).
		Where("poll_id = ?", p.PollID).
		Updates(map[string]interface{}{
			"yes_count": p.YesCount,
			"no_count":  p.NoCount,
			"closed":    true,
			"result":    result,
		}).Error
}

// GetPoll returns one stored poll or ErrPollNotFound
func (d *Database) GetPoll(pollID string) (*PollRecord, error) {
	var poll PollRecord
	err := d.db.First(&poll, "poll_id = ?", pollID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPollNotFound
	}
	if err != nil {
		return nil, err
	}
	return &poll, nil
}

func (d *Database) GetRecentPolls(limit int) ([]PollRecord, error) {
	var polls []PollRecord
	err := d.db.Order("created_at DESC").Limit(limit).Find(&polls).Error
	return polls, err
}

// Deposit operations

// DepositRecorded appends an accepted deposit to the journal
func (d *Database) DepositRecorded(userID int64, amount decimal.Decimal) error {
	return d.db.Create(&Deposit{UserID: userID, Amount: amount}).Error
}

// DepositBalances sums the journal per user
func (d *Database) DepositBalances() (map[int64]decimal.Decimal, error) {
	var deposits []Deposit
	if err := d.db.Order("id ASC").Find(&deposits).Error; err != nil {
		return nil, err
	}

	balances := make(map[int64]decimal.Decimal)
	for _, dep := range deposits {
		balances[dep.UserID] = balances[dep.UserID].Add(dep.Amount)
	}
	return balances, nil
}

// Trade operations

// TradeRecorded logs an execution attempt
func (d *Database) TradeRecorded(rec types.TradeRecord) error {
	created := rec.Timestamp
	if created.IsZero() {
		created = time.Now()
	}
	return d.db.Create(&TradeLog{
		ID:        uuid.NewString(),
		Pair:      rec.Pair,
		Action:    string(rec.Action),
		Status:    string(rec.Status),
		TxHash:    rec.TxHash,
		Error:     rec.Error,
		CreatedAt: created,
	}).Error
}

func (d *Database) GetRecentTrades(limit int) ([]TradeLog, error) {
	var trades []TradeLog
	err := d.db.Order("created_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// GetTradesByStatus returns trades with status, newest first
func (d *Database) GetTradesByStatus(status types.TradeStatus, limit int) ([]TradeLog, error) {
	var trades []TradeLog
	err := d.db.Where("status = ?", string(status)).Order("created_at DESC").Limit(limit).Find(&trades).Error
	return trades, err
}

// ExecutedTrades returns recent successful executions
func (d *Database) ExecutedTrades(limit int) ([]types.TradeRecord, error) {
	logs, err := d.GetTradesByStatus(types.TradeStatusExecuted, limit)
	if err != nil {
		return nil, err
	}

	records := make([]types.TradeRecord, 0, len(logs))
	for _, l := range logs {
		records = append(records, types.TradeRecord{
			Pair:      l.Pair,
			Action:    types.Action(l.Action),
			Status:    types.TradeStatus(l.Status),
			TxHash:    l.TxHash,
			Error:     l.Error,
			Timestamp: l.CreatedAt,
		})
	}
	return records, nil
}

// Stats operations

func (d *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var pollCount int64
	if err := d.db.Model(&PollRecord{}).Count(&pollCount).Error; err != nil {
		return nil, err
	}
	stats["total_polls"] = pollCount

	var executed int64
	d.db.Model(&PollRecord{}).Where("result = ?", "executed").Count(&executed)
	stats["executed_polls"] = executed

	var tradeCount int64
	d.db.Model(&TradeLog{}).Count(&tradeCount)
	stats["total_trades"] = tradeCount

	var depositCount int64
	d.db.Model(&Deposit{}).Count(&depositCount)
	stats["total_deposits"] = depositCount

	return stats, nil
}

// Close releases the connection pool
func (d *Database) Close() {
	if sqlDB, err := d.db.DB(); err == nil {
		sqlDB.Close()
	}
}
