package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cluster_go/internal/domain"
)

// TradeRecord is the persisted form of a closed trade. Profit is stored as
// a decimal string so the daily-loss sums stay exact across restarts.
type TradeRecord struct {
	ID         uint   `gorm:"primaryKey"`
	Ticket     string `gorm:"index"`
	EngineID   int    `gorm:"index"`
	EngineName string
	Side       string
	Mode       string
	EntryPrice float64
	ExitPrice  float64
	Lots       float64
	Profit     string
	Reason     string
	OpenedAt   time.Time
	ClosedAt   time.Time `gorm:"index"`
}

// AppState is a small key/value table for runtime state that must survive
// restarts, such as the last halt deadline.
type AppState struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// Journal is the SQLite trade journal.
type Journal struct {
	db *gorm.DB
}

// NewJournal opens (or creates) the journal database at path.
func NewJournal(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	if err := db.AutoMigrate(&TradeRecord{}, &AppState{}); err != nil {
		return nil, fmt.Errorf("failed to migrate journal database: %w", err)
	}

	return &Journal{db: db}, nil
}

// RecordClose appends one closed trade.
func (j *Journal) RecordClose(trade domain.ClosedTrade) error {
	rec := TradeRecord{
		Ticket:     trade.Ticket,
		EngineID:   trade.EngineID,
		EngineName: trade.EngineName,
		Side:       string(trade.Side),
		Mode:       string(trade.Mode),
		EntryPrice: trade.EntryPrice,
		ExitPrice:  trade.ExitPrice,
		Lots:       trade.Lots,
		Profit:     trade.Profit.String(),
		Reason:     trade.Reason,
		OpenedAt:   trade.OpenedAt,
		ClosedAt:   trade.ClosedAt,
	}
	return j.db.Create(&rec).Error
}

// RealizedSince sums realized profit for one engine from since onward.
func (j *Journal) RealizedSince(engineID int, since time.Time) (decimal.Decimal, error) {
	return j.sumProfits(j.db.Where("engine_id = ? AND closed_at >= ?", engineID, since))
}

// RealizedSinceAll sums realized profit across every engine from since onward.
func (j *Journal) RealizedSinceAll(since time.Time) (decimal.Decimal, error) {
	return j.sumProfits(j.db.Where("closed_at >= ?", since))
}

func (j *Journal) sumProfits(q *gorm.DB) (decimal.Decimal, error) {
	var profits []string
	if err := q.Model(&TradeRecord{}).Pluck("profit", &profits).Error; err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range profits {
		d, err := decimal.NewFromString(p)
		if err != nil {
			return decimal.Zero, fmt.Errorf("corrupt profit value %q: %w", p, err)
		}
		total = total.Add(d)
	}
	return total, nil
}

// Trades returns the newest trades, most recent first.
func (j *Journal) Trades(limit int) ([]TradeRecord, error) {
	var recs []TradeRecord
	err := j.db.Order("closed_at DESC").Limit(limit).Find(&recs).Error
	return recs, err
}

// SaveState stores a key/value pair, overwriting any previous value.
func (j *Journal) SaveState(key, value string) error {
	return j.db.Save(&AppState{Key: key, Value: value}).Error
}

// LoadState returns the stored value for key, or "" when absent.
func (j *Journal) LoadState(key string) (string, error) {
	var st AppState
	err := j.db.First(&st, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	return st.Value, err
}
