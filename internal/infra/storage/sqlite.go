package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"qrl_trader/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage is the SQLite-backed position store: per-symbol exposure, the
// append-only trade ledger, orders awaiting reconciliation, and cycle runs.
type Storage struct {
	db  *gorm.DB
	now func() time.Time

	// beforeCommit runs as the last step of the RecordFill transaction.
	// Tests use it to interrupt a write halfway.
	beforeCommit func() error
}

// NewStorage opens (creating if needed) the database at path.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		return nil, errors.New("storage path is empty")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  newGormLogger(os.Stderr),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	// One connection: every write is serialized and readers never see a
	// transaction in progress.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&domain.Position{}, &domain.TradeRecord{}, &domain.PendingOrder{}, &domain.CycleRun{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db, now: time.Now}, nil
}

// newGormLogger reports slow queries and errors to w. A missing row is an
// expected lookup result and is not logged.
func newGormLogger(w io.Writer) logger.Interface {
	return logger.New(log.New(w, "", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

// Close releases the database handle.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Position Operations
// ======================================================================================

// GetExposure returns the quote-currency exposure of symbol; zero if never traded.
func (s *Storage) GetExposure(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var pos domain.Position
	err := s.db.WithContext(ctx).First(&pos, "symbol = ?", symbol).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil // Not found is not an error
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get exposure %s: %w", symbol, err)
	}
	return pos.ExposureQuote, nil
}

// ListPositions returns every position, sorted by symbol.
func (s *Storage) ListPositions(ctx context.Context) ([]domain.Position, error) {
	var positions []domain.Position
	err := s.db.WithContext(ctx).Order("symbol").Find(&positions).Error
	return positions, err
}

func validateFill(f domain.Fill) error {
	switch {
	case f.Symbol == "":
		return errors.New("fill without symbol")
	case f.ClientOrderID == "":
		return errors.New("fill without client order id")
	case !domain.ValidSide(f.Side):
		return fmt.Errorf("invalid fill side %q", f.Side)
	case !f.Price.IsPositive() || !f.Quantity.IsPositive():
		return errors.New("fill price and quantity must be positive")
	}
	return nil
}

// RecordFill applies a confirmed execution in one transaction: the position
// moves by the fill cost (sells clamp at zero), a TradeRecord is appended and
// any pending order with the same client order id is cleared. Either all of
// it is visible afterwards or none of it is.
//
// Recording a client order id that is already in the ledger changes nothing
// and returns the existing record.
func (s *Storage) RecordFill(ctx context.Context, f domain.Fill) (domain.TradeRecord, error) {
	if err := validateFill(f); err != nil {
		return domain.TradeRecord{}, err
	}

	now := s.now().UTC()
	var rec domain.TradeRecord

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing domain.TradeRecord
		err := tx.First(&existing, "client_order_id = ?", f.ClientOrderID).Error
		if err == nil {
			rec = existing
			return tx.Delete(&domain.PendingOrder{}, "client_order_id = ?", f.ClientOrderID).Error
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var pos domain.Position
		err = tx.First(&pos, "symbol = ?", f.Symbol).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			pos = domain.Position{Symbol: f.Symbol, ExposureQuote: decimal.Zero}
		case err != nil:
			return err
		}

		cost := f.Cost()
		if f.Side == domain.SideBuy {
			pos.ExposureQuote = pos.ExposureQuote.Add(cost)
		} else {
			pos.ExposureQuote = decimal.Max(pos.ExposureQuote.Sub(cost), decimal.Zero)
		}
		pos.UpdatedAt = now

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{"exposure_quote", "updated_at"}),
		}).Create(&pos).Error; err != nil {
			return fmt.Errorf("upsert position: %w", err)
		}

		rec = domain.TradeRecord{
			OrderID:       f.OrderID,
			ClientOrderID: f.ClientOrderID,
			Symbol:        f.Symbol,
			Side:          f.Side,
			Price:         f.Price,
			Quantity:      f.Quantity,
			CostQuote:     cost,
			Strategy:      f.Strategy,
			CreatedAt:     now,
		}
		if err := tx.Create(&rec).Error; err != nil {
			return fmt.Errorf("append trade: %w", err)
		}

		if err := tx.Delete(&domain.PendingOrder{}, "client_order_id = ?", f.ClientOrderID).Error; err != nil {
			return fmt.Errorf("clear pending: %w", err)
		}

		if s.beforeCommit != nil {
			return s.beforeCommit()
		}
		return nil
	})
	if err != nil {
		return domain.TradeRecord{}, fmt.Errorf("record fill %s: %w", f.ClientOrderID, err)
	}
	return rec, nil
}

// ======================================================================================
// Ledger Operations
// ======================================================================================

// GetHistory returns up to limit trades, newest first. An empty symbol
// returns every symbol; limit <= 0 means no limit.
func (s *Storage) GetHistory(ctx context.Context, symbol string, limit int) ([]domain.TradeRecord, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC").Order("id DESC")
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var trades []domain.TradeRecord
	err := q.Find(&trades).Error
	return trades, err
}

// TradeStats returns the number of trades of symbol at or after since, and
// the time of the most recent trade (zero if none).
func (s *Storage) TradeStats(ctx context.Context, symbol string, since time.Time) (int64, time.Time, error) {
	db := s.db.WithContext(ctx)

	var count int64
	if err := db.Model(&domain.TradeRecord{}).
		Where("symbol = ? AND created_at >= ?", symbol, since.UTC()).
		Count(&count).Error; err != nil {
		return 0, time.Time{}, fmt.Errorf("count trades %s: %w", symbol, err)
	}

	var last domain.TradeRecord
	err := db.Where("symbol = ?", symbol).Order("created_at DESC").Order("id DESC").Take(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return count, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("last trade %s: %w", symbol, err)
	}
	return count, last.CreatedAt, nil
}

// ======================================================================================
// Pending Order Operations
// ======================================================================================

// SavePending stores an order whose submission outcome is unknown.
func (s *Storage) SavePending(ctx context.Context, p domain.PendingOrder) error {
	if p.ClientOrderID == "" {
		return errors.New("pending order without client order id")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	return s.db.WithContext(ctx).Save(&p).Error
}

// ListPending returns pending orders oldest first. An empty symbol returns all.
func (s *Storage) ListPending(ctx context.Context, symbol string) ([]domain.PendingOrder, error) {
	q := s.db.WithContext(ctx).Order("created_at")
	if symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}
	var pending []domain.PendingOrder
	err := q.Find(&pending).Error
	return pending, err
}

// DeletePending drops a pending order. Deleting an unknown id is not an error.
func (s *Storage) DeletePending(ctx context.Context, clientOrderID string) error {
	return s.db.WithContext(ctx).Delete(&domain.PendingOrder{}, "client_order_id = ?", clientOrderID).Error
}

// ======================================================================================
// Cycle Run Operations
// ======================================================================================

// SaveCycleRun appends the outcome of one cycle.
func (s *Storage) SaveCycleRun(ctx context.Context, run *domain.CycleRun) error {
	return s.db.WithContext(ctx).Create(run).Error
}

// LastCycleRuns returns the newest run of every symbol, sorted by symbol.
func (s *Storage) LastCycleRuns(ctx context.Context) ([]domain.CycleRun, error) {
	db := s.db.WithContext(ctx)
	latest := db.Model(&domain.CycleRun{}).Select("MAX(id)").Group("symbol")

	var runs []domain.CycleRun
	err := db.Where("id IN (?)", latest).Order("symbol").Find(&runs).Error
	return runs, err
}
