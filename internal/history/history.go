// Package history persists the transaction history shown to the user.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mrz1836/herald/internal/chain"
)

// ErrEntryNotFound is returned when an update matches no entry.
var ErrEntryNotFound = errors.New("history entry not found")

// Status values stored with an entry.
const (
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
)

// Entry is one transaction in the history.
type Entry struct {
	ID            uint   `gorm:"primaryKey"`
	TransactionID string `gorm:"index"`
	Chain         string `gorm:"index:idx_history_chain_hash"`
	ExtrinsicHash string `gorm:"index:idx_history_chain_hash"`
	ChainType     string
	Address       string `gorm:"index"`
	Signer        string
	Status        string `gorm:"index"`
	Amount        string
	Fee           string
	Symbol        string
	BlockHash     string
	BlockNumber   uint64
	Error         string
	URL           string
	ExplorerLink  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName sets the table name for Entry.
func (Entry) TableName() string {
	return "transaction_history"
}

// Patch holds the fields Update changes. Empty fields are left alone.
type Patch struct {
	Status       string
	BlockHash    string
	BlockNumber  uint64
	Error        string
	ExplorerLink string
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Address string
	Chain   chain.ID
	Status  string
	Limit   int
}

// Store is a sqlite-backed history store.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the history database at path.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting database handle: %w", err)
	}
	// sqlite allows one writer; a single connection also keeps ":memory:" databases shared.
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Entry{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrating history database: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts a new entry.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	entry.ID = 0
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("recording %s: %w", entry.TransactionID, err)
	}
	return nil
}

// Update applies patch to the entries of hash on chainID.
func (s *Store) Update(ctx context.Context, chainID chain.ID, hash string, patch Patch) error {
	update := map[string]any{"updated_at": time.Now()}
	if patch.Status != "" {
		update["status"] = patch.Status
	}
	if patch.BlockHash != "" {
		update["block_hash"] = patch.BlockHash
	}
	if patch.BlockNumber != 0 {
		update["block_number"] = patch.BlockNumber
	}
	if patch.Error != "" {
		update["error"] = patch.Error
	}
	if patch.ExplorerLink != "" {
		update["explorer_link"] = patch.ExplorerLink
	}

	result := s.db.WithContext(ctx).Model(&Entry{}).
		Where("chain = ? AND extrinsic_hash = ?", string(chainID), hash).
		Updates(update)
	if result.Error != nil {
		return fmt.Errorf("updating %s on %s: %w", hash, chainID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s on %s", ErrEntryNotFound, hash, chainID)
	}
	return nil
}

// List returns entries matching filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := s.db.WithContext(ctx).Model(&Entry{})
	if filter.Address != "" {
		query = query.Where("address = ?", filter.Address)
	}
	if filter.Chain != "" {
		query = query.Where("chain = ?", string(filter.Chain))
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var entries []Entry
	if err := query.Order("created_at DESC, id DESC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	return entries, nil
}

// Get returns the latest entry for a transaction id.
func (s *Store) Get(ctx context.Context, transactionID string) (*Entry, error) {
	var entry Entry
	err := s.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Order("id DESC").First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, transactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", transactionID, err)
	}
	return &entry, nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
