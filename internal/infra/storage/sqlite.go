// Package storage persists market items, sell orders and trade records in
// SQLite. The version-conditioned update is the system's sole listing
// mutation path and its optimistic-concurrency primitive.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"market_go/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store is the SQLite-backed listing store.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at path and migrates the schema.
func Open(path string) (*Store, error) {
	dbDir := filepath.Dir(path)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.MarketItem{}, &domain.SellOrder{}, &domain.Transaction{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Market Item Operations
// ======================================================================================

// SaveMarketItem inserts the canonical item record if it does not exist yet.
// Existing rows are left untouched so a later save cannot clobber a fee
// override.
func (s *Store) SaveMarketItem(item *domain.MarketItem) error {
	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(item).Error
	if err != nil {
		return domain.NewPersistenceError("save market item", err)
	}
	return nil
}

// GetMarketItem retrieves an item by content hash. Not found is not an error.
func (s *Store) GetMarketItem(hash string) (*domain.MarketItem, error) {
	var item domain.MarketItem
	err := s.db.First(&item, "item_hash = ?", hash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewPersistenceError("get market item", err)
	}
	return &item, nil
}

// SetFeeRate sets or clears (rate.Valid == false) the per-item fee override.
func (s *Store) SetFeeRate(hash string, rate decimal.NullDecimal) error {
	err := s.db.Model(&domain.MarketItem{}).
		Where("item_hash = ?", hash).
		Update("fee_rate", rate).Error
	if err != nil {
		return domain.NewPersistenceError("set fee rate", err)
	}
	return nil
}

// FeeRate returns the per-item override for hash, invalid when absent.
func (s *Store) FeeRate(hash string) (decimal.NullDecimal, error) {
	item, err := s.GetMarketItem(hash)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	if item == nil {
		return decimal.NullDecimal{}, nil
	}
	return item.FeeRate, nil
}

// ItemsWithFeeOverride pages through items carrying a custom fee rate.
func (s *Store) ItemsWithFeeOverride(limit, offset int) ([]domain.FeeItem, error) {
	var items []domain.MarketItem
	err := s.db.Where("fee_rate IS NOT NULL").
		Order("item_hash").
		Limit(limit).Offset(offset).
		Find(&items).Error
	if err != nil {
		return nil, domain.NewPersistenceError("list fee overrides", err)
	}

	fees := make([]domain.FeeItem, 0, len(items))
	for _, it := range items {
		fees = append(fees, domain.FeeItem{
			ItemHash:     it.ItemHash,
			DisplayName:  it.DisplayName,
			MaterialKind: it.MaterialKind,
			FeeRate:      it.FeeRate.Decimal,
		})
	}
	return fees, nil
}

// ======================================================================================
// Sell Order Operations
// ======================================================================================

// CreateListing inserts a new sell order and assigns its id. The insert is a
// single statement; it either lands completely or not at all.
func (s *Store) CreateListing(order *domain.SellOrder) error {
	if err := s.db.Create(order).Error; err != nil {
		return domain.NewPersistenceError("create listing", err)
	}
	return nil
}

// GetListing retrieves a sell order by id. Not found is not an error.
func (s *Store) GetListing(id uint64) (*domain.SellOrder, error) {
	var order domain.SellOrder
	err := s.db.First(&order, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.NewPersistenceError("get listing", err)
	}
	return &order, nil
}

// OpenListingsByItem returns the OPEN listings for an item in matching order:
// cheapest first, oldest first at equal price, creation id as the final
// tie-break for same-instant rows.
func (s *Store) OpenListingsByItem(hash string) ([]domain.SellOrder, error) {
	var orders []domain.SellOrder
	err := s.db.
		Where("item_hash = ? AND status = ?", hash, domain.StatusOpen).
		Order("price_per_unit ASC").Order("created_at ASC").Order("id ASC").
		Find(&orders).Error
	if err != nil {
		return nil, domain.NewPersistenceError("find open listings", err)
	}
	return orders, nil
}

// ListingsBySeller returns all of a seller's orders, newest first.
func (s *Store) ListingsBySeller(seller uuid.UUID) ([]domain.SellOrder, error) {
	var orders []domain.SellOrder
	err := s.db.
		Where("seller_id = ?", seller).
		Order("created_at DESC").Order("id DESC").
		Find(&orders).Error
	if err != nil {
		return nil, domain.NewPersistenceError("find seller listings", err)
	}
	return orders, nil
}

// UpdateListingCAS persists the order's remaining amount and status,
// conditioned on id and the version the caller last read. The version column
// increments atomically with the update. Returns false when another actor won
// the race; that is a no-op, not an error, and the caller must re-read before
// deciding anything further.
func (s *Store) UpdateListingCAS(order *domain.SellOrder) (bool, error) {
	res := s.db.Model(&domain.SellOrder{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Updates(map[string]interface{}{
			"remaining_amount": order.RemainingAmount,
			"status":           order.Status,
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, domain.NewPersistenceError("update listing", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// ======================================================================================
// Trade Records
// ======================================================================================

// RecordTrade appends one trade to the transaction log.
func (s *Store) RecordTrade(tx *domain.Transaction) error {
	if err := s.db.Create(tx).Error; err != nil {
		return domain.NewPersistenceError("record trade", err)
	}
	return nil
}

// TradesByItem returns the trade log for one item, oldest first.
func (s *Store) TradesByItem(hash string) ([]domain.Transaction, error) {
	var trades []domain.Transaction
	err := s.db.Where("item_hash = ?", hash).Order("id ASC").Find(&trades).Error
	if err != nil {
		return nil, domain.NewPersistenceError("find trades", err)
	}
	return trades, nil
}

// ======================================================================================
// Market Overview
// ======================================================================================

type overviewRow struct {
	ItemHash     string
	DisplayName  string
	MaterialKind string
	MinPrice     decimal.Decimal
	TotalStock   int
}

type distributionRow struct {
	ItemHash     string
	PricePerUnit decimal.Decimal
	Amount       int
}

// MarketOverview aggregates open listings per item: minimum price, total
// remaining stock and a price histogram. The result is a read-only snapshot;
// it is not transactional with matching. Page is 1-based.
func (s *Store) MarketOverview(page, pageSize int) ([]domain.MarketOverviewItem, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	var rows []overviewRow
	err := s.db.Table("sell_orders").
		Select("market_items.item_hash, market_items.display_name, market_items.material_kind, " +
			"MIN(sell_orders.price_per_unit) AS min_price, SUM(sell_orders.remaining_amount) AS total_stock").
		Joins("JOIN market_items ON market_items.item_hash = sell_orders.item_hash").
		Where("sell_orders.status = ?", domain.StatusOpen).
		Group("market_items.item_hash").
		Order("total_stock DESC").
		Limit(pageSize).Offset(offset).
		Scan(&rows).Error
	if err != nil {
		return nil, domain.NewPersistenceError("market overview", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	hashes := make([]string, 0, len(rows))
	for _, r := range rows {
		hashes = append(hashes, r.ItemHash)
	}

	var levels []distributionRow
	err = s.db.Table("sell_orders").
		Select("item_hash, price_per_unit, SUM(remaining_amount) AS amount").
		Where("status = ? AND item_hash IN ?", domain.StatusOpen, hashes).
		Group("item_hash").Group("price_per_unit").
		Order("price_per_unit ASC").
		Scan(&levels).Error
	if err != nil {
		return nil, domain.NewPersistenceError("price distribution", err)
	}

	dist := make(map[string][]domain.PriceLevel, len(rows))
	for _, lv := range levels {
		dist[lv.ItemHash] = append(dist[lv.ItemHash], domain.PriceLevel{
			Price:  lv.PricePerUnit,
			Amount: lv.Amount,
		})
	}

	items := make([]domain.MarketOverviewItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, domain.MarketOverviewItem{
			ItemHash:          r.ItemHash,
			DisplayName:       r.DisplayName,
			MaterialKind:      r.MaterialKind,
			MinPrice:          r.MinPrice,
			TotalStock:        r.TotalStock,
			PriceDistribution: dist[r.ItemHash],
		})
	}
	return items, nil
}
