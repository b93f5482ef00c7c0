package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarketItem stores the canonical form of a tradeable good, keyed by its
// content hash. The canonical blob is opaque to the engine: it is stored,
// hashed and handed back to the inventory layer, never interpreted.
type MarketItem struct {
	ItemHash      string              `gorm:"primaryKey;size:64" json:"item_hash"`
	CanonicalData []byte              `gorm:"not null" json:"canonical_data"`
	DisplayName   string              `gorm:"size:255" json:"display_name"`
	MaterialKind  string              `gorm:"size:64;index" json:"material_kind"`
	FeeRate       decimal.NullDecimal `gorm:"type:decimal(5,4)" json:"fee_rate"` // per-item override, NULL = global default
}

// ItemStack is the in-memory representation of a good as handed over by the
// host inventory. Quantity is the only field excluded from item identity.
type ItemStack struct {
	MaterialKind string            `json:"material_kind"`
	DisplayName  string            `json:"display_name,omitempty"`
	MaxStackSize int               `json:"max_stack_size"`
	Quantity     int               `json:"quantity"`
	Attributes   map[string]string `json:"attributes,omitempty"` // enchantments, custom metadata, etc.
}

// SellOrder is a seller's standing offer. Rows are never deleted, only
// status-transitioned, so the table doubles as an audit trail. Version is the
// optimistic-lock counter: it increases exactly once per successful mutation.
type SellOrder struct {
	ID              uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	SellerID        uuid.UUID       `gorm:"type:varchar(36);not null;index" json:"seller_id"`
	SellerName      string          `gorm:"size:64;not null" json:"seller_name"` // snapshot at listing time
	ItemHash        string          `gorm:"size:64;not null;index:idx_orders_match,priority:1" json:"item_hash"`
	PricePerUnit    decimal.Decimal `gorm:"type:decimal(20,2);not null;index:idx_orders_match,priority:3" json:"price_per_unit"`
	TotalAmount     int             `gorm:"not null" json:"total_amount"`
	RemainingAmount int             `gorm:"not null" json:"remaining_amount"`
	Status          OrderStatus     `gorm:"size:20;not null;index:idx_orders_match,priority:2" json:"status"`
	CreatedAt       time.Time       `gorm:"not null;index" json:"created_at"`
	Version         int             `gorm:"not null;default:0" json:"version"`
}

// Transaction is an append-only trade record, written exactly once per
// successful fill and never mutated.
type Transaction struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	BuyerID      uuid.UUID       `gorm:"type:varchar(36);not null;index" json:"buyer_id"`
	BuyerName    string          `gorm:"size:64;not null" json:"buyer_name"`
	SellerID     uuid.UUID       `gorm:"type:varchar(36);not null;index" json:"seller_id"`
	SellerName   string          `gorm:"size:64;not null" json:"seller_name"`
	OrderID      uint64          `gorm:"not null" json:"order_id"`
	ItemHash     string          `gorm:"size:64;not null;index" json:"item_hash"`
	Amount       int             `gorm:"not null" json:"amount"`
	PricePerUnit decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"price_per_unit"`
	TotalPrice   decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"total_price"`
	TradedAt     time.Time       `gorm:"not null" json:"traded_at"`
}
