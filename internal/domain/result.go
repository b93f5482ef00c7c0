package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BuyResult reports the outcome of a buy request. A lost concurrency race is
// not a failure: it surfaces as a smaller AmountBought with Success still set
// when at least one unit filled.
type BuyResult struct {
	Success      bool
	AmountBought int
	TotalCost    decimal.Decimal
	Message      string
}

// SellResult reports the outcome of a listing creation.
type SellResult struct {
	Success   bool
	ListingID uint64
	Message   string
}

// CancelResult reports the outcome of a cancellation, including the fee that
// was ultimately charged (zero when the cancel failed and the fee was
// refunded).
type CancelResult struct {
	Success    bool
	FeeCharged decimal.Decimal
	Message    string
}

// PriceLevel is one entry of an item's price histogram.
type PriceLevel struct {
	Price  decimal.Decimal
	Amount int
}

// MarketOverviewItem aggregates the open listings of one item for display.
// It is an eventually-consistent snapshot, not transactional with matching.
type MarketOverviewItem struct {
	ItemHash          string
	DisplayName       string
	MaterialKind      string
	MinPrice          decimal.Decimal
	TotalStock        int
	PriceDistribution []PriceLevel // ascending by price
}

// FeeItem is a per-item fee override together with the item's metadata.
type FeeItem struct {
	ItemHash     string
	DisplayName  string
	MaterialKind string
	FeeRate      decimal.Decimal
}

// BanEntry is one entry of the listing ban set. Hash entries carry resolved
// item metadata when the item is known to the market.
type BanEntry struct {
	IsHash       bool
	ItemHash     string
	DisplayName  string
	MaterialKind string
}

// SaleNotice is pushed to a seller when one of their listings fills.
type SaleNotice struct {
	Seller    uuid.UUID       `json:"-"`
	ItemHash  string          `json:"item_hash"`
	BuyerName string          `json:"buyer_name"`
	Amount    int             `json:"amount"`
	Net       decimal.Decimal `json:"net"`
	Fee       decimal.Decimal `json:"fee"`
}
