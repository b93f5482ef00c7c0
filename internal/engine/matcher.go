// Package engine selects and consumes listings in price/time order. Planning
// is a lock-free read; execution re-validates each listing through the
// store's compare-and-swap, so racing buyers can never consume the same units
// twice. The loser of a race simply fills less than planned.
package engine

import (
	"time"

	"market_go/internal/domain"
	"market_go/internal/infra"
	"market_go/internal/infra/storage"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PlannedFill is one tentative (listing, quantity, cost) step of a plan.
type PlannedFill struct {
	Listing  domain.SellOrder
	Quantity int
	Cost     decimal.Decimal
}

// Plan is the tentative fill sequence for a buy request, fixed before any
// funds move. Actual fills may come in below it when races are lost.
type Plan struct {
	ItemHash      string
	Fills         []PlannedFill
	TotalQuantity int
	TotalCost     decimal.Decimal
}

// ExecResult is what actually happened: one trade per listing filled.
type ExecResult struct {
	Trades []domain.Transaction
	Filled int
	Cost   decimal.Decimal
}

// BuildPlan greedily walks listings, already ordered by price then creation
// time, consuming up to each listing's remaining amount until requested units
// are planned or listings run out. The buyer's own listings are skipped: no
// self-trading.
func BuildPlan(listings []domain.SellOrder, buyer uuid.UUID, requested int) Plan {
	plan := Plan{TotalCost: decimal.Zero}
	need := requested
	for _, order := range listings {
		if need <= 0 {
			break
		}
		if order.SellerID == buyer || order.RemainingAmount <= 0 {
			continue
		}
		if plan.ItemHash == "" {
			plan.ItemHash = order.ItemHash
		}

		count := order.RemainingAmount
		if count > need {
			count = need
		}
		cost := order.PricePerUnit.Mul(decimal.NewFromInt(int64(count)))

		plan.Fills = append(plan.Fills, PlannedFill{Listing: order, Quantity: count, Cost: cost})
		plan.TotalQuantity += count
		plan.TotalCost = plan.TotalCost.Add(cost)
		need -= count
	}
	return plan
}

// Matcher executes plans against the listing store.
type Matcher struct {
	store   *storage.Store
	metrics *infra.Metrics
}

// NewMatcher creates a matcher bound to the given store.
func NewMatcher(store *storage.Store, metrics *infra.Metrics) *Matcher {
	return &Matcher{store: store, metrics: metrics}
}

// Execute runs the plan listing by listing. Each step decrements the
// listing's remaining amount via CAS and, on success, appends one trade
// record. A CAS loss truncates that step and moves on to the next planned
// listing; it is never an error and never retried. Errors are datastore I/O
// failures only; the partial result accumulated so far is returned alongside,
// because those fills have already committed.
func (m *Matcher) Execute(plan Plan, buyer uuid.UUID, buyerName string) (ExecResult, error) {
	res := ExecResult{Cost: decimal.Zero}
	for _, fill := range plan.Fills {
		order := fill.Listing
		order.ApplyFill(fill.Quantity)

		ok, err := m.store.UpdateListingCAS(&order)
		if err != nil {
			return res, err
		}
		if !ok {
			// Another buyer won this listing between plan and execute.
			m.metrics.RecordCASConflict()
			continue
		}

		trade := domain.Transaction{
			BuyerID:      buyer,
			BuyerName:    buyerName,
			SellerID:     order.SellerID,
			SellerName:   order.SellerName,
			OrderID:      order.ID,
			ItemHash:     order.ItemHash,
			Amount:       fill.Quantity,
			PricePerUnit: order.PricePerUnit,
			TotalPrice:   fill.Cost,
			TradedAt:     time.Now(),
		}
		if err := m.store.RecordTrade(&trade); err != nil {
			// The CAS above committed but the trade record did not. The units
			// are not counted toward the fill, so the buyer gets refunded for
			// them during reconciliation; the discrepancy is the caller's to
			// log.
			return res, err
		}

		res.Trades = append(res.Trades, trade)
		res.Filled += fill.Quantity
		res.Cost = res.Cost.Add(fill.Cost)
		m.metrics.RecordTradeFilled(fill.Quantity)
	}
	return res, nil
}
