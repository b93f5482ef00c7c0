// Package service orchestrates order matching and settlement across the two
// execution contexts: planning and datastore mutation on the background pool,
// funds and inventory on the owning actor's serial queue. Each request is a
// chain of continuations hopping between the two; results come back through
// a buffered channel completed exactly once.
package service

import (
	"errors"
	"log/slog"
	"time"

	"market_go/internal/domain"
	"market_go/internal/engine"
	"market_go/internal/infra"
	"market_go/internal/infra/storage"
	"market_go/internal/item"
	"market_go/internal/sched"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	msgInvalidAmount   = "amount must be positive"
	msgInvalidPrice    = "price must be positive"
	msgItemBanned      = "this item may not be listed"
	msgNoStock         = "no stock available"
	msgInsufficient    = "insufficient funds"
	msgBoughtOut       = "listings were bought out before your purchase completed; nothing was charged"
	msgPartialError    = "purchase was cut short by a storage error; unfilled funds were returned"
	msgDeliveryData    = "purchase succeeded but item data could not be read for delivery"
	msgCancelInvalid   = "listing cannot be cancelled"
	msgCancelNoFunds   = "cannot afford the cancellation fee"
	msgCancelConflict  = "listing changed before it could be cancelled; the fee was returned"
	msgCancelDataError = "cancelled, but item data could not be read to return the goods"
	msgStorageError    = "storage error, please retry"
	msgShutdown        = "market is shutting down"
)

// errShutdown marks a request rejected because an execution context closed
// underneath it.
var errShutdown = errors.New("market is shutting down")

// Market is the settlement coordinator.
type Market struct {
	log      *slog.Logger
	store    *storage.Store
	matcher  *engine.Matcher
	economy  domain.Economy
	inv      domain.Inventory
	notifier domain.Notifier
	policy   *Policy
	bg       *sched.Pool
	owners   *sched.Actors
	locks    *sched.KeyedLocks
	metrics  *infra.Metrics
	pageSize int
}

// NewMarket wires the coordinator to its collaborators and contexts.
func NewMarket(
	log *slog.Logger,
	store *storage.Store,
	economy domain.Economy,
	inv domain.Inventory,
	notifier domain.Notifier,
	cfg Config,
	bg *sched.Pool,
	owners *sched.Actors,
) *Market {
	return &Market{
		log:      log,
		store:    store,
		matcher:  engine.NewMatcher(store, infra.GlobalMetrics),
		economy:  economy,
		inv:      inv,
		notifier: notifier,
		policy:   NewPolicy(cfg),
		bg:       bg,
		owners:   owners,
		locks:    sched.NewKeyedLocks(),
		metrics:  infra.GlobalMetrics,
		pageSize: cfg.OverviewPageSize,
	}
}

// ReloadPolicy swaps the fee and ban policy; existing listings are untouched.
func (m *Market) ReloadPolicy(cfg Config) {
	m.policy.Reload(cfg)
	m.log.Info("market policy reloaded",
		slog.String("transaction_fee", cfg.DefaultFeeRate.String()),
		slog.String("cancellation_fee", cfg.CancellationFeeRate.String()),
		slog.Int("banned_items", len(cfg.BannedItems)))
}

// ======================================================================================
// Selling
// ======================================================================================

// CreateListing validates and persists a new sell order. The stack's quantity
// is irrelevant to identity; amount is what goes on sale.
func (m *Market) CreateListing(seller uuid.UUID, sellerName string, stack domain.ItemStack, price decimal.Decimal, amount int) <-chan domain.SellResult {
	out := make(chan domain.SellResult, 1)

	if amount <= 0 {
		out <- domain.SellResult{Message: msgInvalidAmount}
		return out
	}
	if !price.IsPositive() {
		out <- domain.SellResult{Message: msgInvalidPrice}
		return out
	}

	hash, canonical, err := item.Identity(stack)
	if err != nil {
		m.log.Error("item canonicalization failed", slog.Any("error", err))
		out <- domain.SellResult{Message: msgStorageError}
		return out
	}
	if m.policy.Banned(hash, stack.MaterialKind) {
		out <- domain.SellResult{Message: msgItemBanned}
		return out
	}

	displayName := stack.DisplayName
	if displayName == "" {
		displayName = stack.MaterialKind
	}

	submitted := m.bg.Submit(func() {
		marketItem := &domain.MarketItem{
			ItemHash:      hash,
			CanonicalData: canonical,
			DisplayName:   displayName,
			MaterialKind:  stack.MaterialKind,
		}
		if err := m.store.SaveMarketItem(marketItem); err != nil {
			m.log.Error("failed to save market item", slog.String("hash", hash), slog.Any("error", err))
			out <- domain.SellResult{Message: msgStorageError}
			return
		}

		order := &domain.SellOrder{
			SellerID:        seller,
			SellerName:      sellerName,
			ItemHash:        hash,
			PricePerUnit:    price,
			TotalAmount:     amount,
			RemainingAmount: amount,
			Status:          domain.StatusOpen,
			CreatedAt:       time.Now(),
		}
		if err := m.store.CreateListing(order); err != nil {
			m.log.Error("failed to create listing", slog.String("hash", hash), slog.Any("error", err))
			out <- domain.SellResult{Message: msgStorageError}
			return
		}

		m.metrics.RecordListingCreated()
		m.log.Info("listing created",
			slog.Uint64("listing_id", order.ID),
			slog.String("seller", sellerName),
			slog.String("hash", hash),
			slog.String("price", price.String()),
			slog.Int("amount", amount))
		out <- domain.SellResult{Success: true, ListingID: order.ID}
	})
	if !submitted {
		out <- domain.SellResult{Message: msgShutdown}
	}
	return out
}

// SellAllMatching lists the entire held quantity of the stack at one price.
func (m *Market) SellAllMatching(seller uuid.UUID, sellerName string, stack domain.ItemStack, price decimal.Decimal) <-chan domain.SellResult {
	return m.CreateListing(seller, sellerName, stack, price, stack.Quantity)
}

// ======================================================================================
// Buying
// ======================================================================================

// Buy runs the four-stage settlement for a market buy:
// Plan (background) -> Reserve (owner) -> Execute (background) -> Reconcile
// (owner). A lost CAS race downgrades the fill, never errors. Once the
// reservation succeeds the flow runs to completion or to a refund.
func (m *Market) Buy(buyer uuid.UUID, buyerName, itemHash string, amount int) <-chan domain.BuyResult {
	out := make(chan domain.BuyResult, 1)
	if amount <= 0 {
		out <- domain.BuyResult{TotalCost: decimal.Zero, Message: msgInvalidAmount}
		return out
	}

	// Stage 1: Plan.
	submitted := m.bg.Submit(func() {
		listings, err := m.store.OpenListingsByItem(itemHash)
		if err != nil {
			m.log.Error("failed to read listings", slog.String("hash", itemHash), slog.Any("error", err))
			out <- domain.BuyResult{TotalCost: decimal.Zero, Message: msgStorageError}
			return
		}

		plan := engine.BuildPlan(listings, buyer, amount)
		if plan.TotalQuantity == 0 {
			out <- domain.BuyResult{TotalCost: decimal.Zero, Message: msgNoStock}
			return
		}

		// Stage 2: Reserve.
		reserved := m.owners.Submit(buyer, func() {
			if !m.economy.Has(buyer, plan.TotalCost) || !m.economy.Withdraw(buyer, plan.TotalCost) {
				out <- domain.BuyResult{TotalCost: plan.TotalCost, Message: msgInsufficient}
				return
			}

			// Stage 3: Execute. A rejected submit means the pool closed with
			// the reservation already taken: refund it here, on the buyer's
			// own queue, before reporting the failure.
			executed := m.bg.Submit(func() {
				unlock := m.locks.Lock(itemHash)
				exec, execErr := m.matcher.Execute(plan, buyer, buyerName)
				unlock()

				feeRate := m.policy.DefaultFee()
				override, feeErr := m.store.FeeRate(itemHash)
				if feeErr != nil {
					m.log.Error("failed to read fee override, falling back to default rate",
						slog.String("hash", itemHash), slog.Any("error", feeErr))
				} else if override.Valid {
					feeRate = override.Decimal
				}
				marketItem, miErr := m.store.GetMarketItem(itemHash)

				// Stage 4: Reconcile.
				reconciled := m.owners.Submit(buyer, func() {
					m.reconcile(out, buyer, itemHash, plan, exec, execErr, feeRate, marketItem, miErr)
				})
				if !reconciled {
					// Cannot happen with the shutdown order (owner queues
					// outlive the pool), but never leave the caller hanging.
					m.log.Error("reconcile rejected, reservation remainder not refunded",
						slog.String("hash", itemHash),
						slog.String("unrefunded", plan.TotalCost.Sub(exec.Cost).String()))
					out <- domain.BuyResult{Success: exec.Filled > 0, AmountBought: exec.Filled, TotalCost: exec.Cost, Message: msgShutdown}
				}
			})
			if !executed {
				m.economy.Deposit(buyer, plan.TotalCost)
				out <- domain.BuyResult{TotalCost: decimal.Zero, Message: msgShutdown}
			}
		})
		if !reserved {
			out <- domain.BuyResult{TotalCost: decimal.Zero, Message: msgShutdown}
		}
	})
	if !submitted {
		out <- domain.BuyResult{TotalCost: decimal.Zero, Message: msgShutdown}
	}
	return out
}

// reconcile runs on the buyer's owner context. Committed trades are never
// undone; only the unconsumed part of the reservation moves back.
func (m *Market) reconcile(
	out chan<- domain.BuyResult,
	buyer uuid.UUID,
	itemHash string,
	plan engine.Plan,
	exec engine.ExecResult,
	execErr error,
	feeRate decimal.Decimal,
	marketItem *domain.MarketItem,
	miErr error,
) {
	refund := plan.TotalCost.Sub(exec.Cost)
	if refund.IsPositive() {
		m.economy.Deposit(buyer, refund)
	}

	if execErr != nil {
		m.metrics.RecordSettlementFailed()
		m.log.Error("buy execution aborted",
			slog.String("hash", itemHash),
			slog.Int("filled", exec.Filled),
			slog.String("refunded", refund.String()),
			slog.Any("error", execErr))
	}

	// Seller payouts hop onto each seller's own context. The fee share is
	// removed from circulation: it is deposited nowhere.
	for _, trade := range exec.Trades {
		tr := trade
		fee := tr.TotalPrice.Mul(feeRate)
		net := tr.TotalPrice.Sub(fee)
		queued := m.owners.Submit(tr.SellerID, func() {
			m.economy.Deposit(tr.SellerID, net)
			m.notifier.NotifySale(domain.SaleNotice{
				Seller:    tr.SellerID,
				ItemHash:  tr.ItemHash,
				BuyerName: tr.BuyerName,
				Amount:    tr.Amount,
				Net:       net,
				Fee:       fee,
			})
		})
		if !queued {
			m.log.Error("seller payout rejected at shutdown",
				slog.String("seller", tr.SellerID.String()),
				slog.Uint64("order_id", tr.OrderID),
				slog.String("net", net.String()))
		}
	}

	switch {
	case execErr != nil && exec.Filled == 0:
		out <- domain.BuyResult{TotalCost: decimal.Zero, Message: msgStorageError}
		return
	case exec.Filled == 0:
		// Every planned listing was lost to concurrent buyers. Not an error:
		// the outcome is a zero fill with the full reservation returned.
		out <- domain.BuyResult{Success: true, TotalCost: decimal.Zero, Message: msgBoughtOut}
		return
	}

	message := ""
	if execErr != nil {
		message = msgPartialError
	}

	if marketItem == nil || miErr != nil {
		m.log.Error("market item unreadable at delivery",
			slog.String("hash", itemHash), slog.Any("error", miErr))
		out <- domain.BuyResult{Success: true, AmountBought: exec.Filled, TotalCost: exec.Cost, Message: msgDeliveryData}
		return
	}
	stack, err := item.Decode(marketItem.CanonicalData)
	if err != nil {
		m.log.Error("corrupt canonical item data",
			slog.String("hash", itemHash), slog.Any("error", err))
		out <- domain.BuyResult{Success: true, AmountBought: exec.Filled, TotalCost: exec.Cost, Message: msgDeliveryData}
		return
	}

	m.deliver(buyer, stack, exec.Filled)
	m.log.Info("buy settled",
		slog.String("hash", itemHash),
		slog.Int("requested", plan.TotalQuantity),
		slog.Int("filled", exec.Filled),
		slog.String("cost", exec.Cost.String()))
	out <- domain.BuyResult{Success: true, AmountBought: exec.Filled, TotalCost: exec.Cost, Message: message}
}

// deliver splits qty of the good into stack-size-bounded chunks. Overflow the
// inventory rejects is dropped into the actor's environment, never destroyed.
func (m *Market) deliver(actor uuid.UUID, base domain.ItemStack, qty int) {
	maxStack := base.MaxStackSize
	if maxStack <= 0 {
		maxStack = 1
	}
	for qty > 0 {
		count := qty
		if count > maxStack {
			count = maxStack
		}
		chunk := base
		chunk.Quantity = count
		if leftover := m.inv.AddItem(actor, chunk); leftover > 0 {
			rest := base
			rest.Quantity = leftover
			m.inv.Drop(actor, rest)
		}
		qty -= count
	}
}

// ======================================================================================
// Cancellation
// ======================================================================================

// Cancel withdraws a listing's remaining amount. The cancellation fee is
// charged on the remaining value before the CANCELLED transition; if the CAS
// then loses to a concurrent fill, the fee is deposited back before the
// failure is reported.
func (m *Market) Cancel(actor uuid.UUID, listingID uint64) <-chan domain.CancelResult {
	out := make(chan domain.CancelResult, 1)

	submitted := m.bg.Submit(func() {
		order, err := m.store.GetListing(listingID)
		if err != nil {
			m.log.Error("failed to read listing", slog.Uint64("listing_id", listingID), slog.Any("error", err))
			out <- domain.CancelResult{Message: msgStorageError}
			return
		}
		if order == nil || order.SellerID != actor || order.Status != domain.StatusOpen {
			out <- domain.CancelResult{Message: msgCancelInvalid}
			return
		}

		remainingValue := order.PricePerUnit.Mul(decimal.NewFromInt(int64(order.RemainingAmount)))
		fee := remainingValue.Mul(m.policy.CancellationFee())

		charged := m.owners.Submit(actor, func() {
			if fee.IsPositive() {
				if !m.economy.Has(actor, fee) || !m.economy.Withdraw(actor, fee) {
					out <- domain.CancelResult{Message: msgCancelNoFunds}
					return
				}
			}

			// A rejected submit means the pool closed with the fee already
			// withdrawn: return it here, on the actor's own queue.
			transitioned := m.bg.Submit(func() {
				cancelled := *order
				cancelled.Status = domain.StatusCancelled
				ok, err := m.store.UpdateListingCAS(&cancelled)
				if err != nil || !ok {
					if err != nil {
						m.log.Error("cancel CAS failed", slog.Uint64("listing_id", listingID), slog.Any("error", err))
					}
					m.refundCancelFee(out, actor, fee, msgCancelConflict)
					return
				}

				marketItem, miErr := m.store.GetMarketItem(order.ItemHash)

				returned := m.owners.Submit(actor, func() {
					if marketItem == nil || miErr != nil {
						m.log.Error("market item unreadable at cancel return",
							slog.String("hash", order.ItemHash), slog.Any("error", miErr))
						m.refundCancelFee(out, actor, fee, msgCancelDataError)
						return
					}
					stack, err := item.Decode(marketItem.CanonicalData)
					if err != nil {
						m.log.Error("corrupt canonical item data",
							slog.String("hash", order.ItemHash), slog.Any("error", err))
						m.refundCancelFee(out, actor, fee, msgCancelDataError)
						return
					}

					m.deliver(actor, stack, order.RemainingAmount)
					m.log.Info("listing cancelled",
						slog.Uint64("listing_id", listingID),
						slog.Int("returned", order.RemainingAmount),
						slog.String("fee", fee.String()))
					out <- domain.CancelResult{Success: true, FeeCharged: fee}
				})
				if !returned {
					m.log.Error("goods return rejected at shutdown",
						slog.Uint64("listing_id", listingID),
						slog.Int("unreturned", order.RemainingAmount))
					out <- domain.CancelResult{Success: true, FeeCharged: fee, Message: msgShutdown}
				}
			})
			if !transitioned {
				if fee.IsPositive() {
					m.economy.Deposit(actor, fee)
				}
				out <- domain.CancelResult{Message: msgShutdown}
			}
		})
		if !charged {
			out <- domain.CancelResult{Message: msgShutdown}
		}
	})
	if !submitted {
		out <- domain.CancelResult{Message: msgShutdown}
	}
	return out
}

// refundCancelFee returns an already-withdrawn cancellation fee on the
// actor's context and completes the request as failed. Must be called from a
// context that may schedule onto the actor.
func (m *Market) refundCancelFee(out chan<- domain.CancelResult, actor uuid.UUID, fee decimal.Decimal, message string) {
	queued := m.owners.Submit(actor, func() {
		if fee.IsPositive() {
			m.economy.Deposit(actor, fee)
		}
		out <- domain.CancelResult{FeeCharged: decimal.Zero, Message: message}
	})
	if !queued {
		m.log.Error("cancellation fee refund rejected at shutdown",
			slog.String("actor", actor.String()), slog.String("fee", fee.String()))
		out <- domain.CancelResult{FeeCharged: fee, Message: message}
	}
}

// ======================================================================================
// Queries
// ======================================================================================

// Overview returns the aggregated open-market snapshot for a 1-based page.
func (m *Market) Overview(page int) <-chan []domain.MarketOverviewItem {
	out := make(chan []domain.MarketOverviewItem, 1)
	if !m.bg.Submit(func() {
		items, err := m.store.MarketOverview(page, m.pageSize)
		if err != nil {
			m.log.Error("overview query failed", slog.Any("error", err))
			out <- nil
			return
		}
		out <- items
	}) {
		out <- nil
	}
	return out
}

// Listings returns all orders of one seller, newest first.
func (m *Market) Listings(seller uuid.UUID) <-chan []domain.SellOrder {
	out := make(chan []domain.SellOrder, 1)
	if !m.bg.Submit(func() {
		orders, err := m.store.ListingsBySeller(seller)
		if err != nil {
			m.log.Error("seller listing query failed", slog.Any("error", err))
			out <- nil
			return
		}
		out <- orders
	}) {
		out <- nil
	}
	return out
}

// ======================================================================================
// Fee & Ban Administration
// ======================================================================================

// SetFeeOverride sets (or clears, when rate is nil) the per-item fee for the
// item the stack canonicalizes to. The item record is created if the item has
// never been listed.
func (m *Market) SetFeeOverride(stack domain.ItemStack, rate *decimal.Decimal) <-chan error {
	out := make(chan error, 1)

	if rate != nil && (rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1))) {
		out <- domain.NewValidationError("rate", "fee rate must be within [0,1]")
		return out
	}

	hash, canonical, err := item.Identity(stack)
	if err != nil {
		out <- err
		return out
	}
	displayName := stack.DisplayName
	if displayName == "" {
		displayName = stack.MaterialKind
	}

	if !m.bg.Submit(func() {
		marketItem := &domain.MarketItem{
			ItemHash:      hash,
			CanonicalData: canonical,
			DisplayName:   displayName,
			MaterialKind:  stack.MaterialKind,
		}
		if err := m.store.SaveMarketItem(marketItem); err != nil {
			out <- err
			return
		}

		var override decimal.NullDecimal
		if rate != nil {
			override = decimal.NullDecimal{Decimal: *rate, Valid: true}
		}
		if err := m.store.SetFeeRate(hash, override); err != nil {
			out <- err
			return
		}
		m.log.Info("fee override updated", slog.String("hash", hash), slog.Bool("cleared", rate == nil))
		out <- nil
	}) {
		out <- errShutdown
	}
	return out
}

// FeeOverrides pages through items carrying a custom fee rate.
func (m *Market) FeeOverrides(page int) <-chan []domain.FeeItem {
	out := make(chan []domain.FeeItem, 1)
	if page < 1 {
		page = 1
	}
	if !m.bg.Submit(func() {
		fees, err := m.store.ItemsWithFeeOverride(m.pageSize, (page-1)*m.pageSize)
		if err != nil {
			m.log.Error("fee override query failed", slog.Any("error", err))
			out <- nil
			return
		}
		out <- fees
	}) {
		out <- nil
	}
	return out
}

// ToggleBan flips the ban state of a stack's content hash and reports the new
// state. Existing listings of the item stay open; the ban only blocks new
// listings.
func (m *Market) ToggleBan(stack domain.ItemStack) (banned bool, err error) {
	hash, _, err := item.Identity(stack)
	if err != nil {
		return false, err
	}
	banned = m.policy.Toggle(hash)
	m.log.Info("ban toggled", slog.String("hash", hash), slog.Bool("banned", banned))
	return banned, nil
}

// ToggleBanMaterial flips the ban state of a whole material kind.
func (m *Market) ToggleBanMaterial(kind string) (banned bool) {
	banned = m.policy.Toggle(kind)
	m.log.Info("ban toggled", slog.String("material", kind), slog.Bool("banned", banned))
	return banned
}

// Bans pages through the ban set, resolving item metadata for hash entries
// the market already knows.
func (m *Market) Bans(page int) <-chan []domain.BanEntry {
	out := make(chan []domain.BanEntry, 1)
	if page < 1 {
		page = 1
	}
	entries := m.policy.Entries()

	if !m.bg.Submit(func() {
		start := (page - 1) * m.pageSize
		if start >= len(entries) {
			out <- nil
			return
		}
		end := start + m.pageSize
		if end > len(entries) {
			end = len(entries)
		}

		result := make([]domain.BanEntry, 0, end-start)
		for _, entry := range entries[start:end] {
			if !item.IsHash(entry) {
				result = append(result, domain.BanEntry{
					MaterialKind: entry,
					DisplayName:  entry,
				})
				continue
			}
			ban := domain.BanEntry{IsHash: true, ItemHash: entry}
			if mi, err := m.store.GetMarketItem(entry); err == nil && mi != nil {
				ban.DisplayName = mi.DisplayName
				ban.MaterialKind = mi.MaterialKind
			}
			result = append(result, ban)
		}
		out <- result
	}) {
		out <- nil
	}
	return out
}
