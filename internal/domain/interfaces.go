package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Economy is the external account ledger. All calls are synchronous and only
// safe from the owning actor's execution context. The ledger is assumed
// internally consistent; this subsystem never re-verifies its atomicity.
type Economy interface {
	Has(actor uuid.UUID, amount decimal.Decimal) bool
	Withdraw(actor uuid.UUID, amount decimal.Decimal) bool
	Deposit(actor uuid.UUID, amount decimal.Decimal) bool
	Format(amount decimal.Decimal) string
}

// Inventory delivers goods into an actor's inventory. AddItem returns the
// quantity that did not fit; the caller must hand the leftover to Drop rather
// than discard it. Only safe from the owning actor's execution context.
type Inventory interface {
	AddItem(actor uuid.UUID, stack ItemStack) (leftover int)
	Drop(actor uuid.UUID, stack ItemStack)
}

// Notifier pushes a sale notice to a seller if they are reachable. Best
// effort: delivery failures are not reported back to settlement.
type Notifier interface {
	NotifySale(notice SaleNotice)
}
