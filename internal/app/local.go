package app

import (
	"sync"

	"market_go/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LocalEconomy is an in-process ledger used when the engine runs standalone,
// without a host economy plugged in. Accounts start empty; Credit seeds them.
type LocalEconomy struct {
	mu       sync.Mutex
	balances map[uuid.UUID]decimal.Decimal
}

func NewLocalEconomy() *LocalEconomy {
	return &LocalEconomy{balances: make(map[uuid.UUID]decimal.Decimal)}
}

// Credit seeds an account. Intended for bootstrap and tooling, not settlement.
func (e *LocalEconomy) Credit(actor uuid.UUID, amount decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[actor] = e.balances[actor].Add(amount)
}

func (e *LocalEconomy) Has(actor uuid.UUID, amount decimal.Decimal) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.balances[actor].GreaterThanOrEqual(amount)
}

func (e *LocalEconomy) Withdraw(actor uuid.UUID, amount decimal.Decimal) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.balances[actor].LessThan(amount) {
		return false
	}
	e.balances[actor] = e.balances[actor].Sub(amount)
	return true
}

func (e *LocalEconomy) Deposit(actor uuid.UUID, amount decimal.Decimal) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.balances[actor] = e.balances[actor].Add(amount)
	return true
}

func (e *LocalEconomy) Format(amount decimal.Decimal) string {
	return "$" + amount.StringFixed(2)
}

// LocalInventory records deliveries per actor. A standalone process has no
// real inventory to fill, so nothing ever overflows.
type LocalInventory struct {
	mu   sync.Mutex
	held map[uuid.UUID][]domain.ItemStack
}

func NewLocalInventory() *LocalInventory {
	return &LocalInventory{held: make(map[uuid.UUID][]domain.ItemStack)}
}

func (i *LocalInventory) AddItem(actor uuid.UUID, stack domain.ItemStack) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.held[actor] = append(i.held[actor], stack)
	return 0
}

func (i *LocalInventory) Drop(actor uuid.UUID, stack domain.ItemStack) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.held[actor] = append(i.held[actor], stack)
}
