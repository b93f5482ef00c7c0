package domain

// OrderStatus is the lifecycle state of a sell order.
type OrderStatus string

const (
	// StatusOpen covers both untouched and partially filled listings.
	StatusOpen OrderStatus = "OPEN"
	// StatusDone means remaining_amount reached zero through fills.
	StatusDone OrderStatus = "DONE"
	// StatusCancelled means the seller withdrew the remaining amount.
	StatusCancelled OrderStatus = "CANCELLED"
)

// IsTerminal reports whether the order may never be mutated again.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// ApplyFill consumes count units from the order's remaining amount and
// transitions it to DONE when emptied. The caller persists the change through
// the store's compare-and-swap; this only mutates the in-memory copy.
func (o *SellOrder) ApplyFill(count int) {
	o.RemainingAmount -= count
	if o.RemainingAmount == 0 {
		o.Status = StatusDone
	}
}
