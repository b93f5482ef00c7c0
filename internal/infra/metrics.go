package infra

import (
	"sync/atomic"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	listingsCreated   atomic.Uint64
	tradesFilled      atomic.Uint64
	unitsTraded       atomic.Uint64
	casConflicts      atomic.Uint64
	settlementsFailed atomic.Uint64
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordListingCreated counts a newly created sell order.
func (m *Metrics) RecordListingCreated() {
	m.listingsCreated.Add(1)
}

// RecordTradeFilled counts one trade record and the units it moved.
func (m *Metrics) RecordTradeFilled(units int) {
	m.tradesFilled.Add(1)
	m.unitsTraded.Add(uint64(units))
}

// RecordCASConflict counts a lost optimistic-lock race.
func (m *Metrics) RecordCASConflict() {
	m.casConflicts.Add(1)
}

// RecordSettlementFailed counts a settlement aborted by an unexpected error.
func (m *Metrics) RecordSettlementFailed() {
	m.settlementsFailed.Add(1)
}

// Snapshot is a point-in-time copy of all counters, for logging.
type Snapshot struct {
	ListingsCreated   uint64 `json:"listings_created"`
	TradesFilled      uint64 `json:"trades_filled"`
	UnitsTraded       uint64 `json:"units_traded"`
	CASConflicts      uint64 `json:"cas_conflicts"`
	SettlementsFailed uint64 `json:"settlements_failed"`
}

// Read returns a snapshot of the current counter values.
func (m *Metrics) Read() Snapshot {
	return Snapshot{
		ListingsCreated:   m.listingsCreated.Load(),
		TradesFilled:      m.tradesFilled.Load(),
		UnitsTraded:       m.unitsTraded.Load(),
		CASConflicts:      m.casConflicts.Load(),
		SettlementsFailed: m.settlementsFailed.Load(),
	}
}
