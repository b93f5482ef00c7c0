package service

import (
	"sort"
	"sync"

	"market_go/internal/item"

	"github.com/shopspring/decimal"
)

// Config carries the policy knobs the coordinator needs. Rates are fractions
// in [0,1]. BannedItems entries are either 64-hex content hashes or material
// kinds.
type Config struct {
	DefaultFeeRate      decimal.Decimal
	CancellationFeeRate decimal.Decimal
	OverviewPageSize    int
	BannedItems         []string
}

// Policy holds the fee rates and the listing ban set. Bans apply at listing
// creation only, never retroactively against existing listings. Fee rates are
// read fresh per trade so a reload takes effect on the next trade.
type Policy struct {
	mu           sync.RWMutex
	defaultFee   decimal.Decimal
	cancelFee    decimal.Decimal
	bannedHashes map[string]struct{}
	bannedKinds  map[string]struct{}
}

// NewPolicy builds a policy from config.
func NewPolicy(cfg Config) *Policy {
	p := &Policy{}
	p.Reload(cfg)
	return p
}

// Reload replaces all policy state from config.
func (p *Policy) Reload(cfg Config) {
	hashes := make(map[string]struct{})
	kinds := make(map[string]struct{})
	for _, entry := range cfg.BannedItems {
		if item.IsHash(entry) {
			hashes[entry] = struct{}{}
		} else {
			kinds[entry] = struct{}{}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaultFee = cfg.DefaultFeeRate
	p.cancelFee = cfg.CancellationFeeRate
	p.bannedHashes = hashes
	p.bannedKinds = kinds
}

// DefaultFee returns the global transaction fee rate.
func (p *Policy) DefaultFee() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.defaultFee
}

// CancellationFee returns the rate charged on a listing's remaining value.
func (p *Policy) CancellationFee() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cancelFee
}

// Banned reports whether an item with the given hash or material kind may not
// be listed.
func (p *Policy) Banned(hash, kind string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.bannedHashes[hash]; ok {
		return true
	}
	_, ok := p.bannedKinds[kind]
	return ok
}

// Toggle flips the ban state of an entry and reports whether it is banned now.
func (p *Policy) Toggle(entry string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	set := p.bannedKinds
	if item.IsHash(entry) {
		set = p.bannedHashes
	}
	if _, ok := set[entry]; ok {
		delete(set, entry)
		return false
	}
	set[entry] = struct{}{}
	return true
}

// Entries returns the current ban set, sorted for stable pagination.
func (p *Policy) Entries() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	entries := make([]string, 0, len(p.bannedHashes)+len(p.bannedKinds))
	for h := range p.bannedHashes {
		entries = append(entries, h)
	}
	for k := range p.bannedKinds {
		entries = append(entries, k)
	}
	sort.Strings(entries)
	return entries
}
