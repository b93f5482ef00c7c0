package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"market_go/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func setupTestDB(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newOrder(seller uuid.UUID, hash, price string, amount int) *domain.SellOrder {
	return &domain.SellOrder{
		SellerID:        seller,
		SellerName:      "seller",
		ItemHash:        hash,
		PricePerUnit:    decimal.RequireFromString(price),
		TotalAmount:     amount,
		RemainingAmount: amount,
		Status:          domain.StatusOpen,
		CreatedAt:       time.Now(),
	}
}

func newItem(hash string) *domain.MarketItem {
	return &domain.MarketItem{
		ItemHash:      hash,
		CanonicalData: []byte(`{"material_kind":"STONE","max_stack_size":64,"quantity":1}`),
		DisplayName:   "Stone",
		MaterialKind:  "STONE",
	}
}

func TestCreateAndGetListing(t *testing.T) {
	s := setupTestDB(t)

	order := newOrder(uuid.New(), "hash-1", "12.50", 30)
	if err := s.CreateListing(order); err != nil {
		t.Fatalf("CreateListing failed: %v", err)
	}
	if order.ID == 0 {
		t.Fatal("listing id was not assigned")
	}

	fetched, err := s.GetListing(order.ID)
	if err != nil {
		t.Fatalf("GetListing failed: %v", err)
	}
	if fetched == nil {
		t.Fatal("fetched listing is nil")
	}
	if fetched.Version != 0 {
		t.Errorf("new listing version = %d, want 0", fetched.Version)
	}
	if fetched.Status != domain.StatusOpen {
		t.Errorf("new listing status = %s, want OPEN", fetched.Status)
	}
	if !fetched.PricePerUnit.Equal(decimal.RequireFromString("12.50")) {
		t.Errorf("price = %s, want 12.50", fetched.PricePerUnit)
	}
}

func TestGetListingNotFound(t *testing.T) {
	s := setupTestDB(t)

	fetched, err := s.GetListing(999)
	if err != nil {
		t.Fatalf("GetListing failed: %v", err)
	}
	if fetched != nil {
		t.Error("expected nil for unknown id")
	}
}

func TestIdempotentReRead(t *testing.T) {
	s := setupTestDB(t)

	order := newOrder(uuid.New(), "hash-1", "1", 5)
	if err := s.CreateListing(order); err != nil {
		t.Fatal(err)
	}

	first, _ := s.GetListing(order.ID)
	second, _ := s.GetListing(order.ID)
	if first.Version != second.Version {
		t.Errorf("re-read changed version: %d then %d", first.Version, second.Version)
	}
}

func TestClosedStoreSurfacesPersistenceErrors(t *testing.T) {
	s := setupTestDB(t)
	if err := s.CreateListing(newOrder(uuid.New(), "hash-1", "1", 5)); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Every failure out of the store matches the ErrPersistence sentinel.
	if err := s.CreateListing(newOrder(uuid.New(), "hash-1", "1", 5)); !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("CreateListing error = %v, want ErrPersistence", err)
	}
	if _, err := s.FeeRate("hash-1"); !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("FeeRate error = %v, want ErrPersistence", err)
	}
	if _, err := s.GetListing(1); !errors.Is(err, domain.ErrPersistence) {
		t.Errorf("GetListing error = %v, want ErrPersistence", err)
	}
}

func TestOpenListingsByItemOrdering(t *testing.T) {
	s := setupTestDB(t)
	seller := uuid.New()

	older := newOrder(seller, "hash-1", "5", 3)
	older.CreatedAt = time.Now().Add(-time.Minute)
	cheap := newOrder(seller, "hash-1", "3", 5)
	done := newOrder(seller, "hash-1", "1", 5)
	done.Status = domain.StatusDone
	done.RemainingAmount = 0
	samePriceLater := newOrder(seller, "hash-1", "5", 2)
	otherItem := newOrder(seller, "hash-2", "1", 1)

	for _, o := range []*domain.SellOrder{older, cheap, done, samePriceLater, otherItem} {
		if err := s.CreateListing(o); err != nil {
			t.Fatal(err)
		}
	}

	orders, err := s.OpenListingsByItem("hash-1")
	if err != nil {
		t.Fatalf("OpenListingsByItem failed: %v", err)
	}

	if len(orders) != 3 {
		t.Fatalf("got %d listings, want 3 (OPEN only, one item)", len(orders))
	}
	if orders[0].ID != cheap.ID {
		t.Errorf("first listing is %d, want the cheapest %d", orders[0].ID, cheap.ID)
	}
	if orders[1].ID != older.ID {
		t.Errorf("price tie broken wrong: got %d, want the older %d", orders[1].ID, older.ID)
	}
	if orders[2].ID != samePriceLater.ID {
		t.Errorf("last listing is %d, want %d", orders[2].ID, samePriceLater.ID)
	}
}

func TestUpdateListingCAS(t *testing.T) {
	s := setupTestDB(t)

	order := newOrder(uuid.New(), "hash-1", "2", 10)
	if err := s.CreateListing(order); err != nil {
		t.Fatal(err)
	}

	t.Run("matching version succeeds once", func(t *testing.T) {
		mutated := *order
		mutated.ApplyFill(4)
		ok, err := s.UpdateListingCAS(&mutated)
		if err != nil {
			t.Fatalf("CAS failed: %v", err)
		}
		if !ok {
			t.Fatal("CAS reported no rows changed")
		}

		fetched, _ := s.GetListing(order.ID)
		if fetched.RemainingAmount != 6 {
			t.Errorf("remaining = %d, want 6", fetched.RemainingAmount)
		}
		if fetched.Version != 1 {
			t.Errorf("version = %d, want 1", fetched.Version)
		}
		if fetched.Status != domain.StatusOpen {
			t.Errorf("partial fill flipped status to %s", fetched.Status)
		}
	})

	t.Run("stale version is a no-op", func(t *testing.T) {
		stale := *order // still version 0
		stale.ApplyFill(10)
		ok, err := s.UpdateListingCAS(&stale)
		if err != nil {
			t.Fatalf("CAS errored on stale version: %v", err)
		}
		if ok {
			t.Fatal("stale CAS reported success")
		}

		fetched, _ := s.GetListing(order.ID)
		if fetched.RemainingAmount != 6 {
			t.Errorf("stale CAS mutated the row: remaining = %d", fetched.RemainingAmount)
		}
		if fetched.Version != 1 {
			t.Errorf("stale CAS bumped version to %d", fetched.Version)
		}
	})

	t.Run("emptying transitions to DONE", func(t *testing.T) {
		fetched, _ := s.GetListing(order.ID)
		fetched.ApplyFill(fetched.RemainingAmount)
		ok, err := s.UpdateListingCAS(fetched)
		if err != nil || !ok {
			t.Fatalf("CAS failed: ok=%v err=%v", ok, err)
		}

		final, _ := s.GetListing(order.ID)
		if final.Status != domain.StatusDone {
			t.Errorf("status = %s, want DONE", final.Status)
		}
		if final.RemainingAmount != 0 {
			t.Errorf("remaining = %d, want 0", final.RemainingAmount)
		}
		if final.Version != 2 {
			t.Errorf("version = %d, want 2", final.Version)
		}
	})
}

func TestSaveMarketItemPreservesExisting(t *testing.T) {
	s := setupTestDB(t)

	if err := s.SaveMarketItem(newItem("hash-1")); err != nil {
		t.Fatalf("SaveMarketItem failed: %v", err)
	}
	rate := decimal.NullDecimal{Decimal: decimal.RequireFromString("0.05"), Valid: true}
	if err := s.SetFeeRate("hash-1", rate); err != nil {
		t.Fatalf("SetFeeRate failed: %v", err)
	}

	// A later save of the same item must not clobber the override.
	clobber := newItem("hash-1")
	clobber.DisplayName = "Renamed"
	if err := s.SaveMarketItem(clobber); err != nil {
		t.Fatalf("second SaveMarketItem failed: %v", err)
	}

	fetched, err := s.GetMarketItem("hash-1")
	if err != nil {
		t.Fatalf("GetMarketItem failed: %v", err)
	}
	if !fetched.FeeRate.Valid {
		t.Error("fee override was lost on re-save")
	}
	if fetched.DisplayName != "Stone" {
		t.Errorf("display name overwritten to %q", fetched.DisplayName)
	}
}

func TestFeeOverrideLifecycle(t *testing.T) {
	s := setupTestDB(t)

	if err := s.SaveMarketItem(newItem("hash-1")); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveMarketItem(newItem("hash-2")); err != nil {
		t.Fatal(err)
	}

	rate, err := s.FeeRate("hash-1")
	if err != nil {
		t.Fatalf("FeeRate failed: %v", err)
	}
	if rate.Valid {
		t.Error("fresh item reports a fee override")
	}

	want := decimal.RequireFromString("0.05")
	if err := s.SetFeeRate("hash-1", decimal.NullDecimal{Decimal: want, Valid: true}); err != nil {
		t.Fatal(err)
	}

	rate, _ = s.FeeRate("hash-1")
	if !rate.Valid || !rate.Decimal.Equal(want) {
		t.Errorf("fee rate = %+v, want 0.05", rate)
	}

	fees, err := s.ItemsWithFeeOverride(10, 0)
	if err != nil {
		t.Fatalf("ItemsWithFeeOverride failed: %v", err)
	}
	if len(fees) != 1 || fees[0].ItemHash != "hash-1" {
		t.Errorf("override list = %+v, want just hash-1", fees)
	}

	// Clear.
	if err := s.SetFeeRate("hash-1", decimal.NullDecimal{}); err != nil {
		t.Fatal(err)
	}
	rate, _ = s.FeeRate("hash-1")
	if rate.Valid {
		t.Error("fee override survived clearing")
	}
}

func TestRecordAndListTrades(t *testing.T) {
	s := setupTestDB(t)

	tx := &domain.Transaction{
		BuyerID:      uuid.New(),
		BuyerName:    "alice",
		SellerID:     uuid.New(),
		SellerName:   "bob",
		OrderID:      1,
		ItemHash:     "hash-1",
		Amount:       3,
		PricePerUnit: decimal.RequireFromString("2"),
		TotalPrice:   decimal.RequireFromString("6"),
		TradedAt:     time.Now(),
	}
	if err := s.RecordTrade(tx); err != nil {
		t.Fatalf("RecordTrade failed: %v", err)
	}

	trades, err := s.TradesByItem("hash-1")
	if err != nil {
		t.Fatalf("TradesByItem failed: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}
	if trades[0].Amount != 3 || !trades[0].TotalPrice.Equal(decimal.RequireFromString("6")) {
		t.Errorf("trade = %+v", trades[0])
	}
}

func TestMarketOverview(t *testing.T) {
	s := setupTestDB(t)
	seller := uuid.New()

	if err := s.SaveMarketItem(newItem("hash-1")); err != nil {
		t.Fatal(err)
	}
	item2 := newItem("hash-2")
	item2.DisplayName = "Dirt"
	item2.MaterialKind = "DIRT"
	if err := s.SaveMarketItem(item2); err != nil {
		t.Fatal(err)
	}

	for _, o := range []*domain.SellOrder{
		newOrder(seller, "hash-1", "3", 5),
		newOrder(seller, "hash-1", "5", 2),
		newOrder(seller, "hash-1", "5", 1),
		newOrder(seller, "hash-2", "1", 4),
	} {
		if err := s.CreateListing(o); err != nil {
			t.Fatal(err)
		}
	}
	cancelled := newOrder(seller, "hash-1", "2", 9)
	cancelled.Status = domain.StatusCancelled
	if err := s.CreateListing(cancelled); err != nil {
		t.Fatal(err)
	}

	items, err := s.MarketOverview(1, 45)
	if err != nil {
		t.Fatalf("MarketOverview failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d overview items, want 2", len(items))
	}

	// Larger total stock first.
	first := items[0]
	if first.ItemHash != "hash-1" {
		t.Fatalf("first overview item = %s, want hash-1", first.ItemHash)
	}
	if first.TotalStock != 8 {
		t.Errorf("total stock = %d, want 8 (cancelled listing excluded)", first.TotalStock)
	}
	if !first.MinPrice.Equal(decimal.RequireFromString("3")) {
		t.Errorf("min price = %s, want 3", first.MinPrice)
	}
	if len(first.PriceDistribution) != 2 {
		t.Fatalf("price levels = %d, want 2", len(first.PriceDistribution))
	}
	if !first.PriceDistribution[0].Price.Equal(decimal.RequireFromString("3")) || first.PriceDistribution[0].Amount != 5 {
		t.Errorf("level 0 = %+v, want 5 @ 3", first.PriceDistribution[0])
	}
	if !first.PriceDistribution[1].Price.Equal(decimal.RequireFromString("5")) || first.PriceDistribution[1].Amount != 3 {
		t.Errorf("level 1 = %+v, want 3 @ 5", first.PriceDistribution[1])
	}

	t.Run("pagination", func(t *testing.T) {
		pageOne, err := s.MarketOverview(1, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(pageOne) != 1 || pageOne[0].ItemHash != "hash-1" {
			t.Errorf("page 1 = %+v", pageOne)
		}
		pageTwo, err := s.MarketOverview(2, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(pageTwo) != 1 || pageTwo[0].ItemHash != "hash-2" {
			t.Errorf("page 2 = %+v", pageTwo)
		}
	})
}
