package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/masahif/adtrail/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "products.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func summary(n int, price float64) models.ProductSummary {
	return models.ProductSummary{
		Category:    "compra-venta",
		Subcategory: "celulares-lineas-y-accesorios",
		URL:         fmt.Sprintf("https://www.revolico.com/item/phone-%d-5266%04d-4532%04d", n, n, n),
		ProductID:   fmt.Sprintf("4532%04d", n),
		Cost:        fmt.Sprintf("%.0f USD", price),
		Currency:    "USD",
		Price:       price,
		ImageURL:    "https://pic.example/x.jpg",
	}
}

func TestSQLiteStoreUpsertHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	item := summary(1, 200)
	res, err := store.BulkUpsert(ctx, []models.ProductSummary{item})
	if err != nil {
		t.Fatalf("first BulkUpsert: %v", err)
	}
	if len(res.URLs) != 1 || res.URLs[0] != item.URL {
		t.Fatalf("URLs = %v", res.URLs)
	}

	item.Price = 180
	item.Cost = "180 USD"
	item.IsOutstanding = true
	item.Subcategory = ""
	if _, err := store.BulkUpsert(ctx, []models.ProductSummary{item}, "url"); err != nil {
		t.Fatalf("second BulkUpsert: %v", err)
	}

	rec, err := store.FindByURL(ctx, item.URL)
	if err != nil {
		t.Fatalf("FindByURL: %v", err)
	}
	if rec.Price != 180 || rec.Cost != "180 USD" || !rec.IsOutstanding {
		t.Errorf("scalars not updated: %+v", rec.ProductSummary)
	}
	if rec.Subcategory != "celulares-lineas-y-accesorios" {
		t.Errorf("empty subcategory should keep stored value, got %q", rec.Subcategory)
	}
	if len(rec.PriceHistory) != 2 {
		t.Fatalf("priceHistory length = %d; want 2", len(rec.PriceHistory))
	}
	if rec.PriceHistory[0].Value != 200 || rec.PriceHistory[1].Value != 180 {
		t.Errorf("priceHistory = %+v", rec.PriceHistory)
	}
	if last := rec.IsOutstandingHistory[len(rec.IsOutstandingHistory)-1]; !last.Value || len(rec.IsOutstandingHistory) != 2 {
		t.Errorf("isOutstandingHistory = %+v", rec.IsOutstandingHistory)
	}
	if len(rec.ViewsHistory) != 0 || len(rec.LocationHistory) != 0 {
		t.Errorf("detail histories should start empty")
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.Before(rec.CreatedAt) {
		t.Errorf("timestamps createdAt=%v updatedAt=%v", rec.CreatedAt, rec.UpdatedAt)
	}

	n, err := store.Count(ctx, Filter{})
	if err != nil || n != 1 {
		t.Errorf("Count = %d, %v; want 1", n, err)
	}
}

func TestSQLiteStoreBulkUpsertAllSettled(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	bad := summary(2, 10)
	bad.Category = ""
	bad.Currency = ""
	negative := summary(3, -5)
	clash := summary(4, 50)
	clash.URL = "https://www.revolico.com/item/other-url"
	clash.ProductID = summary(1, 0).ProductID

	res, err := store.BulkUpsert(ctx, []models.ProductSummary{summary(1, 100), bad, negative, clash, summary(5, 70)})
	if err != nil {
		t.Fatalf("BulkUpsert: %v", err)
	}

	if len(res.URLs) != 2 {
		t.Errorf("URLs = %v; want 2 successes", res.URLs)
	}
	if len(res.InvalidItems) != 2 {
		t.Fatalf("InvalidItems = %+v; want 2", res.InvalidItems)
	}
	if got := len(res.InvalidItems[0].Fields); got != 2 {
		t.Errorf("first invalid item has %d field errors; want 2", got)
	}
	if res.InvalidItems[1].Fields[0].Field != "price" {
		t.Errorf("second invalid item field = %s; want price", res.InvalidItems[1].Fields[0].Field)
	}
	if len(res.Errors) != 1 || res.Errors[0].URL != clash.URL {
		t.Errorf("Errors = %+v; want duplicate productId failure", res.Errors)
	}
}

func TestSQLiteStoreUnsupportedIdentity(t *testing.T) {
	store := newTestStore(t)
	_, err := store.BulkUpsert(context.Background(), []models.ProductSummary{summary(1, 1)}, "productId")
	if !errors.Is(err, ErrUnsupportedIdentity) {
		t.Errorf("err = %v; want ErrUnsupportedIdentity", err)
	}
}

func TestSQLiteStoreUpdateDetail(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	item := summary(1, 99)

	if err := store.UpdateDetail(ctx, item.URL, models.ProductDetail{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateDetail on missing record = %v; want ErrNotFound", err)
	}

	if _, err := store.BulkUpsert(ctx, []models.ProductSummary{item}); err != nil {
		t.Fatalf("BulkUpsert: %v", err)
	}

	first := models.ProductDetail{
		Views:    10,
		Location: models.Location{State: "La Habana", Municipality: "Playa"},
		Seller:   models.Seller{Name: "Luis", Phone: "52669205"},
	}
	second := models.ProductDetail{
		Views:    25,
		Location: models.Location{State: "Matanzas"},
		Seller:   models.Seller{Name: "Luis", Email: "l@example.com"},
	}
	for _, d := range []models.ProductDetail{first, second} {
		if err := store.UpdateDetail(ctx, item.URL, d); err != nil {
			t.Fatalf("UpdateDetail: %v", err)
		}
	}

	rec, err := store.FindByURL(ctx, item.URL)
	if err != nil {
		t.Fatalf("FindByURL: %v", err)
	}
	if rec.ProductDetail != second {
		t.Errorf("detail = %+v; want %+v", rec.ProductDetail, second)
	}
	if len(rec.ViewsHistory) != 2 || rec.ViewsHistory[1].Value != 25 {
		t.Errorf("viewsHistory = %+v", rec.ViewsHistory)
	}
	if len(rec.LocationHistory) != 2 || rec.LocationHistory[1].Value != second.Location {
		t.Errorf("locationHistory = %+v", rec.LocationHistory)
	}
	if len(rec.PriceHistory) != 1 || rec.Price != 99 {
		t.Errorf("summary fields changed by detail update: %+v", rec.ProductSummary)
	}
}

func TestSQLiteStoreConcurrentUpserts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := store.BulkUpsert(ctx, []models.ProductSummary{summary(7, float64(100+i))})
			if err != nil || len(res.Errors) > 0 {
				t.Errorf("BulkUpsert: %v %+v", err, res)
			}
		}(i)
	}
	wg.Wait()

	rec, err := store.FindByURL(ctx, summary(7, 0).URL)
	if err != nil {
		t.Fatalf("FindByURL: %v", err)
	}
	if len(rec.PriceHistory) != workers {
		t.Errorf("priceHistory length = %d; want %d", len(rec.PriceHistory), workers)
	}
	if last := rec.PriceHistory[len(rec.PriceHistory)-1]; last.Value != rec.Price {
		t.Errorf("last history value %v != current price %v", last.Value, rec.Price)
	}
}

func TestSQLiteStoreFindAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	other := summary(3, 5)
	other.Category = "vivienda"
	other.Subcategory = "alquiler"
	if _, err := store.BulkUpsert(ctx, []models.ProductSummary{summary(1, 1), summary(2, 2), other}); err != nil {
		t.Fatalf("BulkUpsert: %v", err)
	}

	recs, err := store.Find(ctx, Filter{Category: "compra-venta"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if len(recs) != 2 || recs[0].URL != summary(2, 0).URL {
		t.Errorf("Find returned %d records, first %q", len(recs), recs[0].URL)
	}

	recs, err = store.Find(ctx, Filter{Limit: 1})
	if err != nil || len(recs) != 1 || recs[0].Category != "vivienda" {
		t.Errorf("Find with limit = %+v, %v", recs, err)
	}

	n, err := store.Count(ctx, Filter{Category: "vivienda", Subcategory: "alquiler"})
	if err != nil || n != 1 {
		t.Errorf("Count = %d, %v; want 1", n, err)
	}

	deleted, err := store.DeleteAll(ctx)
	if err != nil || deleted != 3 {
		t.Errorf("DeleteAll = %d, %v; want 3", deleted, err)
	}
	if _, err := store.FindByURL(ctx, other.URL); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByURL after delete = %v; want ErrNotFound", err)
	}
}
