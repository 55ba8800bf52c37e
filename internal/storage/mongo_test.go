package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/masahif/adtrail/internal/models"
)

func TestUpsertDocs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	item := summary(1, 300)
	item.Description = ""

	filter, update := upsertDocs(item, []string{"url"}, now)
	if len(filter) != 1 || filter["url"] != item.URL {
		t.Errorf("filter = %v", filter)
	}

	set := update["$set"].(bson.M)
	if set["price"] != 300.0 || set["productId"] != item.ProductID {
		t.Errorf("$set = %v", set)
	}
	if _, ok := set["description"]; ok {
		t.Error("empty description should not be set")
	}

	onInsert := update["$setOnInsert"].(bson.M)
	for key := range onInsert {
		if _, clash := set[key]; clash {
			t.Errorf("%s appears in both $set and $setOnInsert", key)
		}
	}

	push := update["$push"].(bson.M)
	entry, ok := push["priceHistory"].(models.HistoryEntry[float64])
	if !ok || entry.Value != 300 || !entry.UpdatedAt.Equal(now) {
		t.Errorf("$push priceHistory = %#v", push["priceHistory"])
	}
}

// TestMongoStore runs against a live server when ADTRAIL_TEST_MONGO_URI is set.
func TestMongoStore(t *testing.T) {
	uri := os.Getenv("ADTRAIL_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("ADTRAIL_TEST_MONGO_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := NewMongoStore(ctx, uri, "adtrail_test", "products_"+time.Now().Format("150405"))
	if err != nil {
		t.Fatalf("NewMongoStore: %v", err)
	}
	defer func() {
		_ = store.coll.Drop(ctx)
		_ = store.Close()
	}()

	item := summary(1, 100)
	for _, price := range []float64{100, 120} {
		item.Price = price
		res, err := store.BulkUpsert(ctx, []models.ProductSummary{item})
		if err != nil || len(res.URLs) != 1 {
			t.Fatalf("BulkUpsert = %+v, %v", res, err)
		}
	}

	detail := models.ProductDetail{Views: 9, Location: models.Location{State: "Holguín"}}
	if err := store.UpdateDetail(ctx, item.URL, detail); err != nil {
		t.Fatalf("UpdateDetail: %v", err)
	}

	rec, err := store.FindByURL(ctx, item.URL)
	if err != nil {
		t.Fatalf("FindByURL: %v", err)
	}
	if rec.Price != 120 || len(rec.PriceHistory) != 2 || rec.PriceHistory[1].Value != 120 {
		t.Errorf("price history = %+v (price %v)", rec.PriceHistory, rec.Price)
	}
	if len(rec.ViewsHistory) != 1 || rec.Views != 9 || rec.Location.State != "Holguín" {
		t.Errorf("detail = %+v views history = %+v", rec.ProductDetail, rec.ViewsHistory)
	}

	if n, err := store.Count(ctx, Filter{Category: item.Category}); err != nil || n != 1 {
		t.Errorf("Count = %d, %v", n, err)
	}
	if n, err := store.DeleteAll(ctx); err != nil || n != 1 {
		t.Errorf("DeleteAll = %d, %v", n, err)
	}
}
