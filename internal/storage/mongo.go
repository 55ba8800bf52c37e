package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/masahif/adtrail/internal/models"
)

// MongoStore keeps products in a MongoDB collection and relies on $push
// inside upserting UpdateOne calls for history.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	now    func() time.Time
}

// NewMongoStore connects to uri and ensures the identity indexes exist.
func NewMongoStore(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	s := &MongoStore{
		client: client,
		coll:   client.Database(database).Collection(collection),
		now:    time.Now,
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "url", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "productId", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"productId": bson.M{"$type": "string"}}),
		},
		{
			Keys: bson.D{{Key: "category", Value: 1}, {Key: "subcategory", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// BulkUpsert implements ProductStore.
func (s *MongoStore) BulkUpsert(ctx context.Context, items []models.ProductSummary, identity ...string) (*BulkResult, error) {
	identity = normalizeIdentity(identity)
	for _, field := range identity {
		if _, ok := identityValue(&models.ProductSummary{}, field); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedIdentity, field)
		}
	}

	result := &BulkResult{URLs: make([]string, 0, len(items))}
	for i := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		item := items[i]
		if fields := checkItem(&item, identity); len(fields) > 0 {
			result.InvalidItems = append(result.InvalidItems, InvalidItem{Item: item, Fields: fields})
			continue
		}

		filter, update := upsertDocs(item, identity, s.now().UTC())
		if _, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
			result.Errors = append(result.Errors, ItemError{URL: item.URL, Message: err.Error()})
			continue
		}
		result.URLs = append(result.URLs, item.URL)
	}
	return result, nil
}

// upsertDocs builds the filter and update for one summary. $set and
// $setOnInsert never touch the same path.
func upsertDocs(item models.ProductSummary, identity []string, now time.Time) (bson.M, bson.M) {
	filter := bson.M{}
	for _, field := range identity {
		v, _ := identityValue(&item, field)
		filter[field] = v
	}

	set := bson.M{
		"category":      item.Category,
		"url":           item.URL,
		"cost":          item.Cost,
		"currency":      item.Currency,
		"price":         item.Price,
		"isOutstanding": item.IsOutstanding,
		"updatedAt":     now,
	}
	optional := map[string]string{
		"subcategory": item.Subcategory,
		"productId":   item.ProductID,
		"description": item.Description,
		"imageURL":    item.ImageURL,
	}
	for k, v := range optional {
		if v != "" {
			set[k] = v
		}
	}

	update := bson.M{
		"$set": set,
		"$push": bson.M{
			"priceHistory":         models.HistoryEntry[float64]{Value: item.Price, UpdatedAt: now},
			"isOutstandingHistory": models.HistoryEntry[bool]{Value: item.IsOutstanding, UpdatedAt: now},
		},
		"$setOnInsert": bson.M{
			"createdAt":       now,
			"views":           0.0,
			"location":        models.Location{},
			"seller":          models.Seller{},
			"locationHistory": bson.A{},
			"viewsHistory":    bson.A{},
		},
	}
	return filter, update
}

// UpdateDetail implements ProductStore.
func (s *MongoStore) UpdateDetail(ctx context.Context, url string, detail models.ProductDetail) error {
	now := s.now().UTC()
	update := bson.M{
		"$set": bson.M{
			"views":     detail.Views,
			"location":  detail.Location,
			"seller":    detail.Seller,
			"updatedAt": now,
		},
		"$push": bson.M{
			"viewsHistory":    models.HistoryEntry[float64]{Value: detail.Views, UpdatedAt: now},
			"locationHistory": models.HistoryEntry[models.Location]{Value: detail.Location, UpdatedAt: now},
		},
	}

	res, err := s.coll.UpdateOne(ctx, bson.M{"url": url}, update)
	if err != nil {
		return fmt.Errorf("failed to update detail for %s: %w", url, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByURL implements ProductStore.
func (s *MongoStore) FindByURL(ctx context.Context, url string) (*models.ProductRecord, error) {
	var rec models.ProductRecord
	err := s.coll.FindOne(ctx, bson.M{"url": url}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find product: %w", err)
	}
	return &rec, nil
}

func mongoFilter(f Filter) bson.M {
	filter := bson.M{}
	if f.Category != "" {
		filter["category"] = f.Category
	}
	if f.Subcategory != "" {
		filter["subcategory"] = f.Subcategory
	}
	return filter
}

// Find implements ProductStore. Newest updates come first.
func (s *MongoStore) Find(ctx context.Context, f Filter) ([]models.ProductRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}

	cur, err := s.coll.Find(ctx, mongoFilter(f), opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	var records []models.ProductRecord
	if err := cur.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode products: %w", err)
	}
	return records, nil
}

// Count implements ProductStore.
func (s *MongoStore) Count(ctx context.Context, f Filter) (int64, error) {
	n, err := s.coll.CountDocuments(ctx, mongoFilter(f))
	if err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}

// DeleteAll implements ProductStore.
func (s *MongoStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to delete products: %w", err)
	}
	return res.DeletedCount, nil
}

var _ ProductStore = (*MongoStore)(nil)
