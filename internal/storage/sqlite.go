package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/masahif/adtrail/internal/models"
	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// OpenSQLite opens path with the pragmas every component relies on and
// applies schema, if not empty.
func OpenSQLite(path, schema string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection prevents lock conflicts between writers
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 30000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	if schema != "" {
		if _, err := db.Exec(schema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return db, nil
}

// sqlTime is fixed width so that text ordering matches time ordering.
const sqlTime = "2006-01-02 15:04:05.000000000"

// SQLiteStore keeps each product as a JSON document in SQLite and uses the
// JSON1 functions to append history inside the upsert statement.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens or creates the product database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := OpenSQLite(dbPath, schemaSQL)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const upsertSQL = `
	INSERT INTO products (url, product_id, category, subcategory, doc, created_at, updated_at)
	VALUES (?, NULLIF(?, ''), ?, ?, json(?), ?, ?)
	ON CONFLICT(url) DO UPDATE SET
		product_id = COALESCE(excluded.product_id, products.product_id),
		category = excluded.category,
		subcategory = CASE WHEN excluded.subcategory != '' THEN excluded.subcategory ELSE products.subcategory END,
		doc = json_insert(
			json_patch(products.doc, ?),
			'$.priceHistory[#]', json(?),
			'$.isOutstandingHistory[#]', json(?)
		),
		updated_at = excluded.updated_at
`

// BulkUpsert implements ProductStore. Only the "url" identity is supported.
func (s *SQLiteStore) BulkUpsert(ctx context.Context, items []models.ProductSummary, identity ...string) (*BulkResult, error) {
	identity = normalizeIdentity(identity)
	if len(identity) != 1 || identity[0] != "url" {
		return nil, fmt.Errorf("%w: sqlite store keys on url, got %v", ErrUnsupportedIdentity, identity)
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
		if err := s.upsert(ctx, item); err != nil {
			result.Errors = append(result.Errors, ItemError{URL: item.URL, Message: err.Error()})
			continue
		}
		result.URLs = append(result.URLs, item.URL)
	}
	return result, nil
}

func (s *SQLiteStore) upsert(ctx context.Context, item models.ProductSummary) error {
	now := s.now().UTC()

	doc, err := json.Marshal(newRecord(item, now))
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	patch, err := json.Marshal(summaryPatch{ProductSummary: item, UpdatedAt: now})
	if err != nil {
		return fmt.Errorf("failed to marshal patch: %w", err)
	}
	priceEntry, err := json.Marshal(models.HistoryEntry[float64]{Value: item.Price, UpdatedAt: now})
	if err != nil {
		return err
	}
	outstandingEntry, err := json.Marshal(models.HistoryEntry[bool]{Value: item.IsOutstanding, UpdatedAt: now})
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, upsertSQL,
		item.URL, item.ProductID, item.Category, item.Subcategory, string(doc), now.Format(sqlTime), now.Format(sqlTime),
		string(patch), string(priceEntry), string(outstandingEntry),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", item.URL, err)
	}
	return nil
}

// summaryPatch is merged into an existing document. Empty optional fields
// are omitted and so keep their stored value.
type summaryPatch struct {
	models.ProductSummary
	UpdatedAt time.Time `json:"updatedAt"`
}

const updateDetailSQL = `
	UPDATE products SET
		doc = json_insert(
			json_set(doc,
				'$.views', json(?),
				'$.location', json(?),
				'$.seller', json(?),
				'$.updatedAt', ?),
			'$.viewsHistory[#]', json(?),
			'$.locationHistory[#]', json(?)
		),
		updated_at = ?
	WHERE url = ?
`

// UpdateDetail implements ProductStore.
func (s *SQLiteStore) UpdateDetail(ctx context.Context, url string, detail models.ProductDetail) error {
	now := s.now().UTC()

	views, _ := json.Marshal(detail.Views)
	location, err := json.Marshal(detail.Location)
	if err != nil {
		return err
	}
	seller, err := json.Marshal(detail.Seller)
	if err != nil {
		return err
	}
	viewsEntry, _ := json.Marshal(models.HistoryEntry[float64]{Value: detail.Views, UpdatedAt: now})
	locationEntry, err := json.Marshal(models.HistoryEntry[models.Location]{Value: detail.Location, UpdatedAt: now})
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, updateDetailSQL,
		string(views), string(location), string(seller), now.Format(time.RFC3339Nano),
		string(viewsEntry), string(locationEntry),
		now.Format(sqlTime), url,
	)
	if err != nil {
		return fmt.Errorf("failed to update detail for %s: %w", url, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FindByURL implements ProductStore.
func (s *SQLiteStore) FindByURL(ctx context.Context, url string) (*models.ProductRecord, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, "SELECT doc FROM products WHERE url = ?", url).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find product: %w", err)
	}

	var rec models.ProductRecord
	if err := json.Unmarshal([]byte(doc), &rec); err != nil {
		return nil, fmt.Errorf("failed to decode product %s: %w", url, err)
	}
	return &rec, nil
}

func whereClause(f Filter) (string, []any) {
	var conds []string
	var args []any
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if f.Subcategory != "" {
		conds = append(conds, "subcategory = ?")
		args = append(args, f.Subcategory)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Find implements ProductStore. Newest updates come first.
func (s *SQLiteStore) Find(ctx context.Context, f Filter) ([]models.ProductRecord, error) {
	where, args := whereClause(f)
	query := "SELECT doc FROM products" + where + " ORDER BY updated_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []models.ProductRecord
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		var rec models.ProductRecord
		if err := json.Unmarshal([]byte(doc), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode product: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count implements ProductStore.
func (s *SQLiteStore) Count(ctx context.Context, f Filter) (int64, error) {
	where, args := whereClause(f)
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM products"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}

// DeleteAll implements ProductStore.
func (s *SQLiteStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM products")
	if err != nil {
		return 0, fmt.Errorf("failed to delete products: %w", err)
	}
	return res.RowsAffected()
}

var _ ProductStore = (*SQLiteStore)(nil)
