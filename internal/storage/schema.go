package storage

const schemaSQL = `
-- One JSON document per product, keyed by listing URL.
-- History arrays live inside doc and are only ever appended to.
CREATE TABLE IF NOT EXISTS products (
    url TEXT PRIMARY KEY NOT NULL,
    product_id TEXT,
    category TEXT NOT NULL,
    subcategory TEXT NOT NULL DEFAULT '',
    doc TEXT NOT NULL CHECK (json_valid(doc)),
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_products_product_id ON products(product_id)
    WHERE product_id IS NOT NULL AND product_id != '';
CREATE INDEX IF NOT EXISTS idx_products_category ON products(category, subcategory);
CREATE INDEX IF NOT EXISTS idx_products_updated ON products(updated_at);
`
