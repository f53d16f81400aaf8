package products

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgClient is the subset of pgxpool.Pool the cache uses.
type pgClient interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const productsSchema = `
CREATE TABLE IF NOT EXISTS price_products (
	store                 TEXT NOT NULL,
	url                   TEXT NOT NULL,
	name                  TEXT NOT NULL DEFAULT '',
	price                 DOUBLE PRECISION NOT NULL DEFAULT 0,
	price_string          TEXT NOT NULL DEFAULT '',
	price_per_unit        DOUBLE PRECISION NOT NULL DEFAULT 0,
	price_per_unit_string TEXT NOT NULL DEFAULT '',
	store_id              TEXT NOT NULL DEFAULT '',
	store_address         TEXT NOT NULL DEFAULT '',
	store_zip             TEXT NOT NULL DEFAULT '',
	brand                 TEXT NOT NULL DEFAULT '',
	sku                   TEXT NOT NULL DEFAULT '',
	category              TEXT NOT NULL DEFAULT '',
	fetched_at            TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (store, url)
)`

// PostgresCache persists products in the price_products table.
type PostgresCache struct {
	db      pgClient
	nowFunc func() time.Time
}

// NewPostgresCache returns a Cache backed by Postgres.
func NewPostgresCache(db pgClient) *PostgresCache {
	return &PostgresCache{
		db:      db,
		nowFunc: time.Now,
	}
}

// EnsureSchema creates the products table if it does not exist.
func (c *PostgresCache) EnsureSchema(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, productsSchema); err != nil {
		return fmt.Errorf("ensure products schema: %w", err)
	}
	return nil
}

// GetFresh reads the product for the key and applies the freshness window.
func (c *PostgresCache) GetFresh(ctx context.Context, store, url string, ttl time.Duration) (*Product, error) {
	row := c.db.QueryRow(ctx, `
		SELECT store, url, name, price, price_string,
		       price_per_unit, price_per_unit_string,
		       store_id, store_address, store_zip,
		       brand, sku, category, fetched_at
		FROM price_products
		WHERE store = $1 AND url = $2`, store, url)

	var p Product
	err := row.Scan(
		&p.Store, &p.URL, &p.Name, &p.Price, &p.PriceString,
		&p.PricePerUnit, &p.PricePerUnitString,
		&p.StoreID, &p.StoreAddress, &p.StoreZip,
		&p.Brand, &p.SKU, &p.Category, &p.Timestamp,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select product: %w", err)
	}
	if !p.Fresh(c.nowFunc(), ttl) {
		return nil, nil
	}
	return &p, nil
}

// Put upserts the product, stamping unstamped products with the current
// time.
func (c *PostgresCache) Put(ctx context.Context, p Product) error {
	if p.Timestamp.IsZero() {
		p.Timestamp = c.nowFunc()
	}

	_, err := c.db.Exec(ctx, `
		INSERT INTO price_products (
			store, url, name, price, price_string,
			price_per_unit, price_per_unit_string,
			store_id, store_address, store_zip,
			brand, sku, category, fetched_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (store, url) DO UPDATE SET
			name = EXCLUDED.name,
			price = EXCLUDED.price,
			price_string = EXCLUDED.price_string,
			price_per_unit = EXCLUDED.price_per_unit,
			price_per_unit_string = EXCLUDED.price_per_unit_string,
			store_id = EXCLUDED.store_id,
			store_address = EXCLUDED.store_address,
			store_zip = EXCLUDED.store_zip,
			brand = EXCLUDED.brand,
			sku = EXCLUDED.sku,
			category = EXCLUDED.category,
			fetched_at = EXCLUDED.fetched_at`,
		p.Store, p.URL, p.Name, p.Price, p.PriceString,
		p.PricePerUnit, p.PricePerUnitString,
		p.StoreID, p.StoreAddress, p.StoreZip,
		p.Brand, p.SKU, p.Category, p.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}
