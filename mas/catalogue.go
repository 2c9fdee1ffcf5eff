// Package mas is the metadata archive: a SQL catalogue of the assets held by
// a file backed Grid Store.
package mas

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/nci/gomemcache/memcache"
	"github.com/nci/nightlights/raster"
	"github.com/nci/nightlights/store"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Catalogue struct {
	db     *sql.DB
	driver string
	mc     *memcache.Client
	logger *zap.Logger
}

type Option func(*Catalogue)

// WithMemcache caches collection listings in memcache at uri (host:port).
func WithMemcache(uri string) Option {
	return func(c *Catalogue) {
		if uri != "" {
			// lazy connection; errors returned in .Get
			c.mc = memcache.New(uri)
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Catalogue) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithPool sets the idle and open connection limits.
func WithPool(idle, open int) Option {
	return func(c *Catalogue) {
		c.db.SetMaxIdleConns(idle)
		c.db.SetMaxOpenConns(open)
	}
}

// Open connects to a sqlite file or a postgres database.
func Open(driver, dsn string, opts ...Option) (*Catalogue, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("mas: unsupported catalogue driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("mas: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// a single writer keeps sqlite free of SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	c := &Catalogue{db: db, driver: driver, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Catalogue) DB() *sql.DB {
	return c.db
}

func (c *Catalogue) Close() error {
	return c.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (c *Catalogue) rebind(query string) string {
	if c.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Put inserts or replaces an asset and bumps the collection version.
// Replacing an asset with the same collection and name is the idempotent
// path taken by recomputations.
func (c *Catalogue) Put(ctx context.Context, a store.Asset) (err error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mas: put %s: %w", a.ID(), err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, c.rebind(`
		INSERT INTO assets (collection, name, era, year, time_start, path)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, name) DO UPDATE SET
			era = excluded.era,
			year = excluded.year,
			time_start = excluded.time_start,
			path = excluded.path`),
		a.Collection, a.Name, a.Era, a.Year, a.TimeStart.UnixMilli(), a.Path)
	if err != nil {
		return fmt.Errorf("mas: put %s: %w", a.ID(), err)
	}
	_, err = tx.ExecContext(ctx, c.rebind(`
		INSERT INTO collection_versions (collection, version) VALUES (?, 1)
		ON CONFLICT (collection) DO UPDATE SET
			version = collection_versions.version + 1`),
		a.Collection)
	if err != nil {
		return fmt.Errorf("mas: bump version %s: %w", a.Collection, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("mas: put %s: %w", a.ID(), err)
	}
	c.invalidate(a.Collection)
	return nil
}

// Version counts the writes to a collection; 0 before the first Put.
// Caches keyed on it never serve a listing older than the last write.
func (c *Catalogue) Version(ctx context.Context, collection string) (int64, error) {
	var v int64
	err := c.db.QueryRowContext(ctx, c.rebind(`SELECT version FROM collection_versions WHERE collection = ?`), collection).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("mas: version %s: %w", collection, err)
	}
	return v, nil
}

// Assets lists a collection ordered by time_start.
func (c *Catalogue) Assets(ctx context.Context, collection string) ([]store.Asset, error) {
	key := cacheKey(collection)
	if c.mc != nil {
		if cached, err := c.mc.Get(key); err == nil {
			var assets []store.Asset
			if err := json.Unmarshal(cached.Value, &assets); err == nil {
				return assets, nil
			}
		}
	}

	assets, err := c.Query(ctx, collection, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}

	if c.mc != nil {
		if payload, err := json.Marshal(assets); err == nil {
			// don't care about errors; memcache may not necessarily retain this anyway
			c.mc.Set(&memcache.Item{Key: key, Value: payload})
		}
	}
	return assets, nil
}

// Query lists the assets with start <= time_start < end. Zero bounds are
// open.
func (c *Catalogue) Query(ctx context.Context, collection string, start, end time.Time) ([]store.Asset, error) {
	query := `SELECT collection, name, era, year, time_start, path FROM assets WHERE collection = ?`
	args := []interface{}{collection}
	if !start.IsZero() {
		query += ` AND time_start >= ?`
		args = append(args, start.UnixMilli())
	}
	if !end.IsZero() {
		query += ` AND time_start < ?`
		args = append(args, end.UnixMilli())
	}
	query += ` ORDER BY time_start, name`

	rows, err := c.db.QueryContext(ctx, c.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("mas: query %s: %w", collection, err)
	}
	defer rows.Close()

	var assets []store.Asset
	for rows.Next() {
		var a store.Asset
		var ms int64
		if err := rows.Scan(&a.Collection, &a.Name, &a.Era, &a.Year, &ms, &a.Path); err != nil {
			return nil, fmt.Errorf("mas: scan %s: %w", collection, err)
		}
		a.TimeStart = time.UnixMilli(ms).UTC()
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// Latest is the most recent asset with time_start <= until.
func (c *Catalogue) Latest(ctx context.Context, collection string, until time.Time) (store.Asset, bool, error) {
	var a store.Asset
	var ms int64
	err := c.db.QueryRowContext(ctx, c.rebind(`
		SELECT collection, name, era, year, time_start, path FROM assets
		WHERE collection = ? AND time_start <= ?
		ORDER BY time_start DESC, name DESC LIMIT 1`),
		collection, until.UnixMilli()).Scan(&a.Collection, &a.Name, &a.Era, &a.Year, &ms, &a.Path)
	if errors.Is(err, sql.ErrNoRows) {
		return a, false, nil
	}
	if err != nil {
		return a, false, fmt.Errorf("mas: latest %s: %w", collection, err)
	}
	a.TimeStart = time.UnixMilli(ms).UTC()
	return a, true, nil
}

// PutCollection records the native grid of a collection.
func (c *Catalogue) PutCollection(ctx context.Context, id string, grid raster.Grid) error {
	gt, err := json.Marshal(grid.GeoTransform[:])
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx, c.rebind(`
		INSERT INTO collections (id, crs, geotransform, width, height)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			crs = excluded.crs,
			geotransform = excluded.geotransform,
			width = excluded.width,
			height = excluded.height`),
		id, grid.CRS, string(gt), grid.Width, grid.Height)
	if err != nil {
		return fmt.Errorf("mas: put collection %s: %w", id, err)
	}
	return nil
}

// Collection returns the native grid of a collection.
func (c *Catalogue) Collection(ctx context.Context, id string) (raster.Grid, bool, error) {
	var g raster.Grid
	var gt string
	err := c.db.QueryRowContext(ctx, c.rebind(`SELECT crs, geotransform, width, height FROM collections WHERE id = ?`), id).
		Scan(&g.CRS, &gt, &g.Width, &g.Height)
	if errors.Is(err, sql.ErrNoRows) {
		return g, false, nil
	}
	if err != nil {
		return g, false, fmt.Errorf("mas: collection %s: %w", id, err)
	}
	var values []float64
	if err := json.Unmarshal([]byte(gt), &values); err != nil || len(values) != 6 {
		return g, false, fmt.Errorf("mas: collection %s has a malformed geotransform %q", id, gt)
	}
	copy(g.GeoTransform[:], values)
	return g, true, nil
}

func (c *Catalogue) invalidate(collection string) {
	if c.mc == nil {
		return
	}
	if err := c.mc.Delete(cacheKey(collection)); err != nil && !errors.Is(err, memcache.ErrCacheMiss) {
		c.logger.Debug("memcache invalidate failed", zap.String("collection", collection), zap.Error(err))
	}
}

func cacheKey(collection string) string {
	buff := md5.Sum([]byte("assets:" + collection))
	return "mas:" + hex.EncodeToString(buff[:])
}
