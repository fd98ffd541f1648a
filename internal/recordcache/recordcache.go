// Package recordcache stores recipe and favorite records on disk so that
// recipes can be browsed and searched while offline.
package recordcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"

	"pantryat/internal/sqlitedb"
)

const (
	// DBName is the file name of the record cache database.
	DBName = "pantryat-cache.db"
	// SchemaVersion is stored in PRAGMA user_version.
	SchemaVersion = 2

	recipesTable   = "recipes"
	favoritesTable = "favorites"
)

// Retention horizons per record class.
const (
	RecipeRetention   = 7 * 24 * time.Hour
	FavoriteRetention = 30 * 24 * time.Hour
)

// ErrStorageUnavailable is returned by Open when no persistent storage can
// be used.
var ErrStorageUnavailable = errors.New("persistent storage unavailable")

const schema = `
CREATE TABLE IF NOT EXISTS recipes (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	image TEXT DEFAULT '',
	instructions TEXT DEFAULT '',
	ingredients TEXT DEFAULT '[]',
	category TEXT DEFAULT '',
	area TEXT DEFAULT '',
	source TEXT DEFAULT '',
	video TEXT DEFAULT '',
	tags TEXT DEFAULT '[]',
	cached_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recipes_title ON recipes(title);
CREATE INDEX IF NOT EXISTS idx_recipes_category ON recipes(category);
CREATE INDEX IF NOT EXISTS idx_recipes_cached_at ON recipes(cached_at);

CREATE TABLE IF NOT EXISTS favorites (
	id TEXT PRIMARY KEY,
	recipe_id TEXT NOT NULL,
	title TEXT NOT NULL,
	image TEXT DEFAULT '',
	source_url TEXT DEFAULT '',
	instructions TEXT DEFAULT '',
	ingredients TEXT DEFAULT '[]',
	cached_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_favorites_recipe_id ON favorites(recipe_id);
CREATE INDEX IF NOT EXISTS idx_favorites_cached_at ON favorites(cached_at);
`

// Recipe is a cached recipe record. CachedAt is epoch milliseconds.
type Recipe struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Image        string   `json:"image,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	Ingredients  []string `json:"ingredients,omitempty"`
	Category     string   `json:"category,omitempty"`
	Area         string   `json:"area,omitempty"`
	Source       string   `json:"source,omitempty"`
	Video        string   `json:"video,omitempty"`
	Tags         []string `json:"tags,omitempty"`
	CachedAt     int64    `json:"cached_at"`
}

// Favorite is a cached favorite record. CachedAt is epoch milliseconds.
type Favorite struct {
	ID           string   `json:"id"`
	RecipeID     string   `json:"recipe_id"`
	Title        string   `json:"title"`
	Image        string   `json:"image,omitempty"`
	SourceURL    string   `json:"source_url,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
	Ingredients  []string `json:"ingredients,omitempty"`
	CachedAt     int64    `json:"cached_at"`
}

// Info reports the number of records per store.
type Info struct {
	Recipes   int `json:"recipes"`
	Favorites int `json:"favorites"`
}

// SweepResult reports how many records a sweep removed.
type SweepResult struct {
	Recipes   int64 `json:"recipes"`
	Favorites int64 `json:"favorites"`
}

// Cache is the on-disk record cache. The zero value is not usable; create
// one with New.
type Cache struct {
	path string
	now  func() time.Time
	log  zerolog.Logger

	mu sync.Mutex
	db *sql.DB
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the clock used to stamp CachedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for the sweep run on open.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// New creates a cache backed by the database at path. The database is not
// opened until Open or the first operation.
func New(path string, opts ...Option) *Cache {
	c := &Cache{path: path, now: time.Now, log: zerolog.Nop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Open establishes the connection and creates the stores and indexes on
// first use, then sweeps expired records. Calling Open on an open cache is a
// no-op.
func (c *Cache) Open(ctx context.Context) error {
	_, err := c.conn(ctx)
	return err
}

func (c *Cache) conn(ctx context.Context) (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return c.db, nil
	}
	if strings.TrimSpace(c.path) == "" {
		return nil, fmt.Errorf("recordcache: no database path: %w", ErrStorageUnavailable)
	}

	db, err := sqlitedb.Open(ctx, c.path, sqlitedb.WithMkdirAll(), sqlitedb.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("recordcache: %w: %w", ErrStorageUnavailable, err)
	}
	if v, err := sqlitedb.UserVersion(ctx, db); err == nil && v < SchemaVersion {
		if err := migrate(ctx, db, v); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("recordcache: migrate from version %d: %w", v, err)
		}
		if err := sqlitedb.SetUserVersion(ctx, db, SchemaVersion); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("recordcache: set schema version: %w", err)
		}
	}
	c.db = db

	res, err := sweep(ctx, db, c.now())
	if err != nil {
		c.log.Warn().Err(err).Str("path", c.path).Msg("record cache sweep failed")
	} else if res.Recipes+res.Favorites > 0 {
		c.log.Debug().Int64("recipes", res.Recipes).Int64("favorites", res.Favorites).Msg("expired cache records removed")
	}
	return db, nil
}

// migrate brings a cache written at version from up to SchemaVersion. A fresh
// file reports version 0 and already has the current schema.
func migrate(ctx context.Context, db *sql.DB, from int) error {
	if from == 0 {
		return nil
	}
	if from < 2 {
		for _, stmt := range []string{
			"ALTER TABLE favorites ADD COLUMN instructions TEXT DEFAULT ''",
			"ALTER TABLE favorites ADD COLUMN ingredients TEXT DEFAULT '[]'",
		} {
			if _, err := sqlitedb.Exec(ctx, db, stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close closes the database connection. The cache may be reopened.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.db == nil {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	return err
}

// Put upserts a recipe, stamping CachedAt with the current time.
func (c *Cache) Put(ctx context.Context, r Recipe) error {
	db, err := c.conn(ctx)
	if err != nil {
		return err
	}
	ingredients, _ := json.Marshal(nonNil(r.Ingredients))
	tags, _ := json.Marshal(nonNil(r.Tags))

	query, args, err := sq.Insert(recipesTable).
		Columns("id", "title", "image", "instructions", "ingredients", "category", "area", "source", "video", "tags", "cached_at").
		Values(r.ID, r.Title, r.Image, r.Instructions, string(ingredients), r.Category, r.Area, r.Source, r.Video, string(tags), c.now().UnixMilli()).
		Suffix(`ON CONFLICT(id) DO UPDATE SET title = excluded.title, image = excluded.image,
			instructions = excluded.instructions, ingredients = excluded.ingredients,
			category = excluded.category, area = excluded.area, source = excluded.source,
			video = excluded.video, tags = excluded.tags, cached_at = excluded.cached_at`).
		ToSql()
	if err != nil {
		return err
	}
	_, err = sqlitedb.Exec(ctx, db, query, args...)
	return err
}

func recipeSelect() sq.SelectBuilder {
	return sq.Select("id", "title", "image", "instructions", "ingredients", "category", "area", "source", "video", "tags", "cached_at").
		From(recipesTable)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecipe(s scanner) (Recipe, error) {
	var r Recipe
	var ingredients, tags string
	if err := s.Scan(&r.ID, &r.Title, &r.Image, &r.Instructions, &ingredients, &r.Category, &r.Area, &r.Source, &r.Video, &tags, &r.CachedAt); err != nil {
		return Recipe{}, err
	}
	_ = json.Unmarshal([]byte(ingredients), &r.Ingredients)
	_ = json.Unmarshal([]byte(tags), &r.Tags)
	return r, nil
}

// Get returns the recipe stored under id. A missing key yields found == false
// and a nil error.
func (c *Cache) Get(ctx context.Context, id string) (Recipe, bool, error) {
	db, err := c.conn(ctx)
	if err != nil {
		return Recipe{}, false, err
	}
	query, args, err := recipeSelect().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return Recipe{}, false, err
	}
	r, err := scanRecipe(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Recipe{}, false, nil
	}
	if err != nil {
		return Recipe{}, false, err
	}
	return r, true, nil
}

// GetAll returns every cached recipe in store order.
func (c *Cache) GetAll(ctx context.Context) ([]Recipe, error) {
	db, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	query, args, err := recipeSelect().ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	recipes := []Recipe{}
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, r)
	}
	return recipes, rows.Err()
}

// Search returns the recipes whose title, category, area or any ingredient
// contains query, ignoring case. It scans GetAll; the sweep keeps the store
// small enough for that.
func (c *Cache) Search(ctx context.Context, query string) ([]Recipe, error) {
	all, err := c.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(query)
	matches := []Recipe{}
	for _, r := range all {
		if Matches(r, q) {
			matches = append(matches, r)
		}
	}
	return matches, nil
}

// Matches reports whether r matches the lower-cased query.
func Matches(r Recipe, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(r.Title), lowerQuery) ||
		strings.Contains(strings.ToLower(r.Category), lowerQuery) ||
		strings.Contains(strings.ToLower(r.Area), lowerQuery) {
		return true
	}
	for _, ing := range r.Ingredients {
		if strings.Contains(strings.ToLower(ing), lowerQuery) {
			return true
		}
	}
	return false
}

// Delete removes the recipe stored under id. Missing keys are ignored.
func (c *Cache) Delete(ctx context.Context, id string) error {
	return c.deleteFrom(ctx, recipesTable, id)
}

// PutFavorite upserts a favorite, stamping CachedAt with the current time.
func (c *Cache) PutFavorite(ctx context.Context, f Favorite) error {
	db, err := c.conn(ctx)
	if err != nil {
		return err
	}
	ingredients, _ := json.Marshal(nonNil(f.Ingredients))
	query, args, err := sq.Insert(favoritesTable).
		Columns("id", "recipe_id", "title", "image", "source_url", "instructions", "ingredients", "cached_at").
		Values(f.ID, f.RecipeID, f.Title, f.Image, f.SourceURL, f.Instructions, string(ingredients), c.now().UnixMilli()).
		Suffix(`ON CONFLICT(id) DO UPDATE SET recipe_id = excluded.recipe_id, title = excluded.title,
			image = excluded.image, source_url = excluded.source_url, instructions = excluded.instructions,
			ingredients = excluded.ingredients, cached_at = excluded.cached_at`).
		ToSql()
	if err != nil {
		return err
	}
	_, err = sqlitedb.Exec(ctx, db, query, args...)
	return err
}

func favoriteSelect() sq.SelectBuilder {
	return sq.Select("id", "recipe_id", "title", "image", "source_url", "instructions", "ingredients", "cached_at").From(favoritesTable)
}

func scanFavorite(s scanner) (Favorite, error) {
	var f Favorite
	var ingredients string
	if err := s.Scan(&f.ID, &f.RecipeID, &f.Title, &f.Image, &f.SourceURL, &f.Instructions, &ingredients, &f.CachedAt); err != nil {
		return Favorite{}, err
	}
	_ = json.Unmarshal([]byte(ingredients), &f.Ingredients)
	return f, nil
}

// GetFavorite returns the favorite stored under id.
func (c *Cache) GetFavorite(ctx context.Context, id string) (Favorite, bool, error) {
	db, err := c.conn(ctx)
	if err != nil {
		return Favorite{}, false, err
	}
	query, args, err := favoriteSelect().Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return Favorite{}, false, err
	}
	f, err := scanFavorite(db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Favorite{}, false, nil
	}
	if err != nil {
		return Favorite{}, false, err
	}
	return f, true, nil
}

// Favorites returns every cached favorite.
func (c *Cache) Favorites(ctx context.Context) ([]Favorite, error) {
	db, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}
	query, args, err := favoriteSelect().ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	favs := []Favorite{}
	for rows.Next() {
		f, err := scanFavorite(rows)
		if err != nil {
			return nil, err
		}
		favs = append(favs, f)
	}
	return favs, rows.Err()
}

// DeleteFavorite removes the favorite stored under id. Missing keys are ignored.
func (c *Cache) DeleteFavorite(ctx context.Context, id string) error {
	return c.deleteFrom(ctx, favoritesTable, id)
}

func (c *Cache) deleteFrom(ctx context.Context, table, id string) error {
	db, err := c.conn(ctx)
	if err != nil {
		return err
	}
	query, args, err := sq.Delete(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return err
	}
	_, err = sqlitedb.Exec(ctx, db, query, args...)
	return err
}

// Sweep removes recipes older than RecipeRetention and favorites older than
// FavoriteRetention relative to now.
func (c *Cache) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	db, err := c.conn(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	return sweep(ctx, db, now)
}

func sweep(ctx context.Context, db *sql.DB, now time.Time) (SweepResult, error) {
	var res SweepResult
	horizons := []struct {
		table     string
		retention time.Duration
		count     *int64
	}{
		{recipesTable, RecipeRetention, &res.Recipes},
		{favoritesTable, FavoriteRetention, &res.Favorites},
	}
	for _, h := range horizons {
		cutoff := now.Add(-h.retention).UnixMilli()
		query, args, err := sq.Delete(h.table).Where(sq.LtOrEq{"cached_at": cutoff}).ToSql()
		if err != nil {
			return res, err
		}
		result, err := sqlitedb.Exec(ctx, db, query, args...)
		if err != nil {
			return res, fmt.Errorf("recordcache: sweep %s: %w", h.table, err)
		}
		*h.count, _ = result.RowsAffected()
	}
	return res, nil
}

// Info returns the number of cached recipes and favorites.
func (c *Cache) Info(ctx context.Context) (Info, error) {
	db, err := c.conn(ctx)
	if err != nil {
		return Info{}, err
	}
	var info Info
	for table, dst := range map[string]*int{recipesTable: &info.Recipes, favoritesTable: &info.Favorites} {
		query, args, err := sq.Select("COUNT(*)").From(table).ToSql()
		if err != nil {
			return Info{}, err
		}
		if err := db.QueryRowContext(ctx, query, args...).Scan(dst); err != nil {
			return Info{}, err
		}
	}
	return info, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
