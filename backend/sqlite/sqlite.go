package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"pantryat/backend"
	"pantryat/internal/sqlitedb"
)

// ErrNotFound is returned by mutations addressing a missing row.
var ErrNotFound = errors.New("not found")

const schema = `
	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		name_key TEXT NOT NULL UNIQUE,
		color TEXT DEFAULT '',
		created TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		household_id TEXT DEFAULT '',
		name TEXT NOT NULL,
		name_key TEXT NOT NULL,
		quantity REAL NOT NULL DEFAULT 0,
		unit TEXT DEFAULT '',
		category_id TEXT REFERENCES categories(id) ON DELETE SET NULL,
		expires_at TEXT,
		low_stock_threshold REAL,
		created TEXT NOT NULL,
		modified TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_recipes (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		image TEXT DEFAULT '',
		source_url TEXT DEFAULT '',
		ingredients TEXT NOT NULL DEFAULT '[]',
		instructions TEXT DEFAULT '',
		cooking_time INTEGER DEFAULT 0,
		created TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_name_key ON items(name_key);
	CREATE INDEX IF NOT EXISTS idx_items_expires_at ON items(expires_at);
`

// Backend implements backend.PantryManager using SQLite
type Backend struct {
	db *sql.DB
}

// New opens the pantry database at path and initializes the schema
func New(ctx context.Context, path string) (*Backend, error) {
	db, err := sqlitedb.Open(ctx, path, sqlitedb.WithMkdirAll(), sqlitedb.WithSchema(schema))
	if err != nil {
		return nil, err
	}
	return &Backend{db: db}, nil
}

// DB exposes the underlying database so other tables (the sync queue) can
// live in the same file
func (b *Backend) DB() *sql.DB { return b.db }

const itemColumns = "id, household_id, name, quantity, unit, category_id, expires_at, low_stock_threshold, created, modified"

// scanner is an interface satisfied by both *sql.Rows and *sql.Row
type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*backend.Item, error) {
	var it backend.Item
	var categoryID, expiresStr sql.NullString
	var threshold sql.NullFloat64
	var createdStr, modifiedStr string

	err := s.Scan(&it.ID, &it.HouseholdID, &it.Name, &it.Quantity, &it.Unit,
		&categoryID, &expiresStr, &threshold, &createdStr, &modifiedStr)
	if err != nil {
		return nil, err
	}

	it.CategoryID = categoryID.String
	it.ExpiresAt = parseOptionalDate(expiresStr)
	if threshold.Valid {
		v := threshold.Float64
		it.LowStockThreshold = &v
	}
	it.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	it.UpdatedAt, _ = time.Parse(time.RFC3339Nano, modifiedStr)
	return &it, nil
}

// timeToNullString converts a *time.Time to sql.NullString for database storage.
func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

// parseOptionalDate parses a nullable date string and returns a pointer to time.Time.
func parseOptionalDate(str sql.NullString) *time.Time {
	if str.Valid && str.String != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, str.String); err == nil {
			return &parsed
		}
	}
	return nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ListItems returns all pantry items ordered by name
func (b *Backend) ListItems(ctx context.Context) ([]backend.Item, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT "+itemColumns+" FROM items ORDER BY name_key")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	items := []backend.Item{}
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *it)
	}
	return items, rows.Err()
}

// GetItem returns the item with the given ID, or nil if it does not exist
func (b *Backend) GetItem(ctx context.Context, id string) (*backend.Item, error) {
	it, err := scanItem(b.db.QueryRowContext(ctx, "SELECT "+itemColumns+" FROM items WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return it, err
}

// GetItemByName returns the item whose trimmed, case-folded name matches, or nil
func (b *Backend) GetItemByName(ctx context.Context, name string) (*backend.Item, error) {
	it, err := scanItem(b.db.QueryRowContext(ctx,
		"SELECT "+itemColumns+" FROM items WHERE name_key = ? ORDER BY created LIMIT 1",
		backend.NormalizeName(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return it, err
}

// AddItem inserts a new item. When an item with the same name already exists
// it is returned with duplicate set and nothing is written.
func (b *Backend) AddItem(ctx context.Context, item *backend.Item) (*backend.Item, bool, error) {
	existing, err := b.GetItemByName(ctx, item.Name)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, true, nil
	}
	added, err := b.InsertItem(ctx, item)
	return added, false, err
}

// InsertItem writes a new item even when another one has the same name.
func (b *Backend) InsertItem(ctx context.Context, item *backend.Item) (*backend.Item, error) {
	now := time.Now().UTC()
	added := *item
	if added.ID == "" {
		added.ID = backend.GenerateID()
	}
	added.Name = strings.TrimSpace(added.Name)
	added.CreatedAt = now
	added.UpdatedAt = now

	_, err := sqlitedb.Exec(ctx, b.db,
		`INSERT INTO items (id, household_id, name, name_key, quantity, unit, category_id, expires_at, low_stock_threshold, created, modified)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		added.ID, added.HouseholdID, added.Name, backend.NormalizeName(added.Name), added.Quantity, added.Unit,
		nullString(added.CategoryID), timeToNullString(added.ExpiresAt), nullFloat(added.LowStockThreshold),
		now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, err
	}
	return &added, nil
}

// UpdateItem applies the set fields of patch and returns the updated item
func (b *Backend) UpdateItem(ctx context.Context, id string, patch backend.ItemPatch) (*backend.Item, error) {
	upd := sq.Update("items").
		Set("modified", time.Now().UTC().Format(time.RFC3339Nano)).
		Where(sq.Eq{"id": id})
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		upd = upd.Set("name", name).Set("name_key", backend.NormalizeName(name))
	}
	if patch.Quantity != nil {
		upd = upd.Set("quantity", *patch.Quantity)
	}
	if patch.Unit != nil {
		upd = upd.Set("unit", *patch.Unit)
	}
	if patch.CategoryID != nil {
		upd = upd.Set("category_id", nullString(*patch.CategoryID))
	}
	if patch.ExpiresAt != nil {
		upd = upd.Set("expires_at", timeToNullString(patch.ExpiresAt))
	}
	if patch.LowStockThreshold != nil {
		upd = upd.Set("low_stock_threshold", *patch.LowStockThreshold)
	}

	query, args, err := upd.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building update: %w", err)
	}
	res, err := sqlitedb.Exec(ctx, b.db, query, args...)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return b.GetItem(ctx, id)
}

// RemoveItem deletes an item
func (b *Backend) RemoveItem(ctx context.Context, id string) error {
	res, err := sqlitedb.Exec(ctx, b.db, "DELETE FROM items WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("item %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListCategories returns all categories ordered by name
func (b *Backend) ListCategories(ctx context.Context) ([]backend.Category, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT id, name, color, created FROM categories ORDER BY name_key")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cats := []backend.Category{}
	for rows.Next() {
		var c backend.Category
		var createdStr string
		if err := rows.Scan(&c.ID, &c.Name, &c.Color, &createdStr); err != nil {
			return nil, err
		}
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		cats = append(cats, c)
	}
	return cats, rows.Err()
}

// AddCategory creates a category. Adding an existing name returns the
// existing category.
func (b *Backend) AddCategory(ctx context.Context, name, color string) (*backend.Category, error) {
	name = strings.TrimSpace(name)
	key := backend.NormalizeName(name)

	var c backend.Category
	var createdStr string
	err := b.db.QueryRowContext(ctx, "SELECT id, name, color, created FROM categories WHERE name_key = ?", key).
		Scan(&c.ID, &c.Name, &c.Color, &createdStr)
	if err == nil {
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		return &c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := time.Now().UTC()
	c = backend.Category{ID: backend.GenerateID(), Name: name, Color: color, CreatedAt: now}
	_, err = sqlitedb.Exec(ctx, b.db,
		"INSERT INTO categories (id, name, name_key, color, created) VALUES (?, ?, ?, ?, ?)",
		c.ID, c.Name, key, c.Color, now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// RemoveCategory deletes a category; its items become uncategorized
func (b *Backend) RemoveCategory(ctx context.Context, id string) error {
	res, err := sqlitedb.Exec(ctx, b.db, "DELETE FROM categories WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("category %s: %w", id, ErrNotFound)
	}
	return nil
}

const recipeColumns = "id, title, image, source_url, ingredients, instructions, cooking_time"

func scanRecipe(s scanner) (*backend.Recipe, error) {
	var r backend.Recipe
	var ingredients string
	if err := s.Scan(&r.ID, &r.Title, &r.Image, &r.SourceURL, &ingredients, &r.Instructions, &r.CookingTime); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ingredients), &r.Ingredients); err != nil {
		return nil, fmt.Errorf("recipe %s: decoding ingredients: %w", r.ID, err)
	}
	r.IsUserCreated = true
	return &r, nil
}

// ListUserRecipes returns the recipes authored locally, oldest first
func (b *Backend) ListUserRecipes(ctx context.Context) ([]backend.Recipe, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT "+recipeColumns+" FROM user_recipes ORDER BY created")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	recipes := []backend.Recipe{}
	for rows.Next() {
		r, err := scanRecipe(rows)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, *r)
	}
	return recipes, rows.Err()
}

// GetUserRecipe returns a user recipe by ID, or nil
func (b *Backend) GetUserRecipe(ctx context.Context, id string) (*backend.Recipe, error) {
	r, err := scanRecipe(b.db.QueryRowContext(ctx, "SELECT "+recipeColumns+" FROM user_recipes WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// AddUserRecipe stores a user-authored recipe under a fresh ID
func (b *Backend) AddUserRecipe(ctx context.Context, recipe *backend.Recipe) (*backend.Recipe, error) {
	r := *recipe
	r.ID = backend.GenerateID()
	r.IsUserCreated = true
	if r.Ingredients == nil {
		r.Ingredients = []backend.Ingredient{}
	}
	ingredients, err := json.Marshal(r.Ingredients)
	if err != nil {
		return nil, err
	}

	_, err = sqlitedb.Exec(ctx, b.db,
		"INSERT INTO user_recipes (id, title, image, source_url, ingredients, instructions, cooking_time, created) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		r.ID, r.Title, r.Image, r.SourceURL, string(ingredients), r.Instructions, r.CookingTime,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Close closes the database connection
func (b *Backend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// Verify interface compliance at compile time
var _ backend.PantryManager = (*Backend)(nil)
