package backend

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultLowStockThreshold applies to items without an explicit threshold.
const DefaultLowStockThreshold = 2.0

// Item represents a pantry item
type Item struct {
	ID                string     `json:"id"`
	HouseholdID       string     `json:"household_id,omitempty"`
	Name              string     `json:"name"`
	Quantity          float64    `json:"quantity"`
	Unit              string     `json:"unit,omitempty"`
	CategoryID        string     `json:"category_id,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	LowStockThreshold *float64   `json:"low_stock_threshold,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// ItemPatch holds the fields of an update; nil fields are left unchanged.
type ItemPatch struct {
	Name              *string    `json:"name,omitempty"`
	Quantity          *float64   `json:"quantity,omitempty"`
	Unit              *string    `json:"unit,omitempty"`
	CategoryID        *string    `json:"category_id,omitempty"`
	ExpiresAt         *time.Time `json:"expires_at,omitempty"`
	LowStockThreshold *float64   `json:"low_stock_threshold,omitempty"`
}

// Apply copies the set fields of the patch onto item.
func (p ItemPatch) Apply(item *Item) {
	if p.Name != nil {
		item.Name = *p.Name
	}
	if p.Quantity != nil {
		item.Quantity = *p.Quantity
	}
	if p.Unit != nil {
		item.Unit = *p.Unit
	}
	if p.CategoryID != nil {
		item.CategoryID = *p.CategoryID
	}
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		item.ExpiresAt = &t
	}
	if p.LowStockThreshold != nil {
		v := *p.LowStockThreshold
		item.LowStockThreshold = &v
	}
}

// Category groups pantry items
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Ingredient is a single recipe ingredient
type Ingredient struct {
	Name   string  `json:"name"`
	Amount float64 `json:"amount,omitempty"`
	Unit   string  `json:"unit,omitempty"`
}

// Recipe is a normalized recipe from the recipe API or authored by the user
type Recipe struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Image         string       `json:"image,omitempty"`
	SourceURL     string       `json:"source_url,omitempty"`
	Ingredients   []Ingredient `json:"ingredients"`
	Category      string       `json:"category,omitempty"`
	Area          string       `json:"area,omitempty"`
	Instructions  string       `json:"instructions,omitempty"`
	Video         string       `json:"video,omitempty"`
	Tags          []string     `json:"tags,omitempty"`
	CookingTime   int          `json:"cooking_time,omitempty"` // minutes
	IsUserCreated bool         `json:"is_user_created,omitempty"`
}

// IngredientNames returns the lower-cased ingredient names of the recipe.
func (r Recipe) IngredientNames() []string {
	names := make([]string, 0, len(r.Ingredients))
	for _, ing := range r.Ingredients {
		names = append(names, strings.ToLower(ing.Name))
	}
	return names
}

// PantryManager defines the interface for pantry storage backends
type PantryManager interface {
	// Item operations
	ListItems(ctx context.Context) ([]Item, error)
	GetItem(ctx context.Context, id string) (*Item, error)
	GetItemByName(ctx context.Context, name string) (*Item, error)
	AddItem(ctx context.Context, item *Item) (*Item, bool, error) // bool reports a duplicate name
	InsertItem(ctx context.Context, item *Item) (*Item, error)    // no duplicate check
	UpdateItem(ctx context.Context, id string, patch ItemPatch) (*Item, error)
	RemoveItem(ctx context.Context, id string) error

	// Category operations
	ListCategories(ctx context.Context) ([]Category, error)
	AddCategory(ctx context.Context, name, color string) (*Category, error)
	RemoveCategory(ctx context.Context, id string) error

	// User recipe operations
	ListUserRecipes(ctx context.Context) ([]Recipe, error)
	GetUserRecipe(ctx context.Context, id string) (*Recipe, error)
	AddUserRecipe(ctx context.Context, recipe *Recipe) (*Recipe, error)

	// Connection management
	Close() error
}

// FindItemByName searches for an item by name (case-insensitive, trimmed).
// Returns nil if no match is found.
func FindItemByName(items []Item, name string) *Item {
	want := NormalizeName(name)
	for _, it := range items {
		if NormalizeName(it.Name) == want {
			return &it
		}
	}
	return nil
}

// NormalizeName is the comparison key for item and ingredient names.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// LowStockDefault returns the threshold used for items without their own,
// honoring PANTRYAT_LOW_STOCK_DEFAULT.
func LowStockDefault() float64 {
	if v := os.Getenv("PANTRYAT_LOW_STOCK_DEFAULT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return DefaultLowStockThreshold
}

// IsLow reports whether the item is at or below its low-stock threshold.
func IsLow(item Item, fallback float64) bool {
	threshold := fallback
	if item.LowStockThreshold != nil {
		threshold = *item.LowStockThreshold
	}
	return item.Quantity <= threshold
}

// LowStock returns the items at or below their threshold.
func LowStock(items []Item) []Item {
	return LowStockAt(items, LowStockDefault())
}

// LowStockAt is LowStock with an explicit threshold for items without one.
func LowStockAt(items []Item, fallback float64) []Item {
	var low []Item
	for _, it := range items {
		if IsLow(it, fallback) {
			low = append(low, it)
		}
	}
	return low
}

// ExpiringWithin returns items with an expiration date before now+window.
// Already expired items are included.
func ExpiringWithin(items []Item, now time.Time, window time.Duration) []Item {
	limit := now.Add(window)
	var out []Item
	for _, it := range items {
		if it.ExpiresAt != nil && !it.ExpiresAt.After(limit) {
			out = append(out, it)
		}
	}
	return out
}

// MissingIngredients returns the recipe ingredient names with no matching
// pantry item name.
func MissingIngredients(recipe Recipe, items []Item) []string {
	have := make(map[string]bool, len(items))
	for _, it := range items {
		have[NormalizeName(it.Name)] = true
	}
	var missing []string
	for _, name := range recipe.IngredientNames() {
		if !have[strings.TrimSpace(name)] {
			missing = append(missing, name)
		}
	}
	return missing
}

// GenerateID generates a unique identifier using UUID v4.
func GenerateID() string {
	return uuid.New().String()
}
