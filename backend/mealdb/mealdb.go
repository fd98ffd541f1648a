// Package mealdb is a client for TheMealDB-compatible recipe APIs.
//
// Every lookup degrades to an empty result on failure; errors are logged, not
// returned.
package mealdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"pantryat/backend"
	"pantryat/internal/ratelimit"
)

// DefaultBaseURL is the public TheMealDB v1 API.
const DefaultBaseURL = "https://www.themealdb.com/api/json/v1/1"

const maxIngredients = 20

// Meal is a raw meal record. Ingredient fields are numbered, so it is decoded
// from a generic map.
type Meal map[string]any

func (m Meal) str(key string) string {
	s, _ := m[key].(string)
	return strings.TrimSpace(s)
}

// Normalize converts a meal to a backend.Recipe. Ingredient names are
// lower-cased; empty ingredient slots are skipped.
func Normalize(m Meal) backend.Recipe {
	r := backend.Recipe{
		ID:           m.str("idMeal"),
		Title:        m.str("strMeal"),
		Image:        m.str("strMealThumb"),
		Category:     m.str("strCategory"),
		Area:         m.str("strArea"),
		Instructions: m.str("strInstructions"),
		Video:        m.str("strYoutube"),
		Ingredients:  []backend.Ingredient{},
	}
	r.SourceURL = m.str("strSource")
	if r.SourceURL == "" {
		r.SourceURL = r.Video
	}
	for i := 1; i <= maxIngredients; i++ {
		if name := m.str(fmt.Sprintf("strIngredient%d", i)); name != "" {
			r.Ingredients = append(r.Ingredients, backend.Ingredient{Name: strings.ToLower(name)})
		}
	}
	for tag := range strings.SplitSeq(m.str("strTags"), ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			r.Tags = append(r.Tags, tag)
		}
	}
	return r
}

// Client queries the recipe API.
type Client struct {
	base string
	http *ratelimit.Client
	log  zerolog.Logger
}

// New creates a client. An empty base uses DefaultBaseURL.
func New(base string, httpClient *http.Client, logger zerolog.Logger) *Client {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{
		base: base,
		http: ratelimit.NewClient(ratelimit.Config{
			MaxRetries: 2,
			HTTPClient: httpClient,
			Service:    "recipe api",
			Logger:     logger,
		}),
		log: logger,
	}
}

// Search returns recipes whose name matches q.
func (c *Client) Search(ctx context.Context, q string) []backend.Recipe {
	return c.fetch(ctx, "/search.php?s="+url.QueryEscape(q))
}

// Random returns one random recipe.
func (c *Client) Random(ctx context.Context) []backend.Recipe {
	return c.fetch(ctx, "/random.php")
}

// Lookup returns the recipe with the given id, or nil.
func (c *Client) Lookup(ctx context.Context, id string) *backend.Recipe {
	recipes := c.fetch(ctx, "/lookup.php?i="+url.QueryEscape(id))
	if len(recipes) == 0 {
		return nil
	}
	return &recipes[0]
}

func (c *Client) fetch(ctx context.Context, path string) []backend.Recipe {
	resp, err := c.http.Do(ctx, http.MethodGet, c.base+path, nil, nil)
	if err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("recipe api request failed")
		return []backend.Recipe{}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Int("status", resp.StatusCode).Str("path", path).Msg("recipe api returned error status")
		return []backend.Recipe{}
	}

	var payload struct {
		Meals []Meal `json:"meals"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.log.Warn().Err(err).Str("path", path).Msg("recipe api returned malformed body")
		return []backend.Recipe{}
	}

	recipes := make([]backend.Recipe, 0, len(payload.Meals))
	for _, m := range payload.Meals {
		recipes = append(recipes, Normalize(m))
	}
	return recipes
}
