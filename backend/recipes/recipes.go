// Package recipes combines the recipe API, the on-disk record cache and the
// user's own recipes. Searches go to the API while online and fall back to
// the cache otherwise, so previously seen recipes stay browsable offline.
package recipes

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/rs/zerolog"

	"pantryat/backend"
	"pantryat/internal/recordcache"
)

// ErrNotFound is returned when a recipe id is unknown locally and remotely.
var ErrNotFound = errors.New("recipe not found")

// API is the remote recipe source. Lookups never fail; a failed call yields
// an empty result.
type API interface {
	Search(ctx context.Context, q string) []backend.Recipe
	Random(ctx context.Context) []backend.Recipe
	Lookup(ctx context.Context, id string) *backend.Recipe
}

// Network reports the connectivity state.
type Network interface {
	Online() bool
}

// Store is the subset of the pantry store holding user recipes and items.
type Store interface {
	ListItems(ctx context.Context) ([]backend.Item, error)
	ListUserRecipes(ctx context.Context) ([]backend.Recipe, error)
	GetUserRecipe(ctx context.Context, id string) (*backend.Recipe, error)
	AddUserRecipe(ctx context.Context, recipe *backend.Recipe) (*backend.Recipe, error)
}

// Service serves recipe lookups.
type Service struct {
	api   API
	cache *recordcache.Cache
	store Store
	net   Network
	log   zerolog.Logger
}

// New creates a service. net may be nil, meaning always online.
func New(api API, cache *recordcache.Cache, store Store, net Network, logger zerolog.Logger) *Service {
	return &Service{api: api, cache: cache, store: store, net: net, log: logger}
}

func (s *Service) online() bool {
	return s.net == nil || s.net.Online()
}

// Search returns recipes matching query. Online results are cached. When
// offline, or when the API returns nothing, the cache is searched instead.
func (s *Service) Search(ctx context.Context, query string) ([]backend.Recipe, error) {
	query = strings.TrimSpace(query)
	if s.online() {
		if found := s.api.Search(ctx, query); len(found) > 0 {
			s.remember(ctx, found)
			return found, nil
		}
		s.log.Debug().Str("query", query).Msg("recipe api returned nothing, searching cache")
	}
	cached, err := s.cache.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("searching cached recipes: %w", err)
	}
	out := make([]backend.Recipe, 0, len(cached))
	for _, r := range cached {
		out = append(out, fromRecord(r))
	}
	return out, nil
}

// Random returns a random recipe, from the API when online and from the
// cache otherwise.
func (s *Service) Random(ctx context.Context) (*backend.Recipe, error) {
	if s.online() {
		if found := s.api.Random(ctx); len(found) > 0 {
			s.remember(ctx, found[:1])
			return &found[0], nil
		}
	}
	all, err := s.cache.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading cached recipes: %w", err)
	}
	if len(all) == 0 {
		return nil, ErrNotFound
	}
	r := fromRecord(all[rand.IntN(len(all))])
	return &r, nil
}

// Get resolves id against the user's recipes, then the cache, then the API.
// A favorite outlives the general cache, so it answers when the others miss.
func (s *Service) Get(ctx context.Context, id string) (*backend.Recipe, error) {
	if r, err := s.store.GetUserRecipe(ctx, id); err != nil {
		return nil, err
	} else if r != nil {
		return r, nil
	}

	rec, ok, err := s.cache.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading cached recipe: %w", err)
	}
	if ok {
		r := fromRecord(rec)
		return &r, nil
	}

	if s.online() {
		if r := s.api.Lookup(ctx, id); r != nil {
			s.remember(ctx, []backend.Recipe{*r})
			return r, nil
		}
	}

	fav, ok, err := s.cache.GetFavorite(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading favorite: %w", err)
	}
	if ok {
		r := fromFavorite(fav)
		return &r, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// ToggleFavorite marks the recipe as favorite, or unmarks it if it already
// is one. It reports the new state.
func (s *Service) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	_, ok, err := s.cache.GetFavorite(ctx, id)
	if err != nil {
		return false, err
	}
	if ok {
		return false, s.cache.DeleteFavorite(ctx, id)
	}

	r, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	err = s.cache.PutFavorite(ctx, recordcache.Favorite{
		ID:           r.ID,
		RecipeID:     r.ID,
		Title:        r.Title,
		Image:        r.Image,
		SourceURL:    r.SourceURL,
		Instructions: r.Instructions,
		Ingredients:  r.IngredientNames(),
	})
	return err == nil, err
}

// Favorites returns the favorited recipes.
func (s *Service) Favorites(ctx context.Context) ([]recordcache.Favorite, error) {
	return s.cache.Favorites(ctx)
}

// Missing returns the ingredients of recipe id with no matching pantry item.
func (s *Service) Missing(ctx context.Context, id string) (*backend.Recipe, []string, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	items, err := s.store.ListItems(ctx)
	if err != nil {
		return nil, nil, err
	}
	return r, backend.MissingIngredients(*r, items), nil
}

// AddUserRecipe stores a recipe authored by the user.
func (s *Service) AddUserRecipe(ctx context.Context, title string, ingredients []string, instructions string) (*backend.Recipe, error) {
	r := &backend.Recipe{Title: strings.TrimSpace(title), Instructions: instructions}
	for _, name := range ingredients {
		if name = strings.TrimSpace(name); name != "" {
			r.Ingredients = append(r.Ingredients, backend.Ingredient{Name: strings.ToLower(name)})
		}
	}
	return s.store.AddUserRecipe(ctx, r)
}

// UserRecipes returns the recipes authored by the user.
func (s *Service) UserRecipes(ctx context.Context) ([]backend.Recipe, error) {
	return s.store.ListUserRecipes(ctx)
}

// remember caches recipes. Failures are logged; the caller still has the
// result in hand.
func (s *Service) remember(ctx context.Context, found []backend.Recipe) {
	for _, r := range found {
		if err := s.cache.Put(ctx, toRecord(r)); err != nil {
			s.log.Warn().Err(err).Str("recipe_id", r.ID).Msg("caching recipe failed")
		}
	}
}

func toRecord(r backend.Recipe) recordcache.Recipe {
	return recordcache.Recipe{
		ID:           r.ID,
		Title:        r.Title,
		Image:        r.Image,
		Instructions: r.Instructions,
		Ingredients:  r.IngredientNames(),
		Category:     r.Category,
		Area:         r.Area,
		Source:       r.SourceURL,
		Video:        r.Video,
		Tags:         r.Tags,
	}
}

func fromRecord(r recordcache.Recipe) backend.Recipe {
	out := backend.Recipe{
		ID:           r.ID,
		Title:        r.Title,
		Image:        r.Image,
		SourceURL:    r.Source,
		Category:     r.Category,
		Area:         r.Area,
		Instructions: r.Instructions,
		Video:        r.Video,
		Tags:         r.Tags,
		Ingredients:  make([]backend.Ingredient, 0, len(r.Ingredients)),
	}
	for _, name := range r.Ingredients {
		out.Ingredients = append(out.Ingredients, backend.Ingredient{Name: name})
	}
	return out
}

func fromFavorite(f recordcache.Favorite) backend.Recipe {
	return fromRecord(recordcache.Recipe{
		ID:           f.RecipeID,
		Title:        f.Title,
		Image:        f.Image,
		Instructions: f.Instructions,
		Ingredients:  f.Ingredients,
		Source:       f.SourceURL,
	})
}
