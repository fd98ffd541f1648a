package recipes_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantryat/internal/recordcache"
	"pantryat/internal/testutil"
)

// =============================================================================
// Recipe CLI Tests
// =============================================================================

const teriyaki = `{"meals":[{
	"idMeal":"52772",
	"strMeal":"Teriyaki Chicken Casserole",
	"strCategory":"Chicken",
	"strArea":"Japanese",
	"strInstructions":"Preheat oven.",
	"strIngredient1":"Soy Sauce",
	"strIngredient2":"Water",
	"strIngredient3":"Brown Sugar"
}]}`

type recipeAPI struct {
	*httptest.Server
	calls atomic.Int32
}

func newRecipeAPI(t *testing.T) *recipeAPI {
	t.Helper()
	api := &recipeAPI{}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			api.calls.Add(1)
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/search.php", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("s") == "teriyaki" {
			_, _ = w.Write([]byte(teriyaki))
			return
		}
		_, _ = w.Write([]byte(`{"meals":null}`))
	})
	r.Get("/random.php", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(teriyaki))
	})
	r.Get("/lookup.php", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("i") == "52772" {
			_, _ = w.Write([]byte(teriyaki))
			return
		}
		_, _ = w.Write([]byte(`{"meals":null}`))
	})
	api.Server = httptest.NewServer(r)
	t.Cleanup(api.Close)
	return api
}

func recipeConfig(apiBase, mode string) string {
	return "recipes:\n  api_base: " + apiBase + "\n" +
		"sync:\n  offline_mode: " + mode + "\n" +
		"logging:\n  background_enabled: false\n"
}

func TestRecipeSearchCachesForOfflineCLI(t *testing.T) {
	api := newRecipeAPI(t)
	cli := testutil.NewCLITestWithConfig(t, recipeConfig(api.URL, "online"))

	stdout := cli.MustExecute("recipe", "search", "teriyaki")
	testutil.AssertContains(t, stdout, "52772  Teriyaki Chicken Casserole")
	testutil.AssertNotContains(t, stdout, "Offline")
	testutil.AssertResultCode(t, stdout, testutil.ResultInfoOnly)

	cli.SetFullConfig(recipeConfig(api.URL, "offline"))
	before := api.calls.Load()

	stdout = cli.MustExecute("recipe", "search", "chicken")
	testutil.AssertContains(t, stdout, "Offline: showing cached recipes")
	testutil.AssertContains(t, stdout, "Teriyaki Chicken Casserole")

	stdout = cli.MustExecute("recipe", "search", "lasagna")
	testutil.AssertContains(t, stdout, "No recipes found")

	assert.Equal(t, before, api.calls.Load(), "no API calls while offline")
}

func TestRecipeShowMarksPantryItemsCLI(t *testing.T) {
	api := newRecipeAPI(t)
	cli := testutil.NewCLITestWithConfig(t, recipeConfig(api.URL, "online"))
	cli.MustExecute("item", "add", "soy sauce")

	stdout := cli.MustExecute("recipe", "show", "52772")
	testutil.AssertContains(t, stdout, "Teriyaki Chicken Casserole (52772)")
	testutil.AssertContains(t, stdout, "Chicken / Japanese")
	testutil.AssertContains(t, stdout, "[x] soy sauce")
	testutil.AssertContains(t, stdout, "[ ] water")
	testutil.AssertContains(t, stdout, "Preheat oven.")

	stdout = cli.MustExecute("recipe", "missing", "52772")
	testutil.AssertContains(t, stdout, "Missing for Teriyaki Chicken Casserole:")
	testutil.AssertContains(t, stdout, "  - water")
	testutil.AssertContains(t, stdout, "  - brown sugar")
	testutil.AssertNotContains(t, stdout, "- soy sauce")
}

func TestRecipeMissingJSONCLI(t *testing.T) {
	api := newRecipeAPI(t)
	cli := testutil.NewCLITestWithConfig(t, recipeConfig(api.URL, "online"))
	for _, name := range []string{"Soy Sauce", "Water", "Brown Sugar"} {
		cli.MustExecute("item", "add", name)
	}

	stdout := cli.MustExecute("--json", "recipe", "missing", "52772")
	var resp struct {
		Missing []string `json:"missing"`
		Result  string   `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), stdout)
	assert.NotNil(t, resp.Missing)
	assert.Empty(t, resp.Missing)
	assert.Equal(t, testutil.ResultInfoOnly, resp.Result)

	stdout = cli.MustExecute("recipe", "missing", "52772")
	testutil.AssertContains(t, stdout, "You have everything for Teriyaki Chicken Casserole")
}

func TestRecipeNotFoundOfflineCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)

	_, stderr := cli.ExecuteAndFail("recipe", "show", "52772")
	testutil.AssertContains(t, stderr, "recipe not found: 52772")
	testutil.AssertContains(t, stderr, "recipe search")

	_, stderr = cli.ExecuteAndFail("recipe", "random")
	testutil.AssertContains(t, stderr, "Search for recipes while online")
}

func TestRecipeRandomOfflineUsesCacheCLI(t *testing.T) {
	api := newRecipeAPI(t)
	cli := testutil.NewCLITestWithConfig(t, recipeConfig(api.URL, "online"))
	cli.MustExecute("recipe", "search", "teriyaki")

	cli.SetFullConfig(recipeConfig(api.URL, "offline"))
	stdout := cli.MustExecute("recipe", "random")
	testutil.AssertContains(t, stdout, "Teriyaki Chicken Casserole (52772)")
}

func TestRecipeFavoriteToggleCLI(t *testing.T) {
	api := newRecipeAPI(t)
	cli := testutil.NewCLITestWithConfig(t, recipeConfig(api.URL, "online"))
	cli.MustExecute("recipe", "search", "teriyaki")
	cli.SetFullConfig(recipeConfig(api.URL, "offline"))

	stdout := cli.MustExecute("recipe", "fav", "52772")
	testutil.AssertContains(t, stdout, "Added 52772 to favorites")
	testutil.AssertResultCode(t, stdout, testutil.ResultActionCompleted)

	stdout = cli.MustExecute("recipe", "favs")
	testutil.AssertContains(t, stdout, "52772  Teriyaki Chicken Casserole")

	stdout = cli.MustExecute("recipe", "fav", "52772")
	testutil.AssertContains(t, stdout, "Removed 52772 from favorites")

	stdout = cli.MustExecute("recipe", "favs")
	testutil.AssertContains(t, stdout, "No favorites")

	_, stderr := cli.ExecuteAndFail("recipe", "fav", "1")
	testutil.AssertContains(t, stderr, "recipe not found: 1")
}

func TestUserRecipeCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("item", "add", "Bread")

	stdout := cli.MustExecute("--json", "recipe", "add", "Toast", "-i", "Bread, Butter", "--instructions", "Toast it.")
	var resp struct {
		Recipe struct {
			ID          string   `json:"id"`
			Title       string   `json:"title"`
			Ingredients []string `json:"ingredients"`
			UserCreated bool     `json:"user_created"`
		} `json:"recipe"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), stdout)
	require.NotEmpty(t, resp.Recipe.ID)
	assert.Equal(t, "Toast", resp.Recipe.Title)
	assert.Equal(t, []string{"bread", "butter"}, resp.Recipe.Ingredients)
	assert.True(t, resp.Recipe.UserCreated)

	stdout = cli.MustExecute("recipe", "mine")
	testutil.AssertContains(t, stdout, "Toast")
	testutil.AssertNotContains(t, stdout, "Offline")

	stdout = cli.MustExecute("recipe", "missing", resp.Recipe.ID)
	testutil.AssertContains(t, stdout, "  - butter")
	testutil.AssertNotContains(t, stdout, "- bread")
}

func TestCacheInfoAndSweepCLI(t *testing.T) {
	api := newRecipeAPI(t)
	cli := testutil.NewCLITestWithConfig(t, recipeConfig(api.URL, "online"))
	cli.MustExecute("recipe", "search", "teriyaki")
	cli.MustExecute("recipe", "fav", "52772")

	stdout := cli.MustExecute("cache", "info")
	testutil.AssertContains(t, stdout, "Recipes:   1")
	testutil.AssertContains(t, stdout, "Favorites: 1")

	stdout = cli.MustExecute("cache", "sweep")
	testutil.AssertContains(t, stdout, "Removed 0 recipes and 0 favorites")
	testutil.AssertResultCode(t, stdout, testutil.ResultActionCompleted)
}

func TestStaleCacheSweptOnUseCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)

	stale := time.Now().Add(-8 * 24 * time.Hour)
	cache := recordcache.New(filepath.Join(cli.TmpDir(), recordcache.DBName),
		recordcache.WithClock(func() time.Time { return stale }))
	require.NoError(t, cache.Put(context.Background(), recordcache.Recipe{ID: "52772", Title: "Teriyaki Chicken Casserole"}))
	require.NoError(t, cache.Close())

	stdout := cli.MustExecute("recipe", "search", "teriyaki")
	testutil.AssertContains(t, stdout, "No recipes found")

	stdout = cli.MustExecute("cache", "info")
	testutil.AssertContains(t, stdout, "Recipes:   0")
}
