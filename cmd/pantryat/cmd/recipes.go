package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pantryat/backend"
	"pantryat/backend/recipes"
	"pantryat/internal/utils"
)

type recipeJSON struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Category    string   `json:"category,omitempty"`
	Area        string   `json:"area,omitempty"`
	SourceURL   string   `json:"source_url,omitempty"`
	Ingredients []string `json:"ingredients"`
	Missing     []string `json:"missing,omitempty"`
	UserCreated bool     `json:"user_created,omitempty"`
}

func toRecipeJSON(r backend.Recipe) recipeJSON {
	return recipeJSON{
		ID:          r.ID,
		Title:       r.Title,
		Category:    r.Category,
		Area:        r.Area,
		SourceURL:   r.SourceURL,
		Ingredients: r.IngredientNames(),
		UserCreated: r.IsUserCreated,
	}
}

// newRecipeCmd creates the 'recipe' subcommand
func newRecipeCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	recipeCmd := &cobra.Command{
		Use:   "recipe",
		Short: "Search recipes and manage favorites",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	recipeCmd.AddCommand(&cobra.Command{
		Use:   "search [query]",
		Short: "Search recipes (cached recipes when offline)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				found, err := a.recipes.Search(ctx, query)
				if err != nil {
					return err
				}
				return outputRecipes(a, found, !a.network.Online())
			})
		},
	})

	recipeCmd.AddCommand(&cobra.Command{
		Use:   "random",
		Short: "Show a random recipe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				r, err := a.recipes.Random(ctx)
				if errors.Is(err, recipes.ErrNotFound) {
					return utils.WrapWithSuggestion(err, "Search for recipes while online so some are cached")
				}
				if err != nil {
					return err
				}
				return outputRecipe(ctx, a, r)
			})
		},
	})

	recipeCmd.AddCommand(&cobra.Command{
		Use:   "show [id]",
		Short: "Show a recipe with the ingredients you are missing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				r, err := getRecipe(ctx, a, args[0])
				if err != nil {
					return err
				}
				return outputRecipe(ctx, a, r)
			})
		},
	})

	recipeCmd.AddCommand(&cobra.Command{
		Use:   "missing [id]",
		Short: "List the recipe ingredients not in the pantry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				r, missing, err := a.recipes.Missing(ctx, args[0])
				if errors.Is(err, recipes.ErrNotFound) {
					return utils.ErrRecipeNotFound(args[0])
				}
				if err != nil {
					return err
				}
				if a.jsonOutput() {
					out := toRecipeJSON(*r)
					out.Missing = nonNilStrings(missing)
					return writeJSON(a.stdout, map[string]any{"recipe": out, "missing": out.Missing, "result": ResultInfoOnly})
				}
				if len(missing) == 0 {
					_, _ = fmt.Fprintf(a.stdout, "You have everything for %s\n", r.Title)
				} else {
					_, _ = fmt.Fprintf(a.stdout, "Missing for %s:\n", r.Title)
					for _, name := range missing {
						_, _ = fmt.Fprintf(a.stdout, "  - %s\n", name)
					}
				}
				a.done(ResultInfoOnly)
				return nil
			})
		},
	})

	recipeCmd.AddCommand(&cobra.Command{
		Use:   "fav [id]",
		Short: "Toggle a recipe as favorite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				on, err := a.recipes.ToggleFavorite(ctx, args[0])
				if errors.Is(err, recipes.ErrNotFound) {
					return utils.ErrRecipeNotFound(args[0])
				}
				if err != nil {
					return err
				}
				if a.jsonOutput() {
					return writeJSON(a.stdout, map[string]any{"id": args[0], "favorite": on, "result": ResultActionCompleted})
				}
				if on {
					_, _ = fmt.Fprintf(a.stdout, "Added %s to favorites\n", args[0])
				} else {
					_, _ = fmt.Fprintf(a.stdout, "Removed %s from favorites\n", args[0])
				}
				a.done(ResultActionCompleted)
				return nil
			})
		},
	})

	recipeCmd.AddCommand(&cobra.Command{
		Use:   "favs",
		Short: "List favorite recipes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				favs, err := a.recipes.Favorites(ctx)
				if err != nil {
					return err
				}
				if a.jsonOutput() {
					return writeJSON(a.stdout, map[string]any{"favorites": favs, "count": len(favs), "result": ResultInfoOnly})
				}
				if len(favs) == 0 {
					_, _ = fmt.Fprintln(a.stdout, "No favorites")
				}
				for _, f := range favs {
					_, _ = fmt.Fprintf(a.stdout, "%s  %s\n", f.RecipeID, f.Title)
				}
				a.done(ResultInfoOnly)
				return nil
			})
		},
	})

	addCmd := &cobra.Command{
		Use:   "add [title]",
		Short: "Add your own recipe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := utils.ValidateName(args[0]); err != nil {
				return err
			}
			ingredients, _ := cmd.Flags().GetStringSlice("ingredient")
			instructions, _ := cmd.Flags().GetString("instructions")
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				r, err := a.recipes.AddUserRecipe(ctx, args[0], ingredients, instructions)
				if err != nil {
					return err
				}
				if a.jsonOutput() {
					return writeJSON(a.stdout, map[string]any{"action": "add", "recipe": toRecipeJSON(*r), "result": ResultActionCompleted})
				}
				_, _ = fmt.Fprintf(a.stdout, "Added recipe: %s (%s)\n", r.Title, r.ID)
				a.done(ResultActionCompleted)
				return nil
			})
		},
	}
	addCmd.Flags().StringSliceP("ingredient", "i", nil, "Ingredient (repeatable or comma-separated)")
	addCmd.Flags().String("instructions", "", "Preparation steps")
	recipeCmd.AddCommand(addCmd)

	recipeCmd.AddCommand(&cobra.Command{
		Use:   "mine",
		Short: "List your own recipes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				list, err := a.recipes.UserRecipes(ctx)
				if err != nil {
					return err
				}
				return outputRecipes(a, list, false)
			})
		},
	})

	return recipeCmd
}

func getRecipe(ctx context.Context, a *app, id string) (*backend.Recipe, error) {
	r, err := a.recipes.Get(ctx, id)
	if errors.Is(err, recipes.ErrNotFound) {
		return nil, utils.ErrRecipeNotFound(id)
	}
	return r, err
}

func outputRecipes(a *app, list []backend.Recipe, fromCache bool) error {
	if a.jsonOutput() {
		out := make([]recipeJSON, 0, len(list))
		for _, r := range list {
			out = append(out, toRecipeJSON(r))
		}
		return writeJSON(a.stdout, map[string]any{"recipes": out, "count": len(out), "cached": fromCache, "result": ResultInfoOnly})
	}
	if fromCache {
		_, _ = fmt.Fprintln(a.stdout, "Offline: showing cached recipes")
	}
	if len(list) == 0 {
		_, _ = fmt.Fprintln(a.stdout, "No recipes found")
	}
	for _, r := range list {
		_, _ = fmt.Fprintf(a.stdout, "%s  %s\n", r.ID, r.Title)
	}
	a.done(ResultInfoOnly)
	return nil
}

func outputRecipe(ctx context.Context, a *app, r *backend.Recipe) error {
	items, err := a.pantry.ListItems(ctx)
	if err != nil {
		return err
	}
	missing := backend.MissingIngredients(*r, items)
	if a.jsonOutput() {
		out := toRecipeJSON(*r)
		out.Missing = nonNilStrings(missing)
		return writeJSON(a.stdout, map[string]any{"recipe": out, "result": ResultInfoOnly})
	}
	_, _ = fmt.Fprintf(a.stdout, "%s (%s)\n", r.Title, r.ID)
	if r.Category != "" || r.Area != "" {
		_, _ = fmt.Fprintf(a.stdout, "%s\n", strings.Trim(r.Category+" / "+r.Area, " /"))
	}
	if r.SourceURL != "" {
		_, _ = fmt.Fprintf(a.stdout, "%s\n", r.SourceURL)
	}
	_, _ = fmt.Fprintln(a.stdout, "\nIngredients:")
	lacking := make(map[string]bool, len(missing))
	for _, m := range missing {
		lacking[m] = true
	}
	for _, name := range r.IngredientNames() {
		mark := "x"
		if lacking[name] {
			mark = " "
		}
		_, _ = fmt.Fprintf(a.stdout, "  [%s] %s\n", mark, name)
	}
	if r.Instructions != "" {
		_, _ = fmt.Fprintf(a.stdout, "\n%s\n", r.Instructions)
	}
	a.done(ResultInfoOnly)
	return nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
