package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pantryat/backend"
	"pantryat/internal/utils"
)

type itemJSON struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Quantity          float64  `json:"quantity"`
	Unit              string   `json:"unit,omitempty"`
	Category          string   `json:"category,omitempty"`
	ExpiresAt         *string  `json:"expires_at,omitempty"`
	LowStockThreshold *float64 `json:"low_stock_threshold,omitempty"`
	Low               bool     `json:"low"`
}

type itemListResponse struct {
	Items  []itemJSON `json:"items"`
	Count  int        `json:"count"`
	Result string     `json:"result"`
}

type itemActionResponse struct {
	Action string   `json:"action"`
	Item   itemJSON `json:"item"`
	Result string   `json:"result"`
}

// newItemCmd creates the 'item' subcommand
func newItemCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	itemCmd := &cobra.Command{
		Use:   "item",
		Short: "Manage pantry items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				return doItemList(ctx, a, "", nil)
			})
		},
	}

	itemCmd.AddCommand(newItemAddCmd(stdout, cfg))
	itemCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pantry items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				return doItemList(ctx, a, "", nil)
			})
		},
	})
	itemCmd.AddCommand(newItemUpdateCmd(stdout, cfg))
	itemCmd.AddCommand(&cobra.Command{
		Use:     "remove [name]",
		Aliases: []string{"rm"},
		Short:   "Remove a pantry item",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				return doItemRemove(ctx, a, args[0])
			})
		},
	})
	itemCmd.AddCommand(&cobra.Command{
		Use:   "low",
		Short: "List items at or below their low-stock threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				return doItemList(ctx, a, "low", func(items []backend.Item) []backend.Item {
					return backend.LowStockAt(items, a.conf.GetLowStockDefault())
				})
			})
		},
	})

	expiringCmd := &cobra.Command{
		Use:   "expiring",
		Short: "List items expiring soon, including expired ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			days, _ := cmd.Flags().GetInt("days")
			if days < 0 {
				return fmt.Errorf("--days must not be negative")
			}
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				return doItemList(ctx, a, "expiring", func(items []backend.Item) []backend.Item {
					return backend.ExpiringWithin(items, time.Now(), time.Duration(days)*24*time.Hour)
				})
			})
		},
	}
	expiringCmd.Flags().Int("days", 3, "Window in days")
	itemCmd.AddCommand(expiringCmd)

	return itemCmd
}

func newItemAddCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Add a pantry item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item := &backend.Item{Name: args[0]}
			if err := utils.ValidateName(item.Name); err != nil {
				return err
			}
			item.Quantity, _ = cmd.Flags().GetFloat64("quantity")
			if err := utils.ValidateQuantity("quantity", item.Quantity); err != nil {
				return err
			}
			item.Unit, _ = cmd.Flags().GetString("unit")
			if cmd.Flags().Changed("threshold") {
				v, _ := cmd.Flags().GetFloat64("threshold")
				if err := utils.ValidateQuantity("threshold", v); err != nil {
					return err
				}
				item.LowStockThreshold = &v
			}
			expires, _ := cmd.Flags().GetString("expires")
			exp, err := utils.ParseDateFlag(expires)
			if err != nil {
				return err
			}
			item.ExpiresAt = exp
			category, _ := cmd.Flags().GetString("category")
			keepBoth, _ := cmd.Flags().GetBool("keep-both")
			merge, _ := cmd.Flags().GetBool("merge")

			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				if category != "" {
					c, err := findCategory(ctx, a, category)
					if err != nil {
						return err
					}
					item.CategoryID = c.ID
				}
				if keepBoth {
					added, err := a.pantry.InsertItem(ctx, item)
					if err != nil {
						return err
					}
					a.afterMutation(ctx)
					return outputItemAction(ctx, a, "add", added)
				}
				added, dup, err := a.pantry.AddItem(ctx, item)
				if err != nil {
					return err
				}
				if dup && merge {
					qty := added.Quantity + item.Quantity
					merged, err := a.pantry.UpdateItem(ctx, added.ID, backend.ItemPatch{Quantity: &qty})
					if err != nil {
						return err
					}
					a.afterMutation(ctx)
					return outputItemAction(ctx, a, "update", merged)
				}
				if dup {
					return utils.ErrDuplicateItem(added.Name)
				}
				a.afterMutation(ctx)
				return outputItemAction(ctx, a, "add", added)
			})
		},
	}
	cmd.Flags().Float64P("quantity", "q", 1, "Quantity")
	cmd.Flags().StringP("unit", "u", "", "Unit (kg, g, l, pcs, ...)")
	cmd.Flags().StringP("category", "c", "", "Category name")
	cmd.Flags().StringP("expires", "e", "", "Expiration date (YYYY-MM-DD or +7d)")
	cmd.Flags().Float64P("threshold", "t", 0, "Low-stock threshold")
	cmd.Flags().Bool("keep-both", false, "Add the item even if one with the same name exists")
	cmd.Flags().Bool("merge", false, "Add the quantity to an existing item with the same name")
	cmd.MarkFlagsMutuallyExclusive("keep-both", "merge")
	return cmd
}

func newItemUpdateCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update [name]",
		Short: "Update a pantry item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch backend.ItemPatch
			flags := cmd.Flags()
			if flags.Changed("name") {
				v, _ := flags.GetString("name")
				if err := utils.ValidateName(v); err != nil {
					return err
				}
				patch.Name = &v
			}
			if flags.Changed("quantity") {
				v, _ := flags.GetFloat64("quantity")
				if err := utils.ValidateQuantity("quantity", v); err != nil {
					return err
				}
				patch.Quantity = &v
			}
			if flags.Changed("unit") {
				v, _ := flags.GetString("unit")
				patch.Unit = &v
			}
			if flags.Changed("threshold") {
				v, _ := flags.GetFloat64("threshold")
				if err := utils.ValidateQuantity("threshold", v); err != nil {
					return err
				}
				patch.LowStockThreshold = &v
			}
			if flags.Changed("expires") {
				v, _ := flags.GetString("expires")
				exp, err := utils.ParseDateFlag(v)
				if err != nil {
					return err
				}
				patch.ExpiresAt = exp
			}

			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				item, err := a.pantry.GetItemByName(ctx, args[0])
				if err != nil {
					return err
				}
				if item == nil {
					return utils.ErrItemNotFound(args[0])
				}
				if flags.Changed("category") {
					v, _ := flags.GetString("category")
					id := ""
					if v != "" {
						c, err := findCategory(ctx, a, v)
						if err != nil {
							return err
						}
						id = c.ID
					}
					patch.CategoryID = &id
				}
				if patch.Name != nil && backend.NormalizeName(*patch.Name) != backend.NormalizeName(item.Name) {
					other, err := a.pantry.GetItemByName(ctx, *patch.Name)
					if err != nil {
						return err
					}
					if other != nil {
						return utils.ErrDuplicateItem(other.Name)
					}
				}
				updated, err := a.pantry.UpdateItem(ctx, item.ID, patch)
				if err != nil {
					return err
				}
				a.afterMutation(ctx)
				return outputItemAction(ctx, a, "update", updated)
			})
		},
	}
	cmd.Flags().String("name", "", "New name")
	cmd.Flags().Float64P("quantity", "q", 0, "Quantity")
	cmd.Flags().StringP("unit", "u", "", "Unit")
	cmd.Flags().StringP("category", "c", "", "Category name (empty to clear)")
	cmd.Flags().StringP("expires", "e", "", "Expiration date (YYYY-MM-DD or +7d)")
	cmd.Flags().Float64P("threshold", "t", 0, "Low-stock threshold")
	return cmd
}

func doItemRemove(ctx context.Context, a *app, name string) error {
	item, err := a.pantry.GetItemByName(ctx, name)
	if err != nil {
		return err
	}
	if item == nil {
		return utils.ErrItemNotFound(name)
	}
	if err := a.pantry.RemoveItem(ctx, item.ID); err != nil {
		return err
	}
	a.afterMutation(ctx)
	return outputItemAction(ctx, a, "remove", item)
}

func doItemList(ctx context.Context, a *app, title string, filter func([]backend.Item) []backend.Item) error {
	items, err := a.pantry.ListItems(ctx)
	if err != nil {
		return err
	}
	if filter != nil {
		items = filter(items)
	}
	names, err := categoryNames(ctx, a)
	if err != nil {
		return err
	}
	threshold := a.conf.GetLowStockDefault()

	if a.jsonOutput() {
		out := make([]itemJSON, 0, len(items))
		for _, it := range items {
			out = append(out, toItemJSON(it, names, threshold))
		}
		return writeJSON(a.stdout, itemListResponse{Items: out, Count: len(out), Result: ResultInfoOnly})
	}

	if len(items) == 0 {
		if title == "" {
			_, _ = fmt.Fprintln(a.stdout, "No items")
		} else {
			_, _ = fmt.Fprintf(a.stdout, "No %s items\n", title)
		}
		a.done(ResultInfoOnly)
		return nil
	}

	w := tabwriter.NewWriter(a.stdout, 0, 2, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tQUANTITY\tCATEGORY\tEXPIRES\t")
	for _, it := range items {
		expires := ""
		if it.ExpiresAt != nil {
			expires = it.ExpiresAt.Format("2006-01-02")
		}
		qty := strings.TrimSpace(fmt.Sprintf("%g %s", it.Quantity, it.Unit))
		flag := ""
		if backend.IsLow(it, threshold) {
			flag = "(low)"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", it.Name, qty, names[it.CategoryID], expires, flag)
	}
	_ = w.Flush()
	a.done(ResultInfoOnly)
	return nil
}

func outputItemAction(ctx context.Context, a *app, action string, item *backend.Item) error {
	if a.jsonOutput() {
		names, err := categoryNames(ctx, a)
		if err != nil {
			return err
		}
		return writeJSON(a.stdout, itemActionResponse{
			Action: action,
			Item:   toItemJSON(*item, names, a.conf.GetLowStockDefault()),
			Result: ResultActionCompleted,
		})
	}
	qty := strings.TrimSpace(fmt.Sprintf("%g %s", item.Quantity, item.Unit))
	switch action {
	case "add":
		_, _ = fmt.Fprintf(a.stdout, "Added item: %s (%s)\n", item.Name, qty)
	case "update":
		_, _ = fmt.Fprintf(a.stdout, "Updated item: %s (%s)\n", item.Name, qty)
	case "remove":
		_, _ = fmt.Fprintf(a.stdout, "Removed item: %s\n", item.Name)
	}
	a.done(ResultActionCompleted)
	return nil
}

func toItemJSON(it backend.Item, categories map[string]string, threshold float64) itemJSON {
	out := itemJSON{
		ID:                it.ID,
		Name:              it.Name,
		Quantity:          it.Quantity,
		Unit:              it.Unit,
		Category:          categories[it.CategoryID],
		LowStockThreshold: it.LowStockThreshold,
		Low:               backend.IsLow(it, threshold),
	}
	if it.ExpiresAt != nil {
		s := it.ExpiresAt.Format("2006-01-02")
		out.ExpiresAt = &s
	}
	return out
}

func categoryNames(ctx context.Context, a *app) (map[string]string, error) {
	cats, err := a.pantry.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(cats))
	for _, c := range cats {
		names[c.ID] = c.Name
	}
	return names, nil
}

func findCategory(ctx context.Context, a *app, name string) (*backend.Category, error) {
	cats, err := a.pantry.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	want := backend.NormalizeName(name)
	for _, c := range cats {
		if backend.NormalizeName(c.Name) == want {
			return &c, nil
		}
	}
	return nil, utils.ErrCategoryNotFound(name)
}

// newCategoryCmd creates the 'category' subcommand
func newCategoryCmd(stdout io.Writer, cfg *Config) *cobra.Command {
	categoryCmd := &cobra.Command{
		Use:   "category",
		Short: "Manage item categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, doCategoryList)
		},
	}

	addCmd := &cobra.Command{
		Use:   "add [name]",
		Short: "Add a category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := utils.ValidateName(args[0]); err != nil {
				return err
			}
			color, _ := cmd.Flags().GetString("color")
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				c, err := a.pantry.AddCategory(ctx, args[0], color)
				if err != nil {
					return err
				}
				if a.jsonOutput() {
					return writeJSON(a.stdout, map[string]any{"action": "add", "category": c, "result": ResultActionCompleted})
				}
				_, _ = fmt.Fprintf(a.stdout, "Category: %s\n", c.Name)
				a.done(ResultActionCompleted)
				return nil
			})
		},
	}
	addCmd.Flags().String("color", "", "Display color (hex)")
	categoryCmd.AddCommand(addCmd)

	categoryCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, doCategoryList)
		},
	})

	categoryCmd.AddCommand(&cobra.Command{
		Use:     "remove [name]",
		Aliases: []string{"rm"},
		Short:   "Remove a category; its items become uncategorized",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, cfg, stdout, func(ctx context.Context, a *app) error {
				c, err := findCategory(ctx, a, args[0])
				if err != nil {
					return err
				}
				if err := a.pantry.RemoveCategory(ctx, c.ID); err != nil {
					return err
				}
				if a.jsonOutput() {
					return writeJSON(a.stdout, map[string]any{"action": "remove", "category": c, "result": ResultActionCompleted})
				}
				_, _ = fmt.Fprintf(a.stdout, "Removed category: %s\n", c.Name)
				a.done(ResultActionCompleted)
				return nil
			})
		},
	})
	return categoryCmd
}

func doCategoryList(ctx context.Context, a *app) error {
	cats, err := a.pantry.ListCategories(ctx)
	if err != nil {
		return err
	}
	if a.jsonOutput() {
		return writeJSON(a.stdout, map[string]any{"categories": cats, "count": len(cats), "result": ResultInfoOnly})
	}
	if len(cats) == 0 {
		_, _ = fmt.Fprintln(a.stdout, "No categories")
	}
	for _, c := range cats {
		_, _ = fmt.Fprintln(a.stdout, c.Name)
	}
	a.done(ResultInfoOnly)
	return nil
}
