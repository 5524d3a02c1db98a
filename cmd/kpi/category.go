// ABOUTME: CLI commands for managing metric categories.
// ABOUTME: Categories can nest under a parent and carry a sort order.
package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/harperreed/kpi/internal/models"
	"github.com/spf13/cobra"
)

var (
	categoryParent string
	categorySort   int
)

var categoryCmd = &cobra.Command{
	Use:     "category",
	Aliases: []string{"cat"},
	Short:   "Manage metric categories",
}

var categoryAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a category",
	Long: `Create a category to group related metrics.

The slug is derived from the name and can be used anywhere a category is
expected, along with the ID or an ID prefix.

EXAMPLES:

  kpi category add Sales
  kpi category add "Enterprise Sales" --parent sales
  kpi category add Marketing --sort 2`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c := models.NewCategory(args[0])
		c.SortOrder = categorySort
		if categoryParent != "" {
			parent, err := repo.GetCategory(ctx, categoryParent)
			if err != nil {
				return fmt.Errorf("failed to find parent category: %w", err)
			}
			c.WithParent(parent.ID)
		}
		if err := repo.CreateCategory(ctx, c); err != nil {
			return fmt.Errorf("failed to create category: %w", err)
		}

		color.Green("✓ Added category %s", c.Name)
		fmt.Fprintf(cmd.OutOrStdout(), "  %s %s\n", color.New(color.Faint).Sprint(c.ID.String()[:8]), c.Slug)
		return nil
	},
}

var categoryListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List categories as a tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		categories, err := repo.ListCategories(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to list categories: %w", err)
		}
		if len(categories) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No categories found.")
			return nil
		}

		var roots []*models.Category
		for _, c := range categories {
			if c.ParentID == nil {
				roots = append(roots, c)
			}
		}
		for _, c := range roots {
			printCategory(cmd, c, categories, 0)
		}
		return nil
	},
}

func printCategory(cmd *cobra.Command, c *models.Category, all []*models.Category, depth int) {
	faint := color.New(color.Faint)
	fmt.Fprintf(cmd.OutOrStdout(), "%s %*s%s %s\n",
		faint.Sprint(c.ID.String()[:8]), depth*2, "", c.Name, faint.Sprintf("(%s)", c.Slug))

	children := c.Children(all)
	sort.SliceStable(children, func(i, j int) bool { return children[i].SortOrder < children[j].SortOrder })
	for _, child := range children {
		printCategory(cmd, child, all, depth+1)
	}
}

func init() {
	categoryAddCmd.Flags().StringVar(&categoryParent, "parent", "", "parent category (id, prefix, or slug)")
	categoryAddCmd.Flags().IntVar(&categorySort, "sort", 0, "sort order among siblings")

	categoryCmd.AddCommand(categoryAddCmd, categoryListCmd)
	rootCmd.AddCommand(categoryCmd)
}
