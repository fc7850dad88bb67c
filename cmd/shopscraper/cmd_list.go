package main

import (
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/docutag/shopscraper/models"
)

// titleWidth caps the title column, in terminal cells
const titleWidth = 60

var (
	listCategory string
	listSource   string
	listSearch   string
	listSort     string
	listLimit    int
	listMarkdown bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "Print stored products as a table",
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listCategory, "category", "", "Only products in this category")
	listCmd.Flags().StringVar(&listSource, "source", "", "Only products of this source id")
	listCmd.Flags().StringVar(&listSearch, "search", "", "Title substring, case-insensitive")
	listCmd.Flags().StringVar(&listSort, "sort", string(models.SortPriceAsc), "price_asc, price_desc, name_asc or name_desc")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "Maximum rows, 0 for all")
	listCmd.Flags().BoolVar(&listMarkdown, "markdown", false, "Render a Markdown table")
}

func runList(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	database, err := openDB(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close()

	products, err := database.QueryAll(cmd.Context(), models.ProductFilter{
		Category: listCategory,
		SourceID: listSource,
		Search:   listSearch,
		Limit:    listLimit,
	}, models.ParseSortOrder(listSort))
	if err != nil {
		return err
	}

	renderProducts(cmd.OutOrStdout(), products, listMarkdown)
	return nil
}

// renderProducts writes products as a table to w
func renderProducts(w io.Writer, products []models.ProductRecord, markdown bool) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Title", "Source", "Price", "Rating", "Category"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})

	for _, p := range products {
		t.AppendRow(table.Row{runewidth.Truncate(p.Title, titleWidth, "…"), p.SourceID, optFloat(p.Price, "%.2f"), optFloat(p.Rating, "%.1f"), optString(p.Category)})
	}
	t.AppendFooter(table.Row{"", "", "", "Total", len(products)})

	if markdown {
		t.RenderMarkdown()
		return
	}
	t.Render()
}

func optFloat(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func optString(v *string) string {
	if v == nil {
		return "-"
	}
	return *v
}
