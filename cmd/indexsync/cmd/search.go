package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/indexsync/internal/search"
)

func newSearchCmd(flags *globalFlags) *cobra.Command {
	var (
		field      string
		filters    []string
		limit      int
		facetField string
		ranges     []string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "search <index> [text]",
		Short: "Query an index",
		Example: `  indexsync search library dune --field title
  indexsync search library --filter genre=scifi --json
  indexsync search library --facet year --range 1900..<1950 --range 1950..1999`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(ranges) > 0 && facetField == "" {
				return fmt.Errorf("--range requires --facet")
			}
			parsed, err := parseAssignments(filters)
			if err != nil {
				return err
			}
			req := search.Request{Index: args[0], Field: field, Limit: limit}
			if len(args) == 2 {
				req.Text = args[1]
			}
			for name, value := range parsed {
				req.Filters = append(req.Filters, search.Filter{Name: name, Value: value})
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context(), cfg, slog.Default())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			hits, total, err := a.engine.Search(cmd.Context(), req)
			if err != nil {
				return err
			}
			var facets []search.FacetCount
			if facetField != "" {
				facets, err = a.engine.Facet(cmd.Context(), req, facetField, ranges...)
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				out := map[string]any{"total": total, "hits": hits}
				if facetField != "" {
					out["facets"] = facets
				}
				return enc.Encode(out)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "TYPE\tID\tSCORE")
			for _, h := range hits {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%.3f\n", h.EntityType, h.Identifier, h.Score)
			}
			_ = tw.Flush()
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%d of %d hits\n", len(hits), total)
			for _, f := range facets {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %d\n", facetField, f.Range, f.Count)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "Field to match (default: all fields)")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "Named filter as name=value (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum hits")
	cmd.Flags().StringVar(&facetField, "facet", "", "Numeric field to count matching documents by range")
	cmd.Flags().StringArrayVar(&ranges, "range", nil, "Facet range as lo..hi or lo..<hi (repeatable)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}
