package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type searchOptions struct {
	limit  int
	format string
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the segment index",
		Long: `Search committed segments with hybrid retrieval: the query runs
through both the vector index and the keyword index, and results are
merged vector-first.

Examples:
  docuflow search "turbine maintenance schedule"
  docuflow search "결산 보고" --limit 5 --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, appOptions{index: true})
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.idx.Search(ctx, query, opts.limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Fprintln(out, "no results")
		return nil
	}
	for i, rec := range results {
		fmt.Fprintf(out, "%d. %s segment %d (%s)\n",
			i+1, rec.DocumentID, rec.SegmentIndex, rec.Status)
		fmt.Fprintf(out, "   %s\n", snippet(rec.ContentCombined, 160))
	}
	return nil
}

// snippet returns the first line of content, trimmed to max runes.
func snippet(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	runes := []rune(s)
	if len(runes) > max {
		return string(runes[:max]) + "..."
	}
	return s
}
