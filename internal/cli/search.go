package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/openclaw/memcore/internal/retrieval"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories",
		Long:  "Run the retrieval pipeline: intent recognition, query expansion, hybrid ranking, and diversification.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().IntP("limit", "l", 0, "Max results (default from config)")
	cmd.Flags().Bool("cache", false, "Cache the result for later identical queries")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	cache, _ := cmd.Flags().GetBool("cache")
	query := strings.Join(args, " ")

	m, err := openManager()
	if err != nil {
		exitErr("open manager", err)
	}

	result, err := m.Search(cmd.Context(), query, retrieval.Options{MaxResults: limit})
	if err != nil {
		exitErr("search", err)
	}
	if cache && !result.Cached {
		m.CacheSearchResult(query, result)
	}

	if formatFlag == "text" {
		if result.Intent != nil {
			fmt.Printf("intent: %s (%.1f)\n", result.Intent.Type, result.Intent.Confidence)
		}
		if len(result.Hits) == 0 {
			fmt.Println("no results")
			return
		}
		for _, hit := range result.Hits {
			color.New(color.Bold).Printf("%s", hit.Title)
			fmt.Printf("  [%s]  score=%.3f  id=%s\n", hit.Type, hit.Score, hit.ID)
			if hit.Summary != "" {
				fmt.Printf("  %s\n", hit.Summary)
			}
		}
		return
	}

	b, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(b))
}
