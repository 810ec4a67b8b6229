package cli

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check index health",
		Run:   runHealth,
	}

	RootCmd.AddCommand(cmd)
}

func runHealth(cmd *cobra.Command, args []string) {
	m, err := openManager()
	if err != nil {
		exitErr("open manager", err)
	}

	h := m.Health()
	if formatFlag == "text" {
		if h.Healthy {
			color.Green("healthy")
		} else {
			color.Red("unhealthy")
		}
		fmt.Printf("tiers: %d / %d / %d\n", h.Tier0Count, h.Tier1Count, h.Tier2Count)
		for _, issue := range h.Issues {
			fmt.Printf("  [%s] %s", issue.Severity, issue.Message)
			if issue.Details != "" {
				fmt.Printf(" (%s)", issue.Details)
			}
			fmt.Println()
		}
		return
	}

	b, _ := json.MarshalIndent(h, "", "  ")
	fmt.Println(string(b))
}
