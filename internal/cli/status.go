package cli

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status for every pipeline component",
		Run:   runStatus,
	}

	RootCmd.AddCommand(cmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	m, err := openManager()
	if err != nil {
		exitErr("open manager", err)
	}

	st := m.Status()
	if formatFlag == "text" {
		bold := color.New(color.Bold)
		bold.Println("memcore status")
		fmt.Printf("  security: enabled=%v encryption=%v audit=%v\n",
			st.Security.Enabled, st.Security.EncryptionEnabled, st.Security.AuditLogEnabled)
		fmt.Printf("  cache: %d/%d entries, hit rate %.2f, %d hot\n",
			st.Performance.Size, st.Performance.MaxSize, st.Performance.HitRate, st.Performance.HotEntries)
		fmt.Printf("  quality: %d evaluated, %d filtered, %d deduplicated (ledger %d)\n",
			st.Quality.Stats.Evaluated, st.Quality.Stats.Filtered, st.Quality.Stats.Deduplicated, st.Quality.LedgerSize)
		fmt.Printf("  index: %d entries, %d chunks\n", st.Indexer.Entries, st.Indexer.TotalChunks)
		fmt.Printf("  archive: %v\n", st.Lifecycle.Tiers)
		if st.Indexer.Health.Healthy {
			color.Green("  health: ok")
		} else {
			color.Red("  health: degraded")
		}
		return
	}

	b, _ := json.MarshalIndent(st, "", "  ")
	fmt.Println(string(b))
}
