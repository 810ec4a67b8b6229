package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Expire archived entries past retention",
		Run:   runCleanup,
	}

	RootCmd.AddCommand(cmd)
}

func runCleanup(cmd *cobra.Command, args []string) {
	m, err := openManager()
	if err != nil {
		exitErr("open manager", err)
	}

	report, err := m.Cleanup()
	if err != nil {
		exitErr("cleanup", err)
	}

	b, _ := json.MarshalIndent(report, "", "  ")
	fmt.Println(string(b))
}
