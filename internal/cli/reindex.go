package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the index from documents under the memory root",
		Long:  "Walk the memory root and index every markdown and text document not already registered in the quality ledger.",
		Run:   runReindex,
	}

	RootCmd.AddCommand(cmd)
}

func runReindex(cmd *cobra.Command, args []string) {
	m, err := openManager()
	if err != nil {
		exitErr("open manager", err)
	}

	n, err := m.Reindex()
	if err != nil {
		exitErr("reindex", err)
	}
	fmt.Printf("indexed %d documents\n", n)
}
