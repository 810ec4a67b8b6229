package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm [id]",
		Short: "Delete an entry",
		Long:  "Archive the entry under its retention tier, then remove it from the index and cache.",
		Args:  cobra.ExactArgs(1),
		Run:   runRm,
	}

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	m, err := openManager()
	if err != nil {
		exitErr("open manager", err)
	}

	if err := m.Delete(args[0]); err != nil {
		exitErr("rm", err)
	}
	fmt.Printf("deleted %s\n", args[0])
}
