package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "clear-cache",
		Short: "Empty the performance cache",
		Run:   runClearCache,
	}

	RootCmd.AddCommand(cmd)
}

func runClearCache(cmd *cobra.Command, args []string) {
	m, err := openManager()
	if err != nil {
		exitErr("open manager", err)
	}

	m.ClearCache()
	fmt.Println("cache cleared")
}
