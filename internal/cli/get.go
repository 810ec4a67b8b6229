package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Fetch the full record for an entry",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	m, err := openManager()
	if err != nil {
		exitErr("open manager", err)
	}

	rec, ok := m.Get(args[0])
	if !ok {
		exitErr("get", fmt.Errorf("entry %s not found", args[0]))
	}

	b, _ := json.MarshalIndent(rec, "", "  ")
	fmt.Println(string(b))
}
