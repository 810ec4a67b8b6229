package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "routine [name] [args...]",
		Short: "Run a registered automation routine",
		Long:  "Run one of the built-in routines: importance-filter, contradiction-detector, auto-summary.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runRoutine,
	}

	RootCmd.AddCommand(cmd)
}

func runRoutine(cmd *cobra.Command, args []string) {
	m, err := openManager()
	if err != nil {
		exitErr("open manager", err)
	}

	result, err := m.RunRoutine(cmd.Context(), args[0], args[1:]...)
	if err != nil {
		exitErr("routine", err)
	}

	b, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(b))
}
