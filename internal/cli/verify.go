package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "verify [id]",
		Short: "Record a verification outcome for an entry",
		Args:  cobra.ExactArgs(1),
		Run:   runVerify,
	}

	cmd.Flags().Bool("reject", false, "Mark the entry rejected instead of verified")

	RootCmd.AddCommand(cmd)
}

func runVerify(cmd *cobra.Command, args []string) {
	reject, _ := cmd.Flags().GetBool("reject")

	m, err := openManager()
	if err != nil {
		exitErr("open manager", err)
	}

	status, err := m.Verify(args[0], !reject)
	if err != nil {
		exitErr("verify", err)
	}
	fmt.Printf("%s: %s\n", args[0], status)
}
