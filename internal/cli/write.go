package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openclaw/memcore/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "write [content]",
		Short: "Write a memory entry",
		Long:  "Write an entry through the full pipeline. Content can be a positional arg or piped via stdin.",
		Run:   runWrite,
	}

	cmd.Flags().String("source", model.SourceUserDirect, "Provenance: user_direct, inferred, external")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().String("path", "", "Origin path recorded with the entry")

	RootCmd.AddCommand(cmd)
}

func runWrite(cmd *cobra.Command, args []string) {
	source, _ := cmd.Flags().GetString("source")
	tagsStr, _ := cmd.Flags().GetString("tags")
	path, _ := cmd.Flags().GetString("path")

	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}
	if strings.TrimSpace(content) == "" {
		exitErr("write", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	var tags []string
	for _, t := range strings.Split(tagsStr, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	m, err := openManager()
	if err != nil {
		exitErr("open manager", err)
	}

	result, err := m.Write(model.MemoryEntry{
		Content: strings.TrimSpace(content),
		Source:  source,
		Tags:    tags,
		Path:    path,
	})
	if err != nil {
		exitErr("write", err)
	}

	b, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(b))
}
