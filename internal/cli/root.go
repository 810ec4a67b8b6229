// Package cli implements the memcore CLI commands.
package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/openclaw/memcore/internal/config"
	"github.com/openclaw/memcore/internal/embedding"
	"github.com/openclaw/memcore/internal/manager"
)

var (
	rootDir    string
	configPath string
	formatFlag string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "memcore",
	Short: "Layered agent memory pipeline",
	Long:  "File-backed agent memory with sanitization, quality scoring, multi-level indexing, caching, and hybrid retrieval.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&rootDir, "root", "r", "", "Memory root (default: $MEMCORE_ROOT or ~/.memcore)")
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <root>/config/memory-config.json)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func getRoot() string {
	if rootDir != "" {
		return rootDir
	}
	if env := os.Getenv("MEMCORE_ROOT"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".memcore")
}

func openManager() (*manager.Manager, error) {
	root := getRoot()
	path := configPath
	if path == "" {
		path = filepath.Join(root, "config", "memory-config.json")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return manager.New(cfg, root, embedding.NewFromEnv())
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
