// Package cmd provides the CLI commands for local-rag.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Bezzdar/local-rag/pkg/version"
)

var (
	configPath string
	dataDir    string
	addr       string
)

// NewRootCmd creates the root command for the local-rag CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "local-rag",
		Short: "Local RAG backend for notebook-style document chat",
		Long: `local-rag indexes uploaded documents into per-notebook SQLite
databases (FTS5 + dense vectors) and answers questions over them
through a local LLM, streaming tokens over SSE.

Everything runs on local disk; the only network dependencies are the
embedding and chat model servers.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("local-rag version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "Override the data directory")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewLogsCmd())
	cmd.AddCommand(NewConfigCmd())
	cmd.AddCommand(NewVersionCmd())
	return cmd
}

// Execute runs the root command.
func Execute() error {
	cmd := NewRootCmd()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
