package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Bezzdar/local-rag/internal/logging"
)

// NewLogsCmd creates the logs command, a tail/follow viewer for the
// server's JSON log file.
func NewLogsCmd() *cobra.Command {
	var (
		follow  bool
		lines   int
		level   string
		filter  string
		noColor bool
		logFile string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "View server logs",
		Long: `View and tail the local-rag server log.

By default, shows the last 50 lines. Use -f to follow new entries in
real-time (like 'tail -f').

Examples:
  local-rag logs                  # Show last 50 lines
  local-rag logs -n 100           # Show last 100 lines
  local-rag logs -f               # Follow logs in real-time
  local-rag logs --level error    # Show only error logs
  local-rag logs --filter upload  # Filter by pattern`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := logFile
			if path == "" {
				path = logging.DefaultLogPath()
			}

			var pattern *regexp.Regexp
			if filter != "" {
				var err error
				pattern, err = regexp.Compile(filter)
				if err != nil {
					return fmt.Errorf("invalid filter pattern: %w", err)
				}
			}

			viewer := logging.NewViewer(logging.ViewerConfig{
				Level:   level,
				Pattern: pattern,
				NoColor: noColor,
			}, cmd.OutOrStdout())

			fmt.Fprintf(cmd.ErrOrStderr(), "Log file: %s\n", path)
			if follow {
				fmt.Fprintln(cmd.ErrOrStderr(), "Following... (Ctrl+C to stop)")
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "---")

			if follow {
				return followLogs(cmd.Context(), viewer, path, cmd.OutOrStdout())
			}

			entries, err := viewer.Tail(path, lines)
			if err != nil {
				return err
			}
			viewer.Print(entries)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output (like tail -f)")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of lines to show")
	cmd.Flags().StringVar(&level, "level", "", "Filter by log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&filter, "filter", "", "Filter by keyword/pattern (regex)")
	cmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.Flags().StringVar(&logFile, "file", "", "Path to log file")

	return cmd
}

func followLogs(ctx context.Context, viewer *logging.Viewer, path string, out io.Writer) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	entries := make(chan logging.LogEntry, 100)
	errCh := make(chan error, 1)

	go func() {
		errCh <- viewer.Follow(ctx, path, entries)
	}()

	for {
		select {
		case entry := <-entries:
			fmt.Fprintln(out, viewer.FormatEntry(entry))
		case err := <-errCh:
			return err
		case <-ctx.Done():
			return nil
		}
	}
}
