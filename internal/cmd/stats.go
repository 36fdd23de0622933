package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ratefence/ratefence/internal/output"
)

var (
	statsOutput string
	statsOut    string
	statsOutDir string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show limiter counters and current window usage",
	Long: `Stats reads the shared window record without taking the lock, so it
never delays acquiring processes. The view is best-effort: it may trail a
concurrent commit by one version.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(statsOutput)
		if err != nil {
			return err
		}

		limiter, _, err := openLimiter()
		if err != nil {
			return err
		}

		snapshot, err := limiter.Snapshot(cmd.Context())
		if err != nil {
			return err
		}

		outPath := strings.TrimSpace(statsOut)
		outDir := strings.TrimSpace(statsOutDir)
		if outPath != "" && outDir != "" {
			return fmt.Errorf("--out and --out-dir are mutually exclusive")
		}
		if outDir != "" {
			outDir, err = ensureOutDir(outDir)
			if err != nil {
				return err
			}
			outPath = filepath.Join(outDir, fmt.Sprintf("ratefence.stats.%s", outputExtension(format)))
		}

		sink, err := openSink(outPath)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		rendered, err := output.NewFormatter(format).FormatSnapshot(snapshot)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	statsCmd.Flags().StringVar(&statsOut, "out", "", "Write output to a file (default stdout)")
	statsCmd.Flags().StringVar(&statsOutDir, "out-dir", "", "Write output to a directory")
	rootCmd.AddCommand(statsCmd)
}
