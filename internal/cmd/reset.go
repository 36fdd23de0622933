package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ratefence/ratefence/internal/core/lock"
	"github.com/ratefence/ratefence/internal/core/store"
	"github.com/ratefence/ratefence/internal/output"
)

var (
	resetYes    bool
	resetDryRun bool
	resetOutput string
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the shared window record",
	Long: `Reset removes the durable window record, forgetting all grants in the
current window. Every cooperating process starts from an empty window on its
next acquisition.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(resetOutput)
		if err != nil {
			return err
		}

		if !resetYes && !resetDryRun {
			return errors.New("reset requires --yes (or use --dry-run)")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		db := store.New(cfg.Limiter.StatePath)

		if resetDryRun {
			record, err := db.Load(cmd.Context())
			if err != nil {
				return err
			}
			return writeResetResult(format, cmd.OutOrStdout(), record.Usage(), false, true)
		}

		// Resetting is a write: serialize it against acquiring processes.
		mu := lock.New(cfg.Limiter.ResolvedLockPath())
		if err := acquireWithRetry(mu, 2*time.Second); err != nil {
			return err
		}
		defer func() { _ = mu.Release() }()

		record, err := db.Load(cmd.Context())
		if err != nil {
			return err
		}
		removed, err := db.Reset(cmd.Context())
		if err != nil {
			return err
		}

		return writeResetResult(format, cmd.OutOrStdout(), record.Usage(), removed, false)
	},
}

// acquireWithRetry polls the non-blocking lock for up to maxWait. Admin
// commands are rare enough that a fixed poll needs no jitter.
func acquireWithRetry(mu *lock.Mutex, maxWait time.Duration) error {
	deadline := time.Now().Add(maxWait)
	for {
		locked, err := mu.TryAcquire()
		if err != nil {
			return err
		}
		if locked {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("lock %s busy for %s, try again", mu.Path(), maxWait)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func writeResetResult(format output.Format, w io.Writer, usage int, removed bool, dryRun bool) error {
	result := map[string]any{
		"window_usage": usage,
		"removed":      removed,
		"dry_run":      dryRun,
	}

	if format == output.FormatJSON {
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(payload))
		return err
	}

	if dryRun {
		_, err := fmt.Fprintf(w, "Would forget %d grant(s) in the current window\n", usage)
		return err
	}
	if !removed {
		_, err := fmt.Fprintln(w, "No window record present")
		return err
	}
	_, err := fmt.Fprintf(w, "Removed window record (%d grant(s) forgotten)\n", usage)
	return err
}

func init() {
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "Confirm destructive reset")
	resetCmd.Flags().BoolVar(&resetDryRun, "dry-run", false, "Show what would be removed")
	resetCmd.Flags().StringVar(&resetOutput, "output-format", string(output.FormatTable), "Output format: table|json")
	rootCmd.AddCommand(resetCmd)
}
