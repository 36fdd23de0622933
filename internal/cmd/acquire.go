package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/ratefence/ratefence/internal/observability"
)

// exitDenied is returned when the window stayed saturated for the whole
// wait. Matches EX_TEMPFAIL: the caller may retry later.
const exitDenied = 75

var (
	acquireCount  int
	acquireJSON   bool
	acquireSpacer time.Duration
)

type acquireAttempt struct {
	Attempt   int           `json:"attempt"`
	Granted   bool          `json:"granted"`
	WaitedFor time.Duration `json:"waited_for"`
}

var acquireCmd = &cobra.Command{
	Use:   "acquire",
	Short: "Acquire one or more slots in the shared window",
	Long: `Acquire blocks until a slot in the shared sliding window is granted or
the configured maximum wait elapses. Exit code 0 means every requested slot
was granted; exit code 75 means the window stayed saturated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limiter, cfg, err := openLimiter()
		if err != nil {
			return err
		}

		observability.CLILogger.Debug("Acquiring slots",
			zap.Int("count", acquireCount),
			zap.Int("limit", limiter.Limit),
			zap.Duration("window", limiter.Window),
			zap.String("state_path", cfg.Limiter.StatePath))

		denied := 0
		for i := 0; i < acquireCount; i++ {
			if i > 0 && acquireSpacer > 0 {
				time.Sleep(acquireSpacer)
			}

			start := time.Now()
			granted, err := limiter.Acquire(cmd.Context())
			if err != nil {
				ExitWithCode(observability.CLILogger, foundry.ExitFailure, "Acquisition failed", err)
			}
			if !granted {
				denied++
			}

			if err := printAttempt(acquireAttempt{
				Attempt:   i + 1,
				Granted:   granted,
				WaitedFor: time.Since(start),
			}); err != nil {
				return err
			}
		}

		if denied > 0 {
			observability.CLILogger.Warn("Rate limit saturated",
				zap.Int("denied", denied),
				zap.Int("requested", acquireCount))
			os.Exit(exitDenied)
		}
		return nil
	},
}

func printAttempt(attempt acquireAttempt) error {
	if acquireJSON {
		payload, err := json.Marshal(attempt)
		if err != nil {
			return err
		}
		_, err = fmt.Println(string(payload))
		return err
	}

	status := "granted"
	if !attempt.Granted {
		status = "denied"
	}
	_, err := fmt.Printf("%s after %s\n", status, attempt.WaitedFor.Round(time.Millisecond))
	return err
}

func init() {
	acquireCmd.Flags().IntVar(&acquireCount, "count", 1, "Number of slots to acquire")
	acquireCmd.Flags().BoolVar(&acquireJSON, "json", false, "Emit one JSON object per attempt")
	acquireCmd.Flags().DurationVar(&acquireSpacer, "spacing", 0, "Delay between attempts")
	rootCmd.AddCommand(acquireCmd)
}
