package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/polishcitizenship/portal-core/internal/resilience"
)

var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Inspect and replay case event notifications",
}

// -- notify status --

var notifyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show how many events are waiting in the dead-letter queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		n, err := st.CountDLQ(ctx)
		if err != nil {
			return eris.Wrap(err, "notify status")
		}
		fmt.Printf("Dead-lettered events: %d\n", n)
		return nil
	},
}

// -- notify retry --

var notifyRetryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Replay due dead-lettered events to the webhook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		errorType, _ := cmd.Flags().GetString("error-type")
		limit, _ := cmd.Flags().GetInt("limit")
		switch errorType {
		case "", resilience.ErrorTransient, resilience.ErrorPermanent:
		default:
			return eris.Errorf("notify retry: --error-type must be %s or %s (got %q)",
				resilience.ErrorTransient, resilience.ErrorPermanent, errorType)
		}

		env, err := initEnv(ctx, "notify")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Notifier.Replay(ctx, resilience.DLQFilter{ErrorType: errorType, Limit: limit})
		if err != nil {
			return err
		}
		fmt.Printf("Attempted %d, delivered %d, failed %d\n", res.Attempted, res.Delivered, res.Failed)
		return nil
	},
}

func init() {
	notifyRetryCmd.Flags().String("error-type", "", "only replay transient or permanent failures")
	notifyRetryCmd.Flags().Int("limit", 0, "maximum events to replay (default from config)")

	notifyCmd.AddCommand(notifyStatusCmd, notifyRetryCmd)
	rootCmd.AddCommand(notifyCmd)
}
