package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/frahmantamala/land-payment/pkg/logger"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Settlement event commands",
	Long:  `Operator tools for settled payments: replay the settlement event or force a provider lookup`,
}

var replayEventCmd = &cobra.Command{
	Use:   "replay [payment-reference]",
	Short: "Replay the settlement event of a settled payment",
	Long:  `Publish the settlement event again so any missing post-settlement job is queued. Jobs that already ran are skipped.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withCore(func(ctx context.Context, core *Core) error {
			if err := core.Payments.RepublishSettled(ctx, args[0]); err != nil {
				return err
			}
			core.Bus.Wait()
			core.Logger.Info("settlement event replayed", "payment_reference", args[0])
			return nil
		})
	},
}

var reconcileEventCmd = &cobra.Command{
	Use:   "reconcile [payment-reference]",
	Short: "Ask the provider for the outcome of a payment",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withCore(func(ctx context.Context, core *Core) error {
			res, err := core.Payments.AdminReconcile(ctx, args[0])
			if err != nil {
				return err
			}
			core.Bus.Wait()
			core.Logger.Info("payment reconciled",
				"payment_reference", args[0],
				"status", res.Payment.Status,
				"provider_status", res.ProviderStatus,
				"applied", res.Applied)
			return nil
		})
	},
}

var eventTimeout time.Duration

func withCore(run func(ctx context.Context, core *Core) error) {
	lg := logger.Component("cli")

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	core, err := buildCore(cfg, lg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer core.Close()

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	if err := run(ctx, core); err != nil {
		lg.Error("command failed", "error", err)
		core.Close()
		os.Exit(1)
	}
}

func init() {
	eventCmd.PersistentFlags().DurationVar(&eventTimeout, "timeout", time.Minute, "Give up after this long")

	eventCmd.AddCommand(replayEventCmd)
	eventCmd.AddCommand(reconcileEventCmd)

	rootCmd.AddCommand(eventCmd)
}
