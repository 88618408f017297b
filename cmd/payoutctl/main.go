// Command payoutctl inspects and releases escrowed booking payouts from an
// operator shell, using the same stores and Stripe account as the server.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"nannynest/app"
	"nannynest/config"
	"nannynest/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "payoutctl",
		Short:   "Inspect and release escrowed caregiver payouts",
		Version: Version,
	}
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output as JSON")
	rootCmd.PersistentFlags().Duration("timeout", 5*time.Minute, "Overall deadline")

	rootCmd.AddCommand(dueCmd())
	rootCmd.AddCommand(releaseCmd())
	rootCmd.AddCommand(releaseDueCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp builds the services without starting workers or cron.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, _, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, err := logging.New(cfg.AppEnv)
	if err != nil {
		return err
	}
	defer log.Sync()

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, log.WithOptions(zap.IncreaseLevel(zap.WarnLevel)))
	if err != nil {
		return err
	}
	defer a.Close(context.Background())
	return fn(ctx, a)
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func dueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "due",
		Short: "List completed bookings whose hold has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				due, err := a.Payments.Due(ctx)
				if err != nil {
					return err
				}
				if jsonOutput(cmd) {
					return writeJSON(cmd.OutOrStdout(), due)
				}
				return printDue(cmd.OutOrStdout(), due)
			})
		},
	}
}

func releaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release [bookingId...]",
		Short: "Release the given bookings to their caregivers",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				res, err := a.Payments.BulkRelease(ctx, args)
				if err != nil {
					return err
				}
				return reportBulk(cmd, res)
			})
		},
	}
}

func releaseDueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "release-due",
		Short: "Release every booking that is due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
					due, err := a.Payments.Due(ctx)
					if err != nil {
						return err
					}
					return printDue(cmd.OutOrStdout(), due)
				}
				res, err := a.Payments.BulkRelease(ctx, nil)
				if err != nil {
					return err
				}
				return reportBulk(cmd, res)
			})
		},
	}
	cmd.Flags().Bool("dry-run", false, "List what would be released")
	return cmd
}
