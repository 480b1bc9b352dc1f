// Command marketctl runs operator tasks: schema migration, the maintenance
// sweeps, admin provisioning and bulk admin calls against a running API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "marketctl",
		Short:         "Festalink marketplace operator tool",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if v, _ := cmd.Flags().GetBool("verbose"); v {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Debug logging")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(sweepBonusesCmd())
	rootCmd.AddCommand(sweepSubscriptionsCmd())
	rootCmd.AddCommand(sendRemindersCmd())
	rootCmd.AddCommand(createAdminCmd())
	rootCmd.AddCommand(grantBonusCmd())
	rootCmd.AddCommand(messageVendorsCmd())
	return rootCmd
}
