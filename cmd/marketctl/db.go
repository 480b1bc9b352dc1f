package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/festalink/backend/internal/app"
	"github.com/festalink/backend/internal/config"
	"github.com/festalink/backend/internal/database"
)

// withApp connects to the configured database and runs fn with the wired services.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()
	a, err := app.New(ctx, cfg, pool, nil, slog.Default())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the marketplace schema and River migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.Load(ctx)
			if err != nil {
				return err
			}
			pool, err := database.Connect(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()
			return database.Migrate(ctx, pool, slog.Default())
		},
	}
}

func sweepBonusesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-bonuses",
		Short: "Expire bonus credits past their expiry date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Ledger.SweepExpiredBonuses(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "vendors: %d, lots expired: %d, failed: %d\n", res.Vendors, res.Expired, res.Failed)
				if res.Failed > 0 {
					return fmt.Errorf("%d vendors failed, rerun to retry", res.Failed)
				}
				return nil
			})
		},
	}
}

func sweepSubscriptionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-subscriptions",
		Short: "Mark lapsed vendor subscriptions past_due",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Vendors.SweepLapsedSubscriptions(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "subscriptions lapsed: %d\n", n)
				return nil
			})
		},
	}
}

func sendRemindersCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "send-reminders",
		Short: "Ask both parties of finished events for a review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Reviews.SendDueReminders(ctx, limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deals reminded: %d\n", n)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "Maximum deals to claim")
	return cmd
}

func createAdminCmd() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Provision an admin account (password from MARKETCTL_ADMIN_PASSWORD)",
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv("MARKETCTL_ADMIN_PASSWORD")
			if password == "" {
				return fmt.Errorf("MARKETCTL_ADMIN_PASSWORD is not set")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				acc, err := a.Auth.CreateAdmin(ctx, email, password, name)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "admin %s created: %s\n", acc.Email, acc.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Admin email")
	cmd.Flags().StringVar(&name, "name", "Administrator", "Display name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
