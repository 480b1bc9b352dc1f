// Package app assembles the marketplace services over one database pool. Both
// the API server and marketctl build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/stripe/stripe-go/v82"

	"github.com/festalink/backend/internal/admin"
	"github.com/festalink/backend/internal/auth"
	"github.com/festalink/backend/internal/config"
	"github.com/festalink/backend/internal/coupons"
	"github.com/festalink/backend/internal/leads"
	"github.com/festalink/backend/internal/ledger"
	"github.com/festalink/backend/internal/notify"
	"github.com/festalink/backend/internal/payments"
	"github.com/festalink/backend/internal/quotes"
	"github.com/festalink/backend/internal/reviews"
	"github.com/festalink/backend/internal/router"
	"github.com/festalink/backend/internal/scheduler"
	"github.com/festalink/backend/internal/vendors"
)

type App struct {
	cfg  *config.Config
	log  *slog.Logger
	Pool *pgxpool.Pool

	River    *river.Client[pgx.Tx]
	Notifier *notify.Notifier
	Auth     auth.Service
	Ledger   *ledger.Service
	Leads    *leads.Service
	Vendors  *vendors.Service
	Quotes   *quotes.Service
	Payments *payments.Service
	Coupons  *coupons.Service
	Reviews  *reviews.Service
	Admin    *admin.Service

	closers []func() error
}

// New wires every service. With workers nil the River client is insert-only,
// which is what marketctl needs: jobs it enqueues are run by the API process.
func New(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, workers *river.Workers, log *slog.Logger) (*App, error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log, Pool: pool}

	riverCfg := &river.Config{Logger: log}
	if workers != nil {
		riverCfg.Queues = map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.Jobs.EmailWorkers},
		}
		riverCfg.Workers = workers
	}
	rc, err := river.NewClient(riverpgxv5.New(pool), riverCfg)
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	a.River = rc

	maxAttempts := cfg.Jobs.EmailMaxAttempts
	a.Notifier = notify.New(notify.NewRepository(pool), func(ctx context.Context, tx pgx.Tx, args notify.EmailJobArgs) error {
		opts := &river.InsertOpts{MaxAttempts: maxAttempts}
		if tx != nil {
			_, err := rc.InsertTx(ctx, tx, args, opts)
			return err
		}
		_, err := rc.Insert(ctx, args, opts)
		return err
	}, log)

	a.Ledger = ledger.NewService(pool, ledger.NewRepository(pool), log)
	a.Leads = leads.NewService(pool, leads.NewRepository(pool), a.Ledger, log)

	vendorRepo := vendors.NewRepository(pool)
	a.Vendors = vendors.NewService(pool, vendorRepo, a.Ledger, a.Notifier, cfg.Stripe.SubscriptionPeriod, log)
	a.Auth = auth.NewService(pool, auth.NewRepository(pool), vendorRepo, cfg.Auth, log)
	a.Quotes = quotes.NewService(pool, quotes.NewRepository(pool), a.Leads, a.Vendors, a.Notifier, cfg.Ledger.LeadUnlockCost, log)

	var cache payments.AppliedCache = payments.NoCache{}
	if cfg.Redis.URL != "" {
		rcache, err := payments.NewRedisCache(cfg.Redis.URL, cfg.Redis.AppliedTTL, log)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		cache = rcache
		a.closers = append(a.closers, rcache.Close)
	}
	provider := payments.NewStripeProvider(stripe.NewClient(cfg.Stripe.SecretKey), cfg.Stripe.SuccessURL, cfg.Stripe.CancelURL)
	a.Payments = payments.NewService(provider, a.Ledger, a.Leads, a.Vendors, cache, cfg.Stripe, log)

	a.Coupons = coupons.NewService(coupons.NewRepository(pool), log)
	a.Reviews = reviews.NewService(pool, reviews.NewRepository(pool), a.Notifier, log)
	a.Admin = admin.NewService(pool, a.Ledger, a.Vendors, a.Notifier, admin.NewRepository(pool), cfg.Ledger.BonusLifetime, log)
	return a, nil
}

// Handlers builds the HTTP handlers for router.New.
func (a *App) Handlers() router.Handlers {
	return router.Handlers{
		Auth:     auth.NewHandler(a.Auth, a.log),
		Vendors:  vendors.NewHandler(a.Vendors, a.log),
		Ledger:   ledger.NewHandler(a.Ledger, a.cfg.Ledger.HistoryLimit, a.log),
		Quotes:   quotes.NewHandler(a.Quotes, a.log),
		Leads:    leads.NewHandler(a.Leads, a.log),
		Payments: payments.NewHandler(a.Payments, a.log),
		Coupons:  coupons.NewHandler(a.Coupons, a.log),
		Reviews:  reviews.NewHandler(a.Reviews, a.log),
		Admin:    admin.NewHandler(a.Admin, a.log),
		Messages: notify.NewHandler(a.Notifier, a.log),
	}
}

// Jobs returns the periodic maintenance jobs.
func (a *App) Jobs() []scheduler.Job {
	return scheduler.Jobs(a.cfg.Jobs, a.Ledger, a.Vendors, a.Reviews)
}

func (a *App) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
}
