// Package notify records in-app messages and queues best-effort email delivery.
// A message row is the durable outcome; email failures are logged and never
// surface to the caller.
package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/festalink/backend/internal/models"
)

type Contact struct {
	Email string
	Name  string
}

type Store interface {
	InsertTx(ctx context.Context, tx pgx.Tx, m *models.Message) (bool, error)
	Contact(ctx context.Context, accountID uuid.UUID) (*Contact, error)
	ListForRecipient(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.Message, error)
}

// EnqueueFunc queues an email job, inside tx when tx is not nil. The app binds
// it to the River client.
type EnqueueFunc func(ctx context.Context, tx pgx.Tx, args EmailJobArgs) error

type Notifier struct {
	store   Store
	enqueue EnqueueFunc
	log     *slog.Logger
}

func New(store Store, enqueue EnqueueFunc, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{store: store, enqueue: enqueue, log: log}
}

// RecordTx writes m inside the caller's transaction.
func (n *Notifier) RecordTx(ctx context.Context, tx pgx.Tx, m *models.Message) error {
	_, err := n.store.InsertTx(ctx, tx, m)
	return err
}

// RecordOnceTx is RecordTx that reports whether a row was written. A message
// with a batch id already delivered to the same recipient is skipped.
func (n *Notifier) RecordOnceTx(ctx context.Context, tx pgx.Tx, m *models.Message) (bool, error) {
	return n.store.InsertTx(ctx, tx, m)
}

// EmailAccount queues an email to the account's contact address.
func (n *Notifier) EmailAccount(ctx context.Context, accountID uuid.UUID, subject, body string) {
	n.emailAccount(ctx, nil, accountID, subject, body)
}

// EmailAccountTx queues the email in the caller's transaction, so the job
// exists exactly when the caller's writes commit. The insert runs under a
// savepoint; a failed enqueue is logged and leaves tx usable.
func (n *Notifier) EmailAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, subject, body string) {
	n.emailAccount(ctx, tx, accountID, subject, body)
}

func (n *Notifier) emailAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, subject, body string) {
	c, err := n.store.Contact(ctx, accountID)
	if err != nil {
		n.log.Warn("email skipped: no contact", "account_id", accountID, "error", err)
		return
	}
	n.queue(ctx, tx, Email{To: c.Email, ToName: c.Name, Subject: subject, Body: body})
}

func (n *Notifier) Email(ctx context.Context, e Email) {
	n.queue(ctx, nil, e)
}

func (n *Notifier) queue(ctx context.Context, tx pgx.Tx, e Email) {
	if n.enqueue == nil || e.To == "" {
		return
	}
	if err := n.enqueueSafely(ctx, tx, EmailJobArgs{Email: e}); err != nil {
		n.log.Warn("email enqueue failed", "to", e.To, "subject", e.Subject, "error", err)
	}
}

func (n *Notifier) enqueueSafely(ctx context.Context, tx pgx.Tx, args EmailJobArgs) error {
	if tx == nil {
		return n.enqueue(ctx, nil, args)
	}
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := n.enqueue(ctx, sp, args); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

// Inbox lists the newest messages for the recipient.
func (n *Notifier) Inbox(ctx context.Context, recipientID uuid.UUID, limit int) ([]models.Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return n.store.ListForRecipient(ctx, recipientID, limit)
}
