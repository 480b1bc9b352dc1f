package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/festalink/backend/internal/metrics"
)

type EmailJobArgs struct {
	Email
}

func (EmailJobArgs) Kind() string { return "send_email" }

type EmailWorker struct {
	river.WorkerDefaults[EmailJobArgs]
	mailer Mailer
	log    *slog.Logger
}

func NewEmailWorker(mailer Mailer, log *slog.Logger) *EmailWorker {
	if log == nil {
		log = slog.Default()
	}
	return &EmailWorker{mailer: mailer, log: log}
}

func (w *EmailWorker) Timeout(*river.Job[EmailJobArgs]) time.Duration { return 30 * time.Second }

// Work sends the email. A returned error makes River retry the job until its attempts run out.
func (w *EmailWorker) Work(ctx context.Context, job *river.Job[EmailJobArgs]) error {
	if err := w.mailer.Send(ctx, job.Args.Email); err != nil {
		metrics.EmailsSent.WithLabelValues(w.mailer.Name(), "error").Inc()
		w.log.Warn("email send failed", "to", job.Args.To, "subject", job.Args.Subject, "error", err)
		return fmt.Errorf("send email: %w", err)
	}
	metrics.EmailsSent.WithLabelValues(w.mailer.Name(), "sent").Inc()
	return nil
}
