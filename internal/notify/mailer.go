package notify

import (
	"context"
	"fmt"
	"log/slog"
	netmail "net/mail"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/wneessen/go-mail"

	"github.com/festalink/backend/internal/apperr"
	"github.com/festalink/backend/internal/config"
)

// Email is a single plain-text message to one recipient.
type Email struct {
	To      string `json:"to"`
	ToName  string `json:"to_name,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Mailer delivers an email through a provider.
type Mailer interface {
	Send(ctx context.Context, e Email) error
	Name() string
}

// NewMailer builds the mailer selected by cfg.Backend.
func NewMailer(ctx context.Context, cfg config.MailConfig, log *slog.Logger) (Mailer, error) {
	switch cfg.Backend {
	case "smtp":
		return NewSMTPMailer(cfg)
	case "ses":
		return NewSESMailer(ctx, cfg)
	case "log", "":
		return NewLogMailer(log), nil
	default:
		return nil, fmt.Errorf("unknown mail backend %q", cfg.Backend)
	}
}

type SMTPMailer struct {
	client   *mail.Client
	from     string
	fromName string
}

func NewSMTPMailer(cfg config.MailConfig) (*SMTPMailer, error) {
	opts := []mail.Option{mail.WithPort(cfg.SMTPPort)}
	if cfg.SMTPUsername != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.SMTPUsername),
			mail.WithPassword(cfg.SMTPPassword),
		)
	}
	c, err := mail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not initialize smtp client: %w", err)
	}
	return &SMTPMailer{client: c, from: cfg.From, fromName: cfg.FromName}, nil
}

func (m *SMTPMailer) Name() string { return "smtp" }

func (m *SMTPMailer) Send(ctx context.Context, e Email) error {
	msg := mail.NewMsg()
	if err := msg.FromFormat(m.fromName, m.from); err != nil {
		return fmt.Errorf("set from address: %w", err)
	}
	if err := msg.AddToFormat(e.ToName, e.To); err != nil {
		return fmt.Errorf("set to address: %w", err)
	}
	msg.Subject(e.Subject)
	msg.SetBodyString(mail.TypeTextPlain, e.Body)
	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("%w: smtp: %v", apperr.ErrUpstreamUnavailable, err)
	}
	return nil
}

// sesAPI is the subset of the SES client used for sending.
type sesAPI interface {
	SendEmail(ctx context.Context, in *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SESMailer struct {
	client sesAPI
	source string
}

func NewSESMailer(ctx context.Context, cfg config.MailConfig) (*SESMailer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.SESRegion))
	if err != nil {
		return nil, fmt.Errorf("could not load aws config: %w", err)
	}
	return newSESMailer(ses.NewFromConfig(awsCfg), cfg.From, cfg.FromName), nil
}

func newSESMailer(client sesAPI, from, fromName string) *SESMailer {
	source := (&netmail.Address{Name: fromName, Address: from}).String()
	return &SESMailer{client: client, source: source}
}

func (m *SESMailer) Name() string { return "ses" }

func (m *SESMailer) Send(ctx context.Context, e Email) error {
	to := (&netmail.Address{Name: e.ToName, Address: e.To}).String()
	_, err := m.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(m.source),
		Destination: &sestypes.Destination{ToAddresses: []string{to}},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(e.Subject), Charset: aws.String("UTF-8")},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(e.Body), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: ses: %v", apperr.ErrUpstreamUnavailable, err)
	}
	return nil
}

// LogMailer writes emails to the logger instead of sending them. Used in development.
type LogMailer struct {
	log *slog.Logger
}

func NewLogMailer(log *slog.Logger) *LogMailer {
	if log == nil {
		log = slog.Default()
	}
	return &LogMailer{log: log}
}

func (m *LogMailer) Name() string { return "log" }

func (m *LogMailer) Send(_ context.Context, e Email) error {
	m.log.Info("email", "to", e.To, "subject", e.Subject, "body", e.Body)
	return nil
}
