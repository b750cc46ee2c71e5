package delivery

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"os"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"github.com/wneessen/go-mail"
)

//go:embed templates/email.html
var defaultEmailTemplate string

// EmailConfig configures the SMTP transport and message rendering.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	StartTLS bool

	// TemplatePath overrides the embedded HTML body template.
	TemplatePath string
}

// EmailSender renders an HTML notification and sends it over a single shared
// SMTP client. The client is lazily established and reused across workers;
// it is not safe for uncoordinated concurrent use, so sends are serialized
// behind a mutex.
type EmailSender struct {
	cfg  *EmailConfig
	tmpl *template.Template

	mu     sync.Mutex
	client *mail.Client
}

// NewEmailSender creates an email sender. The SMTP connection is not opened
// until the first send.
func NewEmailSender(cfg *EmailConfig) (*EmailSender, error) {
	body := defaultEmailTemplate
	if cfg.TemplatePath != "" {
		data, err := os.ReadFile(cfg.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read email template: %w", err)
		}
		body = string(data)
	}

	tmpl, err := template.New("email").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse email template: %w", err)
	}

	return &EmailSender{cfg: cfg, tmpl: tmpl}, nil
}

func (s *EmailSender) Name() string { return "email" }

func (s *EmailSender) Send(ctx context.Context, task *Task) error {
	var body bytes.Buffer
	if err := s.tmpl.Execute(&body, struct{ RecipientName string }{RecipientName: task.Recipient}); err != nil {
		return fmt.Errorf("failed to render email body: %w", err)
	}

	msg := mail.NewMsg()
	if err := msg.From(s.cfg.From); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(task.Destination); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(task.Subject)
	msg.SetBodyString(mail.TypeTextHTML, body.String())
	if task.Attachment != "" {
		msg.AttachFile(task.Attachment)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	client, err := s.connect(ctx)
	if err != nil {
		return err
	}

	if err := client.Send(msg); err != nil {
		// Force a fresh dial on the next attempt.
		s.reset()
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// Close shuts down the shared SMTP connection if one is open.
func (s *EmailSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

// connect lazily dials the SMTP host, retrying with exponential backoff.
// Must be called with s.mu held.
func (s *EmailSender) connect(ctx context.Context) (*mail.Client, error) {
	if s.client != nil {
		return s.client, nil
	}

	tlsPolicy := mail.NoTLS
	if s.cfg.StartTLS {
		tlsPolicy = mail.TLSMandatory
	}

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTLSPolicy(tlsPolicy),
	}
	if s.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, client.DialWithContext(ctx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(3),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SMTP host: %w", err)
	}

	s.client = client
	log.Info().Str("host", s.cfg.Host).Int("port", s.cfg.Port).Msg("SMTP connection established")
	return client, nil
}

// reset drops the shared connection. Must be called with s.mu held.
func (s *EmailSender) reset() {
	if s.client == nil {
		return
	}
	if err := s.client.Close(); err != nil {
		log.Debug().Err(err).Msg("Error closing SMTP connection")
	}
	s.client = nil
}

var _ Sender = (*EmailSender)(nil)
var _ Sender = (*WebhookSender)(nil)
