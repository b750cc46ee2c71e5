package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/managex/signer/internal/credentials"
	"github.com/managex/signer/internal/delivery"
	"github.com/managex/signer/internal/ledger"
	"github.com/managex/signer/internal/logger"
	"github.com/managex/signer/internal/request"
	"github.com/managex/signer/internal/server"
	"github.com/managex/signer/internal/signing"
	"github.com/managex/signer/internal/storage"
	"github.com/managex/signer/internal/telemetry"
	"github.com/managex/signer/internal/trust"
)

type ServerCmd struct {
	// Server configuration
	Listen      string   `help:"HTTP server listen address" default:"0.0.0.0:5020" env:"SIGNER_LISTEN"`
	BaseURL     string   `help:"base URL used in signed document links" default:"http://localhost:5020" env:"SIGNER_BASE_URL"`
	CORSOrigins []string `help:"allowed CORS origins" default:"*" env:"SIGNER_CORS_ORIGINS"`

	// Storage configuration
	DataDir      string `help:"root directory for credentials and the transaction ledger" default:"data" env:"SIGNER_DATA_DIR"`
	SignedDir    string `help:"directory signed documents are written to and served from" default:"signed_pdfs" env:"SIGNER_SIGNED_DIR"`
	MaxStorageMB int64  `help:"signed document storage ceiling in MB before the directory is emptied" default:"100" env:"SIGNER_MAX_STORAGE_MB"`

	// Request validation configuration
	MaxPDFSizeMB      int    `help:"maximum accepted PDF size in MB" default:"20" env:"SIGNER_MAX_PDF_SIZE_MB"`
	TSAURL            string `help:"timestamp authority endpoint" default:"" env:"SIGNER_TSA_URL"`
	DisposableDomains string `help:"path to the disposable email domain list" default:"disposable_domains.txt" env:"SIGNER_DISPOSABLE_DOMAINS"`

	// Trust and signing configuration
	SigningTimezone string `help:"timezone for the embedded signing time" default:"Asia/Kolkata" env:"SIGNER_SIGNING_TIMEZONE"`
	ExpiryTimezone  string `help:"reference timezone for certificate expiry checks" default:"Asia/Kolkata" env:"SIGNER_EXPIRY_TIMEZONE"`

	// Delivery configuration
	WebhookTimeout  time.Duration `help:"webhook POST timeout" default:"30s" env:"SIGNER_WEBHOOK_TIMEOUT"`
	DeliveryWorkers int           `help:"delivery worker count per channel" default:"4" env:"SIGNER_DELIVERY_WORKERS"`
	SMTP            SMTPFlags     `embed:"" prefix:"smtp-"`

	// Operational modes
	Tracing bool `help:"enable tracing" default:"false" env:"SIGNER_TRACING"`
}

// SMTPFlags configures the email notification channel. Email delivery is
// disabled when no host is set.
type SMTPFlags struct {
	Host     string `help:"SMTP host, empty disables email notifications" default:"" env:"SIGNER_SMTP_HOST"`
	Port     int    `help:"SMTP port" default:"587" env:"SIGNER_SMTP_PORT"`
	Username string `help:"SMTP username" default:"" env:"SIGNER_SMTP_USERNAME"`
	Password string `help:"SMTP password" default:"" env:"SIGNER_SMTP_PASSWORD"`
	From     string `help:"notification sender address" default:"" env:"SIGNER_SMTP_FROM"`
	StartTLS bool   `help:"use STARTTLS" default:"true" env:"SIGNER_SMTP_STARTTLS"`
	Subject  string `help:"notification subject line" default:"Your digitally signed document" env:"SIGNER_SMTP_SUBJECT"`
}

func (c *ServerCmd) Run(globals *Globals) error {
	log := logger.Setup(globals.Debug)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting signer server")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "managex-signer", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = func(ctx context.Context) error { return nil }
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	// Transaction ledger with crash repair and archive cleanup
	ledgerCfg := ledger.DefaultConfig(c.DataDir)
	lg, err := ledger.Open(ledgerCfg)
	if err != nil {
		return fmt.Errorf("failed to open transaction ledger: %w", err)
	}
	lg.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := lg.Stop(stopCtx); err != nil {
			log.Error().Err(err).Msg("Failed to stop ledger")
		}
	}()
	if err := ledger.CleanupArchive(ledgerCfg.ArchiveDir, ledgerCfg.RetentionDays); err != nil {
		log.Warn().Err(err).Msg("Failed to clean up ledger archive")
	}

	// Credential store and upload registrar
	store, err := credentials.NewFileStore(filepath.Join(c.DataDir, "registrations"))
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	registrar, err := credentials.NewRegistrar(store, filepath.Join(c.DataDir, "bundles"))
	if err != nil {
		return fmt.Errorf("failed to create registrar: %w", err)
	}

	// Delivery channels. Abandoned deliveries get a final failure ledger
	// entry so the outcome is never silent.
	onDrop := func(task *delivery.Task, derr error) {
		appendCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		entry := ledger.Entry{
			TransactionID: task.TransactionID,
			Status:        ledger.StatusFailure,
			Reason:        fmt.Sprintf("Delivery to %s abandoned: %s", task.Destination, derr),
		}
		if err := lg.Append(appendCtx, entry); err != nil {
			log.Error().Err(err).Str("transaction_id", task.TransactionID).Msg("Failed to record abandoned delivery")
		}
	}

	deliveryCfg := delivery.DefaultConfig()
	deliveryCfg.Workers = c.DeliveryWorkers

	webhooks := delivery.NewDispatcher(delivery.NewWebhookSender(c.WebhookTimeout), deliveryCfg, onDrop)
	webhooks.Start(ctx)
	defer stopDispatcher(webhooks, log, "webhook")

	var emails *delivery.Dispatcher
	if c.SMTP.Host != "" {
		sender, err := delivery.NewEmailSender(&delivery.EmailConfig{
			Host:     c.SMTP.Host,
			Port:     c.SMTP.Port,
			Username: c.SMTP.Username,
			Password: c.SMTP.Password,
			From:     c.SMTP.From,
			StartTLS: c.SMTP.StartTLS,
		})
		if err != nil {
			return fmt.Errorf("failed to create email sender: %w", err)
		}
		defer func() {
			if err := sender.Close(); err != nil {
				log.Error().Err(err).Msg("Failed to close SMTP connection")
			}
		}()

		emails = delivery.NewDispatcher(sender, deliveryCfg, onDrop)
		emails.Start(ctx)
		defer stopDispatcher(emails, log, "email")
		log.Info().Str("host", c.SMTP.Host).Msg("Email notifications enabled")
	}

	// Request validation
	validatorCfg := request.DefaultConfig()
	validatorCfg.MaxPDFSizeMB = c.MaxPDFSizeMB
	validatorCfg.TSAURL = c.TSAURL
	gate := request.NewEmailGate(c.DisposableDomains, 10*time.Second)
	validator := request.NewValidator(validatorCfg, request.NewTxnRegistry(), gate, store)

	// Trust validation
	trustCfg := trust.DefaultConfig()
	trustCfg.ExpiryTimezone = c.ExpiryTimezone
	trustValidator, err := trust.NewValidator(trustCfg)
	if err != nil {
		return fmt.Errorf("failed to create trust validator: %w", err)
	}

	// Signing pipeline
	signingCfg := signing.DefaultConfig()
	signingCfg.OutputDir = c.SignedDir
	signingCfg.BaseURL = c.BaseURL
	signingCfg.SigningTimezone = c.SigningTimezone
	signingCfg.EmailSubject = c.SMTP.Subject
	orch, err := signing.NewOrchestrator(signingCfg, validator, trustValidator,
		signing.NewPDFSigner(), lg, webhooks, emails)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	// Signed document storage ceiling
	monitorCfg := storage.DefaultConfig(c.SignedDir)
	monitorCfg.MaxBytes = c.MaxStorageMB * 1024 * 1024
	monitor, err := storage.NewMonitor(monitorCfg)
	if err != nil {
		return fmt.Errorf("failed to create storage monitor: %w", err)
	}
	monitor.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := monitor.Stop(stopCtx); err != nil {
			log.Error().Err(err).Msg("Failed to stop storage monitor")
		}
	}()

	srv := server.New(&server.Config{
		CORSOrigins: c.CORSOrigins,
		SignedDir:   c.SignedDir,
	}, orch, registrar, lg, log)

	httpServer := configureHTTPServer(c.Listen, srv.Handler())

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}

func stopDispatcher(d *delivery.Dispatcher, log zerolog.Logger, name string) {
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Stop(stopCtx); err != nil {
		log.Error().Err(err).Str("channel", name).Msg("Failed to stop delivery dispatcher")
	}
}
