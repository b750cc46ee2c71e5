package signing

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/managex/signer/internal/credentials"
	"github.com/managex/signer/internal/delivery"
	"github.com/managex/signer/internal/ledger"
	"github.com/managex/signer/internal/request"
	"github.com/managex/signer/internal/telemetry"
	"github.com/managex/signer/internal/trust"
)

// Failure is a terminal signing failure carrying an HTTP-style status and
// the reason already recorded in the ledger.
type Failure struct {
	Status int
	Reason string
}

func (f *Failure) Error() string {
	return f.Reason
}

// Config carries the orchestrator's output and delivery settings.
type Config struct {
	// OutputDir is where signed documents are written.
	OutputDir string

	// BaseURL prefixes the retrieval URL in responses, e.g.
	// "http://signer.internal:5020".
	BaseURL string

	// SigningTimezone localizes the embedded signing time.
	SigningTimezone string

	// EmailSubject is the notification subject line.
	EmailSubject string
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() *Config {
	return &Config{
		OutputDir:       "signed_pdfs",
		SigningTimezone: "Asia/Kolkata",
		EmailSubject:    "Your digitally signed document",
	}
}

// TrustChecker validates a loaded leaf certificate against revocation and
// expiry policy.
type TrustChecker interface {
	Validate(ctx context.Context, leaf *x509.Certificate) error
}

// Orchestrator sequences one signing operation end to end: request
// validation, credential load, trust validation, signature content
// preparation, the external signer call, persistence and delivery. Exactly
// one ledger entry is written per transaction id, success or failure.
type Orchestrator struct {
	cfg       *Config
	loc       *time.Location
	validator *request.Validator
	trust     TrustChecker
	signer    Signer
	ledger    *ledger.Ledger
	webhooks  *delivery.Dispatcher
	emails    *delivery.Dispatcher

	now func() time.Time
}

// NewOrchestrator wires the pipeline. webhooks and emails may be nil when
// the corresponding delivery channel is disabled.
func NewOrchestrator(cfg *Config, validator *request.Validator, trustValidator TrustChecker,
	signer Signer, lg *ledger.Ledger, webhooks, emails *delivery.Dispatcher) (*Orchestrator, error) {

	if cfg == nil {
		cfg = DefaultConfig()
	}
	loc, err := time.LoadLocation(cfg.SigningTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid signing timezone %q: %w", cfg.SigningTimezone, err)
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	return &Orchestrator{
		cfg:       cfg,
		loc:       loc,
		validator: validator,
		trust:     trustValidator,
		signer:    signer,
		ledger:    lg,
		webhooks:  webhooks,
		emails:    emails,
		now:       time.Now,
	}, nil
}

// Sign runs the full pipeline for one request. On failure the returned
// *Failure carries the status and reason already written to the ledger.
func (o *Orchestrator) Sign(ctx context.Context, env *request.Envelope) (*Response, *Failure) {
	m := telemetry.GetMetrics()
	m.SignRequestsTotal.Add(ctx, 1)
	started := o.now()

	req := &env.Request
	txn := req.TransactionID

	if verr := o.validator.ValidateRequest(req); verr != nil {
		return nil, o.fail(ctx, txn, verr.Status, verr.Reason)
	}

	pdfData, verr := o.validator.ResolvePayload(ctx, req)
	if verr != nil {
		return nil, o.fail(ctx, txn, verr.Status, verr.Reason)
	}

	md, verr := o.validator.ResolveMetadata(ctx, req)
	if verr != nil {
		return nil, o.fail(ctx, txn, verr.Status, verr.Reason)
	}

	placement, verr := o.validator.ResolvePlacement(req, pdfData)
	if verr != nil {
		return nil, o.fail(ctx, txn, verr.Status, verr.Reason)
	}

	bundle, err := credentials.LoadBundle(md.BundlePath, md.Passphrase)
	if err != nil {
		return nil, o.fail(ctx, txn, http.StatusInternalServerError, err.Error())
	}

	if err := o.trust.Validate(ctx, bundle.Leaf); err != nil {
		var terr *trust.Error
		if errors.As(err, &terr) {
			m.TrustRejectionsTotal.Add(ctx, 1)
			log.Warn().
				Str("transaction_id", txn).
				Str("reason", string(terr.Reason)).
				Msg("Credential failed trust validation")
		}
		return nil, o.fail(ctx, txn, http.StatusInternalServerError, err.Error())
	}

	signatory := md.SignatoryName
	if signatory == "" {
		signatory = bundle.Leaf.Subject.CommonName
	}

	text := Attestation{
		SignatoryName: signatory,
		DateString:    md.DateString,
		Reason:        req.PDF.Reason,
		CustomText:    req.PDF.CustomText,
		Location:      req.PDF.Location,
	}.Text()

	fontSize := FitFontSize(text, placement.FitBox.Width(), placement.FitBox.Height())

	job := &Job{
		Document:     pdfData,
		Credential:   bundle,
		Page:         placement.Page,
		FieldName:    fmt.Sprintf("MX Signer Server %s", txn),
		Signatory:    signatory,
		Text:         text,
		FontSize:     fontSize,
		Reason:       req.PDF.Reason,
		Location:     req.PDF.Location,
		Contact:      "N/A",
		SigningTime:  o.now().In(o.loc),
		SigFlags:     placement.SigFlags,
		Certify:      placement.CertifyAndLock,
		Visible:      placement.Visible,
		TimestampURL: md.TimestampURL,
	}
	if placement.Box != nil {
		job.Box = placement.Box.Coords()
	}

	signed, err := o.signer.Sign(ctx, job)
	if err != nil {
		reason := fmt.Sprintf("Signing failed: %s", err)
		if md.TimestampURL != "" {
			reason = fmt.Sprintf("Timestamp signing failed: %s", err)
		}
		return nil, o.fail(ctx, txn, http.StatusInternalServerError, reason)
	}

	resp, ferr := o.persistAndRespond(ctx, req, md, bundle, signed)
	if ferr != nil {
		return nil, ferr
	}

	m.SignSuccessesTotal.Add(ctx, 1)
	m.SignDuration.Record(ctx, float64(o.now().Sub(started).Milliseconds()))
	log.Info().
		Str("transaction_id", txn).
		Str("serial", md.Serial).
		Int("font_size", fontSize).
		Msg("Document signed")
	return resp, nil
}

// persistAndRespond writes the signed file, records the success ledger
// entry and enqueues any requested deliveries. Delivery problems never fail
// the signing operation, which has already succeeded.
func (o *Orchestrator) persistAndRespond(ctx context.Context, req *request.SignRequest,
	md *request.Metadata, bundle *credentials.Bundle, signed []byte) (*Response, *Failure) {

	txn := req.TransactionID
	filename := fmt.Sprintf("%s_%s_signed.pdf", md.Title, txn)
	path := filepath.Join(o.cfg.OutputDir, filename)

	if err := os.WriteFile(path, signed, 0o644); err != nil {
		return nil, o.fail(ctx, txn, http.StatusInternalServerError,
			fmt.Sprintf("Failed to save the signed document: %s", err))
	}

	cn := bundle.Leaf.Subject.CommonName
	resp := &Response{
		Response: ResponseBody{
			Command: CommandResponse,
			TS:      req.Timestamp,
			Txn:     txn,
			Status:  "ok",
			File: FileInfo{
				Attribute: FileAttribute{Name: cn, Type: "pdf"},
			},
			SignedPDFURL:  fmt.Sprintf("%s/signed_pdf/%s", o.cfg.BaseURL, filename),
			SignedPDFData: base64.StdEncoding.EncodeToString(signed),
		},
	}

	snapshot, err := json.Marshal(resp)
	if err != nil {
		snapshot = nil
	}
	o.record(ctx, ledger.Entry{
		TransactionID: txn,
		Status:        ledger.StatusSuccess,
		Reason:        "PDF signed successfully",
		Response:      snapshot,
	})

	if md.WebhookURL != "" && o.webhooks != nil {
		task := &delivery.Task{
			TransactionID: txn,
			Destination:   md.WebhookURL,
			Payload:       snapshot,
		}
		if err := o.webhooks.Enqueue(task); err != nil {
			log.Error().Err(err).Str("transaction_id", txn).Msg("Webhook delivery not scheduled")
		}
	}

	if md.Email != "" && o.emails != nil {
		recipient := md.Recipient
		if recipient == "" {
			recipient = cn
		}
		task := &delivery.Task{
			TransactionID: txn,
			Destination:   md.Email,
			Subject:       o.cfg.EmailSubject,
			Recipient:     recipient,
			Attachment:    path,
		}
		if err := o.emails.Enqueue(task); err != nil {
			log.Error().Err(err).Str("transaction_id", txn).Msg("Email delivery not scheduled")
		}
	}

	return resp, nil
}

// fail records the failure ledger entry and builds the caller-facing error.
func (o *Orchestrator) fail(ctx context.Context, txn string, status int, reason string) *Failure {
	telemetry.GetMetrics().SignFailuresTotal.Add(ctx, 1)
	o.record(ctx, ledger.Entry{
		TransactionID: txn,
		Status:        ledger.StatusFailure,
		Reason:        reason,
	})
	return &Failure{Status: status, Reason: reason}
}

// record appends to the ledger. Write failures are logged, not surfaced;
// the caller's response is not blocked on log durability problems.
func (o *Orchestrator) record(ctx context.Context, entry ledger.Entry) {
	if o.ledger == nil {
		return
	}
	if err := o.ledger.Append(ctx, entry); err != nil {
		log.Error().Err(err).Str("transaction_id", entry.TransactionID).Msg("Failed to record ledger entry")
	}
}
