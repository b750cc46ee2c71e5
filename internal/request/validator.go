package request

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/managex/signer/internal/telemetry"
)

// CredentialSource resolves a certificate serial to the bundle registration
// persisted by the upload flow.
type CredentialSource interface {
	Lookup(serial string) (bundlePath, passphrase string, err error)
}

// Config carries the validator's tunable policy knobs.
type Config struct {
	// MaxPDFSizeMB bounds the decoded PDF payload, from either source.
	MaxPDFSizeMB int

	// TSAURL is the timestamp authority probed when a request enables
	// timestamping.
	TSAURL string

	// DefaultTitle names signed files when the request has no title.
	DefaultTitle string

	// DefaultCoordinates is the fallback signature box, "x1,y1,x2,y2".
	DefaultCoordinates string

	// FreshnessWindow bounds how far a request timestamp may drift from
	// the current time in either direction.
	FreshnessWindow time.Duration

	// FetchTimeout bounds remote PDF fetches and the TSA probe.
	FetchTimeout time.Duration
}

// DefaultConfig returns the validator defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxPDFSizeMB:       20,
		DefaultTitle:       "document",
		DefaultCoordinates: "100,100,300,200",
		FreshnessWindow:    30 * time.Second,
		FetchTimeout:       10 * time.Second,
	}
}

// Metadata is the normalized non-placement output of validation.
type Metadata struct {
	DateLayout    string
	DateString    string
	Email         string
	Title         string
	TimestampURL  string
	Serial        string
	BundlePath    string
	Passphrase    string
	SignatoryName string
	Recipient     string
	WebhookURL    string
}

// Placement is the resolved target page and signature box.
type Placement struct {
	// Page is the zero-based page index.
	Page int

	// Box is the visible signature rectangle, nil for invisible
	// signatures.
	Box *Box

	// FitBox is the rectangle used for font fitting, present even when
	// the signature is invisible.
	FitBox Box

	SigFlags       int
	CertifyAndLock bool
	Visible        bool
}

// Validator checks and normalizes inbound signing requests. Each stage
// returns either resolved fields or an *Error carrying an HTTP-style status
// and a stable reason string.
type Validator struct {
	cfg      *Config
	registry *TxnRegistry
	gate     *EmailGate
	creds    CredentialSource
	client   *http.Client

	now func() time.Time
}

// NewValidator creates a validator. gate may be nil to skip email checks.
func NewValidator(cfg *Config, registry *TxnRegistry, gate *EmailGate, creds CredentialSource) *Validator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Validator{
		cfg:      cfg,
		registry: registry,
		gate:     gate,
		creds:    creds,
		client:   &http.Client{Timeout: cfg.FetchTimeout},
		now:      time.Now,
	}
}

// ValidateRequest applies the idempotency and freshness gates.
func (v *Validator) ValidateRequest(req *SignRequest) *Error {
	if req.Command != CommandSign {
		return NewError(http.StatusBadRequest, "Invalid or missing command.")
	}

	if !v.registry.CheckAndInsert(req.TransactionID) {
		telemetry.GetMetrics().DuplicateTxnsTotal.Add(context.Background(), 1)
		return NewError(http.StatusBadRequest, "Duplicate transaction ID")
	}

	if req.Timestamp == "" {
		return NewError(http.StatusBadRequest, "Timestamp is missing.")
	}

	ts, err := time.Parse(time.RFC3339, req.Timestamp)
	if err != nil {
		return NewError(http.StatusBadRequest, "Invalid timestamp format.")
	}

	drift := v.now().Sub(ts)
	if drift < 0 {
		drift = -drift
	}
	if drift > v.cfg.FreshnessWindow {
		return NewError(http.StatusBadRequest, "Timestamp is older than 30 seconds.")
	}
	return nil
}

// ResolvePayload resolves the PDF bytes from exactly one of the inline data
// or the remote URL.
func (v *Validator) ResolvePayload(ctx context.Context, req *SignRequest) ([]byte, *Error) {
	maxBytes := v.cfg.MaxPDFSizeMB * 1024 * 1024

	switch {
	case req.PDFData != "" && req.PDFURL != "":
		return nil, NewError(http.StatusBadRequest, "Both pdf_data and pdfurl cannot be provided together.")

	case req.PDFData != "":
		data, err := base64.StdEncoding.DecodeString(req.PDFData)
		if err != nil || !hasPDFMagic(data) {
			return nil, NewError(http.StatusBadRequest, "Invalid PDF in base64 format.")
		}
		if len(data) > maxBytes {
			return nil, NewError(http.StatusBadRequest, "PDF size exceeds %dMB.", v.cfg.MaxPDFSizeMB)
		}
		return data, nil

	case req.PDFURL != "":
		data, err := v.fetchPDF(ctx, req.PDFURL)
		if err != nil {
			log.Debug().Err(err).Str("url", req.PDFURL).Msg("Remote PDF fetch failed")
			return nil, NewError(http.StatusBadRequest, "Invalid or inaccessible PDF URL.")
		}
		if len(data) > maxBytes {
			return nil, NewError(http.StatusBadRequest, "PDF size exceeds %dMB.", v.cfg.MaxPDFSizeMB)
		}
		return data, nil

	default:
		return nil, NewError(http.StatusBadRequest, "Neither valid pdf_data nor valid pdfurl was provided.")
	}
}

func hasPDFMagic(data []byte) bool {
	return len(data) >= 4 && string(data[:4]) == "%PDF"
}

func (v *Validator) fetchPDF(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/pdf")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		return nil, fmt.Errorf("unexpected content type %q", ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(v.cfg.MaxPDFSizeMB)*1024*1024+1))
	if err != nil {
		return nil, err
	}
	if !hasPDFMagic(data) {
		return nil, fmt.Errorf("response is not a PDF")
	}
	return data, nil
}

// ResolveMetadata resolves the email gate, the timestamp authority, display
// date formatting, the file title and the credential registration lookup.
func (v *Validator) ResolveMetadata(ctx context.Context, req *SignRequest) (*Metadata, *Error) {
	md := &Metadata{
		Email:         strings.TrimSpace(req.PDF.Email),
		SignatoryName: strings.TrimSpace(req.PDF.SignatoryName),
		Recipient:     strings.TrimSpace(req.PDF.Recipient),
		WebhookURL:    strings.TrimSpace(req.Parameter.WebhookURL),
	}

	if v.gate != nil {
		switch v.gate.Check(ctx, md.Email) {
		case EmailInvalidFormat:
			return nil, NewError(http.StatusBadRequest, "Invalid email format.")
		case EmailDisposable, EmailNoHTTPS:
			return nil, NewError(http.StatusBadRequest, "Temporary email address detected.")
		case EmailEmpty:
			md.Email = ""
		}
	}

	if strings.EqualFold(strings.TrimSpace(req.PDF.EnableTimestamp), "yes") {
		md.TimestampURL = v.cfg.TSAURL
		if err := v.probeTSA(ctx, md.TimestampURL); err != nil {
			log.Warn().Err(err).Str("url", md.TimestampURL).Msg("Timestamp authority probe failed")
			return nil, NewError(http.StatusServiceUnavailable, "Time stamping service is not working.")
		}
	}

	format := strings.TrimSpace(req.PDF.DateFormat)
	if !KnownDateFormat(format) {
		format = DefaultDateFormat
	}
	md.DateLayout = DateLayout(format)
	md.DateString = v.now().Format(md.DateLayout)

	md.Title = strings.TrimSpace(req.PDF.Title)
	if md.Title == "" {
		md.Title = v.cfg.DefaultTitle
	}
	md.Title = strings.ReplaceAll(md.Title, " ", "_")

	serial := strings.ToLower(strings.TrimSpace(req.PFX.SN))
	if serial == "" {
		return nil, NewError(http.StatusBadRequest, "PFX certificate Serial No. missing and cannot be blank.")
	}
	md.Serial = serial

	path, passphrase, err := v.creds.Lookup(serial)
	if err != nil {
		return nil, NewError(http.StatusNotFound,
			"Serial No. [%s] not found please upload the PFX or check the serial no. with upload pfx", serial)
	}
	md.BundlePath = path
	md.Passphrase = passphrase

	return md, nil
}

// probeTSA checks that the timestamp authority answers before signing
// begins, failing fast instead of partway through.
func (v *Validator) probeTSA(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("no timestamp authority configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// ResolvePlacement resolves the target page and the signature box from
// explicit coordinates, a text search or the configured default.
func (v *Validator) ResolvePlacement(req *SignRequest, pdfData []byte) (*Placement, *Error) {
	total, err := PageCount(pdfData)
	if err != nil || total == 0 {
		return nil, NewError(http.StatusBadRequest, "Invalid PDF document.")
	}

	page, err := req.PDF.Page.Resolve(total)
	if err != nil {
		return nil, NewError(http.StatusBadRequest, "Invalid page number format.")
	}
	if page < 1 || page > total {
		return nil, NewError(http.StatusBadRequest, "Page Limit Exceeded.")
	}

	coordinates := strings.TrimSpace(req.PDF.Coordinates)
	search := strings.TrimSpace(req.PDF.SearchByText)
	if coordinates != "" && search != "" {
		return nil, NewError(http.StatusBadRequest, "Please provide either coordinates or search text, not both.")
	}

	var box Box
	switch {
	case search != "":
		found, err := FindTextBox(pdfData, page, search)
		if err != nil {
			return nil, NewError(http.StatusInternalServerError, "Error processing PDF for search text.")
		}
		if found == nil {
			return nil, NewError(http.StatusNotFound,
				"Search text not found %q. Please use coordinates instead.", search)
		}
		box = *found

	default:
		if coordinates == "" {
			coordinates = v.cfg.DefaultCoordinates
		}
		parsed, perr := parseCoordinates(coordinates)
		if perr != nil {
			return nil, NewError(http.StatusBadRequest, "Invalid coordinates format.")
		}
		box = parsed
	}

	invisible := strings.EqualFold(strings.TrimSpace(req.PDF.InvisibleSign), "yes")
	lock := strings.EqualFold(strings.TrimSpace(req.PDF.LockPDF), "yes")

	p := &Placement{
		Page:           page - 1,
		FitBox:         box,
		CertifyAndLock: lock,
		Visible:        !invisible,
	}
	if lock {
		p.SigFlags = 1
	} else {
		p.SigFlags = 3
	}
	if !invisible {
		b := box
		p.Box = &b
	}
	return p, nil
}

func parseCoordinates(s string) (Box, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Box{}, fmt.Errorf("expected 4 coordinates, got %d", len(parts))
	}
	vals := make([]int, 4)
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return Box{}, err
		}
		vals[i] = n
	}
	return Box{X1: vals[0], Y1: vals[1], X2: vals[2], Y2: vals[3]}, nil
}
