package trust

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ocsp"
)

// Reason is the fixed taxonomy of terminal trust failures.
type Reason string

const (
	ReasonExpired          Reason = "expired"
	ReasonRevokedByCRL     Reason = "revoked-by-crl"
	ReasonRevokedByOCSP    Reason = "revoked-by-ocsp"
	ReasonMissingKeyUsage  Reason = "missing-key-usage"
	ReasonCheckUnavailable Reason = "revocation-check-unavailable"
)

// Error is a terminal trust failure. It always aborts the signing operation.
type Error struct {
	Reason  Reason
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func terminal(reason Reason, format string, args ...any) *Error {
	return &Error{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// Config carries the trust validation policy.
type Config struct {
	// ExpiryTimezone is the reference timezone for the not-valid-after
	// comparison.
	ExpiryTimezone string

	// FetchTimeout bounds CRL, issuer certificate and OCSP fetches.
	FetchTimeout time.Duration
}

// DefaultConfig returns the default trust policy.
func DefaultConfig() *Config {
	return &Config{
		ExpiryTimezone: "Asia/Kolkata",
		FetchTimeout:   10 * time.Second,
	}
}

// Validator checks a loaded credential against key usage, revocation and
// expiry policy. Revocation prefers CRL; an unavailable CRL falls back to
// OCSP, and any remaining uncertainty is treated as failure rather than
// good standing.
type Validator struct {
	cfg    *Config
	loc    *time.Location
	client *http.Client

	now func() time.Time
}

// NewValidator creates a validator. An unknown timezone name is an error so
// that a misconfigured policy fails at startup, not at signing time.
func NewValidator(cfg *Config) (*Validator, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	loc, err := time.LoadLocation(cfg.ExpiryTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid expiry timezone %q: %w", cfg.ExpiryTimezone, err)
	}
	return &Validator{
		cfg:    cfg,
		loc:    loc,
		client: &http.Client{Timeout: cfg.FetchTimeout},
		now:    time.Now,
	}, nil
}

// Validate runs the ordered checks against the leaf certificate. A nil
// return means the credential may be used for signing; any error is an
// *Error from the failure taxonomy.
func (v *Validator) Validate(ctx context.Context, leaf *x509.Certificate) error {
	if leaf.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		return terminal(ReasonMissingKeyUsage,
			"The certificate is Not Digital Signature key_usage. Signing aborted. Please try another valid certificate for signing.")
	}

	if err := v.checkRevocation(ctx, leaf); err != nil {
		return err
	}

	notAfter := leaf.NotAfter.In(v.loc)
	if v.now().In(v.loc).After(notAfter) {
		return terminal(ReasonExpired,
			"The certificate expired on %s. Signing aborted. Please try another valid certificate for signing.",
			notAfter.Format("02-Jan-2006 15:04:05 MST"))
	}
	return nil
}

// checkRevocation prefers the CRL. A missing distribution point or a failed
// fetch falls through to OCSP; a present CRL is authoritative either way.
func (v *Validator) checkRevocation(ctx context.Context, leaf *x509.Certificate) error {
	crl := v.fetchCRL(ctx, leaf)
	if crl != nil {
		for _, entry := range crl.RevokedCertificateEntries {
			if entry.SerialNumber.Cmp(leaf.SerialNumber) == 0 {
				return terminal(ReasonRevokedByCRL,
					"The certificate is revoked From CRL. Signing aborted. Please try another Valid certificate for signing.")
			}
		}
		return nil
	}
	return v.checkOCSP(ctx, leaf)
}

// fetchCRL tries each distribution point in order. A nil return means no
// CRL could be obtained and the caller should fall back to OCSP.
func (v *Validator) fetchCRL(ctx context.Context, leaf *x509.Certificate) *x509.RevocationList {
	for _, dp := range leaf.CRLDistributionPoints {
		data, err := v.fetch(ctx, dp)
		if err != nil {
			log.Warn().Err(err).Str("url", dp).Msg("CRL fetch failed")
			continue
		}
		if block, _ := pem.Decode(data); block != nil {
			data = block.Bytes
		}
		crl, err := x509.ParseRevocationList(data)
		if err != nil {
			log.Warn().Err(err).Str("url", dp).Msg("CRL parse failed")
			continue
		}
		log.Debug().Str("url", dp).Int("revoked", len(crl.RevokedCertificateEntries)).Msg("CRL obtained")
		return crl
	}
	return nil
}

// checkOCSP resolves the issuer certificate and OCSP responder from the
// leaf's Authority Information Access extension and queries the responder.
// Anything short of a definitive "good" answer is a terminal failure.
func (v *Validator) checkOCSP(ctx context.Context, leaf *x509.Certificate) error {
	if len(leaf.IssuingCertificateURL) == 0 {
		return terminal(ReasonCheckUnavailable,
			"No CA issuer location in the certificate; revocation status cannot be confirmed. Signing aborted.")
	}
	if len(leaf.OCSPServer) == 0 {
		return terminal(ReasonCheckUnavailable,
			"No OCSP responder in the certificate; revocation status cannot be confirmed. Signing aborted.")
	}

	issuer, err := v.fetchIssuer(ctx, leaf.IssuingCertificateURL[0])
	if err != nil {
		return terminal(ReasonCheckUnavailable,
			"Failed to fetch the issuing CA certificate: %v. Signing aborted.", err)
	}

	reqBytes, err := ocsp.CreateRequest(leaf, issuer, nil)
	if err != nil {
		return terminal(ReasonCheckUnavailable,
			"Failed to build the OCSP request: %v. Signing aborted.", err)
	}

	responder := leaf.OCSPServer[0]
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, responder, bytes.NewReader(reqBytes))
	if err != nil {
		return terminal(ReasonCheckUnavailable,
			"Failed to build the OCSP query: %v. Signing aborted.", err)
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")

	resp, err := v.client.Do(httpReq)
	if err != nil {
		return terminal(ReasonCheckUnavailable,
			"OCSP responder unreachable: %v. Signing aborted.", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return terminal(ReasonCheckUnavailable,
			"OCSP responder returned status %d. Signing aborted.", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return terminal(ReasonCheckUnavailable,
			"Failed to read the OCSP response: %v. Signing aborted.", err)
	}

	ocspResp, err := ocsp.ParseResponseForCert(raw, leaf, issuer)
	if err != nil {
		return terminal(ReasonCheckUnavailable,
			"Malformed OCSP response: %v. Signing aborted.", err)
	}

	switch ocspResp.Status {
	case ocsp.Good:
		log.Debug().Str("responder", responder).Msg("OCSP status good")
		return nil
	case ocsp.Revoked:
		return terminal(ReasonRevokedByOCSP,
			"The certificate is revoked per OCSP. Signing aborted. Please try another Valid certificate for signing.")
	default:
		return terminal(ReasonCheckUnavailable,
			"OCSP status for the certificate is unknown. Signing aborted.")
	}
}

// fetchIssuer downloads the issuing CA certificate, accepting PEM or DER.
func (v *Validator) fetchIssuer(ctx context.Context, url string) (*x509.Certificate, error) {
	data, err := v.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if block, _ := pem.Decode(data); block != nil {
		data = block.Bytes
	}
	return x509.ParseCertificate(data)
}

func (v *Validator) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 8<<20))
}
