package request

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeCredentialSource struct {
	registrations map[string][2]string
}

func (f *fakeCredentialSource) Lookup(serial string) (string, string, error) {
	reg, ok := f.registrations[serial]
	if !ok {
		return "", "", fmt.Errorf("serial %q not registered", serial)
	}
	return reg[0], reg[1], nil
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()

	creds := &fakeCredentialSource{
		registrations: map[string][2]string{
			"0abc123": {"/var/lib/signer/bundles/0abc123.pfx", "secret"},
		},
	}
	return NewValidator(DefaultConfig(), NewTxnRegistry(), nil, creds)
}

func baseRequest(txn string) *SignRequest {
	return &SignRequest{
		Command:       CommandSign,
		TransactionID: txn,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		PFX:           PFXRef{SN: "0ABC123"},
	}
}

func TestValidateRequest(t *testing.T) {
	t.Run("accepts a fresh request", func(t *testing.T) {
		v := newTestValidator(t)
		require.Nil(t, v.ValidateRequest(baseRequest("txn-1")))
	})

	t.Run("rejects wrong command", func(t *testing.T) {
		v := newTestValidator(t)
		req := baseRequest("txn-1")
		req.Command = "somethingelse"

		verr := v.ValidateRequest(req)
		require.NotNil(t, verr)
		require.Equal(t, http.StatusBadRequest, verr.Status)
		require.Equal(t, "Invalid or missing command.", verr.Reason)
	})

	t.Run("rejects duplicate transaction id", func(t *testing.T) {
		v := newTestValidator(t)
		require.Nil(t, v.ValidateRequest(baseRequest("txn-1")))

		verr := v.ValidateRequest(baseRequest("txn-1"))
		require.NotNil(t, verr)
		require.Equal(t, "Duplicate transaction ID", verr.Reason)
	})

	t.Run("rejects missing timestamp", func(t *testing.T) {
		v := newTestValidator(t)
		req := baseRequest("txn-1")
		req.Timestamp = ""

		verr := v.ValidateRequest(req)
		require.NotNil(t, verr)
		require.Equal(t, "Timestamp is missing.", verr.Reason)
	})

	t.Run("rejects unparsable timestamp", func(t *testing.T) {
		v := newTestValidator(t)
		req := baseRequest("txn-1")
		req.Timestamp = "22-11-2024 10:00:00"

		verr := v.ValidateRequest(req)
		require.NotNil(t, verr)
		require.Equal(t, "Invalid timestamp format.", verr.Reason)
	})

	t.Run("freshness window boundaries", func(t *testing.T) {
		v := newTestValidator(t)
		now := time.Now().UTC()
		v.now = func() time.Time { return now }

		req := baseRequest("txn-stale")
		req.Timestamp = now.Add(-31 * time.Second).Format(time.RFC3339)
		verr := v.ValidateRequest(req)
		require.NotNil(t, verr)
		require.Equal(t, "Timestamp is older than 30 seconds.", verr.Reason)

		req = baseRequest("txn-fresh")
		req.Timestamp = now.Add(-29 * time.Second).Format(time.RFC3339)
		require.Nil(t, v.ValidateRequest(req))

		// A timestamp from the future is held to the same window.
		req = baseRequest("txn-future")
		req.Timestamp = now.Add(45 * time.Second).Format(time.RFC3339)
		require.NotNil(t, v.ValidateRequest(req))
	})
}

func TestResolvePayload(t *testing.T) {
	ctx := context.Background()
	pdfData := buildPDF(t, 1)

	t.Run("inline base64", func(t *testing.T) {
		v := newTestValidator(t)
		req := baseRequest("txn-1")
		req.PDFData = base64.StdEncoding.EncodeToString(pdfData)

		got, verr := v.ResolvePayload(ctx, req)
		require.Nil(t, verr)
		require.Equal(t, pdfData, got)
	})

	t.Run("both sources rejected", func(t *testing.T) {
		v := newTestValidator(t)
		req := baseRequest("txn-1")
		req.PDFData = base64.StdEncoding.EncodeToString(pdfData)
		req.PDFURL = "http://example.com/doc.pdf"

		_, verr := v.ResolvePayload(ctx, req)
		require.NotNil(t, verr)
		require.Equal(t, "Both pdf_data and pdfurl cannot be provided together.", verr.Reason)
	})

	t.Run("neither source rejected", func(t *testing.T) {
		v := newTestValidator(t)
		_, verr := v.ResolvePayload(ctx, baseRequest("txn-1"))
		require.NotNil(t, verr)
		require.Equal(t, "Neither valid pdf_data nor valid pdfurl was provided.", verr.Reason)
	})

	t.Run("rejects non PDF bytes", func(t *testing.T) {
		v := newTestValidator(t)
		req := baseRequest("txn-1")
		req.PDFData = base64.StdEncoding.EncodeToString([]byte("hello world"))

		_, verr := v.ResolvePayload(ctx, req)
		require.NotNil(t, verr)
		require.Equal(t, "Invalid PDF in base64 format.", verr.Reason)
	})

	t.Run("rejects oversized payload", func(t *testing.T) {
		v := newTestValidator(t)
		v.cfg.MaxPDFSizeMB = 0

		req := baseRequest("txn-1")
		req.PDFData = base64.StdEncoding.EncodeToString(pdfData)

		_, verr := v.ResolvePayload(ctx, req)
		require.NotNil(t, verr)
		require.Contains(t, verr.Reason, "PDF size exceeds")
	})

	t.Run("fetches by URL with content type check", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write(pdfData)
		}))
		defer srv.Close()

		v := newTestValidator(t)
		req := baseRequest("txn-1")
		req.PDFURL = srv.URL

		got, verr := v.ResolvePayload(ctx, req)
		require.Nil(t, verr)
		require.Equal(t, pdfData, got)
	})

	t.Run("rejects wrong content type", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write(pdfData)
		}))
		defer srv.Close()

		v := newTestValidator(t)
		req := baseRequest("txn-1")
		req.PDFURL = srv.URL

		_, verr := v.ResolvePayload(ctx, req)
		require.NotNil(t, verr)
		require.Equal(t, "Invalid or inaccessible PDF URL.", verr.Reason)
	})
}

func TestResolveMetadata(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves defaults", func(t *testing.T) {
		v := newTestValidator(t)
		md, verr := v.ResolveMetadata(ctx, baseRequest("txn-1"))
		require.Nil(t, verr)
		require.Equal(t, "0abc123", md.Serial)
		require.Equal(t, "/var/lib/signer/bundles/0abc123.pfx", md.BundlePath)
		require.Equal(t, "secret", md.Passphrase)
		require.Equal(t, "document", md.Title)
		require.Equal(t, DateLayout(DefaultDateFormat), md.DateLayout)
		require.NotEmpty(t, md.DateString)
	})

	t.Run("title spaces become underscores", func(t *testing.T) {
		v := newTestValidator(t)
		req := baseRequest("txn-1")
		req.PDF.Title = "Quarterly Sales Report"

		md, verr := v.ResolveMetadata(ctx, req)
		require.Nil(t, verr)
		require.Equal(t, "Quarterly_Sales_Report", md.Title)
	})

	t.Run("missing serial rejected", func(t *testing.T) {
		v := newTestValidator(t)
		req := baseRequest("txn-1")
		req.PFX.SN = ""

		_, verr := v.ResolveMetadata(ctx, req)
		require.NotNil(t, verr)
		require.Equal(t, http.StatusBadRequest, verr.Status)
	})

	t.Run("unregistered serial is a 404", func(t *testing.T) {
		v := newTestValidator(t)
		req := baseRequest("txn-1")
		req.PFX.SN = "deadbeef"

		_, verr := v.ResolveMetadata(ctx, req)
		require.NotNil(t, verr)
		require.Equal(t, http.StatusNotFound, verr.Status)
		require.Contains(t, verr.Reason, "deadbeef")
	})

	t.Run("timestamp authority probed when enabled", func(t *testing.T) {
		var probed bool
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			probed = true
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		v := newTestValidator(t)
		v.cfg.TSAURL = srv.URL

		req := baseRequest("txn-1")
		req.PDF.EnableTimestamp = "yes"

		md, verr := v.ResolveMetadata(ctx, req)
		require.Nil(t, verr)
		require.True(t, probed)
		require.Equal(t, srv.URL, md.TimestampURL)
	})

	t.Run("unreachable timestamp authority is a 503", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		v := newTestValidator(t)
		v.cfg.TSAURL = srv.URL

		req := baseRequest("txn-1")
		req.PDF.EnableTimestamp = "yes"

		_, verr := v.ResolveMetadata(ctx, req)
		require.NotNil(t, verr)
		require.Equal(t, http.StatusServiceUnavailable, verr.Status)
		require.Equal(t, "Time stamping service is not working.", verr.Reason)
	})
}

func TestResolvePlacement(t *testing.T) {
	fivePages := buildPDF(t, 5)

	t.Run("page last resolves to final page", func(t *testing.T) {
		v := newTestValidator(t)
		req := baseRequest("txn-1")
		req.PDF.Page = "last"
		req.PDF.Coordinates = "10,20,200,120"

		p, verr := v.ResolvePlacement(req, fivePages)
		require.Nil(t, verr)
		require.Equal(t, 4, p.Page)
	})

	t.Run("page beyond document rejected", func(t *testing.T) {
		v := newTestValidator(t)
		req := baseRequest("txn-1")
		req.PDF.Page = "6"

		_, verr := v.ResolvePlacement(req, fivePages)
		require.NotNil(t, verr)
		require.Equal(t, "Page Limit Exceeded.", verr.Reason)
	})

	t.Run("coordinates and search are mutually exclusive", func(t *testing.T) {
		v := newTestValidator(t)
		req := baseRequest("txn-1")
		req.PDF.Coordinates = "10,20,200,120"
		req.PDF.SearchByText = "Signature"

		_, verr := v.ResolvePlacement(req, fivePages)
		require.NotNil(t, verr)
		require.Equal(t, "Please provide either coordinates or search text, not both.", verr.Reason)
	})

	t.Run("defaults apply when neither given", func(t *testing.T) {
		v := newTestValidator(t)
		req := baseRequest("txn-1")

		p, verr := v.ResolvePlacement(req, fivePages)
		require.Nil(t, verr)
		require.Equal(t, 0, p.Page)
		require.NotNil(t, p.Box)
		require.Equal(t, Box{X1: 100, Y1: 100, X2: 300, Y2: 200}, *p.Box)
	})

	t.Run("invalid coordinates rejected", func(t *testing.T) {
		v := newTestValidator(t)
		req := baseRequest("txn-1")
		req.PDF.Coordinates = "10,20,bogus,120"

		_, verr := v.ResolvePlacement(req, fivePages)
		require.NotNil(t, verr)
		require.Equal(t, "Invalid coordinates format.", verr.Reason)
	})

	t.Run("search text not found is a 404", func(t *testing.T) {
		v := newTestValidator(t)
		req := baseRequest("txn-1")
		req.PDF.SearchByText = "Authorized Signatory"

		_, verr := v.ResolvePlacement(req, fivePages)
		require.NotNil(t, verr)
		require.Equal(t, http.StatusNotFound, verr.Status)
		require.Contains(t, verr.Reason, "Authorized Signatory")
	})

	t.Run("invisible suppresses the box", func(t *testing.T) {
		v := newTestValidator(t)
		req := baseRequest("txn-1")
		req.PDF.InvisibleSign = "YES"
		req.PDF.Coordinates = "10,20,200,120"

		p, verr := v.ResolvePlacement(req, fivePages)
		require.Nil(t, verr)
		require.Nil(t, p.Box)
		require.False(t, p.Visible)
		require.Equal(t, Box{X1: 10, Y1: 20, X2: 200, Y2: 120}, p.FitBox)
	})

	t.Run("lockpdf sets certify flags", func(t *testing.T) {
		v := newTestValidator(t)
		req := baseRequest("txn-1")
		req.PDF.LockPDF = "yes"

		p, verr := v.ResolvePlacement(req, fivePages)
		require.Nil(t, verr)
		require.True(t, p.CertifyAndLock)
		require.Equal(t, 1, p.SigFlags)

		req2 := baseRequest("txn-2")
		p2, verr := v.ResolvePlacement(req2, fivePages)
		require.Nil(t, verr)
		require.False(t, p2.CertifyAndLock)
		require.Equal(t, 3, p2.SigFlags)
	})
}

func TestEmailGate(t *testing.T) {
	ctx := context.Background()

	t.Run("empty email skips validation", func(t *testing.T) {
		g := NewEmailGate("", time.Second)
		require.Equal(t, EmailEmpty, g.Check(ctx, ""))
	})

	t.Run("structural pattern", func(t *testing.T) {
		g := NewEmailGate("", time.Second)
		require.Equal(t, EmailInvalidFormat, g.Check(ctx, "not-an-email"))
		require.Equal(t, EmailInvalidFormat, g.Check(ctx, "user@"))
	})

	t.Run("disposable domain rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "temp-mail.config")
		require.NoError(t, os.WriteFile(path, []byte("mailinator.com\n10minutemail.com\n"), 0o600))

		g := NewEmailGate(path, time.Second)
		require.Equal(t, EmailDisposable, g.Check(ctx, "user@mailinator.com"))
	})
}

func TestPageSelectorJSON(t *testing.T) {
	var opts PDFOptions
	require.NoError(t, json.Unmarshal([]byte(`{"page": 3}`), &opts))
	n, err := opts.Page.Resolve(5)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	require.NoError(t, json.Unmarshal([]byte(`{"page": "first"}`), &opts))
	n, err = opts.Page.Resolve(5)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.NoError(t, json.Unmarshal([]byte(`{"page": "nonsense"}`), &opts))
	_, err = opts.Page.Resolve(5)
	require.Error(t, err)
}
