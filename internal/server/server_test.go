package server

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"math/big"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/managex/signer/internal/credentials"
	"github.com/managex/signer/internal/ledger"
	"github.com/managex/signer/internal/request"
	"github.com/managex/signer/internal/signing"
)

type fakeSignService struct {
	resp    *signing.Response
	failure *signing.Failure
	lastEnv *request.Envelope
}

func (f *fakeSignService) Sign(ctx context.Context, env *request.Envelope) (*signing.Response, *signing.Failure) {
	f.lastEnv = env
	if f.failure != nil {
		return nil, f.failure
	}
	return f.resp, nil
}

type serverHarness struct {
	svc    *fakeSignService
	ledger *ledger.Ledger
	outDir string
	ts     *httptest.Server
}

func newServerHarness(t *testing.T) *serverHarness {
	t.Helper()
	ctx := context.Background()

	lg, err := ledger.Open(ledger.DefaultConfig(t.TempDir()))
	require.NoError(t, err)
	lg.Start(ctx)
	t.Cleanup(func() { _ = lg.Stop(ctx) })

	store, err := credentials.NewFileStore(t.TempDir())
	require.NoError(t, err)
	registrar, err := credentials.NewRegistrar(store, t.TempDir())
	require.NoError(t, err)

	svc := &fakeSignService{
		resp: &signing.Response{
			Response: signing.ResponseBody{
				Command: signing.CommandResponse,
				Txn:     "txn-1",
				Status:  "ok",
			},
		},
	}

	outDir := t.TempDir()
	srv := New(&Config{CORSOrigins: []string{"*"}, SignedDir: outDir},
		svc, registrar, lg, zerolog.Nop())

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &serverHarness{svc: svc, ledger: lg, outDir: outDir, ts: ts}
}

func postSignRequest(t *testing.T, h *serverHarness, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(h.ts.URL+"/sign/api/v1.0/postjson", "application/json",
		strings.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestSignEndpoint(t *testing.T) {
	t.Run("returns the signed envelope", func(t *testing.T) {
		h := newServerHarness(t)

		resp := postSignRequest(t, h, `{"request": {"command": "managexserversign", "transaction_id": "txn-1"}}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body signing.Response
		decodeBody(t, resp, &body)
		require.Equal(t, signing.CommandResponse, body.Response.Command)
		require.Equal(t, "txn-1", body.Response.Txn)
		require.Equal(t, "txn-1", h.svc.lastEnv.Request.TransactionID)
	})

	t.Run("rejects a missing transaction id", func(t *testing.T) {
		h := newServerHarness(t)

		resp := postSignRequest(t, h, `{"request": {"command": "managexserversign"}}`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body map[string]string
		decodeBody(t, resp, &body)
		require.Equal(t, "Transaction ID is missing", body["error"])
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		h := newServerHarness(t)

		resp := postSignRequest(t, h, `{"request":`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("propagates pipeline failures", func(t *testing.T) {
		h := newServerHarness(t)
		h.svc.failure = &signing.Failure{Status: http.StatusBadRequest, Reason: "Page Limit Exceeded."}

		resp := postSignRequest(t, h, `{"request": {"transaction_id": "txn-2"}}`)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body map[string]string
		decodeBody(t, resp, &body)
		require.Equal(t, "Page Limit Exceeded.", body["error"])
	})
}

func makeUploadBundle(t *testing.T, passphrase string) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(0x1f2e3d),
		Subject:      pkix.Name{CommonName: "Upload Test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	data, err := pkcs12.Modern.Encode(key, cert, nil, passphrase)
	require.NoError(t, err)
	return data
}

func postUpload(t *testing.T, h *serverHarness, fileKey, filename string, data []byte, pinKey, pin string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile(fileKey, filename)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	if pin != "" {
		require.NoError(t, mw.WriteField(pinKey, pin))
	}
	require.NoError(t, mw.Close())

	resp, err := http.Post(h.ts.URL+"/upload", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	return resp
}

func TestUploadEndpoint(t *testing.T) {
	t.Run("registers a valid bundle with mixed-case field names", func(t *testing.T) {
		h := newServerHarness(t)
		bundle := makeUploadBundle(t, "hunter2")

		resp := postUpload(t, h, "File", "corp.pfx", bundle, "PIN", "hunter2")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		decodeBody(t, resp, &body)
		require.Equal(t, "File uploaded and PIN validated successfully", body["message"])
		require.Equal(t, "corp", body["file_name"])
		require.Equal(t, "1f2e3d", body["SN"])
	})

	t.Run("rejects a wrong PIN", func(t *testing.T) {
		h := newServerHarness(t)
		bundle := makeUploadBundle(t, "hunter2")

		resp := postUpload(t, h, "file", "corp.pfx", bundle, "pin", "wrong")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body map[string]string
		decodeBody(t, resp, &body)
		require.Equal(t, "Invalid PIN. Could not load the PFX file.", body["error"])
	})

	t.Run("rejects a missing PIN", func(t *testing.T) {
		h := newServerHarness(t)

		resp := postUpload(t, h, "file", "corp.pfx", []byte("x"), "pin", "")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body map[string]string
		decodeBody(t, resp, &body)
		require.Equal(t, "PIN is required", body["error"])
	})

	t.Run("rejects a non-pfx extension", func(t *testing.T) {
		h := newServerHarness(t)

		resp := postUpload(t, h, "file", "corp.p12", []byte("x"), "pin", "hunter2")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body map[string]string
		decodeBody(t, resp, &body)
		require.Equal(t, "Invalid file format. Only .pfx files are allowed", body["error"])
	})

	t.Run("rejects a request without a file part", func(t *testing.T) {
		h := newServerHarness(t)

		resp := postUpload(t, h, "file", "", nil, "pin", "hunter2")
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		var body map[string]string
		decodeBody(t, resp, &body)
		require.Equal(t, "No file part", body["error"])
	})
}

func TestSignedPDFEndpoint(t *testing.T) {
	t.Run("serves an existing document", func(t *testing.T) {
		h := newServerHarness(t)
		path := filepath.Join(h.outDir, "report_txn-1_signed.pdf")
		require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4 signed"), 0o644))

		resp, err := http.Get(h.ts.URL + "/signed_pdf/report_txn-1_signed.pdf")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	})

	t.Run("returns 404 for an unknown document", func(t *testing.T) {
		h := newServerHarness(t)

		resp, err := http.Get(h.ts.URL + "/signed_pdf/missing.pdf")
		require.NoError(t, err)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)

		var body map[string]string
		decodeBody(t, resp, &body)
		require.Equal(t, "File 'missing.pdf' not found", body["error"])
	})
}

func TestTransactionLogEndpoint(t *testing.T) {
	h := newServerHarness(t)

	require.NoError(t, h.ledger.Append(context.Background(), ledger.Entry{
		TransactionID: "txn-log-1",
		Status:        ledger.StatusSuccess,
		Reason:        "PDF signed successfully",
	}))

	resp, err := http.Get(h.ts.URL + "/transaction_log.json")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var entries []ledger.Entry
	decodeBody(t, resp, &entries)
	require.Len(t, entries, 1)
	require.Equal(t, "txn-log-1", entries[0].TransactionID)
}

func TestStatusEndpoint(t *testing.T) {
	h := newServerHarness(t)

	resp, err := http.Get(h.ts.URL + "/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decodeBody(t, resp, &body)
	require.Equal(t, "ok", body["status"])
}
