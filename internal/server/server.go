package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/managex/signer/internal/credentials"
	httpmiddleware "github.com/managex/signer/internal/http"
	"github.com/managex/signer/internal/ledger"
	"github.com/managex/signer/internal/request"
	"github.com/managex/signer/internal/signing"
)

const maxUploadBytes = 32 << 20

// SignService runs one signing transaction end to end.
type SignService interface {
	Sign(ctx context.Context, env *request.Envelope) (*signing.Response, *signing.Failure)
}

// Config carries the HTTP surface settings.
type Config struct {
	// CORSOrigins lists the allowed cross-origin callers.
	CORSOrigins []string

	// SignedDir is the directory signed documents are served from.
	SignedDir string
}

// Server exposes the signing, upload and retrieval endpoints.
type Server struct {
	cfg       *Config
	signer    SignService
	registrar *credentials.Registrar
	ledger    *ledger.Ledger
	logger    zerolog.Logger
}

func New(cfg *Config, signer SignService, registrar *credentials.Registrar,
	lg *ledger.Ledger, logger zerolog.Logger) *Server {
	return &Server{cfg: cfg, signer: signer, registrar: registrar, ledger: lg, logger: logger}
}

// Handler builds the route table and middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleStatus)
	mux.HandleFunc("POST /sign/api/v1.0/postjson", s.handleSign)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /signed_pdf/{filename}", s.handleSignedPDF)
	mux.HandleFunc("GET /transaction_log.json", s.handleTransactionLog)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	var handler http.Handler = mux
	handler = corsMiddleware.Handler(handler)
	handler = httpmiddleware.ClientIPMiddleware()(handler)
	handler = httpmiddleware.RequestLogging(s.logger)(handler)
	handler = httpmiddleware.Recovery(s.logger)(handler)
	return handler
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "MX Signer Server"})
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	var env request.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if env.Request.TransactionID == "" {
		writeError(w, http.StatusBadRequest, "Transaction ID is missing")
		return
	}

	resp, ferr := s.signer.Sign(r.Context(), &env)
	if ferr != nil {
		writeError(w, ferr.Status, ferr.Reason)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "No file part")
		return
	}

	// Field names are matched case-insensitively.
	var header *multipart.FileHeader
	for key, files := range r.MultipartForm.File {
		if strings.EqualFold(key, "file") && len(files) > 0 {
			header = files[0]
			break
		}
	}
	if header == nil {
		writeError(w, http.StatusBadRequest, "No file part")
		return
	}
	if header.Filename == "" {
		writeError(w, http.StatusBadRequest, "No selected file")
		return
	}
	if !strings.EqualFold(filepath.Ext(header.Filename), ".pfx") {
		writeError(w, http.StatusBadRequest, "Invalid file format. Only .pfx files are allowed")
		return
	}

	var pin string
	for key, values := range r.MultipartForm.Value {
		if strings.EqualFold(key, "pin") && len(values) > 0 {
			pin = values[0]
			break
		}
	}
	if pin == "" {
		writeError(w, http.StatusBadRequest, "PIN is required")
		return
	}

	data, err := readMultipartFile(header)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "An internal server error occurred")
		return
	}

	reg, err := s.registrar.Register(header.Filename, data, pin)
	if err != nil {
		if strings.Contains(err.Error(), "invalid PIN") {
			writeError(w, http.StatusBadRequest, "Invalid PIN. Could not load the PFX file.")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	name := filepath.Base(header.Filename)
	name = strings.TrimSuffix(name, filepath.Ext(name))
	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "File uploaded and PIN validated successfully",
		"file_name": name,
		"SN":        reg.SerialNumber,
	})
}

func (s *Server) handleSignedPDF(w http.ResponseWriter, r *http.Request) {
	// Base strips any path traversal attempt from the request.
	filename := filepath.Base(r.PathValue("filename"))
	path := filepath.Join(s.cfg.SignedDir, filename)

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		writeError(w, http.StatusNotFound, fmt.Sprintf("File '%s' not found", filename))
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	http.ServeFile(w, r, path)
}

func (s *Server) handleTransactionLog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.ledger.Read()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "An internal server error occurred")
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func readMultipartFile(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, reason string) {
	writeJSON(w, status, map[string]string{"error": reason})
}
