package request

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)

// EmailVerdict is the outcome of the notification email gate.
type EmailVerdict int

const (
	EmailEmpty EmailVerdict = iota
	EmailValid
	EmailInvalidFormat
	EmailDisposable
	EmailNoHTTPS
)

// EmailGate validates optional notification email addresses. An address must
// match a structural pattern, must not belong to a disposable-domain set, and
// its domain must answer an HTTPS probe.
type EmailGate struct {
	disposable map[string]struct{}
	client     *http.Client
}

// NewEmailGate loads the disposable-domain set from path, one domain per
// line. A missing or unreadable file leaves the set empty rather than
// failing startup.
func NewEmailGate(path string, probeTimeout time.Duration) *EmailGate {
	if probeTimeout <= 0 {
		probeTimeout = 10 * time.Second
	}
	g := &EmailGate{
		disposable: make(map[string]struct{}),
		client:     &http.Client{Timeout: probeTimeout},
	}
	if path == "" {
		return g
	}

	f, err := os.Open(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to load disposable email domains")
		return g
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		domain := strings.TrimSpace(scanner.Text())
		if domain != "" {
			g.disposable[domain] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Error reading disposable email domains")
	}

	log.Info().Int("domains", len(g.disposable)).Msg("Disposable email domain set loaded")
	return g
}

// Check validates an email address. An empty address is EmailEmpty, which
// callers treat as "no notification requested".
func (g *EmailGate) Check(ctx context.Context, email string) EmailVerdict {
	if email == "" {
		return EmailEmpty
	}
	if !emailPattern.MatchString(email) {
		return EmailInvalidFormat
	}

	at := strings.LastIndex(email, "@")
	if at < 0 {
		return EmailInvalidFormat
	}
	domain := email[at+1:]

	if _, ok := g.disposable[domain]; ok {
		return EmailDisposable
	}

	if !g.probeHTTPS(ctx, domain) {
		return EmailNoHTTPS
	}
	return EmailValid
}

// probeHTTPS checks that the domain answers an HTTPS request with a 200.
func (g *EmailGate) probeHTTPS(ctx context.Context, domain string) bool {
	url := fmt.Sprintf("https://%s", domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}

	resp, err := g.client.Do(req)
	if err != nil {
		log.Debug().Err(err).Str("domain", domain).Msg("HTTPS probe failed")
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
