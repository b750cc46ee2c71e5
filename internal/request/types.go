package request

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// CommandSign is the literal every inbound signing request must carry.
const CommandSign = "managexserversign"

// Envelope is the outer wrapper of an inbound signing request body.
type Envelope struct {
	Request SignRequest `json:"request"`
}

// SignRequest is the caller-supplied signing request. Exactly one of PDFData
// and PDFURL must be set.
type SignRequest struct {
	Command       string     `json:"command"`
	TransactionID string     `json:"transaction_id"`
	Timestamp     string     `json:"timestamp"`
	PDFData       string     `json:"pdf_data,omitempty"`
	PDFURL        string     `json:"pdfurl,omitempty"`
	PDF           PDFOptions `json:"pdf"`
	PFX           PFXRef     `json:"pfx"`
	Parameter     Parameter  `json:"parameter"`
}

// PDFOptions carries the per-document signing directives.
type PDFOptions struct {
	Page            PageSelector `json:"page,omitempty"`
	Coordinates     string       `json:"coordinates,omitempty"`
	SearchByText    string       `json:"search_by_text,omitempty"`
	InvisibleSign   string       `json:"invisiblesign,omitempty"`
	LockPDF         string       `json:"lockpdf,omitempty"`
	DateFormat      string       `json:"dateformat,omitempty"`
	Email           string       `json:"email,omitempty"`
	Title           string       `json:"title,omitempty"`
	Reason          string       `json:"reason,omitempty"`
	CustomText      string       `json:"custom_text,omitempty"`
	Location        string       `json:"location,omitempty"`
	SignatoryName   string       `json:"signatory_name,omitempty"`
	Recipient       string       `json:"recipient,omitempty"`
	EnableTimestamp string       `json:"enabletimestamp,omitempty"`
}

// PFXRef identifies a registered credential bundle by certificate serial.
type PFXRef struct {
	SN string `json:"SN"`
}

// Parameter carries out-of-band delivery directives.
type Parameter struct {
	WebhookURL string `json:"webhook_url,omitempty"`
}

// PageSelector accepts a JSON number or a string. Strings may be "first",
// "last" or a 1-based page number.
type PageSelector string

func (p *PageSelector) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PageSelector(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("page must be a number or string: %w", err)
	}
	*p = PageSelector(n.String())
	return nil
}

func (p PageSelector) MarshalJSON() ([]byte, error) {
	s := string(p)
	if _, err := strconv.Atoi(s); err == nil {
		return []byte(s), nil
	}
	return json.Marshal(s)
}

// Resolve maps the selector to a 1-based page number. "first" is page 1 and
// "last" is totalPages; an empty selector defaults to page 1.
func (p PageSelector) Resolve(totalPages int) (int, error) {
	s := strings.ToLower(strings.TrimSpace(string(p)))
	switch s {
	case "":
		return 1, nil
	case "first":
		return 1, nil
	case "last":
		return totalPages, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid page number %q", s)
	}
	return n, nil
}
