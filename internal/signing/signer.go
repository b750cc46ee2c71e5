package signing

import (
	"context"
	"time"

	"github.com/managex/signer/internal/credentials"
)

// Job is everything the signing capability needs to embed one signature.
type Job struct {
	// Document is the PDF to sign.
	Document []byte

	// Credential is the freshly loaded key and certificate chain.
	Credential *credentials.Bundle

	// Page is the zero-based target page.
	Page int

	// Box is the visible signature rectangle as [x1, y1, x2, y2], nil for
	// an invisible signature.
	Box []int

	// FieldName names the signature field in the document.
	FieldName string

	// Signatory is the display name of the signer.
	Signatory string

	// Text is the rendered attestation block, FontSize its fitted size.
	Text     string
	FontSize int

	Reason   string
	Location string
	Contact  string

	SigningTime time.Time

	// SigFlags and Certify control the certify-and-lock behavior.
	SigFlags int
	Certify  bool
	Visible  bool

	// TimestampURL is the timestamp authority to embed a token from, empty
	// to skip timestamping.
	TimestampURL string
}

// Signer produces the signed document bytes for a job. The CMS signature
// construction itself lives behind this interface.
type Signer interface {
	Sign(ctx context.Context, job *Job) ([]byte, error)
}
