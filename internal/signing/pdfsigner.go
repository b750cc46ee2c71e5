package signing

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"fmt"

	"github.com/digitorus/pdf"
	"github.com/digitorus/pdfsign/sign"
)

// PDFSigner embeds a CMS signature into the document as an incremental
// update.
type PDFSigner struct{}

// NewPDFSigner creates the default signing capability.
func NewPDFSigner() *PDFSigner {
	return &PDFSigner{}
}

func (s *PDFSigner) Sign(ctx context.Context, job *Job) ([]byte, error) {
	signer, ok := job.Credential.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("bundle private key does not support signing")
	}

	rdr, err := pdf.NewReader(bytes.NewReader(job.Document), int64(len(job.Document)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF for signing: %w", err)
	}

	certType := sign.ApprovalSignature
	docMDP := sign.AllowFillingExistingFormFieldsAndSignaturesPerms
	if job.Certify {
		certType = sign.CertificationSignature
		docMDP = sign.DoNotAllowAnyChangesPerms
	}

	data := sign.SignData{
		Signature: sign.SignDataSignature{
			CertType:   certType,
			DocMDPPerm: docMDP,
			Info: sign.SignDataSignatureInfo{
				Name:        job.Signatory,
				Location:    job.Location,
				Reason:      job.Reason,
				ContactInfo: job.Contact,
				Date:        job.SigningTime,
			},
		},
		Signer:          signer,
		DigestAlgorithm: crypto.SHA256,
		Certificate:     job.Credential.Leaf,
	}
	if len(job.Credential.Chain) > 0 {
		chain := make([]*x509.Certificate, 0, len(job.Credential.Chain)+1)
		chain = append(chain, job.Credential.Leaf)
		chain = append(chain, job.Credential.Chain...)
		data.CertificateChains = [][]*x509.Certificate{chain}
	}
	if job.TimestampURL != "" {
		data.TSA = sign.TSA{URL: job.TimestampURL}
	}
	if job.Visible && len(job.Box) == 4 {
		data.Appearance = sign.Appearance{
			Visible:     true,
			Page:        uint32(job.Page + 1),
			LowerLeftX:  float64(min(job.Box[0], job.Box[2])),
			LowerLeftY:  float64(min(job.Box[1], job.Box[3])),
			UpperRightX: float64(max(job.Box[0], job.Box[2])),
			UpperRightY: float64(max(job.Box[1], job.Box[3])),
		}
	}

	var out bytes.Buffer
	if err := sign.Sign(bytes.NewReader(job.Document), &out, rdr, int64(len(job.Document)), data); err != nil {
		return nil, fmt.Errorf("signature construction failed: %w", err)
	}
	return out.Bytes(), nil
}

var _ Signer = (*PDFSigner)(nil)
