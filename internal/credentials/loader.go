package credentials

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"math/big"
	"os"

	"software.sslmate.com/src/go-pkcs12"
)

// Bundle is a decoded credential: the private key, its leaf certificate and
// any chain certificates. Bundles are loaded fresh per signing operation
// and never cached; the passphrase is sensitive and the file may change
// between requests.
type Bundle struct {
	PrivateKey crypto.PrivateKey
	Leaf       *x509.Certificate
	Chain      []*x509.Certificate
}

// LoadBundle reads and decrypts a PKCS#12 bundle.
func LoadBundle(path, passphrase string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("no such PFX found, please upload with /upload: %w", err)
	}

	key, leaf, chain, err := pkcs12.DecodeChain(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("invalid password for the PFX file: %w", err)
	}
	if leaf == nil {
		return nil, fmt.Errorf("PFX bundle contains no certificate")
	}

	return &Bundle{PrivateKey: key, Leaf: leaf, Chain: chain}, nil
}

// SerialHex renders a certificate serial number as lowercase hex, the form
// used as the registration key.
func SerialHex(serial *big.Int) string {
	return serial.Text(16)
}
