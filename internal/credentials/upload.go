package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"software.sslmate.com/src/go-pkcs12"
)

var pfxName = regexp.MustCompile(`^[^,]+\.(pfx|PFX)$`)

// Registrar accepts uploaded credential bundles, verifies them against the
// supplied passphrase and persists both the bundle file and its
// registration record.
type Registrar struct {
	store     *FileStore
	bundleDir string
}

// NewRegistrar creates the bundle directory if needed.
func NewRegistrar(store *FileStore, bundleDir string) (*Registrar, error) {
	if err := os.MkdirAll(bundleDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create bundle directory: %w", err)
	}
	return &Registrar{store: store, bundleDir: bundleDir}, nil
}

// Register validates the uploaded bundle, writes it to the bundle directory
// and records the serial-to-bundle mapping. The returned registration
// carries the derived serial.
func (r *Registrar) Register(filename string, data []byte, passphrase string) (*Registration, error) {
	filename = filepath.Base(filename)
	if !pfxName.MatchString(filename) {
		return nil, fmt.Errorf("not a proper pfx file with .pfx or .PFX extension")
	}

	// Decode before persisting anything so a wrong passphrase leaves no
	// trace on disk.
	_, leaf, _, err := pkcs12.DecodeChain(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("invalid PIN, could not load the PFX file: %w", err)
	}
	if leaf == nil {
		return nil, fmt.Errorf("PFX bundle contains no certificate")
	}

	bundlePath := filepath.Join(r.bundleDir, filename)
	if err := os.WriteFile(bundlePath, data, 0o600); err != nil {
		return nil, fmt.Errorf("failed to save bundle: %w", err)
	}

	reg := &Registration{
		SerialNumber: SerialHex(leaf.SerialNumber),
		BundlePath:   bundlePath,
		Passphrase:   passphrase,
	}
	if err := r.store.Save(reg); err != nil {
		return nil, err
	}

	log.Info().
		Str("serial", reg.SerialNumber).
		Str("file", strings.TrimSuffix(filename, filepath.Ext(filename))).
		Msg("Credential bundle registered")
	return reg, nil
}
