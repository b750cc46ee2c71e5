package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Registration maps a certificate serial to the credential bundle that
// produced it. One record is persisted per serial; the signing pipeline
// looks these up on every request.
type Registration struct {
	SerialNumber string `yaml:"serial_number"`
	BundlePath   string `yaml:"bundle_path"`
	Passphrase   string `yaml:"passphrase"`
}

// FileStore persists registrations as one YAML file per serial under a
// single directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the store directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create registration store: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Save writes the registration record, replacing any previous record for
// the same serial.
func (s *FileStore) Save(reg *Registration) error {
	serial := normalizeSerial(reg.SerialNumber)
	if serial == "" {
		return fmt.Errorf("registration has no serial number")
	}

	data, err := yaml.Marshal(reg)
	if err != nil {
		return fmt.Errorf("failed to encode registration: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.WriteFile(s.path(serial), data, 0o600); err != nil {
		return fmt.Errorf("failed to write registration: %w", err)
	}

	log.Info().Str("serial", serial).Str("bundle", reg.BundlePath).Msg("Credential registration saved")
	return nil
}

// Lookup resolves a serial to its bundle path and passphrase. The error
// distinguishes "not registered" from read failures only in its message;
// callers treat both as a missing credential.
func (s *FileStore) Lookup(serial string) (string, string, error) {
	serial = normalizeSerial(serial)

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(serial))
	if err != nil {
		return "", "", fmt.Errorf("serial %q not registered: %w", serial, err)
	}

	var reg Registration
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return "", "", fmt.Errorf("corrupt registration for serial %q: %w", serial, err)
	}
	return reg.BundlePath, reg.Passphrase, nil
}

func (s *FileStore) path(serial string) string {
	return filepath.Join(s.dir, serial+".yaml")
}

func normalizeSerial(serial string) string {
	return strings.ToLower(strings.TrimSpace(serial))
}
