package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/managex/signer/internal/telemetry"
)

// Entry statuses. An entry is written exactly once per transaction and never
// mutated afterwards.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Entry is one transaction outcome in the append-only log.
type Entry struct {
	TransactionID string          `json:"transaction_id"`
	Status        string          `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	Response      json.RawMessage `json:"response,omitempty"`
}

// Config configures the transaction ledger.
type Config struct {
	// Path is the JSON array log file.
	Path string

	// ArchiveDir receives compressed snapshots when the log is rotated.
	ArchiveDir string

	// MaxBytes rotates the log into ArchiveDir once the file grows past this
	// size. Zero disables rotation.
	MaxBytes int64

	// RetentionDays is how long rotated archives are kept.
	RetentionDays int

	// QueueSize is the capacity of the internal append queue.
	QueueSize int
}

// DefaultConfig returns sensible defaults rooted at dir.
func DefaultConfig(dir string) *Config {
	return &Config{
		Path:          filepath.Join(dir, "transaction_log.json"),
		ArchiveDir:    filepath.Join(dir, "archive"),
		MaxBytes:      64 * 1024 * 1024,
		RetentionDays: 30,
		QueueSize:     1024,
	}
}

type appendReq struct {
	entry Entry
	done  chan error
}

// Ledger is a durable append-only log of transaction outcomes. A single writer
// goroutine owns the file; every append rewrites the full JSON array and forces
// it to stable storage before the append is acknowledged.
type Ledger struct {
	cfg *Config

	mu    sync.Mutex // guards file reads against the writer's rewrite
	queue chan appendReq

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Open prepares the log file, running the crash-repair pass first, and returns
// a ledger ready to Start.
func Open(cfg *Config) (*Ledger, error) {
	if cfg == nil {
		return nil, fmt.Errorf("ledger config is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	entries, repaired, err := Repair(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to repair ledger: %w", err)
	}
	if repaired {
		telemetry.GetMetrics().LedgerRepairsTotal.Add(context.Background(), 1)
		log.Warn().
			Str("path", cfg.Path).
			Int("entries", len(entries)).
			Msg("Ledger file repaired after unclean shutdown")
	}

	return &Ledger{
		cfg:    cfg,
		queue:  make(chan appendReq, cfg.QueueSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start launches the single writer goroutine.
func (l *Ledger) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		go l.writeLoop(ctx)
		log.Info().Str("path", l.cfg.Path).Msg("Ledger writer started")
	})
}

// Stop drains queued appends and stops the writer.
func (l *Ledger) Stop(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stopCh) })

	select {
	case <-l.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("ledger stop: %w", ctx.Err())
	}
}

// Append enqueues an entry and blocks until the writer has persisted it to
// stable storage, or until ctx is done.
func (l *Ledger) Append(ctx context.Context, entry Entry) error {
	req := appendReq{entry: entry, done: make(chan error, 1)}

	select {
	case l.queue <- req:
	case <-l.stopCh:
		return fmt.Errorf("ledger is stopped")
	case <-ctx.Done():
		return fmt.Errorf("ledger append: %w", ctx.Err())
	}

	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("ledger append: %w", ctx.Err())
	}
}

// Read returns the full current log contents. Callers filter after the fact.
func (l *Ledger) Read() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse ledger: %w", err)
	}
	return entries, nil
}

// writeLoop consumes appends one at a time. Single-writer discipline makes the
// read-modify-write file update safe without file locking.
func (l *Ledger) writeLoop(ctx context.Context) {
	defer close(l.doneCh)

	for {
		select {
		case req := <-l.queue:
			req.done <- l.appendOne(req.entry)

		case <-l.stopCh:
			// Drain whatever is queued before exiting.
			for {
				select {
				case req := <-l.queue:
					req.done <- l.appendOne(req.entry)
				default:
					log.Info().Str("path", l.cfg.Path).Msg("Ledger writer stopped")
					return
				}
			}

		case <-ctx.Done():
			log.Info().Str("path", l.cfg.Path).Msg("Ledger writer context cancelled")
			return
		}
	}
}

// appendOne rewrites the whole file with the new entry and fsyncs it.
func (l *Ledger) appendOne(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()

	data, err := os.ReadFile(l.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse ledger: %w", err)
	}

	entries = append(entries, entry)

	out, err := json.MarshalIndent(entries, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode ledger: %w", err)
	}

	if err := writeAndSync(l.cfg.Path, out); err != nil {
		return err
	}

	telemetry.GetMetrics().LedgerAppendsTotal.Add(context.Background(), 1)
	log.Debug().
		Str("transaction_id", entry.TransactionID).
		Str("status", entry.Status).
		Dur("duration", time.Since(start)).
		Msg("Ledger entry appended")

	if l.cfg.MaxBytes > 0 && int64(len(out)) > l.cfg.MaxBytes {
		if err := l.rotateLocked(); err != nil {
			log.Error().Err(err).Str("path", l.cfg.Path).Msg("Failed to rotate ledger")
		}
	}

	return nil
}

func writeAndSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open ledger for write: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to fsync ledger: %w", err)
	}
	return f.Close()
}
