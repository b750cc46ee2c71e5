package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config configures the output-directory size monitor.
type Config struct {
	// Dir is the directory being watched.
	Dir string

	// MaxBytes is the size ceiling. When the directory grows past it, every
	// file in it is removed.
	MaxBytes int64

	// Interval is how often the directory size is measured.
	Interval time.Duration
}

// DefaultConfig watches dir with a 100MB ceiling checked every 10 seconds.
func DefaultConfig(dir string) *Config {
	return &Config{
		Dir:      dir,
		MaxBytes: 100 * 1024 * 1024,
		Interval: 10 * time.Second,
	}
}

// Monitor keeps the signed-document directory from growing without bound.
// Signed documents are retrievable until the ceiling is hit, after which the
// directory is emptied in one sweep.
type Monitor struct {
	cfg *Config

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewMonitor(cfg *Config) (*Monitor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage monitor config is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Monitor{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Start launches the background sweep loop.
func (m *Monitor) Start(ctx context.Context) {
	m.startOnce.Do(func() {
		go m.loop(ctx)
		log.Info().
			Str("dir", m.cfg.Dir).
			Int64("max_bytes", m.cfg.MaxBytes).
			Msg("Storage monitor started")
	})
}

// Stop halts the sweep loop.
func (m *Monitor) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopCh) })

	select {
	case <-m.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("storage monitor stop: %w", ctx.Err())
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep()
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep measures the directory and empties it if over the ceiling.
func (m *Monitor) Sweep() {
	size, err := dirSize(m.cfg.Dir)
	if err != nil {
		log.Error().Err(err).Str("dir", m.cfg.Dir).Msg("Failed to measure directory")
		return
	}
	if size <= m.cfg.MaxBytes {
		return
	}

	log.Warn().
		Str("dir", m.cfg.Dir).
		Int64("size", size).
		Int64("max_bytes", m.cfg.MaxBytes).
		Msg("Size ceiling exceeded, emptying directory")

	if err := removeFiles(m.cfg.Dir); err != nil {
		log.Error().Err(err).Str("dir", m.cfg.Dir).Msg("Failed to empty directory")
	}
}

func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func removeFiles(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		return os.Remove(path)
	})
}
