package ledger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog/log"

	"github.com/managex/signer/internal/telemetry"
)

// rotateLocked compresses the current log into the archive directory and
// resets the live file to an empty array. Must be called with l.mu held.
func (l *Ledger) rotateLocked() error {
	if l.cfg.ArchiveDir == "" {
		return nil
	}
	if err := os.MkdirAll(l.cfg.ArchiveDir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	src, err := os.Open(l.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer src.Close()

	srcInfo, err := src.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat ledger: %w", err)
	}

	archivePath := filepath.Join(l.cfg.ArchiveDir,
		fmt.Sprintf("ledger-%s.json.zst", time.Now().UTC().Format("20060102T150405")))

	dst, err := os.Create(archivePath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer dst.Close()

	enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("failed to create encoder: %w", err)
	}

	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		os.Remove(archivePath)
		return fmt.Errorf("failed to compress ledger: %w", err)
	}
	if err := enc.Close(); err != nil {
		os.Remove(archivePath)
		return fmt.Errorf("failed to close encoder: %w", err)
	}
	if err := dst.Sync(); err != nil {
		os.Remove(archivePath)
		return fmt.Errorf("failed to fsync archive: %w", err)
	}

	if err := writeAndSync(l.cfg.Path, []byte("[]")); err != nil {
		return fmt.Errorf("failed to reset ledger after rotation: %w", err)
	}

	telemetry.GetMetrics().LedgerRotationsTotal.Add(context.Background(), 1)
	log.Info().
		Str("archive_path", archivePath).
		Int64("original_bytes", srcInfo.Size()).
		Msg("Ledger rotated")

	return nil
}

// CleanupArchive removes rotated ledger archives older than the retention
// period.
func CleanupArchive(archiveDir string, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	if _, err := os.Stat(archiveDir); os.IsNotExist(err) {
		return nil
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	dirEntries, err := os.ReadDir(archiveDir)
	if err != nil {
		return fmt.Errorf("failed to read archive directory: %w", err)
	}

	deleted := 0
	for _, entry := range dirEntries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".zst" {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(archiveDir, entry.Name())); err != nil {
				log.Warn().Err(err).Str("file", entry.Name()).Msg("Failed to delete old ledger archive")
				continue
			}
			deleted++
		}
	}

	if deleted > 0 {
		log.Info().
			Str("archive_dir", archiveDir).
			Int("deleted_files", deleted).
			Msg("Ledger archive cleanup completed")
	}
	return nil
}
