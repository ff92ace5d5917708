package storage

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// writeFileAtomic replaces path with the output of write. The data is
// fsynced to a temp file in the same directory and renamed over path, so a
// crash leaves either the old or the new file, never a mix.
func writeFileAtomic(path string, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	bw := bufio.NewWriter(tmp)
	if err = write(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return syncDir(dir)
}

// syncDir makes a rename in dir durable
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open directory %s: %w", dir, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync directory %s: %w", dir, err)
	}
	return nil
}

// quarantine moves a corrupt store file aside so a fresh start never
// overwrites it. Returns the new location, or "" if the move failed.
func quarantine(path string, at time.Time, logger zerolog.Logger) string {
	dest := fmt.Sprintf("%s.corrupt-%s", path, at.UTC().Format("20060102T150405.000000Z"))
	if err := os.Rename(path, dest); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("Failed to move corrupt progress store aside")
		return ""
	}
	logger.Warn().Str("path", path).Str("moved_to", dest).Msg("Moved corrupt progress store aside")
	return dest
}

// ensureDir creates the parent directory of path
func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
