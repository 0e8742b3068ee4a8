// Package flatfile persists the relay state in plain text files:
//   - a ledger file with one published URL per line, append-only
//   - a checkpoint file holding a single RFC 3339 timestamp, replaced atomically
package flatfile

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
	tmpExt   = ".tmp"
)

// Store keeps the ledger and the checkpoint in two files.
type Store struct {
	ledgerPath     string
	checkpointPath string
}

// New creates a Store and makes sure the parent directories exist.
func New(ledgerPath, checkpointPath string) (*Store, error) {
	for _, p := range []string{ledgerPath, checkpointPath} {
		if err := os.MkdirAll(filepath.Dir(p), dirPerm); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	return &Store{
		ledgerPath:     ledgerPath,
		checkpointPath: checkpointPath,
	}, nil
}

// LoadPublishedURLs reads every line of the ledger file.
func (s *Store) LoadPublishedURLs(_ context.Context) ([]string, error) {
	f, err := os.Open(s.ledgerPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("open ledger: %w", err)
	}

	defer func() {
		_ = f.Close()
	}()

	var urls []string

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			urls = append(urls, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}

	return urls, nil
}

// AppendPublishedURL appends url as one line and syncs it to disk.
func (s *Store) AppendPublishedURL(_ context.Context, url string) error {
	if strings.ContainsAny(url, "\r\n") {
		return fmt.Errorf("ledger entry contains a line break: %q", url)
	}

	f, err := os.OpenFile(s.ledgerPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("open ledger for append: %w", err)
	}

	if _, err := f.WriteString(url + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("append ledger: %w", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}

	return nil
}

// LoadCheckpoint reads the checkpoint file. A missing or empty file yields the
// zero time. Hand-edited values in any common date format are accepted.
func (s *Store) LoadCheckpoint(_ context.Context) (time.Time, error) {
	data, err := os.ReadFile(s.checkpointPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, nil
		}

		return time.Time{}, fmt.Errorf("read checkpoint: %w", err)
	}

	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return time.Time{}, nil
	}

	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}

	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse checkpoint %q: %w", raw, err)
	}

	return t.UTC(), nil
}

// SaveCheckpoint replaces the checkpoint file through a temp file and rename.
func (s *Store) SaveCheckpoint(_ context.Context, t time.Time) error {
	tmpPath := s.checkpointPath + tmpExt

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}

	if _, err := f.WriteString(t.UTC().Format(time.RFC3339Nano) + "\n"); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("write temp checkpoint: %w", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)

		return fmt.Errorf("sync temp checkpoint: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp checkpoint: %w", err)
	}

	if err := os.Rename(tmpPath, s.checkpointPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp checkpoint: %w", err)
	}

	if err := syncDir(filepath.Dir(s.checkpointPath)); err != nil {
		return fmt.Errorf("sync checkpoint directory: %w", err)
	}

	return nil
}

// syncDir flushes a directory entry so a completed rename survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}

	if err := d.Sync(); err != nil {
		_ = d.Close()
		return err
	}

	return d.Close()
}

// Ping checks that the state directory is still reachable.
func (s *Store) Ping(_ context.Context) error {
	if _, err := os.Stat(filepath.Dir(s.ledgerPath)); err != nil {
		return fmt.Errorf("stat state directory: %w", err)
	}

	return nil
}

// Close is a no-op; files are opened per operation.
func (s *Store) Close() {}
