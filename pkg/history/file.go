package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/3leaps/snapbridge/pkg/job"
)

const runFileName = "run.json"

// FileHistory stores one JSON file per run.
//
// Directory layout:
//
//	<root>/<kind>/<key>/<run_id>/run.json
//
// The per-run directory is shared with the run's item event log.
type FileHistory struct {
	root string

	// mu serializes writers; readers tolerate concurrent renames.
	mu sync.Mutex
}

// NewFileHistory returns a history rooted at root, creating it if needed.
func NewFileHistory(root string) (*FileHistory, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("history root dir is empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create history root: %w", err)
	}
	return &FileHistory{root: root}, nil
}

// RootDir returns the history root directory.
func (h *FileHistory) RootDir() string {
	return h.root
}

// RunDir returns the directory holding a run's files.
func (h *FileHistory) RunDir(kind job.Kind, key, runID string) string {
	return filepath.Join(h.root, string(kind), key, runID)
}

func (h *FileHistory) RecordRun(ctx context.Context, run *Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := run.validate(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	dir := h.RunDir(run.Kind, run.Key, run.RunID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	b, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	b = append(b, '\n')

	tmp, err := os.CreateTemp(dir, runFileName+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp run file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp run file: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, runFileName)); err != nil {
		return fmt.Errorf("rename run file: %w", err)
	}
	return nil
}

func (h *FileHistory) LastRun(ctx context.Context, kind job.Kind, key string) (*Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runs, err := h.readRuns(filepath.Join(h.root, string(kind), key))
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	sortRuns(runs)
	return &runs[0], nil
}

func (h *FileHistory) ListRuns(ctx context.Context, kind job.Kind, start, size int) ([]Run, error) {
	if err := checkPage(start, size); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	kindDir := filepath.Join(h.root, string(kind))
	entries, err := os.ReadDir(kindDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history dir: %w", err)
	}

	var all []Run
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runs, err := h.readRuns(filepath.Join(kindDir, entry.Name()))
		if err != nil {
			return nil, err
		}
		all = append(all, runs...)
	}
	sortRuns(all)
	return page(all, start, size), nil
}

func (h *FileHistory) Close() error { return nil }

// readRuns loads every readable run record below a job directory.
func (h *FileHistory) readRuns(jobDir string) ([]Run, error) {
	entries, err := os.ReadDir(jobDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read job dir: %w", err)
	}

	out := make([]Run, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		b, err := os.ReadFile(filepath.Join(jobDir, entry.Name(), runFileName))
		if err != nil {
			// Run dirs may exist before their record, e.g. item logs.
			continue
		}
		var run Run
		if err := json.Unmarshal(b, &run); err != nil {
			continue
		}
		out = append(out, run)
	}
	return out, nil
}
