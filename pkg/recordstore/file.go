package recordstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	stateFileName = "state.json"
	nextIDFile    = "next-id"
)

// FileStore keeps records as JSON files.
//
// Directory layout:
//
//	<root>/restorations/<id>/state.json
//	<root>/restorations/by-hash/<request_hash>   (contains the id)
//	<root>/restorations/next-id
//	<root>/snapshots/<name>.json
//
// Writes are atomic (temp file plus rename). A single process owns the root.
type FileStore struct {
	root string
	mu   sync.Mutex
	now  func() time.Time
}

// NewFileStore returns a store rooted at root, creating it if needed.
func NewFileStore(root string) (*FileStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("record store root dir is empty")
	}
	for _, dir := range []string{
		filepath.Join(root, "restorations", "by-hash"),
		filepath.Join(root, "snapshots"),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create record store dir: %w", err)
		}
	}
	return &FileStore{root: root, now: time.Now}, nil
}

func (s *FileStore) restorationPath(id int64) string {
	return filepath.Join(s.root, "restorations", strconv.FormatInt(id, 10), stateFileName)
}

func (s *FileStore) hashPath(hash string) string {
	return filepath.Join(s.root, "restorations", "by-hash", hash)
}

func (s *FileStore) snapshotPath(name string) string {
	return filepath.Join(s.root, "snapshots", name+".json")
}

func (s *FileStore) GetRestoration(ctx context.Context, id int64) (*Restoration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readRestoration(id)
}

func (s *FileStore) FindRestorationByRequestHash(ctx context.Context, hash string) (*Restoration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validHash(hash) {
		return nil, ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.readHashIndex(hash)
	if err != nil {
		return nil, err
	}
	return s.readRestoration(id)
}

func (s *FileStore) CreateRestoration(ctx context.Context, r *Restoration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.validateNew(); err != nil {
		return err
	}
	if !validHash(r.RequestHash) {
		return fmt.Errorf("request hash %q is not a hex digest", r.RequestHash)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.readHashIndex(r.RequestHash); err == nil {
		return ErrDuplicate
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	id, err := s.allocateID()
	if err != nil {
		return err
	}

	now := s.now().UTC()
	rec := *r
	rec.ID = id
	rec.Version = 1
	rec.SchemaVersion = SchemaVersion
	rec.CreatedAt = now
	rec.UpdatedAt = now

	if err := s.writeRestoration(&rec); err != nil {
		return err
	}
	if err := writeFileAtomic(s.hashPath(rec.RequestHash), []byte(strconv.FormatInt(id, 10)+"\n")); err != nil {
		return fmt.Errorf("write request hash index: %w", err)
	}
	*r = rec
	return nil
}

func (s *FileStore) UpdateRestoration(ctx context.Context, r *Restoration, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r == nil {
		return errors.New("restoration is nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readRestoration(r.ID)
	if err != nil {
		return err
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("%w: restoration %d is at version %d, expected %d", ErrVersionConflict, r.ID, current.Version, expectedVersion)
	}

	rec := *r
	rec.Version = expectedVersion + 1
	rec.SchemaVersion = SchemaVersion
	rec.RequestHash = current.RequestHash
	rec.CreatedAt = current.CreatedAt
	rec.UpdatedAt = s.now().UTC()
	if err := s.writeRestoration(&rec); err != nil {
		return err
	}
	*r = rec
	return nil
}

func (s *FileStore) ListRestorations(ctx context.Context) ([]Restoration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(filepath.Join(s.root, "restorations"))
	if err != nil {
		return nil, fmt.Errorf("read restorations dir: %w", err)
	}

	var out []Restoration
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, err := strconv.ParseInt(entry.Name(), 10, 64)
		if err != nil {
			continue
		}
		r, err := s.readRestoration(id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *FileStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap == nil || strings.TrimSpace(snap.Name) == "" {
		return errors.New("snapshot name is required")
	}
	if strings.ContainsAny(snap.Name, `/\`) {
		return fmt.Errorf("snapshot name %q is not a valid path segment", snap.Name)
	}

	rec := *snap
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSONFile(s.snapshotPath(rec.Name), &rec); err != nil {
		return fmt.Errorf("write snapshot record: %w", err)
	}
	*snap = rec
	return nil
}

func (s *FileStore) GetSnapshot(ctx context.Context, name string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, `/\`) {
		return nil, ErrNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.snapshotPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read snapshot record: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot record: %w", err)
	}
	return &snap, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) readRestoration(id int64) (*Restoration, error) {
	b, err := os.ReadFile(s.restorationPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read restoration %d: %w", id, err)
	}
	var r Restoration
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, fmt.Errorf("parse restoration %d: %w", id, err)
	}
	if r.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("restoration %d has unsupported schema_version %d", id, r.SchemaVersion)
	}
	return &r, nil
}

func (s *FileStore) writeRestoration(r *Restoration) error {
	path := s.restorationPath(r.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create restoration dir: %w", err)
	}
	if err := writeJSONFile(path, r); err != nil {
		return fmt.Errorf("write restoration %d: %w", r.ID, err)
	}
	return nil
}

func (s *FileStore) readHashIndex(hash string) (int64, error) {
	b, err := os.ReadFile(s.hashPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("read request hash index: %w", err)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse request hash index: %w", err)
	}
	return id, nil
}

// allocateID returns the next restoration id. Callers hold s.mu.
func (s *FileStore) allocateID() (int64, error) {
	path := filepath.Join(s.root, "restorations", nextIDFile)
	next := int64(1)
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		next, err = strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", nextIDFile, err)
		}
	case !os.IsNotExist(err):
		return 0, fmt.Errorf("read %s: %w", nextIDFile, err)
	}
	if err := writeFileAtomic(path, []byte(strconv.FormatInt(next+1, 10)+"\n")); err != nil {
		return 0, fmt.Errorf("write %s: %w", nextIDFile, err)
	}
	return next, nil
}

func validHash(hash string) bool {
	if hash == "" {
		return false
	}
	for _, c := range hash {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func writeJSONFile(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, append(b, '\n'))
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmpName, path)
}
