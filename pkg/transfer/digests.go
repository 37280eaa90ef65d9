package transfer

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Manifest file names written next to a snapshot's data directory.
const (
	ManifestMD5File    = "manifest-md5.txt"
	ManifestSHA256File = "manifest-sha256.txt"
)

// digestLog appends per-item digests to the two manifest files and collects
// content properties. Buffered lines are made durable every interval items.
type digestLog struct {
	mu       sync.Mutex
	dir      string
	interval int
	pending  int

	md5File *os.File
	shaFile *os.File
	md5     *bufio.Writer
	sha     *bufio.Writer

	props map[string]ContentProperties
}

func openDigestLog(dir string, interval int) (*digestLog, error) {
	if interval <= 0 {
		interval = 1
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create manifest dir: %w", err)
	}
	md5File, err := os.Create(filepath.Join(dir, ManifestMD5File))
	if err != nil {
		return nil, fmt.Errorf("create md5 manifest: %w", err)
	}
	shaFile, err := os.Create(filepath.Join(dir, ManifestSHA256File))
	if err != nil {
		_ = md5File.Close()
		return nil, fmt.Errorf("create sha256 manifest: %w", err)
	}
	return &digestLog{
		dir:      dir,
		interval: interval,
		md5File:  md5File,
		shaFile:  shaFile,
		md5:      bufio.NewWriter(md5File),
		sha:      bufio.NewWriter(shaFile),
		props:    map[string]ContentProperties{},
	}, nil
}

func (d *digestLog) add(key, md5Hex, sha256Hex string, props ContentProperties) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, err := fmt.Fprintf(d.md5, "%s  %s\n", md5Hex, key); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(d.sha, "%s  %s\n", sha256Hex, key); err != nil {
		return err
	}
	d.props[key] = props

	d.pending++
	if d.pending >= d.interval {
		return d.commitLocked()
	}
	return nil
}

func (d *digestLog) commitLocked() error {
	d.pending = 0
	if err := d.md5.Flush(); err != nil {
		return err
	}
	if err := d.sha.Flush(); err != nil {
		return err
	}
	if err := d.md5File.Sync(); err != nil {
		return err
	}
	return d.shaFile.Sync()
}

// close commits outstanding lines and writes content-properties.json.
func (d *digestLog) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	commitErr := d.commitLocked()
	md5Err := d.md5File.Close()
	shaErr := d.shaFile.Close()
	for _, err := range []error{commitErr, md5Err, shaErr} {
		if err != nil {
			return err
		}
	}
	return writeJSONAtomic(filepath.Join(d.dir, ContentPropertiesFile), d.props)
}
