// Package tracker discovers export files and decides which need parsing.
package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"watchdata/internal/models"
)

// CandidateName is the only file name considered for import.
const CandidateName = "export.xml"

// FileInfo is the metadata used by the skip rule.
type FileInfo struct {
	Path  string
	Size  int64
	Mtime time.Time
}

// Tracker scans one exports root.
type Tracker struct {
	root string
}

// New creates a Tracker rooted at dir.
func New(root string) *Tracker {
	return &Tracker{root: root}
}

// Root returns the scanned directory.
func (t *Tracker) Root() string {
	return t.root
}

// Candidates lists every export.xml below the root in lexicographic order.
// A missing root yields no files.
func (t *Tracker) Candidates() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(t.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == t.root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if !d.IsDir() && d.Name() == CandidateName {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list exports in %s: %w", t.root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

// Stat returns size and mtime, truncated to the precision the store keeps.
func Stat(path string) (FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{
		Path:  path,
		Size:  fi.Size(),
		Mtime: fi.ModTime().UTC().Truncate(time.Microsecond),
	}, nil
}

// Hash returns the hex sha256 of the file contents.
func Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// NeedsProcessing reports whether a file must be reparsed. A file is skipped
// only when it was fully processed before and its size and mtime are unchanged.
func NeedsProcessing(prior *models.IngestFile, info FileInfo) bool {
	if prior == nil || prior.ProcessedAt == nil {
		return true
	}
	return prior.SizeBytes != info.Size || !prior.Mtime.Equal(info.Mtime)
}
