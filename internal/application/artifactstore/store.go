// Package artifactstore owns the local directory of downloaded render
// outputs. Files are stored under short content-neutral names and never
// overwritten; deletion happens only through explicit admin calls or the
// age sweep.
package artifactstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/renderfleet/orchestrator/internal/infrastructure/logger"
)

// Store manages one artifact directory.
type Store struct {
	dir string
	log *logger.Logger
}

// SavedFile describes one stored artifact file.
type SavedFile struct {
	LocalFilename string
	LocalPath     string
	Size          int64
}

// New creates the store, creating the directory when missing.
func New(dir string, log *logger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Store{dir: dir, log: log}, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// Save writes bytes under a fresh unique local name derived from a random
// id plus the original extension. The write is atomic: a temp file is
// renamed into place.
func (s *Store) Save(data []byte, originalFilename string) (*SavedFile, error) {
	ext := filepath.Ext(originalFilename)

	var localName string
	var path string
	for {
		localName = uuid.NewString()[:8] + ext
		path = filepath.Join(s.dir, localName)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		// Name collision: draw again.
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("finalize artifact: %w", err)
	}

	s.log.Debug("artifact stored", "local_filename", localName, "size", len(data))
	return &SavedFile{
		LocalFilename: localName,
		LocalPath:     path,
		Size:          int64(len(data)),
	}, nil
}

// Serve reads a stored file's bytes by local filename.
func (s *Store) Serve(localFilename string) ([]byte, error) {
	path, err := s.resolve(localFilename)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Path resolves a local filename to its absolute path, or an error when
// the file does not exist.
func (s *Store) Path(localFilename string) (string, error) {
	path, err := s.resolve(localFilename)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", err
	}
	return path, nil
}

// Delete removes a stored file. Returns false when the file was absent.
func (s *Store) Delete(localFilename string) (bool, error) {
	path, err := s.resolve(localFilename)
	if err != nil {
		return false, err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Sweep removes files whose mtime is older than the cutoff. isReferenced
// guards files still referenced by live metadata rows; a lookup error
// skips the file rather than risking a premature delete.
func (s *Store) Sweep(olderThan time.Time, isReferenced func(localFilename string) (bool, error)) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read artifact dir: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".tmp-") {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(olderThan) {
			continue
		}

		if isReferenced != nil {
			ref, err := isReferenced(entry.Name())
			if err != nil {
				s.log.Warn("sweep: reference lookup failed, keeping file",
					"local_filename", entry.Name(), "error", err)
				continue
			}
			if ref {
				continue
			}
		}

		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			s.log.Warn("sweep: remove failed", "local_filename", entry.Name(), "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		s.log.Info("artifact sweep complete", "removed", removed, "cutoff", olderThan)
	}
	return removed, nil
}

// resolve rejects names that escape the store directory.
func (s *Store) resolve(localFilename string) (string, error) {
	if localFilename == "" || strings.ContainsAny(localFilename, "/\\") || localFilename == ".." {
		return "", fmt.Errorf("invalid local filename %q", localFilename)
	}
	return filepath.Join(s.dir, localFilename), nil
}
