package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// localArchiver writes objects below a directory.
type localArchiver struct {
	log logrus.FieldLogger
	dir string
}

// Compile-time interface check.
var _ Archiver = (*localArchiver)(nil)

// NewLocalArchiver creates an archiver rooted at dir.
func NewLocalArchiver(log logrus.FieldLogger, dir string) (Archiver, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving archive dir: %w", err)
	}

	return &localArchiver{
		log: log.WithField("component", "local-archive"),
		dir: abs,
	}, nil
}

func (a *localArchiver) Preflight(_ context.Context) error {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return fmt.Errorf("creating archive dir: %w", err)
	}

	probe, err := os.CreateTemp(a.dir, ".write-test-*")
	if err != nil {
		return fmt.Errorf("archive dir %s is not writable: %w", a.dir, err)
	}

	name := probe.Name()
	_ = probe.Close()

	return os.Remove(name)
}

func (a *localArchiver) Put(_ context.Context, runID uint, data []byte) error {
	path := filepath.Join(a.dir, filepath.FromSlash(ObjectKey("", runID)))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating run dir: %w", err)
	}

	// Write then rename so readers never see a partial object.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}

	a.log.WithFields(logrus.Fields{
		"run_id": runID,
		"path":   path,
	}).Debug("Archived analyzer output")

	return nil
}

func (a *localArchiver) Fetch(_ context.Context, runID uint) ([]byte, error) {
	path := filepath.Join(a.dir, filepath.FromSlash(ObjectKey("", runID)))

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("fetching run %d: %w", runID, ErrNotFound)
		}

		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return data, nil
}
