// Package archive keeps a copy of each run's raw analyzer output outside
// the database.
package archive

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/reviewoor/pkg/config"
)

// ErrNotFound is returned by Fetch when no object exists for a run.
var ErrNotFound = errors.New("archive object not found")

const objectName = "analyzer.json.gz"

// Archiver stores and retrieves gzipped analyzer output by run id.
type Archiver interface {
	Preflight(ctx context.Context) error
	Put(ctx context.Context, runID uint, data []byte) error
	Fetch(ctx context.Context, runID uint) ([]byte, error)
}

// New returns the configured archiver, or a no-op archiver when no backend
// is enabled.
func New(log logrus.FieldLogger, cfg *config.ArchiveConfig) (Archiver, error) {
	switch {
	case cfg.S3 != nil && cfg.S3.Enabled:
		return NewS3Archiver(log, cfg.S3), nil
	case cfg.Local != nil && cfg.Local.Enabled:
		return NewLocalArchiver(log, cfg.Local.Dir)
	default:
		return Noop{}, nil
	}
}

// ObjectKey returns the key of a run's archived output below prefix.
func ObjectKey(prefix string, runID uint) string {
	key := fmt.Sprintf("runs/%d/%s", runID, objectName)

	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}

	return prefix + "/" + key
}

// Noop discards everything.
type Noop struct{}

// Compile-time interface check.
var _ Archiver = Noop{}

func (Noop) Preflight(context.Context) error { return nil }

func (Noop) Put(context.Context, uint, []byte) error { return nil }

func (Noop) Fetch(context.Context, uint) ([]byte, error) { return nil, ErrNotFound }
