// Package verify checks that a dump artifact is a complete, non-empty gzip stream.
package verify

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fgeck/cloud-dbops/internal/models"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
)

// ErrEmptyDump is returned when the artifact decompresses to nothing.
var ErrEmptyDump = errors.New("dump is empty")

// Service defines the interface for artifact verification.
type Service interface {
	Verify(path string) (*models.VerifyResult, error)
}

// Impl implements the verify Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new verify service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// Verify streams the artifact through a gzip reader. Corruption and empty content are
// reported in the result; a missing file is returned as an error.
func (s *Impl) Verify(path string) (*models.VerifyResult, error) {
	f, err := os.Open(path) //nolint:gosec // path is produced by the dump service
	if err != nil {
		return nil, fmt.Errorf("opening artifact: %w", err)
	}
	defer func() { _ = f.Close() }()

	result := &models.VerifyResult{Path: path}
	if info, err := f.Stat(); err == nil {
		result.CompressedSize = info.Size()
	}

	zr, err := gzip.NewReader(f)
	if err != nil {
		result.Error = fmt.Errorf("reading gzip header: %w", err)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}
	defer func() { _ = zr.Close() }()

	n, err := io.Copy(io.Discard, zr)
	result.UncompressedSize = n
	if err != nil {
		result.Error = fmt.Errorf("decompressing artifact: %w", err)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}
	if n == 0 {
		result.Error = ErrEmptyDump
		return result, nil
	}

	s.logger.Debug().
		Str("output", path).
		Int64("compressed", result.CompressedSize).
		Int64("uncompressed", n).
		Msg("dump verified")

	return result, nil
}
