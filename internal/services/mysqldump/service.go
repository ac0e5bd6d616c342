// Package mysqldump builds and runs the compressed mysqldump pipeline for one database.
package mysqldump

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	"github.com/fgeck/cloud-dbops/internal/models"
	"github.com/rs/zerolog"
)

// DefaultTimeout is the ceiling for a single dump.
const DefaultTimeout = time.Hour

// DefinerFilter strips DEFINER clauses so dumps restore without the original definer's privileges.
const DefinerFilter = `sed -e 's/DEFINER[ ]*=[ ]*[^*]*\*/\*/'`

// killGrace is added to the context deadline so the external timeout fires first.
const killGrace = time.Minute

// ErrDumpFailed is wrapped by every failed dump.
var ErrDumpFailed = errors.New("mysqldump failed")

// Service defines the interface for dump operations.
type Service interface {
	Dump(ctx context.Context, job models.DumpJob) (*models.DumpResult, error)
}

// ShellExecutor runs a shell pipeline and reports its exit code.
type ShellExecutor interface {
	Execute(ctx context.Context, command string) (exitCode int, output []byte, err error)
}

// DefaultExecutor runs pipelines with bash and pipefail so a failing dump is not masked by gzip.
type DefaultExecutor struct{}

// Execute runs the command. err is only set when the shell could not be started.
func (e *DefaultExecutor) Execute(ctx context.Context, command string) (int, []byte, error) {
	cmd := exec.CommandContext(ctx, "bash", "-c", "set -o pipefail; "+command)
	output, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), output, nil
		}
		return -1, output, fmt.Errorf("running shell: %w", err)
	}
	return 0, output, nil
}

// Impl implements the dump Service interface.
type Impl struct {
	executor ShellExecutor
	logger   zerolog.Logger
}

// New creates a new dump service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: &DefaultExecutor{},
		logger:   logger,
	}
}

// NewWithExecutor creates a new dump service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor ShellExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Dump runs the pipeline for job. Pipeline failures are reported in the result and the
// partial artifact is removed; the returned error is reserved for invalid jobs.
func (s *Impl) Dump(ctx context.Context, job models.DumpJob) (*models.DumpResult, error) {
	if job.OutputPath == "" {
		return nil, errors.New("output path is required")
	}
	if job.Timeout <= 0 {
		job.Timeout = DefaultTimeout
	}

	s.logger.Info().
		Str("database", job.Database).
		Str("host", job.Connection.Host).
		Str("output", job.OutputPath).
		Bool("remove_definers", job.RemoveDefiners).
		Msg("starting DB dump")

	start := time.Now()
	result := &models.DumpResult{
		Database:   job.Database,
		OutputPath: job.OutputPath,
	}

	if err := os.MkdirAll(filepath.Dir(job.OutputPath), 0o750); err != nil {
		result.Error = fmt.Errorf("%w: creating output directory: %w", ErrDumpFailed, err)
		result.Duration = time.Since(start)
		return result, nil
	}

	runCtx, cancel := context.WithTimeout(ctx, job.Timeout+killGrace)
	defer cancel()

	exitCode, output, execErr := s.executor.Execute(runCtx, Command(job))
	result.ExitCode = exitCode
	result.Duration = time.Since(start)

	if execErr != nil || exitCode != 0 {
		if err := RemoveArtifact(job.OutputPath); err != nil {
			s.logger.Warn().Err(err).Str("output", job.OutputPath).Msg("failed to remove partial dump")
		}
		if execErr != nil {
			result.Error = fmt.Errorf("%w: %w", ErrDumpFailed, execErr)
		} else {
			result.Error = fmt.Errorf("%w: exit code %d: %s", ErrDumpFailed, exitCode, strings.TrimSpace(string(output)))
		}
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if info, err := os.Stat(job.OutputPath); err == nil {
		result.SizeBytes = info.Size()
	}

	s.logger.Info().
		Str("database", job.Database).
		Str("output", job.OutputPath).
		Int64("size_bytes", result.SizeBytes).
		Dur("duration", result.Duration).
		Msg("DB dump completed")

	return result, nil
}

// Command returns the shell pipeline for job. Every value taken from the connection or
// the output path is shell-quoted.
func Command(job models.DumpJob) string {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := job.Connection

	var b strings.Builder
	fmt.Fprintf(&b, "timeout %d mysqldump -h %s -u %s",
		timeoutSeconds(timeout), shellescape.Quote(d.Host), shellescape.Quote(d.User))
	if d.Port != "" {
		b.WriteString(" -P " + shellescape.Quote(d.Port))
	}
	if d.Password != "" {
		b.WriteString(" -p" + shellescape.Quote(d.Password))
	}
	b.WriteString(" " + shellescape.Quote(d.DBName) + " --single-transaction --no-autocommit --quick")
	if job.RemoveDefiners {
		b.WriteString(" | " + DefinerFilter)
	}
	b.WriteString(" | gzip > " + shellescape.Quote(job.OutputPath))
	return b.String()
}

// timeoutSeconds rounds up to whole seconds. `timeout 0` would disable the limit.
func timeoutSeconds(d time.Duration) int64 {
	secs := int64((d + time.Second - 1) / time.Second)
	return max(secs, 1)
}

// OutputFilename returns the artifact name for a database dumped at t.
func OutputFilename(database string, t time.Time) string {
	return fmt.Sprintf("dump-%s-%d.sql.gz", database, t.Unix())
}

// maxReserveAttempts bounds the suffixes tried by ReserveOutput.
const maxReserveAttempts = 100

// ReserveOutput creates an empty artifact in dir for a database dumped at t and returns
// its path. When the name is taken a numeric suffix is added, so an existing artifact is
// never reused or overwritten.
func ReserveOutput(dir, database string, t time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating output directory: %w", err)
	}
	name := OutputFilename(database, t)
	for i := 0; i < maxReserveAttempts; i++ {
		if i > 0 {
			name = fmt.Sprintf("dump-%s-%d-%d.sql.gz", database, t.Unix(), i)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("reserving %s: %w", path, err)
		}
		return path, f.Close()
	}
	return "", fmt.Errorf("no free artifact name for %s in %s", database, dir)
}

// RemoveArtifact deletes a dump artifact, ignoring a missing file.
func RemoveArtifact(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
