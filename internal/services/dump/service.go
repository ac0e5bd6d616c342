// Package dump orchestrates a locked batch of database dumps.
package dump

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fgeck/cloud-dbops/internal/merge"
	"github.com/fgeck/cloud-dbops/internal/models"
	"github.com/fgeck/cloud-dbops/internal/relationships"
	"github.com/fgeck/cloud-dbops/internal/services/lock"
	"github.com/fgeck/cloud-dbops/internal/services/mysqldump"
	"github.com/fgeck/cloud-dbops/internal/services/telegram"
	"github.com/fgeck/cloud-dbops/internal/services/verify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// auditTimeFormat is the timestamp layout of lock file audit lines.
const auditTimeFormat = "2006-01-02 15:04:05"

// Errors returned by Run.
var (
	ErrLockAcquisition = errors.New("lock acquisition failed")
	ErrUnknownDatabase = errors.New("unknown database")
)

// Service defines the interface for the dump orchestrator.
type Service interface {
	Run(ctx context.Context, req models.DumpRequest) (*models.DumpRunResult, error)
}

// ConnectionSource returns the persisted db section. It selects the databases dumped
// when none are requested.
type ConnectionSource interface {
	DB() (map[string]any, error)
}

// Settings holds the orchestrator's tunables.
type Settings struct {
	TempDir   string
	Timeout   time.Duration
	LockFatal bool
	Verify    bool
	Host      string                 // reported in notifications
	Telegram  *models.TelegramConfig // nil disables notifications
}

// Impl implements the dump Service interface.
type Impl struct {
	resolver  relationships.Resolver
	persisted ConnectionSource
	dumper    mysqldump.Service
	guard     lock.Guard
	verifier  verify.Service
	notifier  telegram.Service
	settings  Settings
	logger    zerolog.Logger
	now       func() time.Time
	newRunID  func() string
}

// New creates a new dump orchestrator.
func New(
	logger zerolog.Logger,
	resolver relationships.Resolver,
	persisted ConnectionSource,
	guard lock.Guard,
	settings Settings,
) *Impl {
	return NewWithServices(logger, resolver, persisted, mysqldump.New(logger), guard,
		verify.New(logger), telegram.New(logger), settings)
}

// NewWithServices creates a new dump orchestrator with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	resolver relationships.Resolver,
	persisted ConnectionSource,
	dumper mysqldump.Service,
	guard lock.Guard,
	verifier verify.Service,
	notifier telegram.Service,
	settings Settings,
) *Impl {
	if settings.TempDir == "" {
		settings.TempDir = os.TempDir()
	}
	return &Impl{
		resolver:  resolver,
		persisted: persisted,
		dumper:    dumper,
		guard:     guard,
		verifier:  verifier,
		notifier:  notifier,
		settings:  settings,
		logger:    logger,
		now:       time.Now,
		newRunID:  uuid.NewString,
	}
}

// Run dumps the requested databases one after another while holding the run guard.
// A failed database is recorded in the result and the batch moves on; the returned
// error is reserved for invalid requests, a fatal lock failure and cancellation.
func (s *Impl) Run(ctx context.Context, req models.DumpRequest) (*models.DumpRunResult, error) {
	startTime := s.now()
	result := &models.DumpRunResult{RunID: s.newRunID()}
	logger := s.logger.With().Str("run_id", result.RunID).Logger()

	databases, err := s.databases(req.Databases)
	if err != nil {
		return result, err
	}
	if len(databases) == 0 {
		logger.Warn().Msg("no databases to dump")
		return result, nil
	}

	var failedStep string
	var runErr error
	defer func() {
		if s.settings.Telegram != nil && s.notifier != nil {
			s.sendNotification(ctx, logger, result, startTime, failedStep, runErr)
		}
	}()

	logger.Info().Str("lock", s.guard.Path()).Msg("waiting for lock on db dump")
	if err := s.guard.Lock(ctx); err != nil {
		failedStep = "lock"
		if errors.Is(err, lock.ErrOpen) && !s.settings.LockFatal {
			logger.Error().Err(err).Str("lock", s.guard.Path()).Msg("could not get the lock file, skipping dump")
			runErr = err
			return result, nil
		}
		runErr = fmt.Errorf("%w: %w", ErrLockAcquisition, err)
		return result, runErr
	}
	result.Locked = true
	defer func() {
		if err := s.guard.Unlock(); err != nil {
			logger.Error().Err(err).Str("lock", s.guard.Path()).Msg("failed to release lock")
		}
	}()

	for _, db := range databases {
		if err := ctx.Err(); err != nil {
			failedStep = "dump"
			runErr = fmt.Errorf("dump interrupted before %s: %w", db.Name, err)
			return result, runErr
		}
		res := s.dumpOne(ctx, logger, db, req.RemoveDefiners)
		result.Results = append(result.Results, res)
	}

	if failed := result.Failed(); len(failed) > 0 {
		logger.Error().
			Int("failed", len(failed)).
			Int("total", len(result.Results)).
			Msg("backup finished with errors")
	}

	return result, nil
}

func (s *Impl) dumpOne(ctx context.Context, logger zerolog.Logger, db models.DumpDatabase, removeDefiners bool) models.DumpResult {
	logger = logger.With().Str("database", db.Name).Logger()

	conn, key, ok := s.connection(db)
	if !ok {
		err := fmt.Errorf("%w: neither %q nor %q", relationships.ErrUnresolvableConnection, db.Replica, db.Fallback)
		logger.Error().Err(err).Msg("no connection for database")
		return models.DumpResult{Database: db.Name, Error: err}
	}

	logger.Info().Str("connection", key).Msg("start creation DB dump")

	outputPath, err := mysqldump.ReserveOutput(s.settings.TempDir, db.Name, s.now())
	if err != nil {
		err = fmt.Errorf("%w: %w", mysqldump.ErrDumpFailed, err)
		logger.Error().Err(err).Msg("error has occurred during mysqldump")
		return models.DumpResult{Database: db.Name, Error: err}
	}

	job := models.DumpJob{
		Database:       db.Name,
		Connection:     conn,
		RemoveDefiners: removeDefiners,
		OutputPath:     outputPath,
		LockPath:       s.guard.Path(),
		Timeout:        s.settings.Timeout,
	}

	res, err := s.dumper.Dump(ctx, job)
	if err != nil {
		if rmErr := mysqldump.RemoveArtifact(job.OutputPath); rmErr != nil {
			logger.Warn().Err(rmErr).Str("output", job.OutputPath).Msg("failed to remove partial dump")
		}
		logger.Error().Err(err).Msg("error has occurred during mysqldump")
		return models.DumpResult{Database: db.Name, OutputPath: job.OutputPath, Error: err}
	}
	if res.Error != nil {
		logger.Error().Err(res.Error).Int("exit_code", res.ExitCode).Msg("error has occurred during mysqldump")
		return *res
	}

	if s.settings.Verify && s.verifier != nil {
		if err := s.verifyArtifact(res.OutputPath); err != nil {
			if rmErr := mysqldump.RemoveArtifact(res.OutputPath); rmErr != nil {
				logger.Warn().Err(rmErr).Str("output", res.OutputPath).Msg("failed to remove invalid dump")
			}
			res.Error = fmt.Errorf("%w: %w", mysqldump.ErrDumpFailed, err)
			logger.Error().Err(res.Error).Str("output", res.OutputPath).Msg("dump verification failed")
			return *res
		}
	}

	line := fmt.Sprintf("[%s] Dump was written in %s", s.now().Format(auditTimeFormat), res.OutputPath)
	if err := s.guard.Annotate(line); err != nil {
		logger.Error().Err(err).Str("lock", s.guard.Path()).Msg("failed to write lock file audit line")
	}

	logger.Info().
		Str("output", res.OutputPath).
		Dur("duration", res.Duration).
		Msg("finished DB dump")

	return *res
}

func (s *Impl) sendNotification(
	ctx context.Context,
	logger zerolog.Logger,
	result *models.DumpRunResult,
	startTime time.Time,
	failedStep string,
	runErr error,
) {
	msg := models.DumpNotification{
		Success:    runErr == nil && result.Locked && len(result.Failed()) == 0,
		Host:       s.settings.Host,
		RunID:      result.RunID,
		StartTime:  startTime,
		Duration:   s.now().Sub(startTime),
		Results:    result.Results,
		FailedStep: failedStep,
	}
	if runErr != nil {
		msg.ErrorMessage = runErr.Error()
	}

	// The run context may already be cancelled; the notification still goes out.
	sendCtx := context.WithoutCancel(ctx)
	res, err := s.notifier.SendNotification(sendCtx, *s.settings.Telegram, msg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if res.Error != nil {
		logger.Error().Err(res.Error).Msg("failed to send Telegram notification")
	}
}

func (s *Impl) verifyArtifact(path string) error {
	vr, err := s.verifier.Verify(path)
	if err != nil {
		return err
	}
	return vr.Error
}

// connection picks the replica for db, falling back to the primary.
func (s *Impl) connection(db models.DumpDatabase) (models.ConnectionDescriptor, string, bool) {
	if d, ok := s.resolver.Lookup(db.Replica); ok {
		return d, db.Replica, true
	}
	if d, ok := s.resolver.Lookup(db.Fallback); ok {
		return d, db.Fallback, true
	}
	return models.ConnectionDescriptor{}, "", false
}

// databases validates and deduplicates the requested names, or derives them from the persisted
// connection map when none were requested.
func (s *Impl) databases(requested []string) ([]models.DumpDatabase, error) {
	if len(requested) > 0 {
		var (
			out     []models.DumpDatabase
			unknown []string
		)
		seen := map[string]bool{}
		for _, name := range requested {
			if seen[name] {
				continue
			}
			seen[name] = true
			db, ok := models.DumpDatabaseByName(name)
			if !ok {
				unknown = append(unknown, name)
				continue
			}
			out = append(out, db)
		}
		if len(unknown) > 0 {
			return nil, fmt.Errorf("%w: %s, available values: %s or empty",
				ErrUnknownDatabase, strings.Join(unknown, ","), strings.Join(models.DumpDatabaseNames(), ","))
		}
		return out, nil
	}

	dbSection, err := s.persisted.DB()
	if err != nil {
		return nil, fmt.Errorf("reading persisted configuration: %w", err)
	}
	connections, _ := merge.AsMap(dbSection[models.KeyConnection])

	var out []models.DumpDatabase
	for _, db := range models.DumpDatabases {
		if _, ok := connections[db.Slot]; ok {
			out = append(out, db)
		}
	}
	return out, nil
}
