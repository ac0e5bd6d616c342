// Package probe checks that resolved MySQL connections accept logins.
package probe

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"time"

	"github.com/fgeck/cloud-dbops/internal/models"
	"github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"
)

const defaultPort = "3306"

// dialTimeout bounds the TCP connect of a single probe.
const dialTimeout = 10 * time.Second

// Service defines the interface for connection probes.
type Service interface {
	Ping(ctx context.Context, d models.ConnectionDescriptor) (*models.ProbeResult, error)
}

// Opener opens a database handle. It matches sql.Open.
type Opener func(driverName, dataSourceName string) (*sql.DB, error)

// Impl implements the probe Service interface.
type Impl struct {
	open   Opener
	logger zerolog.Logger
}

// New creates a new probe service using the MySQL driver.
func New(logger zerolog.Logger) *Impl {
	return &Impl{open: sql.Open, logger: logger}
}

// NewWithOpener creates a new probe service with a custom opener (for testing).
func NewWithOpener(logger zerolog.Logger, open Opener) *Impl {
	return &Impl{open: open, logger: logger}
}

// Ping connects to d and reads the server version. Connection failures are reported in
// the result.
func (s *Impl) Ping(ctx context.Context, d models.ConnectionDescriptor) (*models.ProbeResult, error) {
	result := &models.ProbeResult{Host: d.Host, DBName: d.DBName}
	if d.Host == "" {
		return nil, fmt.Errorf("host is required")
	}

	start := time.Now()
	db, err := s.open("mysql", DSN(d))
	if err != nil {
		return nil, fmt.Errorf("opening connection: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		result.Error = fmt.Errorf("ping %s: %w", d.Host, err)
		result.Latency = time.Since(start)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}

	if err := db.QueryRowContext(ctx, "SELECT VERSION()").Scan(&result.ServerVersion); err != nil {
		s.logger.Debug().Err(err).Str("host", d.Host).Msg("could not read server version")
	}
	result.Latency = time.Since(start)

	s.logger.Debug().
		Str("host", d.Host).
		Str("version", result.ServerVersion).
		Dur("latency", result.Latency).
		Msg("connection probe succeeded")

	return result, nil
}

// DSN returns the driver data source name for d.
func DSN(d models.ConnectionDescriptor) string {
	port := d.Port
	if port == "" {
		port = defaultPort
	}

	cfg := mysql.NewConfig()
	cfg.User = d.User
	cfg.Passwd = d.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(d.Host, port)
	cfg.DBName = d.DBName
	cfg.Timeout = dialTimeout
	return cfg.FormatDSN()
}
