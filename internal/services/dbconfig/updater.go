package dbconfig

import (
	"fmt"

	"github.com/fgeck/cloud-dbops/internal/merge"
	"github.com/fgeck/cloud-dbops/internal/models"
	"github.com/fgeck/cloud-dbops/internal/relationships"
	"github.com/rs/zerolog"
)

// SectionWriter persists top-level sections of the deployment configuration.
type SectionWriter interface {
	UpdateSections(sections map[string]any) error
}

// Updater writes the resolved database and resource configuration.
type Updater struct {
	builder  Service
	writer   SectionWriter
	resolver relationships.Resolver
	stage    models.StageConfig
	logger   zerolog.Logger
}

// NewUpdater creates a new configuration update step.
func NewUpdater(
	logger zerolog.Logger,
	builder Service,
	writer SectionWriter,
	resolver relationships.Resolver,
	stage models.StageConfig,
) *Updater {
	return &Updater{
		builder:  builder,
		writer:   writer,
		resolver: resolver,
		stage:    stage,
		logger:   logger,
	}
}

// Execute builds the configuration and writes it. Nothing is written if building fails.
func (u *Updater) Execute() (*models.DBConfig, error) {
	cfg, err := u.builder.Get()
	if err != nil {
		return nil, err
	}

	u.logger.Info().Msg("updating database connection configuration")
	u.logSlaveConnections(cfg.DB)

	if err := u.writer.UpdateSections(map[string]any{
		models.KeyDB:       cfg.DB,
		models.KeyResource: cfg.Resource,
	}); err != nil {
		return nil, fmt.Errorf("writing configuration: %w", err)
	}
	return cfg, nil
}

func (u *Updater) logSlaveConnections(db map[string]any) {
	if !u.stage.UseSlaveConnection || merge.IsExplicit(u.stage.DatabaseConfiguration) {
		return
	}

	connections, _ := merge.AsMap(db[models.KeyConnection])
	for _, slot := range models.Slots {
		if _, ok := connections[slot.Name]; !ok {
			continue
		}
		if _, ok := u.resolver.Lookup(slot.Primary); !ok {
			continue
		}

		switch {
		case !u.builder.IsCompatibleWithSlave(slot.Name):
			u.logger.Warn().
				Str("slot", slot.Name).
				Msg("You have changed db configuration that not compatible with default slave connection.")
		case merge.Has(db, models.KeySlaveConnection, slot.Name):
			u.logger.Info().Str("slot", slot.Name).Msg("Set DB slave connection for `" + slot.Name + "` connection")
		default:
			u.logger.Info().
				Str("slot", slot.Name).
				Msg("Enabling of the variable MYSQL_USE_SLAVE_CONNECTION had no effect because slave connection is not configured on your environment.")
		}
	}
}
