package main

import (
	"github.com/fgeck/cloud-dbops/internal/config"
	"github.com/fgeck/cloud-dbops/internal/envfile"
	"github.com/fgeck/cloud-dbops/internal/models"
	"github.com/fgeck/cloud-dbops/internal/relationships"
	"github.com/fgeck/cloud-dbops/internal/services/dbconfig"
	"github.com/fgeck/cloud-dbops/internal/stage"
	"github.com/rs/zerolog/log"
)

// deployment bundles the inputs read from the deployment being operated on.
type deployment struct {
	cfg      *models.AppConfig
	resolver *relationships.Impl
	store    *envfile.File
	stage    models.StageConfig
}

func loadConfig() (*models.AppConfig, error) {
	parser := config.NewParser()
	if configFile == "" {
		return parser.Load()
	}
	return parser.LoadFile(configFile)
}

// loadDeployment reads the tool configuration and relationship metadata. The stage
// configuration is read only when withStage is set.
func loadDeployment(withStage bool) (*deployment, error) {
	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return nil, err
	}

	md, err := relationships.Load(cfg.Relationships)
	if err != nil {
		log.Error().Err(err).Msg("failed to load relationships")
		return nil, err
	}
	if len(md) == 0 {
		log.Warn().
			Str("env_var", cfg.Relationships.EnvVar).
			Str("file", cfg.Relationships.File).
			Msg("no relationship metadata available")
	}

	d := &deployment{
		cfg:      cfg,
		resolver: relationships.New(md),
		store:    envfile.New(cfg.Paths.EnvFile),
	}

	if withStage {
		d.stage, err = stage.NewReader(cfg.Paths.StageFile).Read()
		if err != nil {
			log.Error().Err(err).Str("file", cfg.Paths.StageFile).Msg("failed to read stage configuration")
			return nil, err
		}
	}

	log.Debug().
		Str("root", cfg.Paths.Root).
		Str("env_file", cfg.Paths.EnvFile).
		Int("relationships", len(md)).
		Msg("deployment loaded")

	return d, nil
}

func (d *deployment) builder() *dbconfig.Impl {
	return dbconfig.New(log.Logger, d.resolver, d.store, d.stage)
}
