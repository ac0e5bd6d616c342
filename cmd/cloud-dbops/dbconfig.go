package main

import (
	"fmt"
	"os"

	"github.com/fgeck/cloud-dbops/internal/models"
	"github.com/fgeck/cloud-dbops/internal/services/dbconfig"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var dryRun bool

var dbConfigCmd = &cobra.Command{
	Use:   "db-config",
	Short: "Resolve and persist the database configuration",
	Long: `Resolve the database and resource configuration from platform relationships,
the persisted configuration and the DATABASE_CONFIGURATION / RESOURCE_CONFIGURATION
stage variables, then write the db and resource sections of the persisted
configuration. Every other section is left untouched.

Nothing is written when a required connection (default, indexer) cannot be resolved.`,
	RunE: runDBConfig,
}

func init() {
	dbConfigCmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the resolved configuration instead of writing it")
}

func runDBConfig(cmd *cobra.Command, args []string) error {
	d, err := loadDeployment(true)
	if err != nil {
		return err
	}

	builder := d.builder()

	if dryRun {
		cfg, err := builder.Get()
		if err != nil {
			log.Error().Err(err).Msg("failed to resolve database configuration")
			return err
		}
		return printYAML(cfg)
	}

	updater := dbconfig.NewUpdater(log.Logger, builder, d.store, d.resolver, d.stage)
	if _, err := updater.Execute(); err != nil {
		log.Error().Err(err).Msg("failed to update database configuration")
		return err
	}

	log.Info().Str("file", d.store.Path()).Msg("database configuration updated")
	return nil
}

func printYAML(cfg *models.DBConfig) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{
		models.KeyDB:       cfg.DB,
		models.KeyResource: cfg.Resource,
	}); err != nil {
		return fmt.Errorf("encoding configuration: %w", err)
	}
	return enc.Close()
}
