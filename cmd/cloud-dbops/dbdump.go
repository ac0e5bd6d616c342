package main

import (
	"path/filepath"
	"strings"

	"github.com/fgeck/cloud-dbops/internal/models"
	"github.com/fgeck/cloud-dbops/internal/services/confirm"
	"github.com/fgeck/cloud-dbops/internal/services/dump"
	"github.com/fgeck/cloud-dbops/internal/services/lock"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const maintenanceQuestion = "We suggest to enable maintenance mode before running this command. Do you want to continue [y/N]?"

var (
	removeDefiners bool
	assumeYes      bool
)

var dbDumpCmd = &cobra.Command{
	Use:   "db-dump [databases...]",
	Short: "Create a backup of the databases",
	Long: `Create compressed mysqldump backups while holding the db-dump lock.

Databases to back up. Available values: ` + strings.Join(models.DumpDatabaseNames(), ",") + ` or empty.
By default the databases configured in the persisted configuration are backed up.
Each dump is read from the database replica when one is available.`,
	RunE: runDBDump,
}

func init() {
	dbDumpCmd.Flags().BoolVarP(&removeDefiners, "remove-definers", "d", false, "remove definers from the database dump")
	dbDumpCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "do not ask for confirmation")
}

func runDBDump(cmd *cobra.Command, args []string) error {
	var prompt confirm.Service = confirm.New()
	if assumeYes {
		prompt = confirm.Yes{}
	}
	ok, err := prompt.Ask(maintenanceQuestion)
	if err != nil {
		return err
	}
	if !ok {
		log.Info().Msg("backup cancelled")
		return nil
	}

	d, err := loadDeployment(false)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	guard := lock.NewFileGuard(filepath.Join(d.cfg.Paths.VarDir, lock.FileName), d.cfg.Backup.LockTimeout)
	svc := dump.New(log.Logger, d.resolver, d.store, guard, dump.Settings{
		TempDir:   d.cfg.Paths.TempDir,
		Timeout:   d.cfg.Backup.Timeout,
		LockFatal: d.cfg.Backup.LockFatal,
		Verify:    d.cfg.Backup.Verify,
		Host:      d.cfg.Notify.Host,
		Telegram:  d.cfg.Notify.Telegram,
	})

	log.Info().Strs("databases", args).Msg("starting backup")
	result, err := svc.Run(ctx, models.DumpRequest{
		Databases:      args,
		RemoveDefiners: removeDefiners || d.cfg.Backup.RemoveDefiners,
	})
	if err != nil {
		log.Error().Err(err).Msg("backup failed")
		return err
	}
	if err := result.Err(); err != nil {
		log.Error().Err(err).Str("run_id", result.RunID).Msg("backup completed with errors")
		return err
	}

	log.Info().
		Str("run_id", result.RunID).
		Int("dumps", len(result.Results)).
		Msg("backup completed")
	return nil
}
