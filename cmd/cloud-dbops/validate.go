package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fgeck/cloud-dbops/internal/merge"
	"github.com/fgeck/cloud-dbops/internal/models"
	"github.com/fgeck/cloud-dbops/internal/services/probe"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var checkConnections bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and resolve connections",
	Long: `Load the tool configuration, relationship metadata, stage overrides and the
persisted configuration, resolve the database configuration and print a summary
without writing anything.`,
	RunE: validateConfig,
}

func init() {
	validateCmd.Flags().BoolVar(&checkConnections, "check-connections", false, "connect to every resolved database")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	d, err := loadDeployment(true)
	if err != nil {
		return err
	}

	result, err := d.builder().Get()
	if err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	cfg := d.cfg
	connections, _ := merge.AsMap(result.DB[models.KeyConnection])
	slaves, _ := merge.AsMap(result.DB[models.KeySlaveConnection])

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Paths:")
	fmt.Printf("  Root: %s\n", cfg.Paths.Root)
	fmt.Printf("  Env file: %s\n", cfg.Paths.EnvFile)
	fmt.Printf("  Stage file: %s\n", cfg.Paths.StageFile)
	fmt.Printf("  Lock dir: %s\n", cfg.Paths.VarDir)
	fmt.Printf("  Temp dir: %s\n", cfg.Paths.TempDir)
	fmt.Println()
	fmt.Println("Backup:")
	fmt.Printf("  Timeout: %s\n", cfg.Backup.Timeout)
	fmt.Printf("  Lock timeout: %s\n", lockTimeoutString(cfg.Backup.LockTimeout))
	fmt.Printf("  Lock fatal: %v\n", cfg.Backup.LockFatal)
	fmt.Printf("  Verify: %v\n", cfg.Backup.Verify)
	fmt.Printf("  Telegram: %v\n", cfg.Notify.Telegram != nil)
	fmt.Println()
	fmt.Println("Stage overrides:")
	fmt.Printf("  DATABASE_CONFIGURATION: %v\n", !merge.IsEmpty(d.stage.DatabaseConfiguration))
	fmt.Printf("  RESOURCE_CONFIGURATION: %v\n", !merge.IsEmpty(d.stage.ResourceConfiguration))
	fmt.Printf("  MYSQL_USE_SLAVE_CONNECTION: %v\n", d.stage.UseSlaveConnection)
	fmt.Println()
	fmt.Println("Connections:")
	for _, slot := range models.Slots {
		conn, ok := merge.AsMap(connections[slot.Name])
		if !ok {
			continue
		}
		host, _ := merge.LookupString(conn, "host")
		dbname, _ := merge.LookupString(conn, "dbname")
		_, hasSlave := slaves[slot.Name]
		fmt.Printf("  %s: %s/%s (slave: %v)\n", slot.Name, host, dbname, hasSlave)
	}

	if !checkConnections {
		return nil
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Println()
	fmt.Println("Connection checks:")
	prober := probe.New(log.Logger)
	var errs []error
	for _, key := range connectionKeys() {
		desc, ok := d.resolver.Lookup(key)
		if !ok {
			continue
		}
		res, err := prober.Ping(ctx, desc)
		if err == nil {
			err = res.Error
		}
		if err != nil {
			fmt.Printf("  %s: FAILED (%v)\n", key, err)
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
			continue
		}
		fmt.Printf("  %s: ok (%s, %s)\n", key, res.ServerVersion, res.Latency.Round(time.Millisecond))
	}

	return errors.Join(errs...)
}

// connectionKeys lists every relationship connection key once, in slot order.
func connectionKeys() []string {
	var keys []string
	seen := map[string]bool{}
	for _, slot := range models.Slots {
		for _, key := range []string{slot.Primary, slot.Slave} {
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}

func lockTimeoutString(d time.Duration) string {
	if d == 0 {
		return "none (block)"
	}
	return d.String()
}
