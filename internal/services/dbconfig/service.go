// Package dbconfig resolves the final database and resource configuration from platform
// relationships, the persisted configuration and user overrides.
package dbconfig

import (
	"fmt"

	"github.com/fgeck/cloud-dbops/internal/merge"
	"github.com/fgeck/cloud-dbops/internal/models"
	"github.com/fgeck/cloud-dbops/internal/relationships"
	"github.com/rs/zerolog"
)

// DefaultPort is the MySQL port that is never rendered into a host string.
const DefaultPort = "3306"

// ConfigError reports a configuration that cannot be built.
type ConfigError struct {
	Slot    string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Slot != "" {
		msg = fmt.Sprintf("connection %q: %s", e.Slot, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// LegacySource returns the database section of the persisted configuration.
type LegacySource interface {
	DB() (map[string]any, error)
}

// Service defines the interface for database configuration resolution.
type Service interface {
	Get() (*models.DBConfig, error)
	IsCompatibleWithSlave(slot string) bool
}

// Impl implements Service. The result is computed once per instance.
type Impl struct {
	resolver relationships.Resolver
	legacy   LegacySource
	stage    models.StageConfig
	logger   zerolog.Logger

	legacyDB map[string]any
	result   *models.DBConfig
}

// New creates a new configuration builder.
func New(logger zerolog.Logger, resolver relationships.Resolver, legacy LegacySource, stage models.StageConfig) *Impl {
	return &Impl{
		resolver: resolver,
		legacy:   legacy,
		stage:    stage,
		logger:   logger,
	}
}

// Get returns the {db, resource} configuration.
func (s *Impl) Get() (*models.DBConfig, error) {
	if s.result != nil {
		return s.result, nil
	}

	db, err := s.databaseConfig()
	if err != nil {
		return nil, err
	}

	s.result = &models.DBConfig{
		DB:       db,
		Resource: s.resourceConfig(db),
	}
	return s.result, nil
}

func (s *Impl) databaseConfig() (map[string]any, error) {
	override := s.stage.DatabaseConfiguration

	if merge.IsExplicit(override) {
		s.logger.Debug().Msg("using explicit database configuration")
		cfg := merge.Clear(override)
		return cfg, checkRequired(cfg)
	}

	cfg, err := s.relationshipConfig()
	if err != nil {
		return nil, err
	}

	if len(cfg) == 0 {
		legacy, err := s.legacyConfig()
		if err != nil {
			return nil, err
		}
		s.logger.Debug().Msg("no relationship data, using persisted database configuration")
		cfg = merge.CopyMap(legacy)
	}

	final := merge.Merge(cfg, override)
	return final, checkRequired(final)
}

//nolint:gocognit // slot eligibility rules are checked in sequence
func (s *Impl) relationshipConfig() (map[string]any, error) {
	if s.resolver.Empty() {
		return map[string]any{}, nil
	}

	legacy, err := s.legacyConfig()
	if err != nil {
		return nil, err
	}

	connections := map[string]any{}
	slaves := map[string]any{}

	for _, slot := range models.Slots {
		primary, ok := s.resolver.Lookup(slot.Primary)
		if !ok {
			if slot.Required {
				_, cause := s.resolver.Resolve(slot.Primary)
				return nil, &ConfigError{Slot: slot.Name, Message: "no host for required connection", Cause: cause}
			}
			s.logger.Debug().Str("slot", slot.Name).Msg("optional connection not resolvable, skipping")
			continue
		}
		if !slot.Required && !merge.Has(legacy, models.KeyConnection, slot.Name) {
			s.logger.Debug().Str("slot", slot.Name).Msg("optional connection not in persisted configuration, skipping")
			continue
		}

		connections[slot.Name] = ConnectionConfig(primary, false)

		if !s.stage.UseSlaveConnection || !slot.HasSlave() {
			continue
		}
		replica, ok := s.resolver.Lookup(slot.Slave)
		if !ok {
			continue
		}
		if !s.IsCompatibleWithSlave(slot.Name) {
			continue
		}
		if !slot.Required &&
			(!merge.Has(legacy, models.KeyConnection, slot.Name) || !merge.Has(legacy, models.KeySlaveConnection, slot.Name)) {
			continue
		}
		slaves[slot.Name] = ConnectionConfig(replica, true)
	}

	cfg := map[string]any{}
	if len(connections) > 0 {
		cfg[models.KeyConnection] = connections
	}
	if len(slaves) > 0 {
		cfg[models.KeySlaveConnection] = slaves
	}
	return cfg, nil
}

func (s *Impl) resourceConfig(db map[string]any) map[string]any {
	override := s.stage.ResourceConfiguration
	if merge.IsExplicit(override) {
		return merge.Clear(override)
	}

	connections, _ := merge.AsMap(db[models.KeyConnection])
	cfg := map[string]any{}
	for _, slot := range models.Slots {
		name, ok := models.ResourceNames[slot.Name]
		if !ok {
			continue
		}
		if _, ok := connections[slot.Name]; ok {
			cfg[name] = map[string]any{models.KeyConnection: slot.Name}
		}
	}
	return merge.Merge(cfg, override)
}

// IsCompatibleWithSlave reports whether the user override leaves the slot's host and
// database name matching its relationship, so a replica of that relationship is usable.
func (s *Impl) IsCompatibleWithSlave(slot string) bool {
	def, ok := models.SlotByName(slot)
	if !ok {
		return false
	}
	primary, _ := s.resolver.Resolve(def.Primary)

	override := s.stage.DatabaseConfiguration
	if host, ok := merge.Lookup(override, models.KeyConnection, slot, "host"); ok && host != primary.Host {
		return false
	}
	if dbname, ok := merge.Lookup(override, models.KeyConnection, slot, "dbname"); ok && dbname != primary.DBName {
		return false
	}
	return true
}

func (s *Impl) legacyConfig() (map[string]any, error) {
	if s.legacyDB != nil {
		return s.legacyDB, nil
	}
	db, err := s.legacy.DB()
	if err != nil {
		return nil, fmt.Errorf("reading persisted database configuration: %w", err)
	}
	if db == nil {
		db = map[string]any{}
	}
	s.legacyDB = db
	return db, nil
}

func checkRequired(db map[string]any) error {
	for _, slot := range models.Slots {
		if slot.Required && !merge.Has(db, models.KeyConnection, slot.Name) {
			return &ConfigError{Slot: slot.Name, Message: "required connection is missing from the final configuration"}
		}
	}
	return nil
}

// HostWithPort renders the host, adding the port unless it is empty or the default.
func HostWithPort(d models.ConnectionDescriptor) string {
	if d.Port == "" || d.Port == DefaultPort {
		return d.Host
	}
	return d.Host + ":" + d.Port
}

// ConnectionConfig renders a descriptor as a connection entry. Slave entries carry the
// adapter settings the application expects for replicas.
func ConnectionConfig(d models.ConnectionDescriptor, isSlave bool) map[string]any {
	if d.Host == "" {
		return map[string]any{}
	}
	cfg := map[string]any{
		"host":     HostWithPort(d),
		"username": d.User,
		"dbname":   d.DBName,
		"password": d.Password,
	}
	if isSlave {
		cfg["model"] = "mysql4"
		cfg["engine"] = "innodb"
		cfg["initStatements"] = "SET NAMES utf8;"
		cfg["active"] = "1"
	}
	return cfg
}
