// Package config provides configuration file parsing.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/cloud-dbops/internal/models"
	"github.com/spf13/viper"
)

// Default values used when the configuration file omits a key or is absent.
const (
	DefaultRoot            = "/app"
	DefaultEnvFile         = "app/etc/env.yaml"
	DefaultStageFile       = ".magento.env.yaml"
	DefaultVarDir          = "var"
	DefaultRelationshipEnv = "MAGENTO_CLOUD_RELATIONSHIPS"
	DefaultTimeout         = time.Hour
)

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("paths.root", DefaultRoot)
	v.SetDefault("paths.env_file", DefaultEnvFile)
	v.SetDefault("paths.stage_file", DefaultStageFile)
	v.SetDefault("paths.var_dir", DefaultVarDir)
	v.SetDefault("paths.temp_dir", "")
	v.SetDefault("relationships.env_var", DefaultRelationshipEnv)
	v.SetDefault("relationships.file", "")
	v.SetDefault("backup.timeout", DefaultTimeout)
	v.SetDefault("backup.lock_timeout", time.Duration(0))
	v.SetDefault("backup.lock_fatal", true)
	v.SetDefault("backup.verify", false)
	v.SetDefault("backup.remove_definers", false)

	return &Parser{v: v}
}

// Load returns the configuration built from defaults only. It is used when no
// configuration file is given.
func (p *Parser) Load() (*models.AppConfig, error) {
	return p.parse()
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.AppConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a reader (useful for testing).
func (p *Parser) LoadReader(content string) (*models.AppConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

func (p *Parser) parse() (*models.AppConfig, error) {
	cfg := &models.AppConfig{}

	root := filepath.Clean(p.expandEnv(p.v.GetString("paths.root")))
	cfg.Paths = models.PathSettings{
		Root:      root,
		EnvFile:   resolve(root, p.expandEnv(p.v.GetString("paths.env_file"))),
		StageFile: resolve(root, p.expandEnv(p.v.GetString("paths.stage_file"))),
		VarDir:    resolve(root, p.expandEnv(p.v.GetString("paths.var_dir"))),
		TempDir:   p.expandEnv(p.v.GetString("paths.temp_dir")),
	}
	if cfg.Paths.TempDir == "" {
		cfg.Paths.TempDir = os.TempDir()
	}

	cfg.Relationships = models.RelationshipSettings{
		EnvVar: p.v.GetString("relationships.env_var"),
		File:   p.expandEnv(p.v.GetString("relationships.file")),
	}
	if cfg.Relationships.File != "" {
		cfg.Relationships.File = resolve(root, cfg.Relationships.File)
	}

	cfg.Backup = models.BackupSettings{
		Timeout:        p.v.GetDuration("backup.timeout"),
		LockTimeout:    p.v.GetDuration("backup.lock_timeout"),
		LockFatal:      p.v.GetBool("backup.lock_fatal"),
		Verify:         p.v.GetBool("backup.verify"),
		RemoveDefiners: p.v.GetBool("backup.remove_definers"),
	}

	cfg.Notify = models.NotifySettings{
		Host: p.v.GetString("notify.host"),
	}
	// Set default host if not specified.
	if cfg.Notify.Host == "" {
		hostname, err := os.Hostname()
		if err != nil {
			cfg.Notify.Host = "unknown"
		} else {
			cfg.Notify.Host = hostname
		}
	}

	// Parse optional Telegram config.
	if p.v.IsSet("notify.telegram") {
		cfg.Notify.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("notify.telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("notify.telegram.chat_id")),
		}

		if cfg.Notify.Telegram.BotToken == "" {
			return nil, fmt.Errorf("notify.telegram.bot_token is required when telegram is configured")
		}
		if cfg.Notify.Telegram.ChatID == "" {
			return nil, fmt.Errorf("notify.telegram.chat_id is required when telegram is configured")
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// resolve makes path absolute relative to root.
func resolve(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

// Validate performs validation on the loaded configuration.
func Validate(cfg *models.AppConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.Paths.Root == "" || cfg.Paths.Root == "." {
		return fmt.Errorf("paths.root is required")
	}

	if cfg.Paths.EnvFile == "" {
		return fmt.Errorf("paths.env_file is required")
	}

	if cfg.Paths.VarDir == "" {
		return fmt.Errorf("paths.var_dir is required")
	}

	if cfg.Relationships.EnvVar == "" && cfg.Relationships.File == "" {
		return fmt.Errorf("relationships.env_var or relationships.file is required")
	}

	if cfg.Backup.Timeout <= 0 {
		return fmt.Errorf("backup.timeout must be positive")
	}

	if cfg.Backup.LockTimeout < 0 {
		return fmt.Errorf("backup.lock_timeout must not be negative")
	}

	return nil
}
