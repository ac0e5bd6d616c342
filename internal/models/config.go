// Package models contains the data structures used throughout cloud-dbops.
package models

import "time"

// AppConfig holds the complete tool configuration for a run.
type AppConfig struct {
	Paths         PathSettings
	Relationships RelationshipSettings
	Backup        BackupSettings
	Notify        NotifySettings
}

// PathSettings locates the deployment files the tool reads and writes.
type PathSettings struct {
	Root      string
	EnvFile   string // persisted configuration, absolute after parsing
	StageFile string // user stage overrides, absolute after parsing
	VarDir    string // writable state directory holding the lock file
	TempDir   string // scratch directory for dump artifacts
}

// RelationshipSettings tells where platform relationship metadata comes from.
type RelationshipSettings struct {
	EnvVar string
	File   string // optional; takes precedence over EnvVar
}

// BackupSettings holds db-dump behavior.
type BackupSettings struct {
	Timeout        time.Duration // ceiling passed to the external timeout guard
	LockTimeout    time.Duration // 0 blocks until the lock is available
	LockFatal      bool          // if true (default), failing to open the lock file fails the run
	Verify         bool
	RemoveDefiners bool
}

// StageConfig holds the user-supplied deploy variables relevant to database configuration.
type StageConfig struct {
	DatabaseConfiguration map[string]any
	ResourceConfiguration map[string]any
	UseSlaveConnection    bool
}

// NotifySettings holds optional db-dump run notifications.
type NotifySettings struct {
	Host     string          // reported in messages, defaults to the hostname
	Telegram *TelegramConfig // nil disables Telegram notifications
}
