package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// DumpNotification holds the data for a db-dump run notification.
type DumpNotification struct {
	Success   bool
	Host      string
	RunID     string
	StartTime time.Time
	Duration  time.Duration
	Results   []DumpResult

	// Set when the run ended before all databases were attempted.
	FailedStep   string
	ErrorMessage string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
