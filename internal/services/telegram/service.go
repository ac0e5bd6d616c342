// Package telegram sends db-dump run summaries to a Telegram chat.
package telegram

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/cloud-dbops/internal/models"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.DumpNotification) (*models.TelegramResult, error)
}

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Impl implements the Telegram Service interface.
type Impl struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
}

// New creates a new Telegram service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger:  logger,
		baseURL: "https://api.telegram.org",
	}
}

// NewWithClient creates a new Telegram service with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, baseURL string) *Impl {
	return &Impl{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendNotification posts the run summary. Delivery failures are reported in the result.
func (s *Impl) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.DumpNotification) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Str("run_id", msg.RunID).
		Bool("success", msg.Success).
		Msg("sending Telegram notification")

	body, err := json.Marshal(sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      formatMessage(msg),
		ParseMode: "HTML",
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil //nolint:nilerr // error is stored in result struct by design
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		return result, nil
	}

	result.MessageSent = true
	s.logger.Debug().Msg("Telegram notification sent")

	return result, nil
}

func formatMessage(msg models.DumpNotification) string {
	var b strings.Builder

	if msg.Success {
		b.WriteString("✅ <b>Database Backup Successful</b>\n\n")
	} else {
		b.WriteString("❌ <b>Database Backup Failed</b>\n\n")
	}

	fmt.Fprintf(&b, "<b>Host:</b> %s\n", html.EscapeString(msg.Host))
	fmt.Fprintf(&b, "<b>Run:</b> <code>%s</code>\n", html.EscapeString(msg.RunID))
	fmt.Fprintf(&b, "<b>Started:</b> %s\n", msg.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "<b>Duration:</b> %s\n", msg.Duration.Round(time.Second))

	if len(msg.Results) > 0 {
		b.WriteString("\n<b>Dumps:</b>\n")
		for _, res := range msg.Results {
			if res.Error != nil {
				fmt.Fprintf(&b, "  • %s: failed <code>%s</code>\n",
					html.EscapeString(res.Database), html.EscapeString(res.Error.Error()))
				continue
			}
			fmt.Fprintf(&b, "  • %s: %s (%s, %s)\n",
				html.EscapeString(res.Database),
				html.EscapeString(filepath.Base(res.OutputPath)),
				humanize.IBytes(uint64(max(res.SizeBytes, 0))),
				res.Duration.Round(time.Second))
		}
	}

	if msg.ErrorMessage != "" {
		b.WriteString("\n<b>Error Details:</b>\n")
		if msg.FailedStep != "" {
			fmt.Fprintf(&b, "  • Failed step: %s\n", html.EscapeString(msg.FailedStep))
		}
		fmt.Fprintf(&b, "  • Error: <code>%s</code>\n", html.EscapeString(msg.ErrorMessage))
	}

	return b.String()
}
