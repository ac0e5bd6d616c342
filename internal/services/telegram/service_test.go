package telegram

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fgeck/cloud-dbops/internal/models"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.doFunc != nil {
		return m.doFunc(req)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("{}")),
	}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.TelegramConfig {
	return models.TelegramConfig{
		BotToken: "123456:ABC-DEF",
		ChatID:   "-100123456789",
	}
}

func successfulRun() models.DumpNotification {
	return models.DumpNotification{
		Success:   true,
		Host:      "shop-prod-1",
		RunID:     "5f0c7f8e-run",
		StartTime: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Duration:  3*time.Minute + 45*time.Second,
		Results: []models.DumpResult{
			{Database: "main", OutputPath: "/tmp/dump-main-1705314600.sql.gz", SizeBytes: 100 * 1024 * 1024, Duration: 3 * time.Minute},
			{Database: "sales", OutputPath: "/tmp/dump-sales-1705314780.sql.gz", SizeBytes: 1536 * 1024, Duration: 45 * time.Second},
		},
	}
}

func TestSendNotification_Success(t *testing.T) {
	var capturedRequest *http.Request
	var capturedBody sendMessageRequest

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			capturedRequest = req
			body, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(body, &capturedBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("{\"ok\":true}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), testConfig(), successfulRun())

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)

	assert.Equal(t, http.MethodPost, capturedRequest.Method)
	assert.Contains(t, capturedRequest.URL.String(), "/bot123456:ABC-DEF/sendMessage")
	assert.Equal(t, "application/json", capturedRequest.Header.Get("Content-Type"))

	assert.Equal(t, "-100123456789", capturedBody.ChatID)
	assert.Equal(t, "HTML", capturedBody.ParseMode)
	assert.Contains(t, capturedBody.Text, "Database Backup Successful")
}

func TestSendNotification_HTTPServer(t *testing.T) {
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := NewWithClient(testLogger(), server.Client(), server.URL)

	result, err := svc.SendNotification(context.Background(), testConfig(), successfulRun())

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Equal(t, "/bot123456:ABC-DEF/sendMessage", path)
}

func TestSendNotification_HTTPError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("network error")
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), testConfig(), successfulRun())

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "failed to send request")
}

func TestSendNotification_APIError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusBadRequest,
				Body:       io.NopCloser(strings.NewReader("{\"ok\":false}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), testConfig(), successfulRun())

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "status 400")
}

func TestFormatMessage_Success(t *testing.T) {
	result := formatMessage(successfulRun())

	assert.Contains(t, result, "Database Backup Successful")
	assert.Contains(t, result, "shop-prod-1")
	assert.Contains(t, result, "5f0c7f8e-run")
	assert.Contains(t, result, "2024-01-15 10:30:00")
	assert.Contains(t, result, "3m45s")
	assert.Contains(t, result, "main: dump-main-1705314600.sql.gz (100 MiB, 3m0s)")
	assert.Contains(t, result, "sales: dump-sales-1705314780.sql.gz (1.5 MiB, 45s)")
	assert.NotContains(t, result, "Error Details")
}

func TestFormatMessage_Failure(t *testing.T) {
	msg := successfulRun()
	msg.Success = false
	msg.Results[1].Error = errors.New("mysqldump failed: exit code 2: <Access denied>")

	result := formatMessage(msg)

	assert.Contains(t, result, "Database Backup Failed")
	assert.Contains(t, result, "sales: failed <code>mysqldump failed: exit code 2: &lt;Access denied&gt;</code>")
}

func TestFormatMessage_RunError(t *testing.T) {
	msg := models.DumpNotification{
		Host:         "a&b",
		StartTime:    time.Now(),
		FailedStep:   "lock",
		ErrorMessage: "lock acquisition failed: could not acquire lock",
	}

	result := formatMessage(msg)

	assert.Contains(t, result, "a&amp;b")
	assert.Contains(t, result, "Failed step: lock")
	assert.Contains(t, result, "lock acquisition failed")
	assert.NotContains(t, result, "Dumps:")
}

func TestSendNotification_ContextCancelled(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, context.Canceled
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.SendNotification(ctx, testConfig(), successfulRun())

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.NotNil(t, result.Error)
}
