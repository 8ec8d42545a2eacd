// Package telegram sends run summaries to a Telegram chat.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fgeck/pve-homelab/internal/models"
	"github.com/rs/zerolog"
)

// Service defines the interface for Telegram notification operations.
type Service interface {
	SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error)
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

// sendMessageRequest is the request body for Telegram sendMessage API.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// MessageFromSummary builds the notification for an install run.
func MessageFromSummary(summary models.Summary, host string) models.TelegramMessage {
	succeeded, partial, failed := summary.Counts()
	msg := models.TelegramMessage{
		RunID:     summary.RunID,
		Host:      host,
		StartTime: summary.StartTime,
		Duration:  summary.Duration,
		Succeeded: succeeded,
		Partial:   partial,
		Failed:    failed,
	}

	for _, r := range summary.Results {
		line := models.TelegramNodeLine{
			Node:        r.Node.Name,
			ContainerID: r.Container.ID,
			IP:          r.Container.IP,
			Status:      r.Status,
		}
		if r.Error != nil {
			line.Reason = r.Error.Error()
		}
		msg.Nodes = append(msg.Nodes, line)
	}
	return msg
}

// SendNotification sends an install summary via Telegram.
func (s *Impl) SendNotification(ctx context.Context, cfg models.TelegramConfig, msg models.TelegramMessage) (*models.TelegramResult, error) {
	result := &models.TelegramResult{}

	s.logger.Info().
		Str("chat_id", cfg.ChatID).
		Str("run_id", msg.RunID).
		Int("failed", msg.Failed).
		Msg("sending Telegram notification")

	reqBody := sendMessageRequest{
		ChatID:    cfg.ChatID,
		Text:      formatMessage(msg),
		ParseMode: "HTML",
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		result.Error = fmt.Errorf("failed to marshal request: %w", err)
		return result, nil
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, cfg.BotToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		result.Error = fmt.Errorf("failed to create request: %w", err)
		return result, nil
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("failed to send request: %w", err)
		return result, nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("telegram API returned status %d", resp.StatusCode)
		return result, nil
	}

	result.MessageSent = true
	s.logger.Info().Msg("Telegram notification sent")

	return result, nil
}

func formatMessage(msg models.TelegramMessage) string {
	var b strings.Builder

	switch {
	case msg.Failed == 0 && msg.Partial == 0:
		b.WriteString("✅ <b>Pi-hole install complete</b>\n\n")
	case msg.Succeeded == 0 && msg.Partial == 0:
		b.WriteString("❌ <b>Pi-hole install failed</b>\n\n")
	default:
		b.WriteString("⚠️ <b>Pi-hole install finished with problems</b>\n\n")
	}

	fmt.Fprintf(&b, "🖥 <b>Host:</b> %s\n", escapeHTML(msg.Host))
	fmt.Fprintf(&b, "🆔 <b>Run:</b> <code>%s</code>\n", escapeHTML(msg.RunID))
	fmt.Fprintf(&b, "⏰ <b>Started:</b> %s\n", msg.StartTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "⏱ <b>Duration:</b> %s\n", msg.Duration.Round(time.Second))
	fmt.Fprintf(&b, "\n<b>📊 Nodes:</b> %d ok, %d partial, %d failed\n", msg.Succeeded, msg.Partial, msg.Failed)

	for _, n := range msg.Nodes {
		fmt.Fprintf(&b, "  %s %s: CT %d <code>%s</code>", statusIcon(n.Status), escapeHTML(n.Node), n.ContainerID, escapeHTML(n.IP))
		if n.Reason != "" {
			fmt.Fprintf(&b, " (%s)", escapeHTML(n.Reason))
		}
		b.WriteString("\n")
	}

	return b.String()
}

func statusIcon(s models.InstallStatus) string {
	switch s {
	case models.InstallSuccess:
		return "✅"
	case models.InstallPartial:
		return "⚠️"
	default:
		return "❌"
	}
}

// escapeHTML escapes HTML special characters.
func escapeHTML(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		switch r {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			b.WriteString("&amp;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
