package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"quotekeeper/internal/logger"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramNotifier delivers messages through the Telegram Bot API.
type TelegramNotifier struct {
	token   string
	chatID  string
	apiBase string
	client  *http.Client
	log     *logrus.Entry
}

var _ Notifier = (*TelegramNotifier)(nil)

// NewTelegramNotifier creates a notifier with optional proxy support.
func NewTelegramNotifier(botToken, chatID, proxyURL string) *TelegramNotifier {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &TelegramNotifier{
		token:   botToken,
		chatID:  chatID,
		apiBase: telegramAPIBase,
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		log: logger.WithComponent("telegram"),
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Send delivers one message to the configured chat.
func (t *TelegramNotifier) Send(text string) error {
	return t.send(context.Background(), text)
}

func (t *TelegramNotifier) send(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:    t.chatID,
		Text:      text,
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram API error: status %d, body: %s", resp.StatusCode, string(detail))
	}
	return nil
}

// SendWithRetry retries failed sends with exponential backoff, honoring ctx.
func (t *TelegramNotifier) SendWithRetry(ctx context.Context, text string, maxRetries int) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		lastErr = t.send(ctx, text)
		if lastErr == nil {
			return nil
		}
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		t.log.WithFields(logger.Fields{
			"attempt": fmt.Sprintf("%d/%d", attempt+1, maxRetries+1),
			"backoff": backoff,
			"error":   lastErr,
		}).Warn("send failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("all %d retries exhausted: %w", maxRetries+1, lastErr)
}
