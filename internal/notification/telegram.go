package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"optionsbot-v1/internal/markethours"
)

const telegramSendURL = "https://api.telegram.org/bot%s/sendMessage"

// TelegramNotifier sends alerts to a Telegram chat via the Bot API.
// Messages are formatted as MarkdownV2 with the alert time in IST, since
// that is the clock the trading day runs on.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *http.Client
}

// NewTelegramNotifier creates a Telegram notifier.
// botToken: Bot API token from @BotFather
// chatID: Target chat/group/channel ID
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	body, _ := json.Marshal(map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       formatAlert(alert),
		"parse_mode": "MarkdownV2",
	})

	url := fmt.Sprintf(telegramSendURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// formatAlert renders an alert as MarkdownV2: severity emoji and bold title,
// the message body, and a trailing IST timestamp line.
func formatAlert(alert Alert) string {
	emoji := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		emoji = "⚠️"
	case AlertCritical:
		emoji = "🚨"
	}

	at := alert.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	stamp := at.In(markethours.IST).Format("02 Jan 15:04:05") + " IST"

	return fmt.Sprintf("%s *%s*\n\n%s\n\n_%s_",
		emoji, escapeMarkdown(alert.Title), escapeMarkdown(alert.Message), escapeMarkdown(stamp))
}

// escapeMarkdown escapes special characters for Telegram MarkdownV2.
func escapeMarkdown(s string) string {
	specials := []byte{'_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!'}
	var buf bytes.Buffer
	for i := 0; i < len(s); i++ {
		for _, sp := range specials {
			if s[i] == sp {
				buf.WriteByte('\\')
				break
			}
		}
		buf.WriteByte(s[i])
	}
	return buf.String()
}
