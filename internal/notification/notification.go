package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifyTransition NotificationType = "transition"
	NotifyIntent     NotificationType = "intent"
	NotifyLearning   NotificationType = "learning"
	NotifyError      NotificationType = "error"
	NotifyInfo       NotificationType = "info"
)

// Notification represents a notification message
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Position  string
	Price     float64
	Timestamp time.Time
	Extra     map[string]interface{}
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager manages multiple notification providers
type Manager struct {
	notifiers []Notifier
	enabled   bool
}

// NewManager creates a new notification manager
func NewManager(enabled bool) *Manager {
	return &Manager{
		notifiers: make([]Notifier, 0),
		enabled:   enabled,
	}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send sends a notification to all enabled providers
func (m *Manager) Send(notification *Notification) error {
	if !m.enabled {
		return nil
	}

	var lastErr error
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			if err := n.Send(notification); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// SendTransition sends a trend state transition notification
func (m *Manager) SendTransition(position, from, to string, price float64) error {
	emoji := "⚪"
	switch to {
	case "S0":
		emoji = "🔴"
	case "S2", "S3":
		emoji = "🟢"
	}

	return m.Send(&Notification{
		Type:      NotifyTransition,
		Title:     fmt.Sprintf("%s Trend: %s", emoji, position),
		Message:   fmt.Sprintf("%s → %s @ %.6f", from, to, price),
		Position:  position,
		Price:     price,
		Timestamp: time.Now(),
		Extra: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	})
}

// SendIntent sends an action intent notification
func (m *Manager) SendIntent(position, patternKey, action string, price, strength float64) error {
	emoji := "📈"
	if action == "trim" || action == "exit" {
		emoji = "📉"
	}

	return m.Send(&Notification{
		Type:      NotifyIntent,
		Title:     fmt.Sprintf("%s Intent: %s %s", emoji, action, position),
		Message:   fmt.Sprintf("%s @ %.6f\nPattern: %s | Strength: %.2f", action, price, patternKey, strength),
		Position:  position,
		Price:     price,
		Timestamp: time.Now(),
		Extra: map[string]interface{}{
			"pattern_key": patternKey,
			"action":      action,
			"strength":    strength,
		},
	})
}

// SendLearningCycle sends a learning cycle summary notification
func (m *Manager) SendLearningCycle(generation int64, written, touched int, retired int64) error {
	return m.Send(&Notification{
		Type:      NotifyLearning,
		Title:     fmt.Sprintf("📊 Learning cycle %d", generation),
		Message:   fmt.Sprintf("Overrides written: %d\nTouched: %d\nRetired: %d", written, touched, retired),
		Timestamp: time.Now(),
		Extra: map[string]interface{}{
			"generation": generation,
			"written":    written,
		},
	})
}

// SendError sends an error notification
func (m *Manager) SendError(title, message string) error {
	return m.Send(&Notification{
		Type:      NotifyError,
		Title:     fmt.Sprintf("⚠️ %s", title),
		Message:   message,
		Timestamp: time.Now(),
	})
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// TelegramNotifier sends notifications via Telegram
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	apiBase  string
	client   *http.Client
}

// NewTelegramNotifier creates a new Telegram notifier
func NewTelegramNotifier(cfg config.TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		apiBase:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) Send(notification *Notification) error {
	if !t.enabled {
		return nil
	}

	message := fmt.Sprintf("*%s*\n\n%s", notification.Title, notification.Message)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       message,
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.apiBase, t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordNotifier sends notifications via Discord webhook
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// NewDiscordNotifier creates a new Discord notifier
func NewDiscordNotifier(cfg config.DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: cfg.WebhookURL,
		enabled:    cfg.Enabled && cfg.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) IsEnabled() bool {
	return d.enabled
}

func (d *DiscordNotifier) Send(notification *Notification) error {
	if !d.enabled {
		return nil
	}

	color := 0x00FF00 // Green
	if notification.Type == NotifyError {
		color = 0xFF0000 // Red
	} else if notification.Type == NotifyTransition {
		if to, ok := notification.Extra["to"].(string); ok && to == "S0" {
			color = 0xFF0000 // Red
		}
	}

	embed := map[string]interface{}{
		"title":       notification.Title,
		"description": notification.Message,
		"color":       color,
		"timestamp":   notification.Timestamp.Format(time.RFC3339),
	}

	if notification.Position != "" {
		fields := []map[string]interface{}{
			{"name": "Position", "value": notification.Position, "inline": true},
		}
		if notification.Price > 0 {
			fields = append(fields, map[string]interface{}{
				"name": "Price", "value": fmt.Sprintf("%.6f", notification.Price), "inline": true,
			})
		}
		if strength, ok := notification.Extra["strength"].(float64); ok {
			fields = append(fields, map[string]interface{}{
				"name": "Strength", "value": fmt.Sprintf("%.2f", strength), "inline": true,
			})
		}
		embed["fields"] = fields
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}

	return nil
}
