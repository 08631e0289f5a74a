package notification

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"
)

type captureNotifier struct {
	sent    []*Notification
	enabled bool
	err     error
}

func (c *captureNotifier) Send(n *Notification) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, n)
	return nil
}

func (c *captureNotifier) Name() string { return "capture" }

func (c *captureNotifier) IsEnabled() bool { return c.enabled }

func TestManagerFansOutToEnabledNotifiers(t *testing.T) {
	active := &captureNotifier{enabled: true}
	inactive := &captureNotifier{enabled: false}

	manager := NewManager(true)
	manager.AddNotifier(active)
	manager.AddNotifier(inactive)

	if err := manager.SendTransition("sol:solana:1h", "S1", "S2", 142.5); err != nil {
		t.Fatalf("SendTransition returned error: %v", err)
	}

	if len(active.sent) != 1 {
		t.Fatalf("Expected 1 notification on active notifier, got %d", len(active.sent))
	}
	if len(inactive.sent) != 0 {
		t.Errorf("Expected 0 notifications on inactive notifier, got %d", len(inactive.sent))
	}

	n := active.sent[0]
	if n.Type != NotifyTransition {
		t.Errorf("Expected transition type, got %s", n.Type)
	}
	if !strings.Contains(n.Title, "🟢") {
		t.Errorf("Expected bull emoji in title for S2, got %q", n.Title)
	}
	if n.Extra["to"] != "S2" {
		t.Errorf("Expected to=S2 in extra, got %v", n.Extra["to"])
	}
}

func TestManagerDisabledSendsNothing(t *testing.T) {
	active := &captureNotifier{enabled: true}

	manager := NewManager(false)
	manager.AddNotifier(active)

	if err := manager.SendError("boom", "details"); err != nil {
		t.Fatalf("SendError returned error: %v", err)
	}
	if len(active.sent) != 0 {
		t.Errorf("Expected no notifications from disabled manager, got %d", len(active.sent))
	}
}

func TestTransitionEmojis(t *testing.T) {
	tests := []struct {
		to   string
		want string
	}{
		{to: "S0", want: "🔴"},
		{to: "S2", want: "🟢"},
		{to: "S3", want: "🟢"},
		{to: "S1", want: "⚪"},
		{to: "S4", want: "⚪"},
	}

	for _, tt := range tests {
		t.Run(tt.to, func(t *testing.T) {
			sink := &captureNotifier{enabled: true}
			manager := NewManager(true)
			manager.AddNotifier(sink)

			if err := manager.SendTransition("sol:solana:1h", "S1", tt.to, 1.0); err != nil {
				t.Fatalf("SendTransition returned error: %v", err)
			}
			if !strings.Contains(sink.sent[0].Title, tt.want) {
				t.Errorf("Expected %s in title for transition to %s, got %q", tt.want, tt.to, sink.sent[0].Title)
			}
		})
	}
}

func TestTelegramNotifierSend(t *testing.T) {
	var payload map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/bottoken-123/sendMessage") {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("Failed to parse telegram payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := &TelegramNotifier{
		botToken: "token-123",
		chatID:   "chat-9",
		enabled:  true,
		apiBase:  server.URL,
		client:   server.Client(),
	}

	err := notifier.Send(&Notification{
		Type:      NotifyIntent,
		Title:     "📈 Intent: entry sol:solana:1h",
		Message:   "entry @ 142.5",
		Timestamp: time.Now(),
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if payload["chat_id"] != "chat-9" {
		t.Errorf("Expected chat_id chat-9, got %v", payload["chat_id"])
	}
	if payload["parse_mode"] != "Markdown" {
		t.Errorf("Expected Markdown parse mode, got %v", payload["parse_mode"])
	}
	text, _ := payload["text"].(string)
	if !strings.Contains(text, "entry @ 142.5") {
		t.Errorf("Expected message body in text, got %q", text)
	}
}

func TestTelegramNotifierSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	notifier := &TelegramNotifier{
		botToken: "token-123",
		chatID:   "chat-9",
		enabled:  true,
		apiBase:  server.URL,
		client:   server.Client(),
	}

	err := notifier.Send(&Notification{Title: "t", Message: "m"})
	if err == nil {
		t.Fatal("Expected error for non-200 response")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("Expected status code in error, got %v", err)
	}
}

func TestDiscordNotifierEmbeds(t *testing.T) {
	var payload struct {
		Embeds []struct {
			Title  string `json:"title"`
			Color  int    `json:"color"`
			Fields []struct {
				Name  string `json:"name"`
				Value string `json:"value"`
			} `json:"fields"`
		} `json:"embeds"`
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("Failed to parse discord payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier := NewDiscordNotifier(config.DiscordConfig{Enabled: true, WebhookURL: server.URL})

	err := notifier.Send(&Notification{
		Type:      NotifyTransition,
		Title:     "🔴 Trend: sol:solana:1h",
		Message:   "S2 → S0 @ 120.000000",
		Position:  "sol:solana:1h",
		Price:     120,
		Timestamp: time.Now(),
		Extra:     map[string]interface{}{"from": "S2", "to": "S0"},
	})
	if err != nil {
		t.Fatalf("Send returned error: %v", err)
	}

	if len(payload.Embeds) != 1 {
		t.Fatalf("Expected 1 embed, got %d", len(payload.Embeds))
	}
	embed := payload.Embeds[0]
	if embed.Color != 0xFF0000 {
		t.Errorf("Expected red embed for transition to S0, got %#x", embed.Color)
	}
	foundPosition := false
	for _, f := range embed.Fields {
		if f.Name == "Position" && f.Value == "sol:solana:1h" {
			foundPosition = true
		}
	}
	if !foundPosition {
		t.Errorf("Expected Position field in embed, got %+v", embed.Fields)
	}
}

func TestDisabledNotifiersNoop(t *testing.T) {
	tg := NewTelegramNotifier(config.TelegramConfig{Enabled: true})
	if tg.IsEnabled() {
		t.Error("Expected telegram notifier without token to be disabled")
	}
	if err := tg.Send(&Notification{Title: "t"}); err != nil {
		t.Errorf("Expected disabled send to be a no-op, got %v", err)
	}

	dc := NewDiscordNotifier(config.DiscordConfig{Enabled: true})
	if dc.IsEnabled() {
		t.Error("Expected discord notifier without webhook to be disabled")
	}
}
