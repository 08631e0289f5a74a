package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/Recursive-Llama/Lotus-Trader-sub015/config"

	"github.com/hashicorp/vault/api"
)

// ServiceSecrets is the credential bundle the service reads at boot. Fields
// map to keys under the configured KV v2 secret path; absent keys stay empty.
type ServiceSecrets struct {
	DBPassword        string
	RedisPassword     string
	JWTSecret         string
	AdminPasswordHash string
	TelegramBotToken  string
	DiscordWebhookURL string
}

// Client wraps the HashiCorp Vault client for service credential loading
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu     sync.RWMutex
	cached *ServiceSecrets
}

// NewClient creates a new Vault client. A disabled config yields an inert
// client whose reads report vault as unavailable.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return &Client{config: cfg}, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		tlsConfig := &api.TLSConfig{
			CACert: cfg.CACert,
		}
		if err := vaultConfig.ConfigureTLS(tlsConfig); err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
	}

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}

	client.SetToken(cfg.Token)

	return &Client{
		client: client,
		config: cfg,
	}, nil
}

// IsEnabled returns whether Vault is enabled
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// ServiceSecrets reads the credential bundle from the configured secret
// path. The first successful read is cached; Reload drops it.
func (c *Client) ServiceSecrets(ctx context.Context) (*ServiceSecrets, error) {
	if !c.config.Enabled {
		return nil, fmt.Errorf("vault is disabled")
	}

	c.mu.RLock()
	if c.cached != nil {
		cached := *c.cached
		c.mu.RUnlock()
		return &cached, nil
	}
	c.mu.RUnlock()

	path := c.secretPath()

	secret, err := c.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read service secrets from vault: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret at %s", path)
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid secret format at %s", path)
	}

	secrets := &ServiceSecrets{
		DBPassword:        getString(data, "db_password"),
		RedisPassword:     getString(data, "redis_password"),
		JWTSecret:         getString(data, "jwt_secret"),
		AdminPasswordHash: getString(data, "admin_password_hash"),
		TelegramBotToken:  getString(data, "telegram_bot_token"),
		DiscordWebhookURL: getString(data, "discord_webhook_url"),
	}

	c.mu.Lock()
	c.cached = secrets
	c.mu.Unlock()

	out := *secrets
	return &out, nil
}

// Overlay fills empty credential fields of the config from vault. Values
// already set through the environment or YAML are left alone, so explicit
// configuration always wins over the vault layer.
func (c *Client) Overlay(ctx context.Context, cfg *config.Config) error {
	if !c.config.Enabled {
		return nil
	}

	secrets, err := c.ServiceSecrets(ctx)
	if err != nil {
		return err
	}

	if cfg.DatabaseConfig.Password == "" {
		cfg.DatabaseConfig.Password = secrets.DBPassword
	}
	if cfg.RedisConfig.Password == "" {
		cfg.RedisConfig.Password = secrets.RedisPassword
	}
	if cfg.AuthConfig.JWTSecret == "" {
		cfg.AuthConfig.JWTSecret = secrets.JWTSecret
	}
	if cfg.AuthConfig.AdminPasswordHash == "" {
		cfg.AuthConfig.AdminPasswordHash = secrets.AdminPasswordHash
	}
	if cfg.NotificationConfig.Telegram.BotToken == "" {
		cfg.NotificationConfig.Telegram.BotToken = secrets.TelegramBotToken
	}
	if cfg.NotificationConfig.Discord.WebhookURL == "" {
		cfg.NotificationConfig.Discord.WebhookURL = secrets.DiscordWebhookURL
	}

	return nil
}

// Reload drops the cached bundle so the next read hits vault again
func (c *Client) Reload() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
}

// Health checks the Vault connection
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault health check failed: %w", err)
	}

	if health.Sealed {
		return fmt.Errorf("vault is sealed")
	}

	return nil
}

// secretPath returns the KV v2 data path of the service secret bundle
func (c *Client) secretPath() string {
	return fmt.Sprintf("%s/data/%s", c.config.MountPath, c.config.SecretPath)
}

func getString(data map[string]interface{}, key string) string {
	if val, ok := data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}
