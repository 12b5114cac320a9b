package notify

import (
	"context"
	"fmt"
	"strconv"

	"github.com/orcabay/control-plane/gatewayd/internal/store"
)

// Setting keys, namespaced to avoid collisions with future config groups.
const (
	KeySMTPHost     = "smtp.host"
	KeySMTPPort     = "smtp.port"
	KeySMTPUsername = "smtp.username"
	KeySMTPPassword = "smtp.password"
	KeySMTPFrom     = "smtp.from"
	KeySMTPTLS      = "smtp.tls"

	KeyWebhookURL     = "webhook.url"
	KeyWebhookSecret  = "webhook.secret"
	KeyWebhookEnabled = "webhook.enabled"
)

// SMTPConfig holds what's needed to send email via SMTP.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	TLS      bool
}

// WebhookConfig holds the outbound HTTP webhook channel's settings.
type WebhookConfig struct {
	URL     string
	Secret  string
	Enabled bool
}

// loadSMTPConfig reads every "smtp.*" setting. ErrConfigNotFound when none
// are set at all; ErrInvalidConfig when required fields are missing.
func loadSMTPConfig(ctx context.Context, st *store.Store) (*SMTPConfig, error) {
	idx, err := settingsIndex(ctx, st, "smtp.")
	if err != nil {
		return nil, err
	}
	if len(idx) == 0 {
		return nil, ErrConfigNotFound
	}

	host := idx[KeySMTPHost]
	if host == "" {
		return nil, fmt.Errorf("%w: smtp.host is required", ErrInvalidConfig)
	}
	portStr := idx[KeySMTPPort]
	if portStr == "" {
		return nil, fmt.Errorf("%w: smtp.port is required", ErrInvalidConfig)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("%w: smtp.port must be a valid port number", ErrInvalidConfig)
	}
	from := idx[KeySMTPFrom]
	if from == "" {
		return nil, fmt.Errorf("%w: smtp.from is required", ErrInvalidConfig)
	}

	return &SMTPConfig{
		Host:     host,
		Port:     port,
		Username: idx[KeySMTPUsername],
		Password: idx[KeySMTPPassword],
		From:     from,
		TLS:      idx[KeySMTPTLS] == "true",
	}, nil
}

// loadWebhookConfig reads every "webhook.*" setting.
func loadWebhookConfig(ctx context.Context, st *store.Store) (*WebhookConfig, error) {
	idx, err := settingsIndex(ctx, st, "webhook.")
	if err != nil {
		return nil, err
	}
	if len(idx) == 0 {
		return nil, ErrConfigNotFound
	}

	url := idx[KeyWebhookURL]
	if url == "" {
		return nil, fmt.Errorf("%w: webhook.url is required", ErrInvalidConfig)
	}

	return &WebhookConfig{
		URL:     url,
		Secret:  idx[KeyWebhookSecret],
		Enabled: idx[KeyWebhookEnabled] == "true",
	}, nil
}

// settingsIndex lists every setting and keeps the ones under prefix.
func settingsIndex(ctx context.Context, st *store.Store, prefix string) (map[string]string, error) {
	all, err := st.ListSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("notify: loading settings: %w", err)
	}
	idx := make(map[string]string)
	for _, s := range all {
		if len(s.Key) >= len(prefix) && s.Key[:len(prefix)] == prefix {
			idx[s.Key] = s.Value
		}
	}
	return idx, nil
}
