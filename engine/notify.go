package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"
)

// NotifyConfig defines where run notifications go.
type NotifyConfig struct {
	Webhook string
	Command string
}

// Notifier announces finished runs to a webhook and/or a shell command.
type Notifier struct {
	cfg    NotifyConfig
	client *http.Client
}

// NewNotifier creates a notifier.
func NewNotifier(cfg NotifyConfig) *Notifier {
	return &Notifier{
		cfg: cfg,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// Enabled returns true if any destination is configured.
func (n *Notifier) Enabled() bool {
	return n.cfg.Webhook != "" || n.cfg.Command != ""
}

// validateWebhookURL checks that the webhook URL uses http/https and does not
// target cloud metadata endpoints.
func validateWebhookURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("webhook URL must use http or https scheme, got %q", scheme)
	}
	host := strings.ToLower(u.Hostname())
	for _, b := range []string{"169.254.169.254", "metadata.google.internal"} {
		if host == b {
			return fmt.Errorf("webhook URL host %q is blocked", host)
		}
	}
	return nil
}

// Notify delivers event and payload to every destination and returns the
// joined delivery errors. The command sees the event in NVMEQUAL_EVENT and
// reads the JSON message on stdin.
func (n *Notifier) Notify(ctx context.Context, event string, payload any) error {
	if !n.Enabled() {
		return nil
	}
	data, err := json.Marshal(map[string]any{
		"event":   event,
		"payload": payload,
		"ts":      time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	var errs []error
	if n.cfg.Webhook != "" {
		errs = append(errs, n.post(ctx, data))
	}
	if n.cfg.Command != "" {
		ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		cmd := exec.CommandContext(ctx, "sh", "-c", n.cfg.Command)
		cmd.Env = append(os.Environ(), "NVMEQUAL_EVENT="+event)
		cmd.Stdin = bytes.NewReader(data)
		if out, err := cmd.CombinedOutput(); err != nil {
			errs = append(errs, fmt.Errorf("notify command: %w: %s", err, bytes.TrimSpace(out)))
		}
	}
	return errors.Join(errs...)
}

func (n *Notifier) post(ctx context.Context, data []byte) error {
	if err := validateWebhookURL(n.cfg.Webhook); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.Webhook, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: %s", resp.Status)
	}
	return nil
}
