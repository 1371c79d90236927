package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sbl-ops/dumpguard/internal/config"
	"github.com/sbl-ops/dumpguard/internal/logging"
)

// WebhookNotifier posts run summaries as JSON to the configured endpoint
type WebhookNotifier struct {
	url    string
	logger *logging.Logger
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier from the configuration.
// A blank WEBHOOK_URL yields a disabled notifier whose Send is a no-op.
func NewWebhookNotifier(cfg *config.Config, logger *logging.Logger) *WebhookNotifier {
	timeout := cfg.WebhookTimeoutSeconds
	if timeout <= 0 {
		timeout = 10
		logger.Debug("Invalid webhook timeout, using default: %ds", timeout)
	}

	return &WebhookNotifier{
		url:    strings.TrimSpace(cfg.WebhookURL),
		logger: logger,
		client: &http.Client{Timeout: time.Duration(timeout) * time.Second},
	}
}

// IsEnabled returns whether a webhook endpoint is configured
func (w *WebhookNotifier) IsEnabled() bool {
	return w != nil && w.url != ""
}

// Send posts the summary to the configured endpoint. Callers log the
// returned error as a warning; delivery never affects the run result.
func (w *WebhookNotifier) Send(ctx context.Context, data *RunSummary) error {
	if !w.IsEnabled() {
		return nil
	}

	parsed, err := url.Parse(w.url)
	if err != nil {
		return fmt.Errorf("invalid webhook URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("invalid webhook URL scheme %q", parsed.Scheme)
	}

	payloadBytes, err := json.Marshal(buildPayload(data))
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	w.logger.Debug("Sending webhook notification to %s (%d bytes)", maskURL(w.url), len(payloadBytes))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, parsed.String(), bytes.NewReader(payloadBytes))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", fmt.Sprintf("dumpguard/%s", data.Version))

	start := time.Now()
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	w.logger.Info("Webhook notification delivered: HTTP %d in %dms", resp.StatusCode, time.Since(start).Milliseconds())
	return nil
}

// buildPayload builds the JSON body sent to the endpoint
func buildPayload(data *RunSummary) map[string]interface{} {
	findings := make([]map[string]interface{}, 0, len(data.Findings))
	for _, f := range data.Findings {
		entry := map[string]interface{}{
			"artifact": f.Artifact,
			"outcome":  f.Outcome,
		}
		if f.Detail != "" {
			entry["detail"] = f.Detail
		}
		findings = append(findings, entry)
	}

	return map[string]interface{}{
		// Status information
		"status":    StatusFromExitCode(data.ExitCode).String(),
		"result":    data.Overall.String(),
		"exit_code": data.ExitCode,

		// System information
		"hostname":   data.Hostname,
		"backup_dir": data.BackupDir,
		"version":    data.Version,

		// Timestamp
		"timestamp":        data.StartedAt.Unix(),
		"timestamp_iso":    data.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		"duration_seconds": data.Duration.Seconds(),
		"duration_human":   FormatDuration(data.Duration),

		// Verification counts
		"artifacts": map[string]interface{}{
			"checked":         data.ArtifactsChecked,
			"matched":         data.Matched,
			"records_created": data.RecordsCreated,
			"probe_failed":    data.ProbeFailed,
			"mismatched":      data.Mismatched,
			"failed":          data.HardFailures,
			"pruned":          data.PrunedRemoved,
		},

		// Per-artifact findings
		"findings": findings,
	}
}

// maskURL masks sensitive parts of URL for logging
func maskURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "***INVALID_URL***"
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "***INVALID_URL***"
	}

	var b strings.Builder
	b.Grow(len(parsed.Scheme) + len(parsed.Host) + 16)
	b.WriteString(parsed.Scheme)
	b.WriteString("://")
	b.WriteString(parsed.Host)

	if parsed.Path != "" {
		b.WriteString("/***MASKED***")
	}

	if parsed.RawQuery != "" {
		b.WriteString("?***MASKED***")
	}

	if parsed.Fragment != "" {
		b.WriteString("#***MASKED***")
	}

	return b.String()
}
