package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cml-optimizer/internal/config"
)

// minRowsForRate is the number of uploaded rows needed before the row
// failure rate is evaluated.
const minRowsForRate = 5

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertUploadFailureRate AlertType = "upload_failure_rate"
	AlertImminentFailure   AlertType = "imminent_failure"
	AlertReviewBacklog     AlertType = "review_backlog"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Row failure rate across uploads in the window.
	if snap.RowsTotal >= minRowsForRate && snap.RowFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertUploadFailureRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Upload row failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d rows in last %dh)",
				snap.RowFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.RowsFailed, snap.RowsTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.RowFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RowsFailed,
				"rows":         snap.RowsTotal,
			},
			Timestamp: now,
		})
	}

	if snap.ImminentFailures > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertImminentFailure,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d location(s) at or within %.1f years of minimum allowable thickness: %s",
				snap.ImminentFailures, a.cfg.CriticalRemainingLife, strings.Join(snap.ImminentIDs, ", "),
			),
			Details: map[string]any{
				"count":        snap.ImminentFailures,
				"location_ids": snap.ImminentIDs,
			},
			Timestamp: now,
		})
	}

	if a.cfg.ReviewBacklogThreshold > 0 && snap.ReviewBacklog > a.cfg.ReviewBacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertReviewBacklog,
			Severity: "low",
			Message: fmt.Sprintf(
				"%d location(s) awaiting engineering review exceeds threshold %d",
				snap.ReviewBacklog, a.cfg.ReviewBacklogThreshold,
			),
			Details: map[string]any{
				"backlog":   snap.ReviewBacklog,
				"threshold": a.cfg.ReviewBacklogThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
