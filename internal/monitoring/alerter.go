package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/queryarc/queryarc-api/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertItemErrorRate AlertType = "item_error_rate"
	AlertFailedRuns    AlertType = "failed_runs"
)

// minItemsForRate keeps a handful of failed cells from tripping the rate alert.
const minItemsForRate = 20

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
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
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.ItemErrorRateThreshold > 0 && snap.Items >= minItemsForRate && snap.ItemErrorRate > a.cfg.ItemErrorRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertItemErrorRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Run item error rate %.1f%% exceeds threshold %.1f%% (%d failed / %d items in last %dh)",
				snap.ItemErrorRate*100, a.cfg.ItemErrorRateThreshold*100,
				snap.ItemErrors, snap.Items, snap.LookbackHours,
			),
			Details: map[string]any{
				"error_rate": snap.ItemErrorRate,
				"threshold":  a.cfg.ItemErrorRateThreshold,
				"errors":     snap.ItemErrors,
				"items":      snap.Items,
			},
			Timestamp: now,
		})
	}

	if a.cfg.FailedRunsThreshold > 0 && snap.Failed >= a.cfg.FailedRunsThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailedRuns,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d presence run(s) failed in last %dh",
				snap.Failed, snap.LookbackHours,
			),
			Details: map[string]any{
				"failed":    snap.Failed,
				"runs":      snap.Runs,
				"threshold": a.cfg.FailedRunsThreshold,
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
