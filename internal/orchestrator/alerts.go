package orchestrator

import (
	"context"
	"time"

	"brokerops/internal/logger"
	"brokerops/pkg/metrics"
)

// Alert is an operator-visible notification about a batch that needs
// attention: a stage failure, an escalation, or incomplete enrichment.
type Alert struct {
	BatchID   string    `json:"batch_id"`
	QueueKey  string    `json:"queue_key"`
	Stage     string    `json:"stage,omitempty"`
	Reason    string    `json:"reason"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	AlertStageFailed       = "stage_failed"
	AlertEscalation        = "escalation"
	AlertPartialEnrichment = "partial_enrichment"
	AlertAckDropped        = "ack_dropped"
)

// Alerter publishes operator alerts. Publishing is best-effort: a
// failed alert is logged, never allowed to fail the batch further.
type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}

// LogAlerter is the fallback when no alert topic is configured.
type LogAlerter struct {
	Logger logger.Logger
}

func (a *LogAlerter) Alert(ctx context.Context, alert Alert) error {
	metrics.OperatorAlertsTotal.WithLabelValues(alert.Reason).Inc()
	a.Logger.ErrorwCtx(ctx, "Operator alert",
		"batch_id", alert.BatchID,
		"queue_key", alert.QueueKey,
		"stage", alert.Stage,
		"reason", alert.Reason,
		"detail", alert.Detail,
	)
	return nil
}
