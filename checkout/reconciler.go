package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yashrajoria/storefront-core/common/logger"
	pkgaws "github.com/yashrajoria/storefront-core/pkg/aws"
)

const EventPaymentCapturedOrderMissing = "checkout.payment_captured_order_missing"

// ReconciliationEvent is raised once per attempt when a payment was captured but the order
// write failed. Support uses it to record the order manually or refund.
type ReconciliationEvent struct {
	Type             string    `json:"type"`
	RequestID        string    `json:"request_id"`
	PaymentReference string    `json:"payment_reference"`
	PaymentMethod    string    `json:"payment_method"`
	Amount           int64     `json:"amount"`
	Currency         string    `json:"currency"`
	BillingEmail     string    `json:"billing_email,omitempty"`
	Error            string    `json:"error"`
	OccurredAt       time.Time `json:"occurred_at"`
}

type Reconciler interface {
	Reconcile(ctx context.Context, ev ReconciliationEvent) error
}

// SNSReconciler publishes reconciliation events to an SNS topic.
type SNSReconciler struct {
	publisher pkgaws.SNSPublisher
	topicARN  string
	logger    *zap.Logger
}

func NewSNSReconciler(publisher pkgaws.SNSPublisher, topicARN string, log *zap.Logger) *SNSReconciler {
	return &SNSReconciler{publisher: publisher, topicARN: topicARN, logger: logger.OrNop(log)}
}

func (r *SNSReconciler) Reconcile(ctx context.Context, ev ReconciliationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal reconciliation event: %w", err)
	}
	msg := pkgaws.Message{
		Body:       payload,
		Attributes: map[string]string{"event_type": ev.Type, "request_id": ev.RequestID},
	}
	if err := r.publisher.Publish(ctx, r.topicARN, msg); err != nil {
		r.logger.Error("Failed to publish reconciliation event",
			zap.String("request_id", ev.RequestID),
			zap.String("payment_reference", ev.PaymentReference),
			zap.Error(err),
		)
		return err
	}
	r.logger.Info("Reconciliation event published",
		zap.String("request_id", ev.RequestID),
		zap.String("payment_reference", ev.PaymentReference),
	)
	return nil
}

// logReconciler is used when no topic is configured; the event still reaches the logs.
type logReconciler struct {
	logger *zap.Logger
}

func (r logReconciler) Reconcile(_ context.Context, ev ReconciliationEvent) error {
	r.logger.Error("Payment captured but order missing; manual reconciliation required",
		zap.String("request_id", ev.RequestID),
		zap.String("payment_reference", ev.PaymentReference),
		zap.Int64("amount", ev.Amount),
		zap.String("currency", ev.Currency),
	)
	return nil
}

// Metrics records checkout telemetry. *pkg/aws.MetricsClient satisfies it.
type Metrics interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
	RecordLatency(ctx context.Context, metricName string, duration time.Duration, dimensions map[string]string) error
}

type nopMetrics struct{}

func (nopMetrics) RecordCount(context.Context, string, map[string]string) error { return nil }

func (nopMetrics) RecordLatency(context.Context, string, time.Duration, map[string]string) error {
	return nil
}
