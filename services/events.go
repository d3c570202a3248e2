package services

import (
	"context"
	"encoding/json"
	"time"

	"checkout-service/models"
	awspkg "checkout-service/pkg/aws"

	"go.uber.org/zap"
)

// EventPublisher emits order lifecycle events. Publishing is best-effort and
// never fails the operation that produced the event.
type EventPublisher interface {
	Publish(ctx context.Context, evt models.OrderEvent)
}

type snsEventPublisher struct {
	snsClient   awspkg.SNSPublisher
	snsTopicArn string
	logger      *zap.Logger
}

func NewEventPublisher(snsClient awspkg.SNSPublisher, snsTopicArn string, logger *zap.Logger) EventPublisher {
	return &snsEventPublisher{snsClient: snsClient, snsTopicArn: snsTopicArn, logger: logger}
}

func (p *snsEventPublisher) Publish(ctx context.Context, evt models.OrderEvent) {
	if p.snsClient == nil || p.snsTopicArn == "" {
		p.logger.Debug("SNS not configured, skipping event", zap.String("type", evt.Type))
		return
	}

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	eventBytes, err := json.Marshal(evt)
	if err != nil {
		p.logger.Error("Failed to marshal order event", zap.String("type", evt.Type), zap.Error(err))
		return
	}

	if err := p.snsClient.Publish(ctx, p.snsTopicArn, eventBytes, map[string]string{"event_type": evt.Type}); err != nil {
		p.logger.Error("Failed to publish order event",
			zap.String("type", evt.Type),
			zap.String("order_number", evt.OrderNumber),
			zap.Error(err),
		)
		return
	}

	p.logger.Info("Published order event",
		zap.String("type", evt.Type),
		zap.String("order_number", evt.OrderNumber),
	)
}

func orderEvent(eventType string, o *models.Order, comment string) models.OrderEvent {
	evt := models.OrderEvent{
		Type:          eventType,
		OrderID:       o.ID.String(),
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PaymentMethod: o.PaymentMethod,
		Total:         o.Total.StringFixed(2),
		Comment:       comment,
		Timestamp:     time.Now().UTC(),
	}
	if o.UserID != nil {
		evt.UserID = *o.UserID
	}
	return evt
}

// metricsEmitter sends data points off the request path.
type metricsEmitter struct {
	recorder awspkg.MetricsRecorder
	logger   *zap.Logger
}

func (m metricsEmitter) count(name string, dims map[string]string) {
	m.emit(func(ctx context.Context) error { return m.recorder.RecordCount(ctx, name, dims) })
}

func (m metricsEmitter) value(name string, v float64, dims map[string]string) {
	m.emit(func(ctx context.Context) error { return m.recorder.RecordValue(ctx, name, v, dims) })
}

func (m metricsEmitter) latency(name string, d time.Duration, dims map[string]string) {
	m.emit(func(ctx context.Context) error { return m.recorder.RecordLatency(ctx, name, d, dims) })
}

func (m metricsEmitter) emit(fn func(ctx context.Context) error) {
	if m.recorder == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := fn(ctx); err != nil {
			m.logger.Debug("Failed to record metric", zap.Error(err))
		}
	}()
}
