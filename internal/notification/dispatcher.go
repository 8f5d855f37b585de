package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/smallbiznis/dealbridge/internal/config"
	"github.com/smallbiznis/dealbridge/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Dispatcher fans lifecycle events out to interested parties. Delivery is
// best-effort: Notify never blocks a deal transition and never returns an
// error to it.
type Dispatcher interface {
	Notify(eventType string, payload map[string]any)
}

// KafkaDispatcher publishes events to a kafka topic for the push/email/
// realtime consumers downstream.
type KafkaDispatcher struct {
	writer *kafka.Writer
	log    *zap.Logger
}

func NewKafkaDispatcher(brokers []string, topic string, log *zap.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		log: log.Named("notification.kafka"),
	}
}

func (d *KafkaDispatcher) Notify(eventType string, payload map[string]any) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		value, err := json.Marshal(map[string]any{
			"event":   eventType,
			"payload": logger.MaskJSON(payload),
			"at":      time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			d.log.Warn("notify marshal failed", zap.String("event", eventType), zap.Error(err))
			return
		}

		err = d.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(eventType),
			Value: value,
		})
		if err != nil {
			d.log.Warn("notify publish failed", zap.String("event", eventType), zap.Error(err))
		}
	}()
}

func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}

// LogDispatcher is the fallback when no brokers are configured.
type LogDispatcher struct {
	log *zap.Logger
}

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	return &LogDispatcher{log: log.Named("notification")}
}

func (d *LogDispatcher) Notify(eventType string, payload map[string]any) {
	d.log.Info("deal event", zap.String("event", eventType), zap.Any("payload", logger.MaskJSON(payload)))
}

var Module = fx.Module("notification",
	fx.Provide(func(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Dispatcher {
		if len(cfg.Kafka.Brokers) == 0 {
			return NewLogDispatcher(log)
		}
		dispatcher := NewKafkaDispatcher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return dispatcher.Close()
			},
		})
		return dispatcher
	}),
)
