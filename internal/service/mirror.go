package service

import (
	"context"
	"strconv"
	"time"

	"fleetsync/internal/config"
	"fleetsync/internal/model"

	jsoniter "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var jsonFast = jsoniter.ConfigFastest

// MirrorService mirrors every published batch delta onto a Kafka topic for
// downstream analytics. Fire-and-forget: nothing in this service reads the
// topic back, and a write failure never touches the client fan-out.
type MirrorService struct {
	writer *kafka.Writer
	logger *zap.SugaredLogger
}

func NewMirrorService(cfg *config.Config, logger *zap.SugaredLogger) *MirrorService {
	if !cfg.MirrorEnabled() {
		return nil
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireNone,
		Async:        true,
		Transport: &kafka.Transport{
			TLS: cfg.CreateKafkaTLSConfig(),
		},
	}

	logger.Infow("delta mirror enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	return &MirrorService{writer: writer, logger: logger}
}

// Publish writes one batch delta to the mirror topic.
func (m *MirrorService) Publish(batch model.BatchDelta) {
	payload, err := jsonFast.Marshal(batch)
	if err != nil {
		m.logger.Errorw("mirror marshal failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = m.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatUint(batch.Seq, 10)),
		Value: payload,
	})
	if err != nil {
		m.logger.Warnw("mirror write failed", "seq", batch.Seq, "error", err)
	}
}

// Close flushes and closes the writer.
func (m *MirrorService) Close() {
	if err := m.writer.Close(); err != nil {
		m.logger.Warnw("mirror close failed", "error", err)
	}
}
