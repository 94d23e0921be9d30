package repository

import (
	"context"

	pkgkafka "OhlcvAPI/pkg/kafka"
	applogger "OhlcvAPI/pkg/logger"
)

// KafkaLogPublisher ships aggregated error logs from the logger collector to Kafka.
type KafkaLogPublisher struct {
	producer *pkgkafka.Producer
	key      []byte
}

var _ applogger.Publisher = (*KafkaLogPublisher)(nil)

// NewKafkaLogPublisher keys every batch by service name so one service's logs stay ordered.
func NewKafkaLogPublisher(producer *pkgkafka.Producer, service string) *KafkaLogPublisher {
	return &KafkaLogPublisher{producer: producer, key: []byte(service)}
}

func (p *KafkaLogPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, p.key, payload)
}

func (p *KafkaLogPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
