package xkafka

import (
	"context"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/kafka"
)

// The parts of the confluent-kafka-go clients used by the Extractor and Loader, so that
// tests can run without brokers.

type Consumer interface {
	SubscribeTopics(topics []string, rebalanceCb kafka.RebalanceCb) error
	Poll(timeoutMs int) kafka.Event
	StoreOffsets(offsets []kafka.TopicPartition) ([]kafka.TopicPartition, error)
	Close() error
}

type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// AdminClient is only used by the Loader, for creating its sink topic
type AdminClient interface {
	CreateTopics(ctx context.Context, topics []kafka.TopicSpecification, options ...kafka.CreateTopicsAdminOption) ([]kafka.TopicResult, error)
}

type ConsumerFactory interface {
	NewConsumer(conf *kafka.ConfigMap) (Consumer, error)
}

type ProducerFactory interface {
	NewProducer(conf *kafka.ConfigMap) (Producer, error)
	NewAdminClientFromProducer(p Producer) (AdminClient, error)
}

type DefaultConsumerFactory struct{}

func (DefaultConsumerFactory) NewConsumer(conf *kafka.ConfigMap) (Consumer, error) {
	return kafka.NewConsumer(conf)
}

type DefaultProducerFactory struct{}

func (DefaultProducerFactory) NewProducer(conf *kafka.ConfigMap) (Producer, error) {
	return kafka.NewProducer(conf)
}

// NewAdminClientFromProducer shares the producer's connection, so p needs to be a
// *kafka.Producer created by NewProducer.
func (DefaultProducerFactory) NewAdminClientFromProducer(p Producer) (AdminClient, error) {
	kp, ok := p.(*kafka.Producer)
	if !ok {
		return nil, fmt.Errorf("admin client requires a *kafka.Producer, got %T", p)
	}
	ac, err := kafka.NewAdminClientFromProducer(kp)
	if err != nil {
		return nil, err
	}
	return ac, nil
}
