package xkafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/zpiroux/csv2json/entity"
)

const flushTimeoutSec = 10

// Loader publishes each row as a JSON Kafka message on the sink topic. The content type is
// always set as a message header, and the other message headers are added if enabled with
// sink.config.message.includeHeaders.
type Loader struct {
	pf                            ProducerFactory
	producer                      Producer
	ac                            AdminClient
	config                        *Config
	id                            string
	eventCount                    int64
	requestShutdown               atomic.Bool
	sm                            sync.Mutex // shutdown mutex
	shutdownDeliveryReportHandler context.CancelFunc
}

func NewLoader(ctx context.Context, config *Config, id string, pf ProducerFactory) (*Loader, error) {

	var err error
	if isNil(pf) {
		pf = DefaultProducerFactory{}
	}

	l := &Loader{
		pf:     pf,
		config: config,
		id:     id,
	}

	if config.sinkTopic == nil {
		return l, fmt.Errorf("%w: no topic spec provided when creating loader for processor %s", entity.ErrConfiguration, config.spec.Id())
	} else if config.sinkTopic.Name == "" {
		return l, fmt.Errorf("%w: no topic name provided when creating loader for processor %s", entity.ErrConfiguration, config.spec.Id())
	}

	if err = l.createProducer(); err != nil {
		return l, err
	}

	admcli, err := l.pf.NewAdminClientFromProducer(l.producer)
	if err != nil {
		return l, fmt.Errorf(l.lgprfx()+"couldn't create admin client, err: %v", err)
	}
	l.ac = admcli

	if err = l.createTopic(ctx, l.config.sinkTopic); err != nil {
		return l, err
	}

	if !l.config.synchronous {
		// Detached from ctx, so that a done creation context is always seen as a shutdown request
		ctxDRH, cancel := context.WithCancel(context.Background())
		l.shutdownDeliveryReportHandler = cancel
		go l.deliveryReportHandler(ctx, ctxDRH)
	}
	return l, nil
}

func (l *Loader) StreamLoad(ctx context.Context, msgs []*entity.Message) (string, error, bool) {

	if l.requestShutdown.Load() {
		return "", entity.ErrEntityShutdownRequested, false
	}

	if len(msgs) == 0 || msgs[0] == nil {
		return "", errors.New("streamLoad called without data to load"), false
	}

	var (
		resourceId string
		err        error
		retryable  bool
	)
	for _, msg := range msgs {
		km, err := l.kafkaMessage(msg)
		if err != nil {
			return resourceId, err, false
		}
		if resourceId, err, retryable = l.publishMessage(km); err != nil {
			return resourceId, err, retryable
		}
	}
	return resourceId, err, retryable
}

func (l *Loader) kafkaMessage(msg *entity.Message) (*kafka.Message, error) {

	value, err := msg.PayloadJSON()
	if err != nil {
		return nil, fmt.Errorf("could not encode row payload, err: %v", err)
	}

	km := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &l.config.sinkTopic.Name, Partition: kafka.PartitionAny},
		Value:          value,
	}

	msgSpec := l.config.spec.Sink.Config.Message
	if msgSpec != nil && msgSpec.KeyFromField != "" {
		if key, ok := msg.Payload[msgSpec.KeyFromField]; ok {
			km.Key = []byte(key)
		}
	}

	if msgSpec != nil && msgSpec.IncludeHeaders {
		for _, k := range []string{entity.HeaderContentType, entity.HeaderId, entity.HeaderTimestamp, entity.HeaderSourceUrl, entity.HeaderRowNumber} {
			if v, ok := msg.Headers[k]; ok {
				km.Headers = append(km.Headers, kafka.Header{Key: k, Value: []byte(v)})
			}
		}
	} else {
		km.Headers = []kafka.Header{{Key: entity.HeaderContentType, Value: []byte(msg.ContentType())}}
	}
	return km, nil
}

func (l *Loader) Shutdown(ctx context.Context) {
	l.sm.Lock()
	defer l.sm.Unlock()
	log.Infof(l.lgprfx() + "shutdown initiated")
	if l.producer != nil {
		if unflushed := l.producer.Flush(flushTimeoutSec * 1000); unflushed > 0 {
			log.Errorf(l.lgprfx()+"%d messages did not get flushed during shutdown, check for potential message loss", unflushed)
		} else {
			log.Infof(l.lgprfx() + "all messages flushed")
		}
		if l.shutdownDeliveryReportHandler != nil {
			l.shutdownDeliveryReportHandler()
		}
		l.producer.Close()
		l.producer = nil
		log.Infof(l.lgprfx()+"shutdown completed, number of published rows: %d", atomic.LoadInt64(&l.eventCount))
	}
}

func (l *Loader) createProducer() error {

	// Idempotent producer so that retried rows are not duplicated in the topic
	kconfig := l.config.kafkaConfig(kafka.ConfigMap{
		"enable.idempotence": true,
		"acks":               "all",
	})

	var err error
	l.producer, err = l.pf.NewProducer(kconfig)
	if err != nil {
		return fmt.Errorf(l.lgprfx()+"Failed to create producer: %s", err.Error())
	}

	log.Infof(l.lgprfx()+"Created producer with config: %s", l.config)
	return nil
}

func (l *Loader) publishMessage(m *kafka.Message) (string, error, bool) {

	var (
		resourceId string
		err        error
		retryable  bool
	)

	if l.config.spec.Ops.LogEventData {
		log.Debugf(l.lgprfx()+"sending row %s", string(m.Value))
	}

	start := time.Now()
	err = l.producer.Produce(m, nil)

	if !l.config.synchronous {
		if l.config.spec.Ops.LogEventData {
			log.Infof(l.lgprfx()+"row enqueued async [duration: %v] with err: %v", time.Since(start), err)
		}
		return resourceId, err, true
	}

	if err != nil {
		log.Errorf(l.lgprfx()+"kafka.producer.Produce() failed with err: %v, topic: %s", err, l.config.sinkTopic.Name)
		return resourceId, err, true
	}

	event := <-l.producer.Events()
	switch msg := event.(type) {
	case *kafka.Message:
		if msg.TopicPartition.Error != nil {
			err = fmt.Errorf("publish failed with err: %v", msg.TopicPartition.Error)
			retryable = true
		} else {
			atomic.AddInt64(&l.eventCount, 1)
			resourceId = fmt.Sprintf("%s[%d]@%v", *msg.TopicPartition.Topic, msg.TopicPartition.Partition, msg.TopicPartition.Offset)
			if l.config.spec.Ops.LogEventData {
				log.Infof(l.lgprfx()+"row published [duration: %v] to %s, key: %v value: %s",
					time.Since(start), resourceId, string(msg.Key), string(msg.Value))
			}
		}
	case kafka.Error:
		err = fmt.Errorf(l.lgprfx()+"Kafka error in producer, code: %v, event: %v", msg.Code(), msg)
		// In case of all brokers down, terminate (will be restarted with exponential backoff)
		if msg.Code() == kafka.ErrAllBrokersDown {
			err = entity.ErrEntityShutdownRequested
		}
	default:
		// We don't know if Produce() succeeded, so treat as error
		err = fmt.Errorf(l.lgprfx()+"unexpected Kafka info event from Kafka Producer report: %v", msg)
		retryable = true
	}

	return resourceId, err, retryable
}

func (l *Loader) deliveryReportHandler(ctxParent context.Context, ctxThis context.Context) {

	for {
		select {

		case <-ctxParent.Done():
			log.Infof(l.lgprfx() + "[DRH] parent ctx closed, requesting shutdown")
			l.requestShutdown.Store(true)
			return

		case <-ctxThis.Done():
			log.Infof(l.lgprfx() + "[DRH] ctx closed, shutting down")
			return

		case e := <-l.producer.Events():
			switch event := e.(type) {
			case *kafka.Message:
				m := event
				if m.TopicPartition.Error != nil {
					log.Errorf(l.lgprfx()+"[DRH] publish failed with err: %v", m.TopicPartition.Error)
				} else {
					atomic.AddInt64(&l.eventCount, 1)
					if l.config.spec.Ops.LogEventData {
						log.Infof(l.lgprfx()+"[DRH] row published to %s [%d] at offset: %v, key: %v value: %s",
							*m.TopicPartition.Topic, m.TopicPartition.Partition,
							m.TopicPartition.Offset, string(m.Key), string(m.Value))
					}
				}

			case kafka.Error:
				if event.IsFatal() {
					log.Errorf(l.lgprfx()+"[DRH] fatal error: %v, requesting shutdown", event)
					l.requestShutdown.Store(true)
				} else {
					log.Errorf(l.lgprfx()+"[DRH] error: %v", event)
				}

			default:
				log.Infof(l.lgprfx()+"[DRH] Ignored event: %s", event)
			}
		}
	}
}

func (l *Loader) createTopic(ctx context.Context, topicSpec *entity.TopicSpecification) error {

	// Several instances of the same processor may attempt to create the topic
	l.config.topicMutex.Lock()
	defer l.config.topicMutex.Unlock()

	topic := kafka.TopicSpecification{
		Topic:             topicSpec.Name,
		NumPartitions:     topicSpec.NumPartitions,
		ReplicationFactor: topicSpec.ReplicationFactor,
	}
	if topic.NumPartitions == 0 {
		topic.NumPartitions = 1
	}
	if topic.ReplicationFactor == 0 {
		topic.ReplicationFactor = 1
	}

	res, err := l.ac.CreateTopics(ctx, []kafka.TopicSpecification{topic})
	if err != nil {
		log.Errorf(l.lgprfx()+"could not create topic with spec: %+v, err: %v", topic, err)
		return err
	}

	for _, r := range res {
		switch r.Error.Code() {
		case kafka.ErrNoError:
			log.Infof(l.lgprfx()+"topic created: %+v", r)
		case kafka.ErrTopicAlreadyExists:
			log.Infof(l.lgprfx()+"topic %s for this processor already exists", topicSpec.Name)
		default:
			return fmt.Errorf(l.lgprfx()+"could not create topic %s, err: %v", r.Topic, r.Error)
		}
	}
	return nil
}

func (l *Loader) lgprfx() string {
	return "[xkafka.loader:" + l.id + "] "
}
