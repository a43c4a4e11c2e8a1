package xkafka

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/teltech/logger"
	"github.com/zpiroux/csv2json/entity"
)

type action int

const (
	actionContinue action = iota
	actionShutdown
)

var log *logger.Log

func init() {
	log = logger.New()
}

// Extractor consumes URL messages from Kafka topics. Offsets are stored only after the
// executor has finished processing a message, and committed by the consumer's auto commit.
type Extractor struct {
	cf         ConsumerFactory
	consumer   Consumer
	config     *Config
	id         string
	eventCount int64
}

func NewExtractor(config *Config, id string) (*Extractor, error) {

	e := &Extractor{
		cf:     DefaultConsumerFactory{},
		config: config,
		id:     id,
	}
	if len(config.topics) == 0 {
		return e, fmt.Errorf("%w: no topics provided when creating extractor for processor %s", entity.ErrConfiguration, config.spec.Id())
	}
	log.Infof(e.lgprfx()+"extractor created with config: %s", e.config)
	return e, nil
}

func (e *Extractor) StreamExtract(
	ctx context.Context,
	reportEvent entity.ProcessEventFunc,
	err *error,
	retryable *bool) {

	log.Infof(e.lgprfx()+"stream extract starting up with ops: %+v, config %s", e.config.spec.Ops, e.config)
	defer e.closeStreamExtract()

	*retryable = true
	if *err = e.initStreamExtract(); *err != nil {
		return
	}

	for {
		event := e.consumer.Poll(e.config.pollTimeout)

		if ctx.Err() == context.Canceled {
			log.Info(e.lgprfx() + "context canceled in StreamExtract")
			*retryable = false
			return
		}

		if event == nil {
			continue
		}

		switch evt := event.(type) {
		case *kafka.Message:
			if evt.TopicPartition.Error != nil {
				log.Errorf(e.lgprfx()+"topic partition error when consuming message, msg: %+v, msg value: %s, err: %s", evt, string(evt.Value), evt.TopicPartition.Error)
			}
			if e.config.spec.Ops.LogEventData {
				log.Infof(e.lgprfx()+"Message consumed from %s:%s", evt.TopicPartition, string(evt.Value))
			}

			events := []entity.Event{{
				Key:  evt.Key,
				Ts:   evt.Timestamp,
				Data: evt.Value,
			}}

			if e.handleEventProcessingResult(evt, reportEvent(ctx, events), err, retryable) == actionShutdown {
				return
			}
			e.eventCount++

		case kafka.Error:
			str := fmt.Sprintf("(%s) Kafka error in consumer, code: %v, event: %v", e.config.spec.Id(), evt.Code(), evt)
			log.Warnf(e.lgprfx() + str) // Most errors are recoverable

			// In case of all brokers down, terminate the extractor and let Executor decide what to do.
			if evt.Code() == kafka.ErrAllBrokersDown {
				*err = errors.New(str)
				return
			}
		default:
			if strings.Contains(evt.String(), "OffsetsCommitted") {
				if e.config.spec.Ops.LogEventData {
					log.Debugf(e.lgprfx()+"Kafka info event in consumer: %v", evt)
				}
			} else {
				log.Infof(e.lgprfx()+"Kafka info event in consumer: %v", evt)
			}
		}
	}
}

func (e *Extractor) handleEventProcessingResult(
	msg *kafka.Message,
	result entity.EventProcessingResult,
	err *error,
	retryable *bool) action {

	switch result.Status {

	case entity.ExecutorStatusSuccessful:
		if result.Error != nil {
			log.Errorf(e.lgprfx()+"bug in executor, shutting down, result.Error should be nil if ExecutorStatusSuccessful, result: %+v", result)
			return actionShutdown
		}
		*err = e.storeOffsets(msg)
		return actionContinue

	case entity.ExecutorStatusShutdown:
		log.Warnf(e.lgprfx()+"shutting down extractor due to executor shutdown, reportEvent result: %+v", result)
		*retryable = false
		return actionShutdown

	case entity.ExecutorStatusError:
		*retryable = false
		log.Warnf(e.lgprfx()+"processing failed for message: '%s', rows emitted: %d, err: %v", string(msg.Value), result.Rows, result.Error)

		switch e.config.spec.Ops.HandlingOfFailedMessages {

		case entity.HofmDefault, entity.HofmDiscard:
			log.Warnf(e.lgprfx()+"discarding failed message and continuing with the next one, processor: %s", e.config.spec.Id())
			*err = e.storeOffsets(msg)
			return actionContinue

		case entity.HofmFail:
			*err = fmt.Errorf(e.lgprfx()+"processing of message '%s' failed and ops.handlingOfFailedMessages is 'fail', "+
				"shutting down processor, requiring manual/external restart, err: %w", string(msg.Value), result.Error)
			return actionShutdown
		}
	}
	*err = fmt.Errorf("encountered a 'should not happen' error in Extractor.handleEventProcessingResult, "+
		"shutting down processor, reportEvent result %+v, message: %v", result, msg)
	*retryable = false
	return actionShutdown
}

func (e *Extractor) initStreamExtract() error {
	if err := e.createConsumer(e.cf); err != nil {
		return err
	}
	if err := e.consumer.SubscribeTopics(e.config.topics, nil); err != nil {
		return fmt.Errorf(e.lgprfx()+"failed subscribing to topics '%v' with err: %v", e.config.topics, err)
	}
	return nil
}

func (e *Extractor) closeStreamExtract() {
	if !isNil(e.consumer) {
		log.Infof(e.lgprfx()+"closing Kafka consumer, consumed messages: %d", e.eventCount)
		if err := e.consumer.Close(); err != nil {
			log.Errorf(e.lgprfx()+"error closing Kafka consumer, err: %v", err)
		} else {
			log.Infof(e.lgprfx() + "Kafka consumer closed successfully")
		}
	}
	log.Infof(e.lgprfx() + "terminated")
}

func (e *Extractor) SendToSource(ctx context.Context, eventData any) (string, error) {
	return "", errors.New("publishing to a kafka source is not supported, produce to one of its topics instead")
}

func (e *Extractor) SetConsumerFactory(cf ConsumerFactory) {
	e.cf = cf
}

func (e *Extractor) createConsumer(cf ConsumerFactory) error {

	consumer, err := cf.NewConsumer(e.config.kafkaConfig(nil))
	if err != nil {
		return fmt.Errorf(e.lgprfx()+"failed to create consumer, config: %s, err: %v", e.config, err.Error())
	}

	e.consumer = consumer
	log.Infof(e.lgprfx()+"Created consumer with config: %s", e.config)
	return nil
}

func (e *Extractor) storeOffsets(msg *kafka.Message) error {

	tp := msg.TopicPartition
	tp.Offset++
	offsets := []kafka.TopicPartition{tp}

	if e.config.spec.Ops.LogEventData {
		log.Debugf(e.lgprfx()+"storing offsets for message: %v, offsets: %v", msg, offsets)
	}

	// Should "never" fail since it's an in-mem operation. If it does there is no point retrying,
	// so just log error. Will in worst case cause duplicate rows, no loss.
	_, err := e.consumer.StoreOffsets(offsets)
	if err != nil {
		log.Errorf(e.lgprfx()+"error storing offsets, message: %+v, tp: %v, err: %v", msg, offsets, err)
	}
	return err
}

func (e *Extractor) lgprfx() string {
	return "[xkafka.extractor:" + e.id + "] "
}

func isNil(v any) bool {
	return v == nil || (reflect.ValueOf(v).Kind() == reflect.Ptr && reflect.ValueOf(v).IsNil())
}
