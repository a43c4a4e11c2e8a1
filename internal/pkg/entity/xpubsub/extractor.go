package xpubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/teltech/logger"
	"github.com/zpiroux/csv2json/entity"
	"google.golang.org/api/googleapi"
)

const (
	SubTypeShared = "shared"
	SubTypeUnique = "unique"

	ALREADY_EXISTS = 409 // Defined here due to lack of proper other place in GCP libs
)

// Can't use normal ISO format for sub IDs. Using dots instead of colons.
const timestampLayoutMicros = "2006-01-02T15.04.05.000000Z"

var log *logger.Log

func init() {
	log = logger.New()
}

type ExtractorConfig struct {
	client PubsubClient
	spec   *entity.Spec
	topics []string
	rs     ReceiveSettings
}

func NewExtractorConfig(
	client PubsubClient,
	spec *entity.Spec,
	topics []string,
	rs ReceiveSettings) *ExtractorConfig {
	return &ExtractorConfig{
		client: client,
		spec:   spec,
		topics: topics,
		rs:     rs,
	}
}

type ReceiveSettings struct {
	MaxOutstandingMessages int
	MaxOutstandingBytes    int
}

// Extractor receives URL messages from a Pub/Sub subscription. Each message is acked only
// after all of its rows have been emitted.
type Extractor struct {
	config     *ExtractorConfig
	topic      Topic
	sub        Subscription
	ack        MsgAckFunc
	nack       MsgAckFunc
	id         string
	eventCount uint64
}

// The pubsub Extractor expects the pubsub topic to extract from, to already exist
func NewExtractor(ctx context.Context, config *ExtractorConfig, id string) (*Extractor, error) {

	var (
		err     error
		subName string
	)

	extractor := &Extractor{
		config: config,
		id:     id,
	}

	if len(config.topics) == 0 {
		return extractor, fmt.Errorf("%w: no topics provided when creating extractor for processor %s", entity.ErrConfiguration, config.spec.Id())
	}
	if config.client == nil {
		return extractor, fmt.Errorf("%w: no pubsub client provided when creating extractor for processor %s", entity.ErrConfiguration, config.spec.Id())
	}
	sub := config.spec.Source.Config.Subscription
	if sub == nil {
		return extractor, fmt.Errorf("%w: no subscription config provided for processor %s", entity.ErrConfiguration, config.spec.Id())
	}

	topic := config.client.Topic(config.topics[0]) // currently only support single topic in pubsub

	switch sub.Type {
	case SubTypeShared:
		subName = sub.Name
	case SubTypeUnique:
		subName = "csv2json-" + id + "-" + time.Now().UTC().Format(timestampLayoutMicros)
	default:
		return extractor, fmt.Errorf("%w: pubsub subscription type %s not supported", entity.ErrConfiguration, sub.Type)
	}

	extractor.sub, err = config.client.CreateSubscription(ctx, subName, pubsub.SubscriptionConfig{Topic: topic})

	if err != nil {
		// These if/elses are caused by the not so user friendly error handling design in GCP Pubsub Go lib.
		if sub.Type != SubTypeShared {
			return extractor, err
		}
		var e *googleapi.Error
		if (errors.As(err, &e) && e.Code == ALREADY_EXISTS) || strings.Contains(err.Error(), "AlreadyExists") {
			extractor.sub = config.client.Subscription(subName)
			log.Infof(extractor.lgprfx()+"subscription %s already exists (err: %v)", subName, err)
		} else {
			return extractor, err
		}
	}

	if s, ok := extractor.sub.(*pubsub.Subscription); ok {
		s.ReceiveSettings = pubsub.ReceiveSettings{
			MaxOutstandingMessages: config.rs.MaxOutstandingMessages,
			MaxOutstandingBytes:    config.rs.MaxOutstandingBytes,
		}
	}

	extractor.ack = extractor.ackMsg
	extractor.nack = extractor.nackMsg
	extractor.topic = NewTopic(topic)

	log.Infof(extractor.lgprfx()+"Pubsub Extractor created, topic: %s, subscription: %s", topic.String(), extractor.sub.String())
	return extractor, nil
}

func (e *Extractor) StreamExtract(
	ctx context.Context,
	reportEvent entity.ProcessEventFunc,
	err *error,
	retryable *bool) {

	var errPubsub error

	if e.config.spec.Source.Config.Subscription.Type == SubTypeUnique {
		defer func() {
			ctxSubDelete := context.Background() // Need fresh ctx here to avoid ctx canceled error
			err := e.sub.Delete(ctxSubDelete)
			log.Infof(e.lgprfx()+"unique sub %s deleted, err: %v", e.sub.String(), err)
		}()
	}

	log.Infof(e.lgprfx()+"starting up pubsub Receive() on subscription %s", e.sub.String())

	// All messages from pubsub's Receive goroutines are funneled through this channel and processed
	// by a single goroutine per extractor, so that each message is acked only when all of its rows
	// have been accepted by the sink. Scaling is done with ops.streamsPerPod instead, where each
	// executor gets its own extractor sharing the subscription.
	msgChan := make(chan *pubsub.Message)
	done := make(chan struct{})
	psReceiveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer close(done)
		shutdownInProgress := false
		for msg := range msgChan {

			if shutdownInProgress {
				e.nack(msg)
				continue
			}

			events := []entity.Event{{
				Key:  []byte(msg.ID),
				Ts:   msg.PublishTime,
				Data: msg.Data,
			}}

			result := reportEvent(ctx, events)

			switch e.handleEventProcessingResult(msg, result, err, retryable) {
			case actionShutdown:
				log.Infof(e.lgprfx()+"shutting down extractor, reportEvent result: %+v", result)
				shutdownInProgress = true
				cancel()
				e.nack(msg)
			case actionNack:
				e.nack(msg)
			case actionAck:
				e.ack(msg)
				atomic.AddUint64(&e.eventCount, 1)
			}
		}
	}()

	for {
		errPubsub = e.sub.Receive(psReceiveCtx, func(ctx context.Context, msg *pubsub.Message) {
			msgChan <- msg
		})

		// Sometimes PubSub gives deadline exceeded error, for example due to internal pubsub service
		// or network error. If so, the best way to proceed is to just re-initiate the receive operation.
		if errPubsub != nil && ctx.Err() != context.Canceled && psReceiveCtx.Err() == nil {
			if errPubsub.Error() == context.DeadlineExceeded.Error() {
				log.Warnf(e.lgprfx()+"sub.Receive() terminated, err: '%s'. Re-initiating operation.", errPubsub)
				continue
			}
		}
		break
	}
	close(msgChan)
	<-done

	exitStr := "Pubsub subscriber terminated"
	if ctx.Err() == context.Canceled {
		log.Infof(e.lgprfx()+"%s (context.Canceled, err: '%v')", exitStr, errPubsub)
	} else if errPubsub == nil {
		log.Infof(e.lgprfx()+"%s (no error), ctx.Err: '%v'", exitStr, ctx.Err())
	} else {
		log.Errorf(e.lgprfx()+"%s, Error: '%s', ctx.Err: '%v'", exitStr, errPubsub, ctx.Err())
	}
	log.Infof(e.lgprfx()+"Total number of messages received: %d", atomic.LoadUint64(&e.eventCount))

	if errPubsub != nil {
		*err = errPubsub
		*retryable = true
	}
}

// SendToSource publishes a URL message on the source topic
func (e *Extractor) SendToSource(ctx context.Context, eventData any) (string, error) {

	var msgData []byte

	switch eventData := eventData.(type) {
	case string:
		msgData = []byte(eventData)
	case []byte:
		msgData = eventData
	default:
		return "", fmt.Errorf("%w: invalid type for eventData (%T), only string and []byte allowed", entity.ErrInvalidInput, eventData)
	}

	id, err := e.topic.Publish(ctx, &pubsub.Message{Data: msgData})
	if err != nil {
		log.Errorf(e.lgprfx()+"failed to publish: %v", err)
		return "", err
	}
	log.Infof(e.lgprfx()+"Published message with ID: %v", id)
	return id, nil
}

func (e *Extractor) handleEventProcessingResult(
	msg *pubsub.Message,
	result entity.EventProcessingResult,
	err *error,
	retryable *bool) action {

	switch result.Status {

	case entity.ExecutorStatusSuccessful:
		if result.Error != nil {
			log.Errorf(e.lgprfx()+"bug in executor, shutting down, result.Error should be nil if ExecutorStatusSuccessful, result: %+v", result)
			return actionShutdown
		}
		return actionAck

	case entity.ExecutorStatusShutdown:
		log.Warnf(e.lgprfx()+"shutting down extractor due to executor shutdown, reportEvent result: %+v", result)
		*retryable = false
		return actionShutdown

	case entity.ExecutorStatusError:
		*retryable = false
		log.Warnf(e.lgprfx()+"processing failed for message %s with payload: '%s', rows emitted: %d, err: %v",
			msg.ID, string(msg.Data), result.Rows, result.Error)

		switch e.config.spec.Ops.HandlingOfFailedMessages {

		case entity.HofmDefault:
			log.Warnf(e.lgprfx() + "nacking failed message, it will be redelivered by Pub/Sub")
			return actionNack

		case entity.HofmDiscard:
			log.Warnf(e.lgprfx()+"discarding failed message, processor: %s", e.config.spec.Id())
			return actionAck

		case entity.HofmFail:
			*err = fmt.Errorf(e.lgprfx()+"processing of message '%s' failed and ops.handlingOfFailedMessages is 'fail', "+
				"shutting down processor, requiring manual/external restart, err: %w", string(msg.Data), result.Error)
			return actionShutdown
		}
	}
	*err = fmt.Errorf("encountered a 'should not happen' error in Extractor.handleEventProcessingResult, "+
		"shutting down processor, reportEvent result %+v, message: %s", result, string(msg.Data))
	*retryable = false
	return actionShutdown
}

func (e *Extractor) SetSub(sub Subscription) {
	e.sub = sub
}

func (e *Extractor) SetTopic(topic Topic) {
	e.topic = topic
}

type MsgAckFunc func(*pubsub.Message)

func (e *Extractor) SetMsgAckNackFunc(ack MsgAckFunc, nack MsgAckFunc) {
	e.ack = ack
	e.nack = nack
}

func (e *Extractor) ackMsg(m *pubsub.Message) {
	m.Ack()
}

func (e *Extractor) nackMsg(m *pubsub.Message) {
	m.Nack()
}

func (e *Extractor) lgprfx() string {
	return "[xpubsub.extractor:" + e.id + "] "
}
