package xpubsub

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/zpiroux/csv2json/entity"
)

// Loader publishes each row as a JSON Pub/Sub message. The content type is always set as a
// message attribute, and the other message headers are added as attributes if enabled with
// sink.config.message.includeHeaders. If keyFromField is set its value is used as the
// message ordering key.
type Loader struct {
	spec  *entity.Spec
	topic Topic
	id    string
}

func NewLoader(spec *entity.Spec, topic Topic, id string) (*Loader, error) {
	if topic == nil {
		return nil, fmt.Errorf("%w: no topic provided when creating loader for processor %s", entity.ErrConfiguration, spec.Id())
	}
	return &Loader{spec: spec, topic: topic, id: id}, nil
}

func (l *Loader) StreamLoad(ctx context.Context, msgs []*entity.Message) (string, error, bool) {

	if len(msgs) == 0 || msgs[0] == nil {
		return "", errors.New("streamLoad called without data to load"), false
	}

	var resourceId string
	for _, msg := range msgs {
		psMsg, err := l.pubsubMessage(msg)
		if err != nil {
			return resourceId, err, false
		}
		if resourceId, err = l.topic.Publish(ctx, psMsg); err != nil {
			log.Errorf(l.lgprfx()+"failed to publish row to topic %s, err: %v", l.topic.String(), err)
			return "", err, true
		}
		if l.spec.Ops.LogEventData {
			log.Infof(l.lgprfx()+"row published with ID %s, data: %s", resourceId, string(psMsg.Data))
		}
	}
	return resourceId, nil, false
}

func (l *Loader) pubsubMessage(msg *entity.Message) (*pubsub.Message, error) {

	data, err := msg.PayloadJSON()
	if err != nil {
		return nil, fmt.Errorf("could not encode row payload, err: %v", err)
	}

	psMsg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{entity.HeaderContentType: msg.ContentType()},
	}

	msgSpec := l.msgSpec()
	if msgSpec == nil {
		return psMsg, nil
	}
	if msgSpec.IncludeHeaders {
		for k, v := range msg.Headers {
			psMsg.Attributes[k] = v
		}
	}
	if msgSpec.KeyFromField != "" {
		psMsg.OrderingKey = msg.Payload[msgSpec.KeyFromField]
	}
	return psMsg, nil
}

func (l *Loader) msgSpec() *entity.SinkMessage {
	if l.spec.Sink.Config == nil {
		return nil
	}
	return l.spec.Sink.Config.Message
}

// Shutdown is a no-op since the topic is shared by all loaders of the factory, which stops
// it when closed.
func (l *Loader) Shutdown(ctx context.Context) {}

func (l *Loader) lgprfx() string {
	return "[xpubsub.loader:" + l.id + "] "
}
