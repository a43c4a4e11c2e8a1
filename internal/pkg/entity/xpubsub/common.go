package xpubsub

import (
	"context"

	"cloud.google.com/go/pubsub"
)

type PubsubClient interface {
	Topic(id string) *pubsub.Topic
	CreateSubscription(ctx context.Context, id string, cfg pubsub.SubscriptionConfig) (*pubsub.Subscription, error)
	Subscription(id string) *pubsub.Subscription
}

// Topic publishes messages and blocks until the server has acknowledged them
type Topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) (string, error)
	Stop()
	String() string
}

type Subscription interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
	String() string
	Delete(ctx context.Context) error
}

// DefaultTopic wraps a pubsub topic, where the Publish result is awaited.
type DefaultTopic struct {
	topic *pubsub.Topic
}

func NewTopic(topic *pubsub.Topic) *DefaultTopic {
	return &DefaultTopic{topic: topic}
}

func (t *DefaultTopic) Publish(ctx context.Context, msg *pubsub.Message) (string, error) {
	return t.topic.Publish(ctx, msg).Get(ctx)
}

func (t *DefaultTopic) Stop() {
	t.topic.Stop()
}

func (t *DefaultTopic) String() string {
	return t.topic.String()
}

type action int

const (
	actionAck action = iota
	actionNack
	actionShutdown
)
