package xpubsub

import (
	"context"
	"fmt"
	"sync"

	"github.com/zpiroux/csv2json/entity"
)

const (
	sourceTypeId = "pubsub"
	sinkTypeId   = "pubsub"

	// Each message may result in a lengthy fetch and conversion, so keep the number of
	// fetched but not yet acked messages low.
	defaultMaxOutstandingMessages = 2
	defaultMaxOutstandingBytes    = 1024 * 1024
)

type FactoryConfig struct {
	Env                    entity.Environment
	MaxOutstandingMessages int
	MaxOutstandingBytes    int
}

type ExtractorFactory struct {
	client PubsubClient
	config FactoryConfig
}

func NewExtractorFactory(client PubsubClient, config FactoryConfig) *ExtractorFactory {
	if config.MaxOutstandingMessages <= 0 {
		config.MaxOutstandingMessages = defaultMaxOutstandingMessages
	}
	if config.MaxOutstandingBytes <= 0 {
		config.MaxOutstandingBytes = defaultMaxOutstandingBytes
	}
	return &ExtractorFactory{client: client, config: config}
}

func (ef *ExtractorFactory) SourceId() string {
	return sourceTypeId
}

func (ef *ExtractorFactory) NewExtractor(ctx context.Context, c entity.Config) (entity.Extractor, error) {
	spec := c.Spec
	extractor, err := NewExtractor(ctx, NewExtractorConfig(
		ef.client,
		spec,
		spec.Source.Config.TopicNames(ef.config.Env),
		ef.receiveSettings(spec.Source.Config)), c.ID)
	if err != nil {
		return nil, err
	}
	return extractor, nil
}

func (ef *ExtractorFactory) receiveSettings(c entity.SourceConfig) ReceiveSettings {
	rs := ReceiveSettings{
		MaxOutstandingMessages: ef.config.MaxOutstandingMessages,
		MaxOutstandingBytes:    ef.config.MaxOutstandingBytes,
	}
	if c.MaxOutstandingMessages != nil {
		rs.MaxOutstandingMessages = *c.MaxOutstandingMessages
	}
	if c.MaxOutstandingBytes != nil {
		rs.MaxOutstandingBytes = *c.MaxOutstandingBytes
	}
	return rs
}

func (ef *ExtractorFactory) Close() error {
	return nil
}

// TopicCreator returns the Topic to publish to, with message ordering enabled if requested
type TopicCreator func(name string, ordering bool) Topic

type LoaderFactory struct {
	config   FactoryConfig
	newTopic TopicCreator
	mu       sync.Mutex
	topics   map[string]Topic
}

func NewLoaderFactory(client PubsubClient, config FactoryConfig) *LoaderFactory {
	lf := &LoaderFactory{
		config: config,
		topics: make(map[string]Topic),
	}
	lf.newTopic = func(name string, ordering bool) Topic {
		topic := client.Topic(name)
		topic.EnableMessageOrdering = ordering
		return NewTopic(topic)
	}
	return lf
}

func (lf *LoaderFactory) SetTopicCreator(tc TopicCreator) {
	lf.newTopic = tc
}

func (lf *LoaderFactory) SinkId() string {
	return sinkTypeId
}

func (lf *LoaderFactory) NewLoader(ctx context.Context, c entity.Config) (entity.Loader, error) {
	spec := c.Spec
	topicSpec := spec.Sink.Config.TopicSpec(lf.config.Env)
	if topicSpec == nil || topicSpec.Name == "" {
		return nil, fmt.Errorf("%w: no sink topic found for env '%s' in processor %s", entity.ErrConfiguration, lf.config.Env, spec.Id())
	}
	ordering := spec.Sink.Config != nil && spec.Sink.Config.Message != nil && spec.Sink.Config.Message.KeyFromField != ""

	// All loaders publishing to the same topic share its publish goroutines
	lf.mu.Lock()
	topic, ok := lf.topics[topicSpec.Name]
	if !ok {
		topic = lf.newTopic(topicSpec.Name, ordering)
		lf.topics[topicSpec.Name] = topic
	}
	lf.mu.Unlock()

	return NewLoader(spec, topic, c.ID)
}

// Close stops all topics, flushing pending messages
func (lf *LoaderFactory) Close() error {
	lf.mu.Lock()
	defer lf.mu.Unlock()
	for name, topic := range lf.topics {
		topic.Stop()
		delete(lf.topics, name)
	}
	return nil
}
