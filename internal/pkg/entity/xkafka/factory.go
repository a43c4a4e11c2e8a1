package xkafka

import (
	"context"
	"sync"

	"github.com/zpiroux/csv2json/entity"
)

const (
	sourceTypeId = "kafka"
	sinkTypeId   = "kafka"

	defaultPollTimeoutMs       = 3000
	defaultQueuedMaxMessagesKb = 2048
)

// FactoryConfig holds the deployment specific Kafka config, shared by all processors
// using the Kafka source or sink.
type FactoryConfig struct {
	Env                 entity.Environment
	BootstrapServers    string
	PollTimeoutMs       int
	QueuedMaxMessagesKb int

	// Props are added to all consumer and producer configs, e.g. SASL settings.
	// Properties in the processor spec override these.
	Props ConfigMap
}

// Several instances of a processor may attempt to create the same sink topic. The mutex
// scope is per process, and topic creation is idempotent across processes.
var topicMutex sync.Mutex

type ExtractorFactory struct {
	config FactoryConfig
	cf     ConsumerFactory
}

func NewExtractorFactory(config FactoryConfig) *ExtractorFactory {
	if config.PollTimeoutMs <= 0 {
		config.PollTimeoutMs = defaultPollTimeoutMs
	}
	if config.QueuedMaxMessagesKb <= 0 {
		config.QueuedMaxMessagesKb = defaultQueuedMaxMessagesKb
	}
	return &ExtractorFactory{config: config, cf: DefaultConsumerFactory{}}
}

// SetConsumerFactory replaces the underlying Kafka consumer factory, e.g. with mocks
func (ef *ExtractorFactory) SetConsumerFactory(cf ConsumerFactory) {
	ef.cf = cf
}

func (ef *ExtractorFactory) SourceId() string {
	return sourceTypeId
}

func (ef *ExtractorFactory) NewExtractor(ctx context.Context, c entity.Config) (entity.Extractor, error) {
	spec := c.Spec
	config := NewExtractorConfig(spec, spec.Source.Config.TopicNames(ef.config.Env), &topicMutex)

	config.SetPollTimeout(ef.config.PollTimeoutMs)
	if spec.Source.Config.PollTimeoutMs != nil {
		config.SetPollTimeout(*spec.Source.Config.PollTimeoutMs)
	}

	// Deployment defaults
	config.AddProps(ConfigMap{
		"bootstrap.servers":        ef.config.BootstrapServers,
		"group.id":                 spec.Id(),
		"enable.auto.commit":       true,
		"enable.auto.offset.store": false,

		// Fetching and converting large CSV resources may take a while
		"max.poll.interval.ms": 600000,

		// To not go OOM if big backlog, set this low. Each message is only a URL.
		"queued.max.messages.kbytes": ef.config.QueuedMaxMessagesKb,
	})
	config.AddProps(ef.config.Props)

	// Props from processor spec could override deployment defaults
	for _, prop := range spec.Source.Config.Properties {
		config.SetProp(prop.Key, prop.Value)
	}

	extractor, err := NewExtractor(config, c.ID)
	if err != nil {
		return nil, err
	}
	extractor.SetConsumerFactory(ef.cf)
	return extractor, nil
}

func (ef *ExtractorFactory) Close() error {
	return nil
}

type LoaderFactory struct {
	config FactoryConfig
	pf     ProducerFactory
}

func NewLoaderFactory(config FactoryConfig) *LoaderFactory {
	return &LoaderFactory{config: config, pf: DefaultProducerFactory{}}
}

// SetProducerFactory replaces the underlying Kafka producer factory, e.g. with mocks
func (lf *LoaderFactory) SetProducerFactory(pf ProducerFactory) {
	lf.pf = pf
}

func (lf *LoaderFactory) SinkId() string {
	return sinkTypeId
}

func (lf *LoaderFactory) NewLoader(ctx context.Context, c entity.Config) (entity.Loader, error) {
	spec := c.Spec

	synchronous := false
	if spec.Sink.Config != nil && spec.Sink.Config.Synchronous != nil {
		synchronous = *spec.Sink.Config.Synchronous
	}

	config := NewLoaderConfig(spec, spec.Sink.Config.TopicSpec(lf.config.Env), &topicMutex, synchronous)
	config.AddProps(ConfigMap{
		"bootstrap.servers": lf.config.BootstrapServers,
		"client.id":         "csv2json-" + spec.Id(),
	})
	config.AddProps(lf.config.Props)
	if spec.Sink.Config != nil {
		for _, prop := range spec.Sink.Config.Properties {
			config.SetProp(prop.Key, prop.Value)
		}
	}

	loader, err := NewLoader(ctx, config, c.ID, lf.pf)
	if err != nil {
		return nil, err
	}
	return loader, nil
}

func (lf *LoaderFactory) Close() error {
	return nil
}
