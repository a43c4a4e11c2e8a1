package csv2json

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zpiroux/csv2json/entity"
	"github.com/zpiroux/csv2json/internal/pkg/assembly"
	"github.com/zpiroux/csv2json/internal/pkg/entity/channel"
	"github.com/zpiroux/csv2json/internal/pkg/entity/void"
	"github.com/zpiroux/csv2json/internal/pkg/resource"
	"github.com/zpiroux/csv2json/internal/service"
)

const (
	defaultMaxStreamRetryIntervalSec = 300
	defaultEventLogInterval          = 10000
	defaultOutputBufferSize          = 100
)

// Config needs to be created with NewConfig() and filled in with config as applicable
// for the intended setup, and provided in the call to csv2json.New().
// Only Spec is required. See individual struct types for documentation.
type Config struct {

	// Spec is the JSON processor spec, validated when the processor is created
	Spec []byte

	// Env specifies which environment string to match against env specific parts of the
	// spec, such as Pub/Sub and Kafka topic names. If empty only entries for all
	// environments are regarded.
	Env string

	Ops   OpsConfig
	Fetch FetchConfig
	Hooks HookConfig

	// Extractors and Loaders are added to the config with Config.RegisterExtractorType()
	// and Config.RegisterLoaderType().
	extractors entity.ExtractorFactories
	loaders    entity.LoaderFactories
	output     *channel.LoaderFactory
}

// OpsConfig provide options for observability and resilience.
type OpsConfig struct {

	// The maximum interval used by the executors during exponential backoff when
	// restarting an extractor that returned a retryable error. Sink errors are never
	// retried; they fail the message.
	MaxStreamRetryIntervalSec int

	// Size of the notification channel buffer
	NotifyChanSize int

	// If set to true native logging will be used (debug, info, warn, and error logs).
	// If set to false (default) no standard logging will be done, but the same type of
	// information will be provided on the notification channel, accessible with
	// Processor.NotifyChannel().
	Log bool

	// The interval, in number of inbound messages, used for logging processing metrics
	EventLogInterval int

	// Size of the buffer of the channel returned by Processor.OutputChannel(), used by
	// processors with the "channel" sink type.
	OutputBufferSize int

	// If set, the processor's Prometheus instruments are registered here
	MetricsRegisterer prometheus.Registerer
}

// FetchConfig specifies how CSV resources are fetched.
type FetchConfig struct {

	// HTTPClient is used for http(s) resources. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// HookConfig enables a client to inject custom logic to the row processing, such as
// enrichment and value based filtering.
type HookConfig struct {
	PostProjectionHookFunc entity.PostProjectionHookFunc
}

// NewConfig returns an initialized Config struct, required for csv2json.New().
// With this config applicable Source/Sink extractors/loaders should be registered
// before calling csv2json.New().
func NewConfig(spec []byte) *Config {
	return &Config{
		Spec: spec,
		Ops: OpsConfig{
			EventLogInterval:          defaultEventLogInterval,
			MaxStreamRetryIntervalSec: defaultMaxStreamRetryIntervalSec,
			OutputBufferSize:          defaultOutputBufferSize,
		},
		extractors: make(entity.ExtractorFactories),
		loaders:    make(entity.LoaderFactories),
	}
}

// RegisterLoaderType is used to prepare config to make this particular Sink/Loader type
// available for the processor spec to use. This can only be done after a
// csv2json.NewConfig() and prior to creating the processor with csv2json.New().
func (c *Config) RegisterLoaderType(loaderFactory entity.LoaderFactory) error {
	if _, ok := entity.ReservedEntityNames[loaderFactory.SinkId()]; ok {
		return ErrInvalidEntityId
	}
	c.registerLoaderType(loaderFactory)
	return nil
}

// RegisterExtractorType is used to prepare config to make this particular Source/Extractor
// type available for the processor spec to use. This can only be done after a
// csv2json.NewConfig() and prior to creating the processor with csv2json.New().
func (c *Config) RegisterExtractorType(extractorFactory entity.ExtractorFactory) error {
	if _, ok := entity.ReservedEntityNames[extractorFactory.SourceId()]; ok {
		return ErrInvalidEntityId
	}
	c.registerExtractorType(extractorFactory)
	return nil
}

func (c *Config) registerLoaderType(loaderFactory entity.LoaderFactory) {
	c.loaders[loaderFactory.SinkId()] = loaderFactory
}

func (c *Config) registerExtractorType(extractorFactory entity.ExtractorFactory) {
	c.extractors[extractorFactory.SourceId()] = extractorFactory
}

func preProcessConfig(config *Config, notifyChan entity.NotifyChan) service.Config {

	// Register native loader/sink types
	if config.output == nil {
		size := config.Ops.OutputBufferSize
		if size <= 0 {
			size = defaultOutputBufferSize
		}
		config.output = channel.NewLoaderFactory(size)
	}
	config.registerExtractorType(channel.NewExtractorFactory())
	config.registerLoaderType(config.output)
	config.registerLoaderType(void.NewLoaderFactory())

	// Convert external config to internal
	var c service.Config
	c.Entity = assembly.Config{
		Env:        entity.Environment(config.Env),
		Loaders:    config.loaders,
		Extractors: config.extractors,
		NotifyChan: notifyChan,
		Log:        config.Ops.Log,
	}
	c.Engine.Log = config.Ops.Log
	c.Engine.NotifyChan = notifyChan
	c.Engine.EventLogInterval = config.Ops.EventLogInterval
	c.Engine.MaxStreamRetryIntervalSec = config.Ops.MaxStreamRetryIntervalSec
	c.Opener = &resource.DefaultOpener{Client: config.Fetch.HTTPClient}
	c.Hook = config.Hooks.PostProjectionHookFunc
	c.MetricsRegisterer = config.Ops.MetricsRegisterer

	return c
}
