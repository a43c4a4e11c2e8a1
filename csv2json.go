// Package csv2json provides a processor that converts CSV resources, located by URLs
// received on a source, into JSON messages with one message per CSV row, emitted to a sink.
// The processor is configured with a JSON processor spec, specifying the source and sink
// types, the CSV format and how the columns are projected into message fields.
package csv2json

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/zpiroux/csv2json/entity"
	"github.com/zpiroux/csv2json/internal/service"
)

// Error values returned by the csv2json API.
// Many of these errors will also contain additional details about the error.
// Error matching can still be done with 'if errors.Is(err, ErrInvalidSpec)' etc.
// due to error wrapping.
var (
	ErrConfigNotInitialized    = errors.New("csv2json.Config need to be created with NewConfig()")
	ErrProcessorNotInitialized = errors.New("processor not initialized")
	ErrInvalidSpec             = errors.New("processor spec is not valid")
	ErrInvalidEntityId         = errors.New("invalid source/sink ID")
	ErrInternalDataProcessing  = errors.New("internal data processing error")
)

// Error kinds of failed inbound messages, as returned by Processor.Publish()
var (
	ErrConfiguration       = entity.ErrConfiguration
	ErrInvalidInput        = entity.ErrInvalidInput
	ErrResourceUnavailable = entity.ErrResourceUnavailable
	ErrParse               = entity.ErrParse
	ErrEmit                = entity.ErrEmit
)

// Processor runs a single processor spec, from source to sink
type Processor struct {
	service    *service.Service
	config     *Config
	notifyChan entity.NotifyChan

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New validates the processor spec and creates the processor's internal services and executors,
// based on the provided config, which needs to be initially created with NewConfig().
func New(ctx context.Context, config *Config) (p *Processor, err error) {
	if config == nil || config.extractors == nil || config.loaders == nil {
		return nil, ErrConfigNotInitialized
	}

	spec, err := entity.NewSpec(config.Spec)
	if err != nil {
		return nil, errWithDetails(ErrInvalidSpec, err)
	}

	p = &Processor{
		config:     config,
		notifyChan: make(entity.NotifyChan, config.Ops.NotifyChanSize),
	}
	p.service, err = service.New(ctx, preProcessConfig(config, p.notifyChan), spec)
	if err != nil {
		if errors.Is(err, entity.ErrConfiguration) {
			err = errWithDetails(ErrInvalidSpec, err)
		}
		return nil, err
	}
	return p, nil
}

// Run starts up the processor's executors, as prepared by New().
// It is a blocking call until the processor is shut down, from a call to Shutdown or
// if its parent context is canceled.
func (p *Processor) Run(ctx context.Context) error {
	if p == nil || p.service == nil {
		return ErrProcessorNotInitialized
	}

	p.mu.Lock()
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()
	return p.service.Run(ctx, nil)
}

// Publish sends the URL to the source extractor of the processor, if that extractor type
// supports this optional functionality, such as the native "channel" source type and
// "pubsub". For the "channel" source the call returns when the resource has been fully
// processed, with an error matching one of the message error kinds if it failed.
//
// The returned ID is dependent on the sink type, and is the ID of the last emitted row,
// for example:
//
//	Bigtable: the row key, as specified in the rowKey section of the sink spec.
//	Firestore: the generated entity key.
//	Kafka/Pub/Sub/Redis: the ID given by the broker for the message.
func (p *Processor) Publish(ctx context.Context, url string) (id string, err error) {
	if p == nil || p.service == nil {
		return id, ErrProcessorNotInitialized
	}

	id, err = p.service.Publish(ctx, url)
	if err != nil && !isMessageError(err) {
		err = errWithDetails(ErrInternalDataProcessing, err)
	}
	return id, err
}

// OutputChannel returns the channel on which processors with the native "channel" sink
// type emit their messages. The channel is never closed.
func (p *Processor) OutputChannel() <-chan *entity.Message {
	return p.config.output.Output()
}

// NotifyChannel returns the channel where notification events are sent, regardless of
// the OpsConfig.Log setting.
func (p *Processor) NotifyChannel() entity.NotifyChan {
	return p.notifyChan
}

// Metrics returns the processing metrics accumulated by all executors of the processor
func (p *Processor) Metrics() entity.Metrics {
	return p.service.Metrics()
}

// Spec returns the validated processor spec
func (p *Processor) Spec() *entity.Spec {
	return p.service.Spec()
}

// Shutdown should be called when the app is terminating. It stops all executors and
// closes all registered entity factories.
func (p *Processor) Shutdown(ctx context.Context) error {
	if p == nil || p.service == nil {
		return ErrProcessorNotInitialized
	}
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()
	return p.service.Shutdown(ctx, nil)
}

func isMessageError(err error) bool {
	return errors.Is(err, ErrConfiguration) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrResourceUnavailable) ||
		errors.Is(err, ErrParse) ||
		errors.Is(err, ErrEmit)
}

func errWithDetails(err error, errDetails error) error {
	return fmt.Errorf("%w, details: %w", err, errDetails)
}
