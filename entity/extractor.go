package entity

import (
	"context"
	"fmt"
	"time"
)

type ExtractorFactories map[string]ExtractorFactory

// ExtractorFactory enables extractors/sources to be handled as plug-ins. A factory is
// registered with Config.RegisterExtractorType() for a source type to be available
// for processor specs.
type ExtractorFactory interface {
	// SourceId returns the source ID for which the extractor is implemented
	SourceId() string

	// NewExtractor creates a new extractor entity
	NewExtractor(ctx context.Context, c Config) (Extractor, error)

	// Close is called after client has called Processor.Shutdown()
	Close() error
}

// Extractor is the interface required for source extractor implementations, delivering
// inbound messages, each one carrying the URL of a CSV resource to convert.
type Extractor interface {

	// StreamExtract (required) continuously consumes messages from its source (until ctx is canceled),
	// and report each consumed message back to Executor with reportEvent(), for further processing.
	StreamExtract(
		ctx context.Context,
		reportEvent ProcessEventFunc,
		err *error,
		retryable *bool)

	// SendToSource (optional) enables external clients to send messages directly to the Extractor's
	// Source with Processor.Publish().
	// Currently known connectors that implement this method are:
	//		* "channel" extractor
	// 		* "pubsub" GCP extractor
	SendToSource(ctx context.Context, event any) (string, error)
}

//
// Types, etc for communication between an Extractor and it's Executor
//

// ProcessEventFunc is the type of func that an Extractor calls for each extracted message to be processed
// downstream.
//
// It is important for the Extractor to properly handle the returned EventProcessingResult.
//
//	EventProcessingResult.Status values:
//		ExecutorStatusSuccessful --> continue as normal
//		ExecutorStatusError --> handle error depending on ops.handlingOfFailedMessages in the processor spec
//		ExecutorStatusShutdown --> shut down extractor
type ProcessEventFunc func(context.Context, []Event) EventProcessingResult

type Event struct {
	Data []byte
	Ts   time.Time
	Key  []byte
}

func (e Event) String() string {
	return fmt.Sprintf("key: %s, ts: %v, data: %s\n", string(e.Key), e.Ts, string(e.Data))
}

type ExecutorStatus int

const (
	ExecutorStatusInvalid ExecutorStatus = iota
	ExecutorStatusSuccessful
	ExecutorStatusError
	ExecutorStatusShutdown
)

// EventProcessingResult is the outcome of processing one inbound message. ResourceId is
// the resource ID reported by the sink for the last emitted row, and Rows the number of
// rows emitted for the message.
type EventProcessingResult struct {
	Status     ExecutorStatus
	ResourceId string
	Rows       int
	Error      error
	Retryable  bool
}
