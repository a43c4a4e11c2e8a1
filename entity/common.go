package entity

import (
	"errors"
)

// Native processor entity types (sources, sinks or both)
type EntityType string

const (
	EntityInvalid EntityType = "invalid"
	EntityVoid    EntityType = "void"
	EntityChannel EntityType = "channel"
)

var ReservedEntityNames = map[string]bool{
	string(EntityInvalid): true,
	string(EntityVoid):    true,
	string(EntityChannel): true,
}

// Config is the Entity Config to use with Entity factories
type Config struct {
	Spec       *Spec
	ID         string
	NotifyChan NotifyChan
	Log        bool
}

// Metrics provided by the engine of its operations. Accessible from the root API with
// Processor.Metrics().
type Metrics struct {

	// Total number of inbound messages (URLs) handed to the Executor by the Extractor,
	// regardless of the outcome of downstream processing.
	MessagesProcessed int64

	// Total number of inbound messages whose processing ended with an error.
	MessagesFailed int64

	// Total time spent by Executor processing all inbound messages
	MessageProcessingTimeMicros int64

	// Total amount of inbound payload data (as sent from Extractor)
	BytesProcessed int64

	// Total number of CSV data records read from fetched resources
	RowsRead int64

	// Total number of projected rows successfully accepted by the sink.
	RowsEmitted int64

	// Total number of projected rows skipped by the post projection hook.
	RowsSkipped int64

	// Total time spent loading projected rows into the sink successfully
	SinkProcessingTimeMicros int64

	// Total amount of encoded row payload data successfully loaded
	BytesEmitted int64
}

func (m *Metrics) Reset() {
	m.MessagesProcessed = 0
	m.MessagesFailed = 0
	m.MessageProcessingTimeMicros = 0
	m.BytesProcessed = 0
	m.RowsRead = 0
	m.RowsEmitted = 0
	m.RowsSkipped = 0
	m.SinkProcessingTimeMicros = 0
	m.BytesEmitted = 0
}

// An entity can request to be shut down. This error code should be returned and it's up to the
// Executor to decide if the processor should be shut down or any other action to be taken.
var ErrEntityShutdownRequested = errors.New("entity shutdown requested")
