package entity

import (
	"context"
)

type LoaderFactories map[string]LoaderFactory

// LoaderFactory enables loaders/sinks to be handled as plug-ins. A factory is registered
// with Config.RegisterLoaderType() for a sink type to be available for processor specs.
type LoaderFactory interface {
	// SinkId returns the sink ID for which the loader is implemented
	SinkId() string

	// NewLoader creates a new loader entity
	NewLoader(ctx context.Context, c Config) (Loader, error)

	// Close is called after using Processor.Shutdown()
	Close() error
}

// Loader interface required for sink Loader implementations.
// The Executor emits projected rows one at a time, in CSV record order, so most
// implementations only regard the first Message, but the slice form allows loaders
// with native batch support to be called with several.
type Loader interface {

	// If successful the resource ID of the loaded message is returned.
	// If input 'msgs' is nil or empty, an error is to be returned.
	StreamLoad(ctx context.Context, msgs []*Message) (string, error, bool)

	// Called by Executor during shutdown of the processor
	Shutdown(ctx context.Context)
}
