package channel

import (
	"context"
	"errors"

	"github.com/zpiroux/csv2json/entity"
)

const DefaultOutputBufferSize = 256

// LoaderFactory creates loaders that all emit to the same output channel, readable by
// clients with Processor.OutputChannel().
type LoaderFactory struct {
	output chan *entity.Message
}

func NewLoaderFactory(bufferSize int) *LoaderFactory {
	if bufferSize < 0 {
		bufferSize = DefaultOutputBufferSize
	}
	return &LoaderFactory{output: make(chan *entity.Message, bufferSize)}
}

func (lf *LoaderFactory) SinkId() string {
	return string(entity.EntityChannel)
}

func (lf *LoaderFactory) NewLoader(ctx context.Context, c entity.Config) (entity.Loader, error) {
	return &loader{output: lf.output}, nil
}

// Output returns the channel into which all rows are emitted
func (lf *LoaderFactory) Output() <-chan *entity.Message {
	return lf.output
}

func (lf *LoaderFactory) Close() error {
	return nil
}

type loader struct {
	output chan<- *entity.Message
}

// StreamLoad blocks until the client has received the rows, unless the output channel is
// buffered, or ctx is canceled.
func (l *loader) StreamLoad(ctx context.Context, msgs []*entity.Message) (string, error, bool) {

	if len(msgs) == 0 || msgs[0] == nil {
		return "", errors.New("streamLoad called without data to load"), false
	}

	var resourceId string
	for _, msg := range msgs {
		select {
		case l.output <- msg:
			resourceId = msg.Id()
		case <-ctx.Done():
			return resourceId, ctx.Err(), true
		}
	}
	return resourceId, nil, false
}

func (l *loader) Shutdown(ctx context.Context) {}
