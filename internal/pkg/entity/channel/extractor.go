package channel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zpiroux/csv2json/entity"
)

type ExtractorFactory struct{}

func NewExtractorFactory() entity.ExtractorFactory {
	return &ExtractorFactory{}
}

func (ef *ExtractorFactory) SourceId() string {
	return string(entity.EntityChannel)
}

func (ef *ExtractorFactory) NewExtractor(ctx context.Context, c entity.Config) (entity.Extractor, error) {
	return newExtractor(c), nil
}

func (ef *ExtractorFactory) Close() error {
	return nil
}

type extractor struct {
	c          entity.Config
	sourceChan EventChannel
}

func newExtractor(c entity.Config) *extractor {
	return &extractor{
		c:          c,
		sourceChan: make(EventChannel),
	}
}

func (e *extractor) StreamExtract(
	ctx context.Context,
	reportEvent entity.ProcessEventFunc,
	err *error,
	retryable *bool) {

	var event ChanEvent

	for {
		select {

		case <-ctx.Done():
			return

		case event = <-e.sourceChan:
			result := reportEvent(ctx, []entity.Event{{
				Data: event.Data,
				Ts:   time.Now(),
				Key:  nil,
			}})

			event.ResultChannel <- ResultChanEvent{
				Id:      result.ResourceId,
				Rows:    result.Rows,
				Success: result.Status == entity.ExecutorStatusSuccessful,
				Error:   result.Error,
			}
			close(event.ResultChannel)

			if result.Status == entity.ExecutorStatusShutdown {
				return
			}
		}
	}
}

// SendToSource publishes a URL on the source channel and blocks until all of its rows have
// been emitted, or processing failed. The provided event must be a string or []byte.
func (e *extractor) SendToSource(ctx context.Context, eventData any) (string, error) {

	var data []byte
	switch v := eventData.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return "", fmt.Errorf("%w: channel source only accepts string or []byte events, got %T", entity.ErrInvalidInput, eventData)
	}

	if e.sourceChan == nil {
		return "", errors.New("bug, source chan must not be nil")
	}

	resultChan := make(chan ResultChanEvent, 1)
	event := ChanEvent{
		Data:          data,
		ResultChannel: resultChan,
	}

	select {
	case e.sourceChan <- event:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case result := <-resultChan:
		return e.adjustToExternalErrors(result)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// To be 110% sure we're only responding with success, when all rows were emitted correctly,
// in case of very rare cases of replying with default values.
func (e *extractor) adjustToExternalErrors(result ResultChanEvent) (string, error) {
	if result.Success {
		result.Error = nil
	} else if result.Error == nil {
		result.Error = fmt.Errorf("processing of published URL did not complete (processorId: %s)", e.processorId())
	}
	return result.Id, result.Error
}

func (e *extractor) processorId() string {
	if e.c.Spec == nil {
		return ""
	}
	return e.c.Spec.Id()
}
