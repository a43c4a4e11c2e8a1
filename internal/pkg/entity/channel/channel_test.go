package channel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zpiroux/csv2json/entity"
)

func TestExtractorStreamExtract(t *testing.T) {

	var (
		err       error
		retryable bool
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ef := NewExtractorFactory()
	assert.Equal(t, "channel", ef.SourceId())
	extractor, err := ef.NewExtractor(ctx, entity.Config{Spec: entity.NewEmptySpec(), ID: "instanceId"})
	require.NoError(t, err)

	var received []string
	reportEvent := func(ctx context.Context, events []entity.Event) entity.EventProcessingResult {
		received = append(received, string(events[0].Data))
		switch string(events[0].Data) {
		case "bad":
			return entity.EventProcessingResult{Status: entity.ExecutorStatusError, Error: entity.ErrInvalidInput}
		case "confused":
			return entity.EventProcessingResult{Status: entity.ExecutorStatusError}
		}
		return entity.EventProcessingResult{Status: entity.ExecutorStatusSuccessful, ResourceId: "row-id", Rows: 2}
	}

	done := make(chan struct{})
	go func() {
		extractor.StreamExtract(ctx, reportEvent, &err, &retryable)
		close(done)
	}()

	id, err := extractor.SendToSource(ctx, "http://example.com/a.csv")
	assert.NoError(t, err)
	assert.Equal(t, "row-id", id)

	_, err = extractor.SendToSource(ctx, []byte("bad"))
	assert.ErrorIs(t, err, entity.ErrInvalidInput)

	_, err = extractor.SendToSource(ctx, []byte("confused"))
	assert.Error(t, err)

	_, err = extractor.SendToSource(ctx, 42)
	assert.ErrorIs(t, err, entity.ErrInvalidInput)

	assert.Equal(t, []string{"http://example.com/a.csv", "bad", "confused"}, received)

	cancel()
	<-done

	// No receiver after shutdown
	sctx, scancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer scancel()
	_, err = extractor.SendToSource(sctx, "http://example.com/a.csv")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestExtractorShutdownStatus(t *testing.T) {

	var (
		err       error
		retryable bool
	)
	extractor := newExtractor(entity.Config{})
	done := make(chan struct{})
	go func() {
		extractor.StreamExtract(context.Background(), func(ctx context.Context, events []entity.Event) entity.EventProcessingResult {
			return entity.EventProcessingResult{Status: entity.ExecutorStatusShutdown}
		}, &err, &retryable)
		close(done)
	}()

	_, sendErr := extractor.SendToSource(context.Background(), "http://example.com/a.csv")
	assert.Error(t, sendErr)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("extractor did not return on shutdown status")
	}
}

func TestLoader(t *testing.T) {

	ctx := context.Background()
	lf := NewLoaderFactory(2)
	assert.Equal(t, "channel", lf.SinkId())
	l, err := lf.NewLoader(ctx, entity.Config{})
	require.NoError(t, err)

	msg := entity.NewMessage(entity.ProjectedRow{"a": "1"}, entity.DefaultContentType)
	id, err, _ := l.StreamLoad(ctx, []*entity.Message{msg})
	assert.NoError(t, err)
	assert.Equal(t, msg.Id(), id)

	received := <-lf.Output()
	assert.Equal(t, msg, received)

	_, err, _ = l.StreamLoad(ctx, nil)
	assert.Error(t, err)

	// Full buffer and canceled context
	_, err, _ = l.StreamLoad(ctx, []*entity.Message{msg, msg})
	assert.NoError(t, err)
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err, retryable := l.StreamLoad(cctx, []*entity.Message{msg})
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, retryable)

	l.Shutdown(ctx)
	assert.NoError(t, lf.Close())
}
