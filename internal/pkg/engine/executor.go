package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teltech/logger"
	"github.com/zpiroux/csv2json/entity"
	"github.com/zpiroux/csv2json/pkg/notify"
)

const (
	defaultInitialStreamExtractRetryBackoffDuration = 4
	defaultEventLogInterval                         = 500
	defaultMaxStreamRetryIntervalSec                = 240
)

// Executors operate a processor pipeline, from Source via Converter to Sink, as specified by
// a single processor spec. The pipeline it is executing is built by the Supervisor.
type Executor struct {
	config             Config
	pipeline           *Pipeline
	ctx                context.Context    // Child ctx for shutting down Extractor
	cancel             context.CancelFunc // CancelFunc for shutting down Extractor
	id                 string
	notifier           *notify.Notifier
	instruments        *Instruments
	shutdownInProgress atomic.Bool
	executorMetrics    ProcessingMetrics
	sinkMetrics        ProcessingMetrics
	rowMetrics         RowMetrics
}

// Message processing metrics. Using int64 is safe here:
// Total messages processed will work for 3 million years if having 100k messages/sec
// Total processing DurationMicros will work for 290k years
// Total Bytes processed will work for 2856 years if ingesting at 100 MiB/sec
type ProcessingMetrics struct {
	Events         int64
	DurationMicros int64
	Bytes          int64
	Failures       int64
}

func (p *ProcessingMetrics) String() string {
	out, _ := json.Marshal(p)
	return string(out)
}

type RowMetrics struct {
	Read    int64
	Skipped int64
}

func NewExecutor(config Config, pipeline *Pipeline) *Executor {

	if pipeline == nil {
		return nil
	}
	e := &Executor{
		config:   config,
		pipeline: pipeline,
		id:       pipeline.Instance(),
	}
	if e.config.EventLogInterval <= 0 {
		e.config.EventLogInterval = defaultEventLogInterval
	}
	if e.config.MaxStreamRetryIntervalSec <= 0 {
		e.config.MaxStreamRetryIntervalSec = defaultMaxStreamRetryIntervalSec
	}
	e.instruments = config.Instruments
	if e.instruments == nil {
		e.instruments, _ = NewInstruments(nil)
	}

	var log *logger.Log
	if config.Log {
		log = logger.New()
	}
	e.notifier = notify.New(config.NotifyChan, log, 2, "executor", e.id, e.ProcessorId())

	if e.valid() {
		return e
	}
	return nil
}

func (e *Executor) valid() bool {
	return e.pipeline.Spec() != nil &&
		!isNil(e.pipeline.Extractor()) &&
		e.pipeline.Converter() != nil &&
		!isNil(e.pipeline.Loader())
}

func (e *Executor) ProcessorId() string {
	return e.pipeline.Spec().Id()
}

func (e *Executor) Pipeline() *Pipeline {
	return e.pipeline
}

func (e *Executor) Metrics() entity.Metrics {
	return entity.Metrics{
		MessagesProcessed:           atomic.LoadInt64(&e.executorMetrics.Events),
		MessagesFailed:              atomic.LoadInt64(&e.executorMetrics.Failures),
		MessageProcessingTimeMicros: atomic.LoadInt64(&e.executorMetrics.DurationMicros),
		BytesProcessed:              atomic.LoadInt64(&e.executorMetrics.Bytes),
		RowsRead:                    atomic.LoadInt64(&e.rowMetrics.Read),
		RowsEmitted:                 atomic.LoadInt64(&e.sinkMetrics.Events),
		RowsSkipped:                 atomic.LoadInt64(&e.rowMetrics.Skipped),
		SinkProcessingTimeMicros:    atomic.LoadInt64(&e.sinkMetrics.DurationMicros),
		BytesEmitted:                atomic.LoadInt64(&e.sinkMetrics.Bytes),
	}
}

func (e *Executor) Run(ctx context.Context, wg *sync.WaitGroup) {
	var (
		err       error
		retryable bool
	)

	e.ctx, e.cancel = context.WithCancel(ctx)
	defer e.runExit(wg)
	e.notifier.Notify(entity.NotifyLevelInfo, "Starting up")

	// Infinite retries with exponential backoff interval if the extractor fails with a retryable
	// error, e.g. lost broker connection. Message processing failures are handled inside the
	// extractor according to the processor spec's ops.handlingOfFailedMessages, and with "fail" the
	// extractor returns an unretryable error which terminates this executor.
	backoffDuration := defaultInitialStreamExtractRetryBackoffDuration
	for i := 0; ; i++ {

		e.pipeline.Extractor().StreamExtract(e.ctx, e.ProcessEvent, &err, &retryable)

		if err != nil && ctx.Err() == nil {
			e.notifier.Notify(entity.NotifyLevelError, "StreamExtract returned with error: %s, retryable: %v", err.Error(), retryable)
			if retryable {
				e.notifier.Notify(entity.NotifyLevelWarn, "Extractor restart (#%d) in %d seconds", i, backoffDuration)
				if !sleepCtx(e.ctx, time.Duration(backoffDuration)*time.Second) {
					break
				}
				if backoffDuration < e.config.MaxStreamRetryIntervalSec {
					backoffDuration *= 2
				}
				continue
			}
		}
		break
	}

	e.notifier.Notify(entity.NotifyLevelInfo, "Executor finished. Executor metrics: %s, Sink metrics: %s", &e.executorMetrics, &e.sinkMetrics)
}

func (e *Executor) runExit(wg *sync.WaitGroup) {
	// Protection against badly written extractor/source plugins
	if r := recover(); r != nil {
		e.notifier.Notify(entity.NotifyLevelError, "Panic (%v) in StreamExtract() for spec %s, terminating processor instance", r, e.pipeline.Spec().JSON())
	}
	wg.Done()
}

// ProcessEvent is called by the Extractor for each consumed inbound message. Each event is
// expected to carry the URL of a CSV resource, which is fetched and converted, with each
// projected row emitted to the sink before this function returns. This design is chosen
// instead of a channel based one, to ensure that offset commit/pubsub ack only happens when
// all rows have been accepted by the sink.
//
// Failures are never retried here. On failure result.Status is ExecutorStatusError and
// result.Retryable is false, letting the extractor act on ops.handlingOfFailedMessages.
// Rows emitted before a failure are not revoked.
// If the executor is shutting down, result.Status is set to ExecutorStatusShutdown.
func (e *Executor) ProcessEvent(ctx context.Context, events []entity.Event) (result entity.EventProcessingResult) {

	result.Status = entity.ExecutorStatusSuccessful

	if e.shutdownInProgress.Load() {
		e.notifier.Notify(entity.NotifyLevelWarn, "Rejecting event processing due to shutdown in progress, rejected events: %v", events)
		result.Status = entity.ExecutorStatusShutdown
		return result
	}

	for _, event := range events {
		r := e.processMessage(ctx, event)
		result.Rows += r.Rows
		if r.ResourceId != "" {
			result.ResourceId = r.ResourceId
		}
		if r.Status != entity.ExecutorStatusSuccessful {
			r.Rows = result.Rows
			return r
		}
	}
	return result
}

func (e *Executor) processMessage(ctx context.Context, event entity.Event) (result entity.EventProcessingResult) {

	start := time.Now()
	processor := e.ProcessorId()
	e.instruments.Inflight.With("processor", processor).Add(1)
	defer e.processEventExit(start, &result)

	total := atomic.AddInt64(&e.executorMetrics.Events, 1)
	atomic.AddInt64(&e.executorMetrics.Bytes, int64(len(event.Data)))
	if total%int64(e.config.EventLogInterval) == 0 {
		e.notifier.Notify(entity.NotifyLevelInfo, "[metric] nb messages processed: %d, rows emitted: %d", total, atomic.LoadInt64(&e.sinkMetrics.Events))
	}
	if e.logEventData() {
		e.notifier.Notify(entity.NotifyLevelDebug, "Processing message: %s", event.String())
	}

	emit := func(ctx context.Context, msg *entity.Message) error {
		resourceId, err := e.loadToSink(ctx, msg)
		if err == nil {
			result.ResourceId = resourceId
		}
		return err
	}

	conv, err := e.pipeline.Converter().Convert(ctx, event.Data, emit)

	result.Rows = conv.RowsEmitted
	atomic.AddInt64(&e.rowMetrics.Read, int64(conv.RowsRead))
	atomic.AddInt64(&e.rowMetrics.Skipped, int64(conv.RowsSkipped))
	e.instruments.Rows.With("processor", processor, "outcome", outcomeRead).Add(float64(conv.RowsRead))
	e.instruments.Rows.With("processor", processor, "outcome", outcomeSkipped).Add(float64(conv.RowsSkipped))

	if err != nil {
		result.Error = err
		result.Retryable = false
		result.Status = entity.ExecutorStatusError
		if e.shuttingDown(ctx, err) {
			result.Status = entity.ExecutorStatusShutdown
			return result
		}
		atomic.AddInt64(&e.executorMetrics.Failures, 1)
		e.instruments.MessageFailures.With("processor", processor, "kind", ErrorKind(err)).Add(1)
		e.notifier.Notify(entity.NotifyLevelWarn, "Processing of message with URL '%s' failed after %d emitted rows, err: %v", conv.URL, conv.RowsEmitted, err)
		return result
	}

	result.Status = entity.ExecutorStatusSuccessful
	if e.logEventData() {
		e.notifier.Notify(entity.NotifyLevelDebug, "Converted %s, rows read: %d, emitted: %d, skipped: %d", conv.URL, conv.RowsRead, conv.RowsEmitted, conv.RowsSkipped)
	}
	return result
}

func (e *Executor) loadToSink(ctx context.Context, msg *entity.Message) (string, error) {

	startTime := time.Now().UnixMicro()
	resourceId, err, _ := e.pipeline.Loader().StreamLoad(ctx, []*entity.Message{msg})
	if err != nil {
		return resourceId, err
	}

	atomic.AddInt64(&e.sinkMetrics.Events, 1)
	atomic.AddInt64(&e.sinkMetrics.DurationMicros, time.Now().UnixMicro()-startTime)
	atomic.AddInt64(&e.sinkMetrics.Bytes, payloadSize(msg.Payload))
	e.instruments.Rows.With("processor", e.ProcessorId(), "outcome", outcomeEmitted).Add(1)
	if e.logEventData() {
		e.notifier.Notify(entity.NotifyLevelDebug, "Row emitted: %s", msg)
	}
	return resourceId, nil
}

func (e *Executor) shuttingDown(ctx context.Context, err error) bool {
	if errors.Is(err, ErrHookShutdown) {
		e.notifier.Notify(entity.NotifyLevelInfo, "PostProjectionHookFunc requested shutdown")
		return true
	}
	if errors.Is(err, entity.ErrEntityShutdownRequested) {
		e.notifier.Notify(entity.NotifyLevelInfo, "Loader requested shutdown during StreamLoad")
		return true
	}
	if ctx.Err() == context.Canceled && e.shutdownInProgress.Load() {
		e.notifier.Notify(entity.NotifyLevelInfo, "Context canceled during message processing, err: %v", err)
		return true
	}
	return false
}

func (e *Executor) processEventExit(start time.Time, result *entity.EventProcessingResult) {

	processor := e.ProcessorId()
	atomic.AddInt64(&e.executorMetrics.DurationMicros, time.Since(start).Microseconds())
	e.instruments.Inflight.With("processor", processor).Add(-1)
	e.instruments.Duration.With("processor", processor).Observe(time.Since(start).Seconds())

	// Protection against badly written loader/sink plugins or external hook logic
	if r := recover(); r != nil {
		e.notifier.Notify(entity.NotifyLevelError, "Panic (%v) in ProcessEvent() for spec %s", r, e.pipeline.Spec().JSON())
		result.Status = entity.ExecutorStatusError
		result.Error = ErrPanicInProcessing
		result.Retryable = false
		atomic.AddInt64(&e.executorMetrics.Failures, 1)
		e.instruments.MessageFailures.With("processor", processor, "kind", "panic").Add(1)
	}

	status := statusSuccess
	if result.Status != entity.ExecutorStatusSuccessful {
		status = statusFailure
	}
	e.instruments.Messages.With("processor", processor, "status", status).Add(1)
}

func (e *Executor) Shutdown(ctx context.Context) {
	e.shutdownInProgress.Store(true)
	e.notifier.Notify(entity.NotifyLevelInfo, "Shutting down")

	// Shut down Extractor
	if e.cancel != nil {
		e.cancel()
	} else {
		e.notifier.Notify(entity.NotifyLevelWarn, "Shutdown request received before started running")
	}

	e.pipeline.Loader().Shutdown(ctx)
}

func (e *Executor) logEventData() bool {
	return e.pipeline.Spec().Ops.LogEventData
}
