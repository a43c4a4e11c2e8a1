package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zpiroux/csv2json/entity"
)

const testSpecDir = "../../../test/specs/"

const peopleCSV = `id,first,last,ssn
1,Peter,Parker,111
2,Mary Jane,Watson,222
3,Harry,Osborn,333
`

func TestExecutorProcessEvent(t *testing.T) {

	loader := &MockLoader{}
	executor := newTestExecutor(t, Config{}, peopleCSV, nil, loader)

	result := executor.ProcessEvent(context.Background(), []entity.Event{{Data: []byte("http://example.com/people.csv")}})
	assert.Equal(t, entity.ExecutorStatusSuccessful, result.Status)
	assert.NoError(t, result.Error)
	assert.Equal(t, 3, result.Rows)
	assert.Equal(t, "resource-3", result.ResourceId)

	require.Len(t, loader.msgs, 3)
	for i, msg := range loader.msgs {
		assert.Equal(t, fmt.Sprint(i+1), msg.Headers[entity.HeaderRowNumber])
		assert.NotContains(t, msg.Payload, "ssn")
	}
	assert.Equal(t, entity.ProjectedRow{"id": "2", "firstName": "Mary Jane", "lastName": "Watson"}, loader.msgs[1].Payload)

	m := executor.Metrics()
	assert.Equal(t, int64(1), m.MessagesProcessed)
	assert.Equal(t, int64(0), m.MessagesFailed)
	assert.Equal(t, int64(3), m.RowsRead)
	assert.Equal(t, int64(3), m.RowsEmitted)
	assert.Equal(t, int64(len("http://example.com/people.csv")), m.BytesProcessed)
	assert.Greater(t, m.BytesEmitted, int64(0))

	// Several inbound messages in one call
	result = executor.ProcessEvent(context.Background(), []entity.Event{
		{Data: []byte("http://example.com/people.csv")},
		{Data: []byte("http://example.com/people.csv")},
	})
	assert.Equal(t, entity.ExecutorStatusSuccessful, result.Status)
	assert.Equal(t, 6, result.Rows)
	assert.Equal(t, int64(3), executor.Metrics().MessagesProcessed)
	assert.Len(t, loader.msgs, 9)
}

func TestExecutorProcessEventFailures(t *testing.T) {

	tcs := []struct {
		name        string
		payload     string
		loader      entity.Loader
		expectedErr error
		rows        int
	}{
		{"invalid url", "notfs://not_real", &MockLoader{}, entity.ErrInvalidInput, 0},
		{"sink failure", "http://example.com/people.csv", &MockLoader{failAt: 2}, entity.ErrEmit, 1},
		{"panicking loader", "http://example.com/people.csv", &PanickingLoader{}, ErrPanicInProcessing, 0},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			executor := newTestExecutor(t, Config{}, peopleCSV, nil, tc.loader)
			result := executor.ProcessEvent(context.Background(), []entity.Event{{Data: []byte(tc.payload)}})
			assert.Equal(t, entity.ExecutorStatusError, result.Status)
			assert.False(t, result.Retryable)
			assert.ErrorIs(t, result.Error, tc.expectedErr)
			assert.Equal(t, tc.rows, result.Rows)
			assert.Equal(t, int64(1), executor.Metrics().MessagesFailed)
		})
	}

	// A failing message stops processing of the remaining ones in the same call
	loader := &MockLoader{}
	executor := newTestExecutor(t, Config{}, peopleCSV, nil, loader)
	result := executor.ProcessEvent(context.Background(), []entity.Event{
		{Data: []byte("http://example.com/people.csv")},
		{Data: []byte("ftp://example.com/people.csv")},
		{Data: []byte("http://example.com/people.csv")},
	})
	assert.Equal(t, entity.ExecutorStatusError, result.Status)
	assert.Equal(t, 3, result.Rows)
	assert.Len(t, loader.msgs, 3)
	assert.Equal(t, int64(2), executor.Metrics().MessagesProcessed)
}

func TestExecutorSinkErrorNotRetried(t *testing.T) {

	// Sink errors fail the message at once, even when the loader flags them as retryable
	loader := &MockLoader{failAt: 2, retryable: true}
	executor := newTestExecutor(t, Config{MaxStreamRetryIntervalSec: 1}, peopleCSV, nil, loader)
	result := executor.ProcessEvent(context.Background(), []entity.Event{{Data: []byte("http://example.com/people.csv")}})
	assert.Equal(t, entity.ExecutorStatusError, result.Status)
	assert.False(t, result.Retryable)
	assert.ErrorIs(t, result.Error, entity.ErrEmit)
	assert.Equal(t, 2, loader.calls)
	assert.Len(t, loader.msgs, 1)
}

func TestExecutorShutdownStatus(t *testing.T) {

	// Hook requested shutdown
	hook := func(ctx context.Context, spec *entity.Spec, source entity.Row, row *entity.ProjectedRow) entity.HookAction {
		if (*row)["id"] == "2" {
			return entity.HookActionShutdown
		}
		return entity.HookActionProceed
	}
	loader := &MockLoader{}
	executor := newTestExecutor(t, Config{}, peopleCSV, hook, loader)
	result := executor.ProcessEvent(context.Background(), []entity.Event{{Data: []byte("http://example.com/people.csv")}})
	assert.Equal(t, entity.ExecutorStatusShutdown, result.Status)
	assert.Len(t, loader.msgs, 1)
	assert.Equal(t, int64(0), executor.Metrics().MessagesFailed)

	// Loader requested shutdown
	executor = newTestExecutor(t, Config{}, peopleCSV, nil, &MockLoader{failAt: 1, err: entity.ErrEntityShutdownRequested})
	result = executor.ProcessEvent(context.Background(), []entity.Event{{Data: []byte("http://example.com/people.csv")}})
	assert.Equal(t, entity.ExecutorStatusShutdown, result.Status)

	// Events are rejected after Shutdown
	loader = &MockLoader{}
	executor = newTestExecutor(t, Config{}, peopleCSV, nil, loader)
	executor.Shutdown(context.Background())
	result = executor.ProcessEvent(context.Background(), []entity.Event{{Data: []byte("http://example.com/people.csv")}})
	assert.Equal(t, entity.ExecutorStatusShutdown, result.Status)
	assert.Empty(t, loader.msgs)
	assert.True(t, loader.shutdown)
}

func TestExecutorHookSkip(t *testing.T) {

	hook := func(ctx context.Context, spec *entity.Spec, source entity.Row, row *entity.ProjectedRow) entity.HookAction {
		if source.Map()["ssn"] == "222" {
			return entity.HookActionSkip
		}
		return entity.HookActionProceed
	}
	loader := &MockLoader{}
	executor := newTestExecutor(t, Config{}, peopleCSV, hook, loader)
	result := executor.ProcessEvent(context.Background(), []entity.Event{{Data: []byte("http://example.com/people.csv")}})
	assert.Equal(t, entity.ExecutorStatusSuccessful, result.Status)
	assert.Equal(t, 2, result.Rows)

	m := executor.Metrics()
	assert.Equal(t, int64(3), m.RowsRead)
	assert.Equal(t, int64(1), m.RowsSkipped)
	assert.Equal(t, int64(2), m.RowsEmitted)
}

func TestExecutorInstruments(t *testing.T) {

	reg := prometheus.NewRegistry()
	instruments, err := NewInstruments(reg)
	require.NoError(t, err)

	// Registering twice on the same registry reuses the collectors
	_, err = NewInstruments(reg)
	require.NoError(t, err)

	loader := &MockLoader{}
	executor := newTestExecutor(t, Config{Instruments: instruments}, peopleCSV, nil, loader)
	processor := executor.ProcessorId()

	executor.ProcessEvent(context.Background(), []entity.Event{{Data: []byte("http://example.com/people.csv")}})
	executor.ProcessEvent(context.Background(), []entity.Event{{Data: []byte("notfs://not_real")}})

	assert.Equal(t, 1.0, metricValue(t, reg, "csv2json_messages_processed_total", map[string]string{"processor": processor, "status": statusSuccess}))
	assert.Equal(t, 1.0, metricValue(t, reg, "csv2json_messages_processed_total", map[string]string{"processor": processor, "status": statusFailure}))
	assert.Equal(t, 1.0, metricValue(t, reg, "csv2json_messages_failed_total", map[string]string{"processor": processor, "kind": "invalid_input"}))
	assert.Equal(t, 3.0, metricValue(t, reg, "csv2json_rows_total", map[string]string{"processor": processor, "outcome": outcomeRead}))
	assert.Equal(t, 3.0, metricValue(t, reg, "csv2json_rows_total", map[string]string{"processor": processor, "outcome": outcomeEmitted}))
	assert.Equal(t, 0.0, metricValue(t, reg, "csv2json_messages_inflight", map[string]string{"processor": processor}))
}

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "none", ErrorKind(nil))
	assert.Equal(t, "emit", ErrorKind(fmt.Errorf("%w: %w", entity.ErrEmit, entity.ErrResourceUnavailable)))
	assert.Equal(t, "configuration", ErrorKind(fmt.Errorf("%w: bad", entity.ErrConfiguration)))
	assert.Equal(t, "invalid_input", ErrorKind(entity.ErrInvalidInput))
	assert.Equal(t, "resource_unavailable", ErrorKind(entity.ErrResourceUnavailable))
	assert.Equal(t, "parse", ErrorKind(entity.ErrParse))
	assert.Equal(t, "hook", ErrorKind(ErrHookInvalidAction))
	assert.Equal(t, "other", ErrorKind(errors.New("something")))
}

func TestExecutorRun(t *testing.T) {

	extractor := NewMockExtractor()
	loader := &MockLoader{}
	executor := newTestExecutorWithExtractor(t, Config{}, peopleCSV, extractor, loader)

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg.Add(1)
	go executor.Run(ctx, &wg)

	_, err := executor.Pipeline().Publish(ctx, "http://example.com/people.csv")
	assert.NoError(t, err)
	assert.Eventually(t, func() bool { return loader.count() == 3 }, 5*time.Second, 10*time.Millisecond)

	executor.Shutdown(ctx)
	wg.Wait()
	assert.True(t, loader.shutdown)
}

func TestExecutorConnectorResilience(t *testing.T) {

	// A panicking extractor terminates the executor without crashing the process
	executor := newTestExecutorWithExtractor(t, Config{}, peopleCSV, &PanickingExtractor{}, &MockLoader{})
	var wg sync.WaitGroup
	wg.Add(1)
	go executor.Run(context.Background(), &wg)
	wg.Wait()

	// An extractor returning an unretryable error terminates the executor
	extractor := &FailingExtractor{err: errors.New("fatal"), retryable: false}
	executor = newTestExecutorWithExtractor(t, Config{}, peopleCSV, extractor, &MockLoader{})
	wg.Add(1)
	go executor.Run(context.Background(), &wg)
	wg.Wait()
	assert.Equal(t, 1, extractor.calls)
}

func TestNewExecutorInvalid(t *testing.T) {
	assert.Nil(t, NewExecutor(Config{}, nil))

	spec := testSpec(t)
	converter, err := NewConverter(spec, &countingOpener{body: peopleCSV}, nil)
	require.NoError(t, err)
	assert.Nil(t, NewExecutor(Config{}, NewPipeline(spec, "x", nil, converter, &MockLoader{})))
	assert.Nil(t, NewExecutor(Config{}, NewPipeline(spec, "x", NewMockExtractor(), nil, &MockLoader{})))
	var loader *MockLoader
	assert.Nil(t, NewExecutor(Config{}, NewPipeline(spec, "x", NewMockExtractor(), converter, loader)))
}

func testSpec(t *testing.T) *entity.Spec {
	t.Helper()
	spec, err := entity.NewSpec([]byte(`{
		"namespace": "csvtest",
		"processorIdSuffix": "executor",
		"description": "Executor test processor",
		"version": 1,
		"source": { "type": "channel" },
		"projection": {
			"aliases": ["first:firstName", "last:lastName"],
			"excludes": ["ssn"]
		},
		"sink": { "type": "void" }
	}`))
	require.NoError(t, err)
	return spec
}

func newTestExecutor(t *testing.T, config Config, body string, hook entity.PostProjectionHookFunc, loader entity.Loader) *Executor {
	t.Helper()
	spec := testSpec(t)
	converter, err := NewConverter(spec, &countingOpener{body: body}, hook)
	require.NoError(t, err)
	executor := NewExecutor(config, NewPipeline(spec, "testinstance", NewMockExtractor(), converter, loader))
	require.NotNil(t, executor)
	return executor
}

func newTestExecutorWithExtractor(t *testing.T, config Config, body string, extractor entity.Extractor, loader entity.Loader) *Executor {
	t.Helper()
	spec := testSpec(t)
	converter, err := NewConverter(spec, &countingOpener{body: body}, nil)
	require.NoError(t, err)
	executor := NewExecutor(config, NewPipeline(spec, "testinstance", extractor, converter, loader))
	require.NotNil(t, executor)
	return executor
}

func metricValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metric:
		for _, m := range family.GetMetric() {
			for _, lp := range m.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue metric
				}
			}
			if m.Counter != nil {
				return m.Counter.GetValue()
			}
			if m.Gauge != nil {
				return m.Gauge.GetValue()
			}
		}
	}
	return 0
}

// MockExtractor feeds URLs published with SendToSource to the executor
type MockExtractor struct {
	events chan []byte
}

func NewMockExtractor() *MockExtractor {
	return &MockExtractor{events: make(chan []byte, 16)}
}

func (m *MockExtractor) StreamExtract(ctx context.Context, reportEvent entity.ProcessEventFunc, err *error, retryable *bool) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-m.events:
			result := reportEvent(ctx, []entity.Event{{Data: data, Ts: time.Now()}})
			if result.Status == entity.ExecutorStatusShutdown {
				return
			}
		}
	}
}

func (m *MockExtractor) SendToSource(ctx context.Context, event any) (string, error) {
	data, ok := event.([]byte)
	if !ok {
		return "", entity.ErrInvalidInput
	}
	m.events <- data
	return "sent", nil
}

type PanickingExtractor struct{}

func (p *PanickingExtractor) StreamExtract(ctx context.Context, reportEvent entity.ProcessEventFunc, err *error, retryable *bool) {
	panic("extractor bug")
}

func (p *PanickingExtractor) SendToSource(ctx context.Context, event any) (string, error) {
	return "", nil
}

type FailingExtractor struct {
	err       error
	retryable bool
	calls     int
}

func (f *FailingExtractor) StreamExtract(ctx context.Context, reportEvent entity.ProcessEventFunc, err *error, retryable *bool) {
	f.calls++
	*err = f.err
	*retryable = f.retryable
}

func (f *FailingExtractor) SendToSource(ctx context.Context, event any) (string, error) {
	return "", nil
}

// MockLoader stores loaded messages, optionally failing at the given (1-based) load call
type MockLoader struct {
	mu       sync.Mutex
	msgs     []*entity.Message
	failAt    int
	err       error
	retryable bool
	calls     int
	shutdown  bool
}

func (m *MockLoader) StreamLoad(ctx context.Context, msgs []*entity.Message) (string, error, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(msgs) == 0 {
		return "", entity.ErrInvalidInput, false
	}
	m.calls++
	if m.failAt > 0 && m.calls == m.failAt {
		err := m.err
		if err == nil {
			err = errors.New("sink unavailable")
		}
		return "", err, m.retryable
	}
	m.msgs = append(m.msgs, msgs...)
	return fmt.Sprintf("resource-%d", len(m.msgs)), nil, false
}

func (m *MockLoader) Shutdown(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = true
}

func (m *MockLoader) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

type PanickingLoader struct{}

func (p *PanickingLoader) StreamLoad(ctx context.Context, msgs []*entity.Message) (string, error, bool) {
	panic("loader bug")
}

func (p *PanickingLoader) Shutdown(ctx context.Context) {}
