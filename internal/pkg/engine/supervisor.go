package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/teltech/logger"
	"github.com/zpiroux/csv2json/entity"
)

var log *logger.Log

func init() {
	log = logger.New()
}

var ErrProcessorDisabled = errors.New("processor is disabled in its spec")

// Supervisor is responsible for the lifecycle of a processor. It builds one Pipeline per
// configured concurrent instance (ops.streamsPerPod) and runs each with its own Executor,
// in its own goroutine.
type Supervisor struct {
	config      Config
	spec        *entity.Spec
	builder     *PipelineBuilder
	executors   []*Executor
	xMutex      sync.Mutex
	wgExecutors sync.WaitGroup
	instanceId  string
}

func NewSupervisor(config Config, builder *PipelineBuilder, spec *entity.Spec) *Supervisor {
	return &Supervisor{
		config:     config,
		spec:       spec,
		builder:    builder,
		instanceId: uuid.NewString()[:8],
	}
}

// Init builds all pipelines and executors of the processor. A disabled spec is not an error,
// but no executors are created.
func (s *Supervisor) Init(ctx context.Context) error {

	if s.spec.IsDisabled() {
		s.notice("processor %s is disabled and will not be assigned to an executor", s.spec.Id())
		return nil
	}

	s.xMutex.Lock()
	defer s.xMutex.Unlock()

	for instance := 1; instance < s.spec.Ops.StreamsPerPod+1; instance++ {

		pipeline, err := s.builder.Build(ctx, s.spec)
		if err != nil {
			return fmt.Errorf(s.lgprfx()+"could not build pipeline #%d for processor %s, err: %w", instance, s.spec.Id(), err)
		}

		executor := NewExecutor(s.config, pipeline)
		if executor == nil {
			return fmt.Errorf(s.lgprfx()+"could not create executor #%d for processor: %s", instance, s.spec.Id())
		}
		s.notice("Created executor #%d with ID: [%s], for spec with ID: %s", instance, pipeline.Instance(), s.spec.Id())
		s.executors = append(s.executors, executor)
	}
	return nil
}

// Run deploys all executors and blocks until they have all finished.
func (s *Supervisor) Run(ctx context.Context, ready *sync.WaitGroup) error {

	s.xMutex.Lock()
	for _, executor := range s.executors {
		s.wgExecutors.Add(1)
		go executor.Run(ctx, &s.wgExecutors)
	}
	s.notice("%d executors deployed", len(s.executors))
	s.xMutex.Unlock()

	if ready != nil {
		ready.Done()
	}

	s.wgExecutors.Wait()
	s.notice("All Executors finished operations. Supervisor shutting down.")
	return nil
}

// Pipeline returns the first (main) pipeline instance, for use with spec info and publishing.
func (s *Supervisor) Pipeline() (*Pipeline, error) {
	s.xMutex.Lock()
	defer s.xMutex.Unlock()

	if len(s.executors) == 0 {
		if s.spec.IsDisabled() {
			return nil, ErrProcessorDisabled
		}
		return nil, fmt.Errorf(s.lgprfx()+"no pipeline found for processor '%s'", s.spec.Id())
	}
	return s.executors[0].Pipeline(), nil
}

// Metrics returns the sum of all executor metrics
func (s *Supervisor) Metrics() entity.Metrics {
	var m entity.Metrics

	s.xMutex.Lock()
	defer s.xMutex.Unlock()
	for _, e := range s.executors {
		em := e.Metrics()
		m.MessagesProcessed += em.MessagesProcessed
		m.MessagesFailed += em.MessagesFailed
		m.MessageProcessingTimeMicros += em.MessageProcessingTimeMicros
		m.BytesProcessed += em.BytesProcessed
		m.RowsRead += em.RowsRead
		m.RowsEmitted += em.RowsEmitted
		m.RowsSkipped += em.RowsSkipped
		m.SinkProcessingTimeMicros += em.SinkProcessingTimeMicros
		m.BytesEmitted += em.BytesEmitted
	}
	return m
}

// Shutdown is called by the service during shutdown
func (s *Supervisor) Shutdown(ctx context.Context, err error) {

	reason := "client request or similar (no error)"
	if err != nil {
		reason = err.Error()
	}
	s.notice("Shutting down. Reason: '%v'", reason)

	s.xMutex.Lock()
	defer s.xMutex.Unlock()
	for _, executor := range s.executors {
		executor.Shutdown(ctx)
	}
}

func (s *Supervisor) notice(format string, args ...any) {
	if s.config.Log {
		log.Infof(s.lgprfx()+format, args...)
	}
}

func (s *Supervisor) lgprfx() string {
	return "[supervisor:" + s.instanceId + "] "
}
