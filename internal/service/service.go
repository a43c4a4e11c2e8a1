package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/teltech/logger"
	"github.com/zpiroux/csv2json/entity"
	"github.com/zpiroux/csv2json/internal/pkg/assembly"
	"github.com/zpiroux/csv2json/internal/pkg/engine"
	"github.com/zpiroux/csv2json/internal/pkg/resource"
)

var log *logger.Log

func init() {
	log = logger.New()
}

// Service is responsible for creating and injecting concrete implementations of the various
// parts required by a processor to function.
type Service struct {
	config        Config
	spec          *entity.Spec
	entityFactory *assembly.EntityFactory
	builder       *engine.PipelineBuilder
	supervisor    *engine.Supervisor
}

type Config struct {
	Engine engine.Config
	Entity assembly.Config

	// Opener fetches the resources located by inbound URLs. Defaults to resource.DefaultOpener.
	Opener resource.Opener

	// Hook is the optional post projection hook called for each projected row
	Hook entity.PostProjectionHookFunc

	// MetricsRegisterer is where the processor's Prometheus instruments are registered.
	// If nil, metrics are only available with Service.Metrics().
	MetricsRegisterer prometheus.Registerer
}

func (c Config) Close() error {
	return c.Entity.Close()
}

func New(ctx context.Context, cfg Config, spec *entity.Spec) (*Service, error) {

	var (
		s   Service
		err error
	)

	if spec == nil {
		return nil, fmt.Errorf("%w: processor spec is required", entity.ErrConfiguration)
	}
	s.spec = spec

	for {
		if err = s.initConfig(cfg); err != nil {
			break
		}

		s.initEngine()

		if err = s.initSupervisor(ctx); err != nil {
			break
		}
		break
	}

	return &s, err
}

func (s *Service) initConfig(config Config) error {
	s.config = config
	if s.config.Opener == nil {
		s.config.Opener = &resource.DefaultOpener{}
	}
	if s.config.Engine.NotifyChan == nil {
		s.config.Engine.NotifyChan = s.config.Entity.NotifyChan
	}
	if s.config.Engine.Instruments == nil {
		instruments, err := engine.NewInstruments(s.config.MetricsRegisterer)
		if err != nil {
			return fmt.Errorf("could not register metrics, error: %w", err)
		}
		s.config.Engine.Instruments = instruments
	}
	return nil
}

func (s *Service) initEngine() {
	s.entityFactory = assembly.NewEntityFactory(s.config.Entity)
	s.builder = engine.NewPipelineBuilder(s.entityFactory, s.config.Opener, s.config.Hook)
	s.supervisor = engine.NewSupervisor(s.config.Engine, s.builder, s.spec)
}

func (s *Service) initSupervisor(ctx context.Context) error {
	if err := s.supervisor.Init(ctx); err != nil {
		return fmt.Errorf("error initializing supervisor: %w", err)
	}
	return nil
}

// Run blocks until all executors of the processor have finished. The ready wait group, if
// provided, is released when the executors have been deployed.
func (s *Service) Run(ctx context.Context, ready *sync.WaitGroup) error {
	return s.supervisor.Run(ctx, ready)
}

// Publish sends a URL message to the processor's source
func (s *Service) Publish(ctx context.Context, url string) (string, error) {
	pipeline, err := s.supervisor.Pipeline()
	if err != nil {
		return "", err
	}
	return pipeline.Publish(ctx, url)
}

func (s *Service) Metrics() entity.Metrics {
	return s.supervisor.Metrics()
}

func (s *Service) Spec() *entity.Spec {
	return s.spec
}

// Shutdown stops all executors and closes the entity factories
func (s *Service) Shutdown(ctx context.Context, err error) error {
	if s.supervisor != nil {
		s.supervisor.Shutdown(ctx, err)
	}
	errClose := s.config.Close()
	if errClose != nil {
		log.Errorf("error closing entity factories: %v", errClose)
	}
	return errClose
}
