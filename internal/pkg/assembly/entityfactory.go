package assembly

import (
	"context"
	"fmt"

	"github.com/zpiroux/csv2json/entity"
)

// EntityFactory creates the source and sink entities of processor pipelines from the
// factories registered for each entity type. It is a singleton, created by the Service,
// and operated by the PipelineBuilder.
type EntityFactory struct {
	config Config
}

func NewEntityFactory(config Config) *EntityFactory {
	return &EntityFactory{config: config}
}

func (f *EntityFactory) CreateExtractor(ctx context.Context, spec *entity.Spec, instanceId string) (entity.Extractor, error) {

	ef, ok := f.config.Extractors[string(spec.Source.Type)]
	if !ok {
		return nil, fmt.Errorf("%w: could not create extractor, source type '%s' not registered, processorId: %s",
			entity.ErrConfiguration, spec.Source.Type, spec.Id())
	}
	return ef.NewExtractor(ctx, f.entityConfig(spec, instanceId))
}

func (f *EntityFactory) CreateLoader(ctx context.Context, spec *entity.Spec, instanceId string) (entity.Loader, error) {

	lf, ok := f.config.Loaders[string(spec.Sink.Type)]
	if !ok {
		return nil, fmt.Errorf("%w: could not create loader, sink type '%s' not registered, processorId: %s",
			entity.ErrConfiguration, spec.Sink.Type, spec.Id())
	}
	return lf.NewLoader(ctx, f.entityConfig(spec, instanceId))
}

// Env returns the deployment environment used for env specific spec config such as topics
func (f *EntityFactory) Env() entity.Environment {
	return f.config.Env
}

func (f *EntityFactory) Close() error {
	return f.config.Close()
}

func (f *EntityFactory) entityConfig(spec *entity.Spec, instanceId string) entity.Config {
	return entity.Config{
		Spec:       spec,
		ID:         instanceId,
		NotifyChan: f.config.NotifyChan,
		Log:        f.config.Log,
	}
}
