package assembly

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zpiroux/csv2json/entity"
	"github.com/zpiroux/csv2json/internal/pkg/entity/channel"
	"github.com/zpiroux/csv2json/internal/pkg/entity/void"
)

func TestEntityFactory(t *testing.T) {

	ctx := context.Background()
	cfg := Config{
		Env:        entity.EnvironmentDev,
		Extractors: entity.ExtractorFactories{"channel": channel.NewExtractorFactory()},
		Loaders:    entity.LoaderFactories{"void": void.NewLoaderFactory()},
	}
	f := NewEntityFactory(cfg)
	assert.Equal(t, entity.EnvironmentDev, f.Env())

	spec := entity.NewEmptySpec()
	spec.Namespace = "csvtest"
	spec.ProcessorIdSuffix = "factory"
	spec.Source.Type = entity.EntityChannel
	spec.Sink.Type = entity.EntityVoid

	extractor, err := f.CreateExtractor(ctx, spec, "abc")
	assert.NoError(t, err)
	assert.NotNil(t, extractor)

	loader, err := f.CreateLoader(ctx, spec, "abc")
	assert.NoError(t, err)
	assert.NotNil(t, loader)

	spec.Source.Type = "kafka"
	spec.Sink.Type = "redis"
	_, err = f.CreateExtractor(ctx, spec, "abc")
	assert.ErrorIs(t, err, entity.ErrConfiguration)
	_, err = f.CreateLoader(ctx, spec, "abc")
	assert.ErrorIs(t, err, entity.ErrConfiguration)

	assert.NoError(t, f.Close())
}

func TestConfigClose(t *testing.T) {

	errA := errors.New("a failed")
	errB := errors.New("b failed")
	cfg := Config{
		Extractors: entity.ExtractorFactories{"a": &failingFactory{err: errA}},
		Loaders: entity.LoaderFactories{
			"b":    &failingFactory{err: errB},
			"void": void.NewLoaderFactory(),
		},
	}

	err := cfg.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

type failingFactory struct {
	err error
}

func (f *failingFactory) SourceId() string { return "a" }
func (f *failingFactory) SinkId() string   { return "b" }

func (f *failingFactory) NewExtractor(ctx context.Context, c entity.Config) (entity.Extractor, error) {
	return nil, f.err
}

func (f *failingFactory) NewLoader(ctx context.Context, c entity.Config) (entity.Loader, error) {
	return nil, f.err
}

func (f *failingFactory) Close() error { return f.err }
