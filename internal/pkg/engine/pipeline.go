package engine

import (
	"context"

	"github.com/zpiroux/csv2json/entity"
)

// Pipeline holds the entities of one processor instance, run by a single Executor.
type Pipeline struct {
	spec      *entity.Spec
	instance  string
	extractor entity.Extractor
	converter *Converter
	loader    entity.Loader
}

func NewPipeline(
	spec *entity.Spec,
	instance string,
	extractor entity.Extractor,
	converter *Converter,
	loader entity.Loader) *Pipeline {

	return &Pipeline{
		spec:      spec,
		instance:  instance,
		extractor: extractor,
		converter: converter,
		loader:    loader,
	}
}

func (p *Pipeline) Spec() *entity.Spec {
	return p.spec
}

func (p *Pipeline) Instance() string {
	return p.instance
}

func (p *Pipeline) Extractor() entity.Extractor {
	return p.extractor
}

func (p *Pipeline) Converter() *Converter {
	return p.converter
}

func (p *Pipeline) Loader() entity.Loader {
	return p.loader
}

// Publish makes it possible for clients to send URL messages directly to the source of the pipeline
func (p *Pipeline) Publish(ctx context.Context, url string) (string, error) {
	return p.extractor.SendToSource(ctx, []byte(url))
}
