package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/zpiroux/csv2json/entity"
	"github.com/zpiroux/csv2json/internal/pkg/resource"
)

// EntityFactory creates the source and sink entities of a pipeline from the processor spec
type EntityFactory interface {
	CreateExtractor(ctx context.Context, spec *entity.Spec, instanceId string) (entity.Extractor, error)
	CreateLoader(ctx context.Context, spec *entity.Spec, instanceId string) (entity.Loader, error)
}

type PipelineBuilder struct {
	entityFactory EntityFactory
	opener        resource.Opener
	hook          entity.PostProjectionHookFunc
}

func NewPipelineBuilder(entityFactory EntityFactory, opener resource.Opener, hook entity.PostProjectionHookFunc) *PipelineBuilder {
	return &PipelineBuilder{
		entityFactory: entityFactory,
		opener:        opener,
		hook:          hook,
	}
}

// Build creates a new pipeline instance. The converter is created first so that projection
// config errors, such as malformed aliases, fail before any source or sink connection is made.
func (b *PipelineBuilder) Build(ctx context.Context, spec *entity.Spec) (*Pipeline, error) {

	instance := createInstanceAlias()

	converter, err := NewConverter(spec, b.opener, b.hook)
	if err != nil {
		return nil, err
	}
	extractor, err := b.entityFactory.CreateExtractor(ctx, spec, instance)
	if err != nil {
		return nil, err
	}
	loader, err := b.entityFactory.CreateLoader(ctx, spec, instance)
	if err != nil {
		return nil, err
	}

	return NewPipeline(spec, instance, extractor, converter, loader), nil
}

// The truly unique IDs of a pipeline instance and its entities are the struct pointers, so the
// alias only needs to be unique enough for troubleshooting. With the current combination of
// chars there is 1 chance in 5.5 million of getting the same alias.
func createInstanceAlias() string {
	a := alias{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
	return a.cons().vow().cons().cons().vow().cons().name()
}

type alias struct {
	rnd *rand.Rand
	str string
}

func (a alias) vow() alias {
	var vowels = []rune{'a', 'e', 'i', 'o', 'u', 'y'}
	v := vowels[a.rnd.Intn(len(vowels))]
	return alias{rnd: a.rnd, str: a.str + string(v)}
}

func (a alias) cons() alias {
	var consonants = []rune{'b', 'c', 'd', 'f', 'g', 'h', 'j', 'k', 'l', 'm', 'n',
		'p', 'q', 'r', 's', 't', 'v', 'w', 'x', 'z'}
	c := consonants[a.rnd.Intn(len(consonants))]
	return alias{rnd: a.rnd, str: a.str + string(c)}
}

func (a alias) name() string {
	return a.str
}
