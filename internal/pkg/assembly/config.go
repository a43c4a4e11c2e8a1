package assembly

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/zpiroux/csv2json/entity"
)

type Config struct {
	Env        entity.Environment
	Loaders    entity.LoaderFactories
	Extractors entity.ExtractorFactories
	NotifyChan entity.NotifyChan
	Log        bool
}

// Close closes all registered entity factories, returning all errors encountered.
func (c Config) Close() error {

	var result *multierror.Error

	for id, lf := range c.Loaders {
		if err := lf.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing loader factory %q: %w", id, err))
		}
	}
	for id, ef := range c.Extractors {
		if err := ef.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing extractor factory %q: %w", id, err))
		}
	}
	return result.ErrorOrNil()
}
