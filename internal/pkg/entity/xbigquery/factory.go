package xbigquery

import (
	"context"
	"sync"

	"github.com/zpiroux/csv2json/entity"
)

const sinkTypeId = "bigquery"

type FactoryConfig struct {
	// DatasetLocation is used when creating missing datasets, default "EU"
	DatasetLocation string
}

type LoaderFactory struct {
	client BigQueryClient
	config FactoryConfig

	// Table metadata updates are serialized for all loaders created by the factory
	mdMutex sync.Mutex
}

// NewLoaderFactory creates a BigQuery loader factory. The underlying GCP client is owned
// by the caller, e.g. wrapped with NewBigQueryClient.
func NewLoaderFactory(client BigQueryClient, config FactoryConfig) *LoaderFactory {
	return &LoaderFactory{client: client, config: config}
}

func (lf *LoaderFactory) SinkId() string {
	return sinkTypeId
}

func (lf *LoaderFactory) NewLoader(ctx context.Context, c entity.Config) (entity.Loader, error) {
	loader, err := NewLoader(ctx, c.Spec, c.ID, lf.client, &lf.mdMutex, lf.config.DatasetLocation)
	if err != nil {
		return nil, err
	}
	return loader, nil
}

func (lf *LoaderFactory) Close() error {
	return nil
}
