package xbigtable

import (
	"context"

	"github.com/zpiroux/csv2json/entity"
)

const sinkTypeId = "bigtable"

type LoaderFactory struct {
	client      BigTableClient
	adminClient BigTableAdminClient
}

// NewLoaderFactory creates a Bigtable loader factory. The GCP clients are owned by the caller.
func NewLoaderFactory(client BigTableClient, adminClient BigTableAdminClient) *LoaderFactory {
	return &LoaderFactory{client: client, adminClient: adminClient}
}

func (lf *LoaderFactory) SinkId() string {
	return sinkTypeId
}

func (lf *LoaderFactory) NewLoader(ctx context.Context, c entity.Config) (entity.Loader, error) {
	loader, err := NewLoader(ctx, c.Spec, c.ID, lf.client, lf.adminClient)
	if err != nil {
		return nil, err
	}
	return loader, nil
}

func (lf *LoaderFactory) Close() error {
	return nil
}
