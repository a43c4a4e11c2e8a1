package xredis

import (
	"context"

	"github.com/zpiroux/csv2json/entity"
)

const sinkTypeId = "redis"

type LoaderFactory struct {
	client StreamClient
}

func NewLoaderFactory(client StreamClient) *LoaderFactory {
	return &LoaderFactory{client: client}
}

func (lf *LoaderFactory) SinkId() string {
	return sinkTypeId
}

func (lf *LoaderFactory) NewLoader(ctx context.Context, c entity.Config) (entity.Loader, error) {
	loader, err := NewLoader(c.Spec, c.ID, lf.client)
	if err != nil {
		return nil, err
	}
	return loader, nil
}

func (lf *LoaderFactory) Close() error {
	return nil
}
