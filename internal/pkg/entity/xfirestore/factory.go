package xfirestore

import (
	"context"

	"github.com/zpiroux/csv2json/entity"
)

const sinkTypeId = "firestore"

type LoaderFactory struct {
	client           FirestoreClient
	defaultNamespace string
}

// NewLoaderFactory creates a Firestore loader factory. Kinds without a namespace in the
// processor spec are stored in defaultNamespace.
func NewLoaderFactory(client FirestoreClient, defaultNamespace string) *LoaderFactory {
	return &LoaderFactory{client: client, defaultNamespace: defaultNamespace}
}

func (lf *LoaderFactory) SinkId() string {
	return sinkTypeId
}

func (lf *LoaderFactory) NewLoader(ctx context.Context, c entity.Config) (entity.Loader, error) {
	loader, err := NewLoader(c.Spec, c.ID, lf.client, lf.defaultNamespace)
	if err != nil {
		return nil, err
	}
	return loader, nil
}

func (lf *LoaderFactory) Close() error {
	return nil
}
