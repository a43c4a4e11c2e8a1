package xfirestore

import (
	"context"
	"reflect"

	"cloud.google.com/go/datastore"
)

// FirestoreClient is the part of the datastore client API used by the Loader, satisfied by
// *datastore.Client.
type FirestoreClient interface {
	Put(ctx context.Context, key *datastore.Key, src any) (*datastore.Key, error)
}

func isNil(v any) bool {
	return v == nil || (reflect.ValueOf(v).Kind() == reflect.Ptr && reflect.ValueOf(v).IsNil())
}
