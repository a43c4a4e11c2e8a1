package xbigtable

import (
	"context"
	"reflect"

	"cloud.google.com/go/bigtable"
)

// The Bigtable client API used by the Loader, decoupled from the GCP client to allow mocking.

type BigTableClient interface {
	Open(table string) BigTableTable
}

type BigTableAdminClient interface {
	Tables(ctx context.Context) ([]string, error)
	CreateTable(ctx context.Context, table string) error
	TableInfo(ctx context.Context, table string) (*bigtable.TableInfo, error)
	CreateColumnFamily(ctx context.Context, table, family string) error
	SetGCPolicy(ctx context.Context, table, family string, policy bigtable.GCPolicy) error
}

type BigTableTable interface {
	Apply(ctx context.Context, row string, m *bigtable.Mutation, opts ...bigtable.ApplyOption) (err error)
}

type defaultBigTableClient struct {
	client *bigtable.Client
}

// NewBigTableClient wraps a GCP Bigtable client for use by the Loader
func NewBigTableClient(client *bigtable.Client) BigTableClient {
	return &defaultBigTableClient{client: client}
}

func (c *defaultBigTableClient) Open(table string) BigTableTable {
	return c.client.Open(table)
}

func isNil(v any) bool {
	return v == nil || (reflect.ValueOf(v).Kind() == reflect.Ptr && reflect.ValueOf(v).IsNil())
}
