package xbigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
)

// BigQueryClient is the part of the BigQuery API the Loader needs, behind an interface so
// that loaders can be tested without GCP. Missing datasets and tables are not errors.
type BigQueryClient interface {
	Table(datasetId, tableId string) *bigquery.Table
	DatasetExists(ctx context.Context, datasetId string) (bool, error)
	CreateDataset(ctx context.Context, datasetId string, md *bigquery.DatasetMetadata) error

	// TableMetadata returns nil metadata and no error if the table does not exist
	TableMetadata(ctx context.Context, table *bigquery.Table) (*bigquery.TableMetadata, error)
	CreateTable(ctx context.Context, table *bigquery.Table, md *bigquery.TableMetadata) error
	UpdateTable(ctx context.Context, table *bigquery.Table, update bigquery.TableMetadataToUpdate, etag string) (*bigquery.TableMetadata, error)
	Inserter(table *bigquery.Table) BigQueryInserter
}

type BigQueryInserter interface {
	Put(ctx context.Context, src any) error
}

type gcpClient struct {
	id     string
	client *bigquery.Client
}

// NewBigQueryClient wraps a GCP BigQuery client for use by loaders. Concurrent loader
// instances create the same dataset and table, so "already exists" errors are ignored.
func NewBigQueryClient(id string, client *bigquery.Client) BigQueryClient {
	return &gcpClient{id: id, client: client}
}

func (c *gcpClient) Table(datasetId, tableId string) *bigquery.Table {
	return c.client.Dataset(datasetId).Table(tableId)
}

func (c *gcpClient) DatasetExists(ctx context.Context, datasetId string) (bool, error) {
	_, err := c.client.Dataset(datasetId).Metadata(ctx)
	if isNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (c *gcpClient) CreateDataset(ctx context.Context, datasetId string, md *bigquery.DatasetMetadata) error {
	return c.ignoreExisting("dataset "+datasetId, c.client.Dataset(datasetId).Create(ctx, md))
}

func (c *gcpClient) TableMetadata(ctx context.Context, table *bigquery.Table) (*bigquery.TableMetadata, error) {
	md, err := table.Metadata(ctx)
	if isNotFound(err) {
		return nil, nil
	}
	return md, err
}

func (c *gcpClient) CreateTable(ctx context.Context, table *bigquery.Table, md *bigquery.TableMetadata) error {
	err := c.ignoreExisting("table "+table.FullyQualifiedName(), table.Create(ctx, md))
	if err != nil {
		log.Errorf(c.lgprfx()+"could not create table %s with columns %v, err: %v", table.FullyQualifiedName(), columnNames(md.Schema), err)
	}
	return err
}

// UpdateTable applies the schema update. If another loader got there first the table's
// current metadata is returned instead.
func (c *gcpClient) UpdateTable(ctx context.Context, table *bigquery.Table, update bigquery.TableMetadataToUpdate, etag string) (*bigquery.TableMetadata, error) {
	md, err := table.Update(ctx, update, etag)
	if err == nil {
		return md, nil
	}
	if c.ignoreExisting("columns of table "+table.FullyQualifiedName(), err) != nil {
		return nil, err
	}
	return table.Metadata(ctx)
}

func (c *gcpClient) Inserter(table *bigquery.Table) BigQueryInserter {
	return table.Inserter()
}

// ignoreExisting returns nil for errors telling that the resource already exists. The client
// does not expose a specific error code for this, so the message is checked.
func (c *gcpClient) ignoreExisting(resource string, err error) error {
	if err == nil || !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return err
	}
	log.Warnf(c.lgprfx()+"%s already exists, continuing: %s", resource, describe(err))
	return nil
}

func (c *gcpClient) lgprfx() string {
	return "[xbigquery.client:" + c.id + "] "
}

func describe(err error) string {
	var e *googleapi.Error
	if errors.As(err, &e) {
		return fmt.Sprintf("googleapi code: %d, message: %s, errors: %+v", e.Code, e.Message, e.Errors)
	}
	return err.Error()
}

func isNotFound(err error) bool {
	var e *googleapi.Error
	return errors.As(err, &e) && e.Code == http.StatusNotFound
}

func isNil(v any) bool {
	return v == nil || (reflect.ValueOf(v).Kind() == reflect.Ptr && reflect.ValueOf(v).IsNil())
}

// sleepCtx returns false if ctx was canceled before the delay passed
func sleepCtx(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}
