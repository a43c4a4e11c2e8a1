package xbigquery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/teltech/logger"
	"github.com/zpiroux/csv2json/entity"
)

const DefaultBigQueryDatasetLocation = "EU"

// If new columns have been added by a table update it can take some time before BQ allows
// inserts to them.
var tableUpdateBackoffTime = 8 * time.Second

var log *logger.Log

func init() {
	log = logger.New()
}

// Loader inserts each row as a BigQuery table row, with one STRING column per projected
// field. The dataset and table are created if missing, and columns for fields not yet in
// the table schema are added on the fly, since the CSV header is only known when the
// resource is read.
type Loader struct {
	id              string
	spec            *entity.Spec
	tableSpec       entity.Table
	datasetLocation string
	table           *bigquery.Table
	metadata        *bigquery.TableMetadata
	client          BigQueryClient
	inserter        BigQueryInserter
	mdMutex         *sync.Mutex
}

func NewLoader(
	ctx context.Context,
	spec *entity.Spec,
	id string,
	client BigQueryClient,
	metadataMutex *sync.Mutex,
	datasetLocation string) (*Loader, error) {

	if isNil(client) {
		return nil, fmt.Errorf("%w: BigQueryClient cannot be nil", entity.ErrConfiguration)
	}
	if spec.Sink.Config == nil || len(spec.Sink.Config.Tables) == 0 {
		return nil, fmt.Errorf("%w: no BigQuery table specified in processor %s", entity.ErrConfiguration, spec.Id())
	}
	if datasetLocation == "" {
		datasetLocation = DefaultBigQueryDatasetLocation
	}
	l := &Loader{
		id:              id,
		spec:            spec,
		tableSpec:       spec.Sink.Config.Tables[0],
		datasetLocation: datasetLocation,
		client:          client,
		mdMutex:         metadataMutex,
	}
	if l.tableSpec.Name == "" || l.tableSpec.Dataset == "" {
		return nil, fmt.Errorf("%w: BigQuery table name and dataset are required, processor %s", entity.ErrConfiguration, spec.Id())
	}
	return l, l.init(ctx)
}

func (l *Loader) StreamLoad(ctx context.Context, msgs []*entity.Message) (string, error, bool) {

	if len(msgs) == 0 || msgs[0] == nil {
		return "", errors.New("streamLoad called without data to load"), false
	}

	rows, fields := l.createRows(msgs)

	if err := l.ensureColumns(ctx, fields); err != nil {
		return "", err, true
	}

	err := l.inserter.Put(ctx, rows)

	if err != nil && probableTableUpdatingError(err) {
		log.Warnf(l.lgprfx()+"BQ table probably not ready after table update, let's back off a few sec (err: %v)", err)
		if !sleepCtx(ctx, tableUpdateBackoffTime) {
			err = entity.ErrEntityShutdownRequested
		}
	}

	if err != nil {
		return "", err, true
	}

	resourceId := l.tableSpec.Dataset + "." + l.tableSpec.Name + "/" + rows[len(rows)-1].InsertId
	if l.spec.Ops.LogEventData {
		log.Debugf(l.lgprfx()+"successfully inserted %d rows to BigQuery table %s", len(rows), resourceId)
	}
	return resourceId, nil, false
}

func probableTableUpdatingError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no such field")
}

func (l *Loader) Shutdown(ctx context.Context) {}

// init creates the dataset if needed and fetches the table metadata. A missing table is
// created when the first rows arrive, when its columns are known.
func (l *Loader) init(ctx context.Context) error {

	l.table = l.client.Table(l.tableSpec.Dataset, l.tableSpec.Name)

	l.mdMutex.Lock()
	defer l.mdMutex.Unlock()

	exists, err := l.client.DatasetExists(ctx, l.tableSpec.Dataset)
	if err != nil {
		return err
	}
	if !exists {
		md := &bigquery.DatasetMetadata{
			Location:    l.datasetLocation,
			Description: "Created by csv2json",
		}
		if err := l.client.CreateDataset(ctx, l.tableSpec.Dataset, md); err != nil {
			return err
		}
	} else {
		log.Debugf(l.lgprfx()+"dataset %v already exists, no need to create it", l.tableSpec.Dataset)
	}

	metadata, err := l.client.TableMetadata(ctx, l.table)
	if err != nil {
		return err
	}
	if metadata != nil {
		l.metadata = metadata
		log.Debugf(l.lgprfx()+"table %s.%s already exists, no need to create it", l.tableSpec.Dataset, l.tableSpec.Name)
	}

	l.inserter = l.client.Inserter(l.table)
	return nil
}

// createRows returns one Row per message together with the sorted set of all fields present
func (l *Loader) createRows(msgs []*entity.Message) ([]*Row, []string) {

	var rows []*Row
	fieldSet := make(map[string]bool)

	for _, msg := range msgs {
		row := NewRow()
		for k, v := range msg.Payload {
			row.AddItem(&RowItem{Name: k, Value: v})
			fieldSet[k] = true
		}
		row.InsertId = msg.Id()
		if l.tableSpec.InsertIdFromField != "" {
			if insertId, ok := msg.Payload[l.tableSpec.InsertIdFromField]; ok && insertId != "" {
				row.InsertId = insertId
			}
		}
		rows = append(rows, row)
	}

	fields := make([]string, 0, len(fieldSet))
	for f := range fieldSet {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	return rows, fields
}

// ensureColumns creates the table, or adds the columns missing in its schema
func (l *Loader) ensureColumns(ctx context.Context, fields []string) error {

	l.mdMutex.Lock()
	defer l.mdMutex.Unlock()

	var newColumns bigquery.Schema
	for _, f := range fields {
		if !l.columnExists(f) {
			newColumns = append(newColumns, &bigquery.FieldSchema{
				Name: f,
				Type: bigquery.StringFieldType,
				// Required must be false for columns appended to a table
			})
		}
	}
	if len(newColumns) == 0 {
		return nil
	}

	if l.metadata == nil {
		return l.createTable(ctx, newColumns)
	}

	log.Infof(l.lgprfx()+"new columns found, to be created: %v", columnNames(newColumns))
	return l.addColumnsToTable(ctx, newColumns)
}

func (l *Loader) createTable(ctx context.Context, schema bigquery.Schema) error {

	md := &bigquery.TableMetadata{
		Schema:      schema,
		Description: l.spec.Description,
	}
	if err := l.client.CreateTable(ctx, l.table, md); err != nil {
		return err
	}

	// Another instance might have created the table concurrently, so use the actual schema
	metadata, err := l.tableMetadata(ctx)
	if err != nil {
		return err
	}
	l.metadata = metadata
	log.Infof(l.lgprfx()+"table %s.%s created with columns: %v", l.tableSpec.Dataset, l.tableSpec.Name, columnNames(schema))
	return nil
}

func (l *Loader) addColumnsToTable(ctx context.Context, newColumns bigquery.Schema) error {

	// We cannot use the already stored metadata in the Loader since we need to get the etag from BQ
	// to ensure consistency in the Update operation.
	meta, err := l.tableMetadata(ctx)
	if err != nil {
		return err
	}

	var missing bigquery.Schema
	for _, col := range newColumns {
		if !schemaHasColumn(meta.Schema, col.Name) {
			missing = append(missing, col)
		}
	}
	if len(missing) == 0 {
		l.metadata = meta
		return nil
	}

	update := bigquery.TableMetadataToUpdate{
		Schema: append(meta.Schema, missing...),
	}

	tm, err := l.client.UpdateTable(ctx, l.table, update, meta.ETag)

	if err == nil {
		// BQ takes a while to allow ingestion with new schema, this sleep will reduce number of retries,
		// although not required for actual functionality.
		if !sleepCtx(ctx, tableUpdateBackoffTime) {
			err = entity.ErrEntityShutdownRequested
		}
		l.metadata = tm
	}

	log.Debugf(l.lgprfx()+"BQ update table returned err: %v", err)
	return err
}

// tableMetadata returns the metadata of a table which is expected to exist
func (l *Loader) tableMetadata(ctx context.Context) (*bigquery.TableMetadata, error) {
	md, err := l.client.TableMetadata(ctx, l.table)
	if err == nil && md == nil {
		err = fmt.Errorf("table %s.%s not found", l.tableSpec.Dataset, l.tableSpec.Name)
	}
	return md, err
}

func (l *Loader) columnExists(colName string) bool {
	return l.metadata != nil && schemaHasColumn(l.metadata.Schema, colName)
}

func schemaHasColumn(schema bigquery.Schema, colName string) bool {
	for _, field := range schema {
		if field.Name == colName {
			return true
		}
	}
	return false
}

func columnNames(schema bigquery.Schema) []string {
	names := make([]string, 0, len(schema))
	for _, f := range schema {
		names = append(names, f.Name)
	}
	return names
}

func (l *Loader) lgprfx() string {
	return "[xbigquery.loader:" + l.id + "] "
}

type RowItem struct {
	Name  string
	Value any
}

type Row struct {
	InsertId string
	rowItems map[string]bigquery.Value
}

func NewRow() *Row {
	return &Row{
		rowItems: make(map[string]bigquery.Value),
	}
}

func (r *Row) AddItem(item *RowItem) {
	r.rowItems[item.Name] = item.Value
}

// Save is required for implementing the BigQuery ValueSaver interface, as used by the bigquery.Inserter
func (r *Row) Save() (map[string]bigquery.Value, string, error) {
	return r.rowItems, r.InsertId, nil
}

func (r *Row) Size() int {
	return len(r.rowItems)
}
