package xbigtable

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigtable"
	"github.com/google/uuid"
	"github.com/teltech/logger"
	"github.com/zpiroux/csv2json/entity"
)

const (
	PreDefinedRowKeyUuid      = "uuid"
	PreDefinedRowKeyMessageId = "messageId"

	DefaultColumnFamily    = "d"
	DefaultRowKeyDelimiter = "#"
)

const openTableRetryCount = 5
const openTableSleepPeriod = 2 * time.Second

var log *logger.Log

func init() {
	log = logger.New()
}

// Loader writes each row as a Bigtable row in all tables of the sink spec. Each projected
// field is stored in its own column, named as the field, in the table's column family.
type Loader struct {
	id           string
	spec         *entity.Spec
	client       BigTableClient
	adminClient  BigTableAdminClient
	openedTables map[string]BigTableTable
}

func NewLoader(
	ctx context.Context,
	spec *entity.Spec,
	id string,
	client BigTableClient,
	adminClient BigTableAdminClient) (*Loader, error) {

	if isNil(client) || isNil(adminClient) {
		return nil, fmt.Errorf("%w: bigtable clients cannot be nil", entity.ErrConfiguration)
	}
	if spec.Sink.Config == nil || len(spec.Sink.Config.Tables) == 0 {
		return nil, fmt.Errorf("%w: no Bigtable table specified in processor %s", entity.ErrConfiguration, spec.Id())
	}
	for _, table := range spec.Sink.Config.Tables {
		if table.Name == "" {
			return nil, fmt.Errorf("%w: Bigtable table name missing in processor %s", entity.ErrConfiguration, spec.Id())
		}
		if table.RowKey.Predefined == "" && len(table.RowKey.Fields) == 0 {
			return nil, fmt.Errorf("%w: Bigtable row key needs predefined type or fields, table %s", entity.ErrConfiguration, table.Name)
		}
	}

	var l = Loader{
		id:           id,
		spec:         spec,
		client:       client,
		adminClient:  adminClient,
		openedTables: make(map[string]BigTableTable),
	}

	err := l.createTables(ctx)
	if err != nil {
		if otherStreamCreatingTable(err) {
			log.Warnf(l.lgprfx()+"another instance's bigtable sink just created the table %+v, just opening it instead", spec.Sink.Config.Tables)
		} else {
			return &l, err
		}
	}

	for i := 0; i < openTableRetryCount; i++ {
		if err = l.openTables(); err == nil {
			break
		}
		time.Sleep(openTableSleepPeriod)
	}

	return &l, err
}

// No good granular way to properly get real error codes from bt client, to detect these "non-errors".
// Need to parse error string -.-
func otherStreamCreatingTable(err error) bool {
	return strings.Contains(err.Error(), "AlreadyExists") ||
		strings.Contains(err.Error(), "Table currently being created") ||
		strings.Contains(err.Error(), "is creating")
}

func (l *Loader) StreamLoad(ctx context.Context, msgs []*entity.Message) (string, error, bool) {
	var (
		err       error
		rowKey    string
		retryable bool
	)
	if len(msgs) == 0 || msgs[0] == nil {
		return rowKey, errors.New("StreamLoad called without data to load"), false
	}

	for _, msg := range msgs {
		for _, table := range l.spec.Sink.Config.Tables {
			if rowKey, err, retryable = l.upsertRow(ctx, table, msg); err != nil {
				return rowKey, err, retryable
			}
		}
	}
	return rowKey, nil, false
}

func (l *Loader) Shutdown(ctx context.Context) {}

func (l *Loader) upsertRow(ctx context.Context, table entity.Table, msg *entity.Message) (string, error, bool) {

	rowKey, err := createRowKey(table, msg)
	if err != nil {
		return "", err, false
	}

	family := columnFamily(table)
	mut := bigtable.NewMutation()
	timestamp := bigtable.Now()
	for field, value := range msg.Payload {
		mut.Set(family, field, timestamp, []byte(value))
	}

	t := l.openedTables[table.Name]
	if t == nil {
		return rowKey, fmt.Errorf("could not find opened table %s, when inserting row with rowKey: %s", table.Name, rowKey), false
	}
	if err := t.Apply(ctx, rowKey, mut); err != nil {
		return rowKey, fmt.Errorf("table.Apply() failed with: %v, table: %s, rowKey: %s", err, table.Name, rowKey), true
	}

	if l.spec.Ops.LogEventData {
		log.Infof(l.lgprfx()+"(table: %s) successfully wrote row with key: %s, msg: %s", table.Name, rowKey, msg)
	}
	return rowKey, nil, false
}

// createRowKey joins the values of the row key fields. All key fields need to be present in
// the projected row, since a partial key could overwrite unrelated rows.
func createRowKey(table entity.Table, msg *entity.Message) (string, error) {

	switch table.RowKey.Predefined {
	case PreDefinedRowKeyUuid:
		return uuid.New().String(), nil
	case PreDefinedRowKeyMessageId:
		return msg.Id(), nil
	case "":
	default:
		return "", fmt.Errorf("%w: unsupported predefined row key %q", entity.ErrConfiguration, table.RowKey.Predefined)
	}

	delimiter := table.RowKey.Delimiter
	if delimiter == "" {
		delimiter = DefaultRowKeyDelimiter
	}

	keys := make([]string, 0, len(table.RowKey.Fields))
	for _, field := range table.RowKey.Fields {
		value, ok := msg.Payload[field]
		if !ok || value == "" {
			return "", fmt.Errorf("%w: row key field %q missing in row, table: %s", entity.ErrInvalidInput, field, table.Name)
		}
		keys = append(keys, value)
	}
	return strings.Join(keys, delimiter), nil
}

func columnFamily(table entity.Table) string {
	if table.ColumnFamily == "" {
		return DefaultColumnFamily
	}
	return table.ColumnFamily
}

func (l *Loader) createTables(ctx context.Context) error {

	tables, err := l.adminClient.Tables(ctx)
	if err != nil {
		return fmt.Errorf("could not fetch table list: %v", err)
	}

	for _, table := range l.spec.Sink.Config.Tables {

		if !sliceContains(tables, table.Name) {
			if err := l.adminClient.CreateTable(ctx, table.Name); err != nil {
				return fmt.Errorf("could not create table %s: %v", table.Name, err)
			}
			log.Infof(l.lgprfx()+"created table %s", table.Name)
		}

		tblInfo, err := l.adminClient.TableInfo(ctx, table.Name)
		if err != nil {
			return fmt.Errorf("could not read info for table %s: %v", table.Name, err)
		}

		family := columnFamily(table)
		if !sliceContains(tblInfo.Families, family) {
			if err := l.adminClient.CreateColumnFamily(ctx, table.Name, family); err != nil {
				return fmt.Errorf("could not create column family %s: %v", family, err)
			}

			// Rows are upserted, so only the latest version of each cell is of interest
			policy := bigtable.MaxVersionsPolicy(1)
			if err := l.adminClient.SetGCPolicy(ctx, table.Name, family, policy); err != nil {
				return fmt.Errorf("SetGCPolicy(%s): %v", policy, err)
			}
		}
	}
	return nil
}

func sliceContains(list []string, target string) bool {
	for _, s := range list {
		if s == target {
			return true
		}
	}
	return false
}

func (l *Loader) openTables() error {
	for _, table := range l.spec.Sink.Config.Tables {
		t := l.client.Open(table.Name)
		if isNil(t) {
			return fmt.Errorf("could not open table %s", table.Name)
		}
		l.openedTables[table.Name] = t
	}
	return nil
}

func (l *Loader) lgprfx() string {
	return "[xbigtable.loader:" + l.id + "] "
}
