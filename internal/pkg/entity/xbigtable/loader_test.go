package xbigtable

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"cloud.google.com/go/bigtable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zpiroux/csv2json/entity"
)

const testSpecDir = "../../../../test/specs/"

func TestLoader(t *testing.T) {

	ctx := context.Background()
	spec := specFromFile(t, "pubsubsrc-bigtablesink-readings.json")
	client := &MockClient{tables: make(map[string]*MockTable)}
	admin := &MockAdminClient{existing: []string{"foo"}}

	lf := NewLoaderFactory(client, admin)
	assert.Equal(t, "bigtable", lf.SinkId())
	l, err := lf.NewLoader(ctx, entity.Config{Spec: spec, ID: "mockId"})
	require.NoError(t, err)

	// Table and column family created with a GC policy
	assert.Equal(t, []string{"readings"}, admin.created)
	assert.Equal(t, []string{"readings/r"}, admin.families)
	assert.Equal(t, 1, admin.policies)

	msg := entity.NewMessage(entity.ProjectedRow{"sensor": "s-17", "ts": "1700000000", "temp": "21.5"}, "application/json")
	rowKey, err, retryable := l.StreamLoad(ctx, []*entity.Message{msg})
	assert.NoError(t, err)
	assert.False(t, retryable)
	assert.Equal(t, "s-17#1700000000", rowKey)
	assert.Equal(t, []string{"s-17#1700000000"}, client.tables["readings"].rowKeys())

	// Missing key field is not retryable
	msg = entity.NewMessage(entity.ProjectedRow{"sensor": "s-17", "temp": "21.5"}, "application/json")
	_, err, retryable = l.StreamLoad(ctx, []*entity.Message{msg})
	assert.ErrorIs(t, err, entity.ErrInvalidInput)
	assert.False(t, retryable)

	client.tables["readings"].err = errors.New("unavailable")
	msg = entity.NewMessage(entity.ProjectedRow{"sensor": "s-18", "ts": "1"}, "application/json")
	_, err, retryable = l.StreamLoad(ctx, []*entity.Message{msg})
	assert.Error(t, err)
	assert.True(t, retryable)

	_, err, _ = l.StreamLoad(ctx, nil)
	assert.Error(t, err)

	l.Shutdown(ctx)
	assert.NoError(t, lf.Close())
}

func TestLoaderPredefinedRowKeys(t *testing.T) {

	ctx := context.Background()
	spec := specFromFile(t, "pubsubsrc-bigtablesink-readings.json")
	spec.Sink.Config.Tables = []entity.Table{
		{Name: "by_uuid", RowKey: entity.RowKey{Predefined: PreDefinedRowKeyUuid}},
		{Name: "by_id", RowKey: entity.RowKey{Predefined: PreDefinedRowKeyMessageId}},
	}
	client := &MockClient{tables: make(map[string]*MockTable)}
	admin := &MockAdminClient{existing: []string{"by_uuid", "by_id"}, families: []string{}}
	admin.infoFamilies = []string{DefaultColumnFamily}

	loader, err := NewLoader(ctx, spec, "mockId", client, admin)
	require.NoError(t, err)
	assert.Empty(t, admin.created)
	assert.Empty(t, admin.families)

	msg := entity.NewMessage(entity.ProjectedRow{"a": "1"}, "application/json")
	_, err, _ = loader.StreamLoad(ctx, []*entity.Message{msg})
	assert.NoError(t, err)
	assert.Len(t, client.tables["by_uuid"].rowKeys()[0], 36)
	assert.Equal(t, []string{msg.Id()}, client.tables["by_id"].rowKeys())
}

func TestNewLoaderErrors(t *testing.T) {

	ctx := context.Background()
	spec := specFromFile(t, "pubsubsrc-bigtablesink-readings.json")

	_, err := NewLoader(ctx, spec, "mockId", nil, nil)
	assert.ErrorIs(t, err, entity.ErrConfiguration)

	client := &MockClient{tables: make(map[string]*MockTable)}
	_, err = NewLoader(ctx, spec, "mockId", client, &MockAdminClient{tablesErr: errors.New("denied")})
	assert.Error(t, err)

	spec.Sink.Config.Tables[0].RowKey = entity.RowKey{}
	_, err = NewLoader(ctx, spec, "mockId", client, &MockAdminClient{})
	assert.ErrorIs(t, err, entity.ErrConfiguration)

	spec.Sink.Config.Tables = nil
	_, err = NewLoader(ctx, spec, "mockId", client, &MockAdminClient{})
	assert.ErrorIs(t, err, entity.ErrConfiguration)
}

func TestCreateRowKey(t *testing.T) {

	msg := entity.NewMessage(entity.ProjectedRow{"a": "x", "b": "y"}, "application/json")

	key, err := createRowKey(entity.Table{RowKey: entity.RowKey{Fields: []string{"b", "a"}, Delimiter: "|"}}, msg)
	assert.NoError(t, err)
	assert.Equal(t, "y|x", key)

	key, err = createRowKey(entity.Table{RowKey: entity.RowKey{Fields: []string{"a"}}}, msg)
	assert.NoError(t, err)
	assert.Equal(t, "x", key)

	_, err = createRowKey(entity.Table{RowKey: entity.RowKey{Predefined: "invertedTimestamp"}}, msg)
	assert.ErrorIs(t, err, entity.ErrConfiguration)
}

func specFromFile(t *testing.T, name string) *entity.Spec {
	specData, err := os.ReadFile(testSpecDir + name)
	require.NoError(t, err)
	spec, err := entity.NewSpec(specData)
	require.NoError(t, err)
	return spec
}

type MockClient struct {
	tables map[string]*MockTable
}

func (m *MockClient) Open(table string) BigTableTable {
	if _, ok := m.tables[table]; !ok {
		m.tables[table] = &MockTable{}
	}
	return m.tables[table]
}

type MockAdminClient struct {
	existing     []string
	infoFamilies []string
	created      []string
	families     []string
	policies     int
	tablesErr    error
}

func (m *MockAdminClient) Tables(ctx context.Context) ([]string, error) {
	return m.existing, m.tablesErr
}

func (m *MockAdminClient) CreateTable(ctx context.Context, table string) error {
	m.created = append(m.created, table)
	return nil
}

func (m *MockAdminClient) TableInfo(ctx context.Context, table string) (*bigtable.TableInfo, error) {
	return &bigtable.TableInfo{Families: m.infoFamilies}, nil
}

func (m *MockAdminClient) CreateColumnFamily(ctx context.Context, table string, family string) error {
	m.families = append(m.families, strings.Join([]string{table, family}, "/"))
	return nil
}

func (m *MockAdminClient) SetGCPolicy(ctx context.Context, table string, family string, policy bigtable.GCPolicy) error {
	m.policies++
	return nil
}

// MockTable only records row keys, since mutation content is not accessible
type MockTable struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (mt *MockTable) Apply(ctx context.Context, rowKey string, m *bigtable.Mutation, opts ...bigtable.ApplyOption) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	if mt.err != nil {
		return mt.err
	}
	mt.keys = append(mt.keys, rowKey)
	return nil
}

func (mt *MockTable) rowKeys() []string {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.keys
}
