package xfirestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"cloud.google.com/go/datastore"
	"github.com/teltech/logger"
	"github.com/zpiroux/csv2json/entity"
)

const (
	DefaultEntityNameDelimiter = "#"

	// Firestore does not allow indexed string properties larger than this
	maxIndexedValueBytes = 1500
)

var log *logger.Log

func init() {
	log = logger.New()
}

// The Firestore Loader stores each row as an entity in Firestore in Datastore mode, with one
// string property per projected field. The entity name is created from the configured
// fields, or the message id if none of them are present in the row.
type Loader struct {
	client           FirestoreClient
	defaultNamespace string
	kind             entity.Kind
	noIndex          map[string]bool
	spec             *entity.Spec
	id               string
}

func NewLoader(
	spec *entity.Spec,
	id string,
	client FirestoreClient,
	defaultNamespace string) (*Loader, error) {

	if isNil(client) {
		return nil, fmt.Errorf("%w: firestore client cannot be nil", entity.ErrConfiguration)
	}
	if spec.Sink.Config == nil || len(spec.Sink.Config.Kinds) != 1 {
		return nil, fmt.Errorf("%w: exactly one firestore kind required in processor %s", entity.ErrConfiguration, spec.Id())
	}
	kind := spec.Sink.Config.Kinds[0]
	if kind.Name == "" {
		return nil, fmt.Errorf("%w: firestore kind name missing in processor %s", entity.ErrConfiguration, spec.Id())
	}

	l := &Loader{
		spec:             spec,
		id:               id,
		client:           client,
		kind:             kind,
		defaultNamespace: defaultNamespace,
		noIndex:          make(map[string]bool),
	}
	for _, field := range kind.NoIndex {
		l.noIndex[field] = true
	}
	return l, nil
}

func (l *Loader) StreamLoad(ctx context.Context, msgs []*entity.Message) (string, error, bool) {

	var (
		err        error
		retryable  bool
		resourceId string
	)

	if len(msgs) == 0 || msgs[0] == nil {
		return resourceId, errors.New("streamLoad called without data to load"), false
	}

	for _, msg := range msgs {
		if resourceId, err, retryable = l.put(ctx, msg); err != nil {
			return resourceId, fmt.Errorf("error inserting data, error: %w", err), retryable
		}
	}
	return resourceId, nil, false
}

func (l *Loader) Shutdown(ctx context.Context) {}

func (l *Loader) put(ctx context.Context, msg *entity.Message) (string, error, bool) {

	namespace := l.defaultNamespace
	if len(l.kind.Namespace) > 0 {
		namespace = l.kind.Namespace
	}
	entityName := l.entityName(msg)
	key := datastore.NameKey(l.kind.Name, entityName, nil)
	key.Namespace = namespace

	props := l.properties(msg)
	if len(props) == 0 {
		return entityName, fmt.Errorf("%w: trying to store an empty row as entity %s", entity.ErrInvalidInput, entityName), false
	}

	if l.spec.Ops.LogEventData {
		log.Infof(l.lgprfx()+"loading row: %s into Firestore as props: %#v", msg, props)
	}

	outKey, err := l.client.Put(ctx, key, &props)
	if err != nil {
		return entityName, fmt.Errorf("could not insert to firestore, err: %v, key: %v", err, key), true
	}
	if outKey != nil && !outKey.Equal(key) {
		log.Warnf(l.lgprfx()+"stored key differs from requested, key: %v, outKey: %v", key, outKey)
	}
	return key.String(), nil, false
}

// properties returns the row fields as entity properties sorted by name
func (l *Loader) properties(msg *entity.Message) datastore.PropertyList {
	names := make([]string, 0, len(msg.Payload))
	for name := range msg.Payload {
		names = append(names, name)
	}
	sort.Strings(names)

	props := make(datastore.PropertyList, 0, len(names))
	for _, name := range names {
		value := msg.Payload[name]
		props = append(props, datastore.Property{
			Name:    name,
			Value:   value,
			NoIndex: l.noIndex[name] || len(value) > maxIndexedValueBytes,
		})
	}
	return props
}

func (l *Loader) entityName(msg *entity.Message) string {
	delimiter := l.kind.EntityNameFromFields.Delimiter
	if delimiter == "" {
		delimiter = DefaultEntityNameDelimiter
	}
	var parts []string
	for _, field := range l.kind.EntityNameFromFields.Fields {
		if value, ok := msg.Payload[field]; ok && value != "" {
			parts = append(parts, value)
		}
	}
	if len(parts) == 0 {
		return msg.Id()
	}
	return strings.Join(parts, delimiter)
}

func (l *Loader) lgprfx() string {
	return "[xfirestore.loader:" + l.id + "] "
}
