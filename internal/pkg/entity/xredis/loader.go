package xredis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/teltech/logger"
	"github.com/zpiroux/csv2json/entity"
)

const payloadField = "payload"

var log *logger.Log

func init() {
	log = logger.New()
}

// StreamClient is the part of the go-redis API used by the Loader, satisfied by *redis.Client
// and *redis.ClusterClient.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// Loader appends each row as an entry to a Redis stream. The entry holds the JSON payload
// and the content type, and the other message headers if enabled with
// sink.config.message.includeHeaders.
type Loader struct {
	client StreamClient
	spec   *entity.Spec
	stream string
	maxLen int64
	id     string
}

func NewLoader(spec *entity.Spec, id string, client StreamClient) (*Loader, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client cannot be nil", entity.ErrConfiguration)
	}
	if spec.Sink.Config == nil || spec.Sink.Config.Stream == "" {
		return nil, fmt.Errorf("%w: no redis stream specified in processor %s", entity.ErrConfiguration, spec.Id())
	}
	if spec.Sink.Config.MaxLen < 0 {
		return nil, fmt.Errorf("%w: invalid redis stream maxLen %d", entity.ErrConfiguration, spec.Sink.Config.MaxLen)
	}
	return &Loader{
		client: client,
		spec:   spec,
		stream: spec.Sink.Config.Stream,
		maxLen: spec.Sink.Config.MaxLen,
		id:     id,
	}, nil
}

func (l *Loader) StreamLoad(ctx context.Context, msgs []*entity.Message) (string, error, bool) {

	if len(msgs) == 0 || msgs[0] == nil {
		return "", errors.New("streamLoad called without data to load"), false
	}

	var resourceId string
	for _, msg := range msgs {
		values, err := l.entryValues(msg)
		if err != nil {
			return resourceId, err, false
		}

		resourceId, err = l.client.XAdd(ctx, &redis.XAddArgs{
			Stream: l.stream,
			MaxLen: l.maxLen,
			Approx: l.maxLen > 0,
			Values: values,
		}).Result()

		if err != nil {
			log.Errorf(l.lgprfx()+"XADD to stream %s failed, err: %v", l.stream, err)
			return "", err, true
		}
		if l.spec.Ops.LogEventData {
			log.Infof(l.lgprfx()+"row added to stream %s with id %s, msg: %s", l.stream, resourceId, msg)
		}
	}
	return resourceId, nil, false
}

func (l *Loader) entryValues(msg *entity.Message) ([]any, error) {
	payload, err := msg.PayloadJSON()
	if err != nil {
		return nil, fmt.Errorf("could not encode row payload, err: %v", err)
	}

	values := []any{payloadField, string(payload), entity.HeaderContentType, msg.ContentType()}

	msgSpec := l.spec.Sink.Config.Message
	if msgSpec != nil && msgSpec.IncludeHeaders {
		for _, k := range []string{entity.HeaderId, entity.HeaderTimestamp, entity.HeaderSourceUrl, entity.HeaderRowNumber} {
			if v, ok := msg.Headers[k]; ok {
				values = append(values, k, v)
			}
		}
	}
	return values, nil
}

// Shutdown is a no-op since the client is owned by the factory creator
func (l *Loader) Shutdown(ctx context.Context) {}

func (l *Loader) lgprfx() string {
	return "[xredis.loader:" + l.id + "] "
}
