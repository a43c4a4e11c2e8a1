package void

import (
	"context"
	"errors"
	"math"
	"strconv"

	"github.com/teltech/logger"
	"github.com/zpiroux/csv2json/entity"
)

var log *logger.Log

func init() {
	log = logger.New()
}

const noResourceId = "<noResourceId>"

type LoaderFactory struct{}

func NewLoaderFactory() entity.LoaderFactory {
	return &LoaderFactory{}
}

func (lf *LoaderFactory) SinkId() string {
	return string(entity.EntityVoid)
}

func (lf *LoaderFactory) NewLoader(ctx context.Context, c entity.Config) (entity.Loader, error) {
	return newLoader(c.Spec), nil
}

func (lf *LoaderFactory) Close() error {
	return nil
}

// loader discards all rows. Sink config properties:
//
//	logEventData: "true" logs each row
//	simulateError: "alwaysRetryable" or "alwaysUnretryable"
//	maxErrors: max number of simulated errors
type loader struct {
	spec         *entity.Spec
	props        map[string]string
	maxErrors    int
	numberErrors int
}

func newLoader(spec *entity.Spec) *loader {
	l := &loader{
		spec:      spec,
		props:     make(map[string]string),
		maxErrors: math.MaxInt32,
	}

	if spec != nil && spec.Sink.Config != nil {
		for _, prop := range spec.Sink.Config.Properties {
			l.props[prop.Key] = prop.Value
		}
		if value, ok := l.props["maxErrors"]; ok {
			l.maxErrors, _ = strconv.Atoi(value)
		}
	}
	return l
}

func (l *loader) StreamLoad(ctx context.Context, msgs []*entity.Message) (string, error, bool) {

	var (
		err       error
		retryable bool
	)

	if len(msgs) == 0 || msgs[0] == nil {
		return noResourceId, errors.New("streamLoad called without data to load"), false
	}

	if value, ok := l.props["simulateError"]; ok && l.numberErrors < l.maxErrors {
		l.numberErrors++
		switch value {
		case "alwaysRetryable":
			err = errors.New("void loader simulating retryable error")
			retryable = true
		case "alwaysUnretryable":
			err = errors.New("void loader simulating unretryable error")
		}
	}

	if l.props["logEventData"] == "true" || (l.spec != nil && l.spec.Ops.LogEventData) {
		for _, msg := range msgs {
			log.Infof("row received in void sink StreamLoad: %s", msg)
		}
	}

	return msgs[len(msgs)-1].Id(), err, retryable
}

func (l *loader) Shutdown(ctx context.Context) {}
