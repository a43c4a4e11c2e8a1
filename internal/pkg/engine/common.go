package engine

import (
	"context"
	"errors"
	"reflect"
	"time"

	"github.com/zpiroux/csv2json/entity"
)

var ErrPanicInProcessing = errors.New("panic during message processing")

func isNil(v any) bool {
	return v == nil || (reflect.ValueOf(v).Kind() == reflect.Ptr && reflect.ValueOf(v).IsNil())
}

// A context aware sleep func returning true if proper timeout after sleep and false if ctx canceled
func sleepCtx(ctx context.Context, delay time.Duration) bool {
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// ErrorKind returns a short name of the kind of a message processing error, used as metric label.
// Emit errors are checked first since they wrap the sink's own error.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, entity.ErrEmit):
		return "emit"
	case errors.Is(err, entity.ErrConfiguration):
		return "configuration"
	case errors.Is(err, entity.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, entity.ErrResourceUnavailable):
		return "resource_unavailable"
	case errors.Is(err, entity.ErrParse):
		return "parse"
	case errors.Is(err, ErrHookUnretryableError), errors.Is(err, ErrHookInvalidAction):
		return "hook"
	}
	return "other"
}

func payloadSize(payload entity.ProjectedRow) int64 {
	var size int
	for k, v := range payload {
		size += len(k) + len(v)
	}
	return int64(size)
}
