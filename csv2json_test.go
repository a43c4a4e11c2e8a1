package csv2json

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zpiroux/csv2json/entity"
)

var peopleSpec = []byte(`
{
   "namespace": "csvtest",
   "processorIdSuffix": "people",
   "description": "Converts people CSV files to JSON messages",
   "version": 1,
   "source": {
      "type": "channel"
   },
   "projection": {
      "aliases": ["first:firstName"],
      "excludes": ["last"]
   },
   "sink": {
      "type": "channel"
   }
}`)

const peopleCSV = "id,first,last\n1,Ada,Lovelace\n2,Alan,Turing\n"

func TestProcessor(t *testing.T) {

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/people.csv" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(peopleCSV))
	}))
	defer server.Close()

	ctx := context.Background()
	config := NewConfig(peopleSpec)
	config.Ops.NotifyChanSize = 64
	config.Hooks.PostProjectionHookFunc = func(ctx context.Context, spec *entity.Spec, source entity.Row, row *entity.ProjectedRow) entity.HookAction {
		if source.Map()["id"] == "2" {
			return entity.HookActionSkip
		}
		(*row)["origin"] = spec.Id()
		return entity.HookActionProceed
	}

	p, err := New(ctx, config)
	require.NoError(t, err)
	assert.Equal(t, "csvtest-people", p.Spec().Id())
	assert.NotNil(t, p.NotifyChannel())

	done := make(chan error)
	go func() {
		done <- p.Run(ctx)
	}()

	_, err = p.Publish(ctx, server.URL+"/people.csv")
	require.NoError(t, err)

	select {
	case msg := <-p.OutputChannel():
		assert.Equal(t, entity.ProjectedRow{"id": "1", "firstName": "Ada", "origin": "csvtest-people"}, msg.Payload)
		assert.JSONEq(t, `{"id":"1","firstName":"Ada","origin":"csvtest-people"}`, string(mustJSON(t, msg)))
	case <-time.After(5 * time.Second):
		t.Fatal("no message emitted")
	}

	_, err = p.Publish(ctx, "not a url")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = p.Publish(ctx, server.URL+"/missing.csv")
	assert.ErrorIs(t, err, ErrResourceUnavailable)

	m := p.Metrics()
	assert.Equal(t, int64(3), m.MessagesProcessed)
	assert.Equal(t, int64(2), m.MessagesFailed)
	assert.Equal(t, int64(1), m.RowsEmitted)
	assert.Equal(t, int64(1), m.RowsSkipped)

	assert.NoError(t, p.Shutdown(ctx))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("processor did not finish after shutdown")
	}
}

func TestProcessorInitFailures(t *testing.T) {

	ctx := context.Background()

	_, err := New(ctx, &Config{Spec: peopleSpec})
	assert.Equal(t, ErrConfigNotInitialized, err)

	_, err = New(ctx, NewConfig([]byte(`{"namespace": "csvtest"}`)))
	assert.ErrorIs(t, err, ErrInvalidSpec)

	// Sink type not registered
	spec := []byte(`{
	   "namespace": "csvtest",
	   "processorIdSuffix": "kafka",
	   "description": "Sink type missing from config",
	   "version": 1,
	   "source": {"type": "channel"},
	   "projection": {},
	   "sink": {"type": "kafka"}
	}`)
	_, err = New(ctx, NewConfig(spec))
	assert.ErrorIs(t, err, ErrInvalidSpec)
	assert.ErrorIs(t, err, entity.ErrConfiguration)
	assert.Contains(t, err.Error(), "sink type 'kafka' not registered")

	var p *Processor
	assert.Equal(t, ErrProcessorNotInitialized, p.Run(ctx))
	_, err = p.Publish(ctx, "http://example.com/a.csv")
	assert.Equal(t, ErrProcessorNotInitialized, err)
	assert.Equal(t, ErrProcessorNotInitialized, p.Shutdown(ctx))
}

func TestErrWithDetails(t *testing.T) {
	details := errors.New("bad row")
	err := errWithDetails(ErrInternalDataProcessing, details)
	assert.ErrorIs(t, err, ErrInternalDataProcessing)
	assert.ErrorIs(t, err, details)
	assert.False(t, isMessageError(err))
	assert.True(t, isMessageError(errWithDetails(ErrParse, details)))
}

func mustJSON(t *testing.T, msg *entity.Message) []byte {
	t.Helper()
	data, err := msg.PayloadJSON()
	require.NoError(t, err)
	return data
}
