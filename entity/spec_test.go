package entity

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests of projections using the processor spec constructs are found in the projection package.

const testSpecDir = "../test/specs/"

func TestSpecModel(t *testing.T) {

	for _, file := range []string{
		"kafkasrc-kafkasink-people.json",
		"pubsubsrc-bigquerysink-orders.json",
		"pubsubsrc-bigtablesink-readings.json",
		"kafkasrc-firestoresink-products.json",
		"channelsrc-redissink-events.json",
		"channelsrc-voidsink.json",
		"channelsrc-pubsubsink-people.json",
	} {
		fileBytes, err := os.ReadFile(testSpecDir + file)
		require.NoError(t, err)
		spec, err := NewSpec(fileBytes)
		assert.NoError(t, err, file)
		require.NotNil(t, spec)
		assert.NoError(t, spec.Validate(), file)
	}

	// Raw JSON validation
	err := validateRawJson(specOk)
	assert.NoError(t, err)

	// Missing Sink
	err = validateRawJson(specMissingSink)
	assert.Error(t, err)

	// Empty namespace
	err = validateRawJson(specEmptyNamespace)
	assert.Error(t, err)

	// Unknown projection field
	err = validateRawJson(specUnknownProjectionField)
	assert.Error(t, err)

	// Spec changes vs JSON schema
	spec := NewEmptySpec()
	spec.Namespace = "foo"
	spec.ProcessorIdSuffix = "bar"
	spec.Description = "bla bla"
	spec.Source.Type = "kafka"
	spec.Sink.Type = "coolSink"
	specBytes, _ := json.Marshal(spec)
	err = validateRawJson(specBytes)
	assert.NoError(t, err)
	assert.Equal(t, "foo-bar", spec.Id())

	// Custom environment
	topicSpecJSON := []byte(`
  {
    "env": "my-cool-env",
    "names": ["topic1", "topic2"]
  }`)
	var topicSpec Topics
	err = json.Unmarshal(topicSpecJSON, &topicSpec)
	assert.NoError(t, err)
	assert.Equal(t, "my-cool-env", string(topicSpec.Env))

	_, err = NewSpec(nil)
	assert.Error(t, err)
}

func TestSpecDefaults(t *testing.T) {

	spec, err := NewSpec(specOk)
	require.NoError(t, err)

	assert.Equal(t, DefaultStreamsPerPod, spec.Ops.StreamsPerPod)
	assert.Equal(t, HofmDefault, spec.Ops.HandlingOfFailedMessages)
	assert.Equal(t, DefaultFormat, spec.Projection.Format)
	assert.Equal(t, DefaultDelimiter, spec.Projection.Delimiter)
	assert.Equal(t, DefaultContentType, spec.Projection.ContentType)
	assert.Equal(t, DefaultCharset, spec.Projection.Charset)
	assert.False(t, spec.IsDisabled())

	// Spec JSON round trip keeps the defaults
	spec2, err := NewSpec(spec.JSON())
	require.NoError(t, err)
	assert.Equal(t, spec, spec2)
}

func TestProjectionDelimiter(t *testing.T) {

	p := Projection{Delimiter: ";"}
	r, err := p.DelimiterRune()
	assert.NoError(t, err)
	assert.Equal(t, ';', r)

	p.Delimiter = "\t"
	r, err = p.DelimiterRune()
	assert.NoError(t, err)
	assert.Equal(t, '\t', r)

	p.Delimiter = "ö"
	r, err = p.DelimiterRune()
	assert.NoError(t, err)
	assert.Equal(t, 'ö', r)

	for _, bad := range []string{"", ";;", "\n", "\r"} {
		p.Delimiter = bad
		_, err = p.DelimiterRune()
		assert.ErrorIs(t, err, ErrConfiguration, bad)
	}

	_, err = NewSpec(specTwoCharDelimiter)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestTopicEnvSelection(t *testing.T) {

	fileBytes, err := os.ReadFile(testSpecDir + "kafkasrc-kafkasink-people.json")
	require.NoError(t, err)
	spec, err := NewSpec(fileBytes)
	require.NoError(t, err)

	assert.Equal(t, []string{"csv.urls"}, spec.Source.Config.TopicNames(EnvironmentDev))
	assert.Equal(t, []string{"csv.urls"}, spec.Source.Config.TopicNames(""))
	assert.Equal(t, []string{"prod.csv.urls"}, spec.Source.Config.TopicNames(EnvironmentProd))

	topic := spec.Sink.Config.TopicSpec(EnvironmentProd)
	require.NotNil(t, topic)
	assert.Equal(t, "csv.people", topic.Name)
	assert.Equal(t, 6, topic.NumPartitions)

	var nilConfig *SinkConfig
	assert.Nil(t, nilConfig.TopicSpec(EnvironmentProd))
}

var specOk = []byte(`
{
  "namespace": "csvtest",
  "processorIdSuffix": "people",
  "description": "Test spec.",
  "version": 1,
  "source": {
    "type": "channel"
  },
  "projection": {},
  "sink": {
    "type": "void"
  }
}
`)

var specMissingSink = []byte(`
{
  "namespace": "csvtest",
  "processorIdSuffix": "people",
  "description": "Test spec.",
  "version": 1,
  "source": {
    "type": "channel"
  },
  "projection": {}
}
`)

var specEmptyNamespace = []byte(`
{
  "namespace": "",
  "processorIdSuffix": "people",
  "description": "Test spec.",
  "version": 1,
  "source": {
    "type": "channel"
  },
  "projection": {},
  "sink": {
    "type": "void"
  }
}
`)

var specUnknownProjectionField = []byte(`
{
  "namespace": "csvtest",
  "processorIdSuffix": "people",
  "description": "Test spec.",
  "version": 1,
  "source": {
    "type": "channel"
  },
  "projection": {
    "separator": ";"
  },
  "sink": {
    "type": "void"
  }
}
`)

var specTwoCharDelimiter = []byte(`
{
  "namespace": "csvtest",
  "processorIdSuffix": "people",
  "description": "Test spec.",
  "version": 1,
  "source": {
    "type": "channel"
  },
  "projection": {
    "delimiter": ";;"
  },
  "sink": {
    "type": "void"
  }
}
`)
