package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"
)

// General Ops defaults
const (
	DefaultStreamsPerPod = 1
	DefaultFormat        = "Excel"
	DefaultDelimiter     = ","
	DefaultCharset       = "UTF-8"
)

// Available options for Ops.HandlingOfFailedMessages
const (
	HofmDefault = "default"
	HofmDiscard = "discard"
	HofmFail    = "fail"
)

// Some entities need different configurations based on environments, such as topic names.
// The following env types are provided for consistency across entity plugins, but any
// type of custom string can be used by plugin entities.
type Environment string

const (
	EnvironmentAll   Environment = "all"
	EnvironmentDev   Environment = "dev"
	EnvironmentStage Environment = "stage"
	EnvironmentProd  Environment = "prod"
)

// Spec specifies how a csv2json processor should be activated, from Source via Projection
// to Sink. The Namespace + ProcessorIdSuffix combination forms the processor ID.
// A Spec is immutable once the processor has been created from it.
type Spec struct {
	// Main metadata (required)
	Namespace         string `json:"namespace"`
	ProcessorIdSuffix string `json:"processorIdSuffix"`
	Description       string `json:"description"`
	Version           int    `json:"version"`

	// Operational config (optional)
	Disabled bool `json:"disabled"`
	Ops      Ops  `json:"ops"`

	// Processor entity config (required)
	Source     Source     `json:"source"`
	Projection Projection `json:"projection"`
	Sink       Sink       `json:"sink"`
}

// NewSpec creates a new Spec from JSON and validates both against JSON schema and the
// projection settings of the created spec.
func NewSpec(specData []byte) (*Spec, error) {
	var spec Spec
	if len(specData) == 0 {
		return nil, errors.New("no spec data provided")
	}

	if err := validateRawJson(specData); err != nil {
		return nil, err
	}

	err := json.Unmarshal(specData, &spec)
	if err == nil {
		spec.EnsureValidDefaults()
		err = spec.Validate()
	}
	return &spec, err
}

// NewEmptySpec returns a spec with all defaults set, useful for programmatic configuration.
func NewEmptySpec() *Spec {
	var spec Spec
	spec.EnsureValidDefaults()
	return &spec
}

func (s *Spec) Id() string {
	return s.Namespace + "-" + s.ProcessorIdSuffix
}

func (s *Spec) IsDisabled() bool {
	return s.Disabled
}

func (s *Spec) EnsureValidDefaults() {
	s.Ops.EnsureValidDefaults()
	s.Projection.EnsureValidDefaults()
}

type Ops struct {
	// StreamsPerPod specifies how many Executors that should process inbound messages
	// concurrently, each in its own Goroutine with its own Extractor and Loader.
	// If omitted it is set to DefaultStreamsPerPod (1).
	StreamsPerPod int `json:"streamsPerPod"`

	// HandlingOfFailedMessages specifies what the source Extractor should do with inbound
	// messages that could not be processed (bad URL, unknown format, unavailable resource, etc).
	// The processor itself never retries a message. Available options are:
	//
	//		"default" - Default behaviour depending on Extractor type. For Kafka this means "discard" and for
	//					Pubsub it means Nack (the message will be redelivered later by Pub/Sub).
	//					If this field is omitted it will take this value.
	//
	//		"discard" - Discard the message, log it with Warn, and continue processing other messages.
	//
	//		"fail"    - The processor will be terminated with an error message.
	//
	HandlingOfFailedMessages string `json:"handlingOfFailedMessages,omitempty"`

	// LogEventData enables granular logging of inbound messages and emitted rows.
	LogEventData bool `json:"logEventData"`

	// FetchTimeoutSec sets a timeout for fetching http(s) resources. If omitted or zero
	// a stalled fetch blocks the processing of that message indefinitely.
	FetchTimeoutSec int `json:"fetchTimeoutSec,omitempty"`

	// CustomProperties can be used to configure processing in any type of custom
	// connector or injected hook logic.
	CustomProperties map[string]string `json:"customProperties"`
}

func (o *Ops) EnsureValidDefaults() {
	if o.StreamsPerPod <= 0 {
		o.StreamsPerPod = DefaultStreamsPerPod
	}
	if o.HandlingOfFailedMessages == "" {
		o.HandlingOfFailedMessages = HofmDefault
	}
}

// Source spec
type Source struct {
	Type   EntityType   `json:"type"`
	Config SourceConfig `json:"config"`
}

type SourceConfig struct {
	Topics       []Topics      `json:"topics,omitempty"`
	Subscription *Subscription `json:"subscription,omitempty"`

	// PollTimeoutMs is a Kafka consumer specific property, specifying after how long time to return from the Poll()
	// call, if no messages are available for consumption. If omitted the extractor factory default is used.
	PollTimeoutMs *int `json:"pollTimeoutMs,omitempty"`

	// MaxOutstandingMessages is a PubSub consumer specific property, specifying max number of fetched but not yet
	// acknowledged messages in pubsub consumer. Since each inbound message can result in a lengthy fetch and
	// conversion, a low value is normally preferred.
	MaxOutstandingMessages *int `json:"maxOutstandingMessages,omitempty"`

	// MaxOutstandingBytes is a PubSub consumer specific property, specifying max size of fetched but not yet
	// acknowledged messages.
	MaxOutstandingBytes *int `json:"maxOutstandingBytes,omitempty"`

	// Properties holds direct low-level entity properties like Kafka consumer props
	Properties []Property `json:"properties,omitempty"`
}

// TopicNames returns the topic names to use for the provided environment. Topics with
// env "all" (or no env) are used if there are no env specific ones.
func (s SourceConfig) TopicNames(env Environment) []string {
	var all []string
	for _, topics := range s.Topics {
		if topics.Env == env && env != "" {
			return topics.Names
		}
		if topics.Env == EnvironmentAll || topics.Env == "" {
			all = topics.Names
		}
	}
	return all
}

type Topics struct {
	// Env specifies for which environment/stage the topic names config should be used.
	// Allowed values are "all" or any string matching the config provided to registered entity factories.
	Env   Environment `json:"env,omitempty"`
	Names []string    `json:"names,omitempty"`
}

type Subscription struct {
	// Type can be:
	//
	// 		"shared" - meaning multiple consumers share this subscription in a competing consumer pattern.
	//				   Only one of the subscribers will receive each message.
	//				   If this is set, the name of the subscription needs to be present in the "Name" field.
	//
	//		"unique" - meaning each processor instance will have its own unique subscription.
	//				   All instances will thus get all messages from the topic.
	Type string `json:"type,omitempty"`

	Name string `json:"name,omitempty"`
}

type Property struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Projection spec, holding the CSV format and the field projection rules applied to
// each parsed row.
type Projection struct {
	// Format is the name of the CSV dialect, matched case-insensitively. See package
	// csvformat for the supported ones. If omitted it is set to DefaultFormat.
	// The format is resolved for each inbound message.
	Format string `json:"format,omitempty"`

	// Delimiter is a single character overriding the delimiter of the resolved format.
	// If omitted it is set to DefaultDelimiter.
	Delimiter string `json:"delimiter,omitempty"`

	// Aliases are "source:target" field renames
	Aliases []string `json:"aliases,omitempty"`

	// Includes restricts the emitted fields to these header names. Empty means all fields.
	Includes []string `json:"includes,omitempty"`

	// Excludes removes these header names from the emitted fields. Empty means none.
	Excludes []string `json:"excludes,omitempty"`

	// ContentType is set as the content type header on each emitted message.
	// If omitted it is set to DefaultContentType.
	ContentType string `json:"contentType,omitempty"`

	// Charset names the character encoding of the fetched resources, e.g. "ISO-8859-1".
	// If omitted it is set to DefaultCharset.
	Charset string `json:"charset,omitempty"`
}

func (p *Projection) EnsureValidDefaults() {
	if p.Format == "" {
		p.Format = DefaultFormat
	}
	if p.Delimiter == "" {
		p.Delimiter = DefaultDelimiter
	}
	if p.ContentType == "" {
		p.ContentType = DefaultContentType
	}
	if p.Charset == "" {
		p.Charset = DefaultCharset
	}
}

// DelimiterRune returns the configured delimiter, which needs to be a single character.
func (p *Projection) DelimiterRune() (rune, error) {
	if utf8.RuneCountInString(p.Delimiter) != 1 {
		return 0, fmt.Errorf("%w: delimiter must be a single character, got %q", ErrConfiguration, p.Delimiter)
	}
	r, _ := utf8.DecodeRuneInString(p.Delimiter)
	if r == utf8.RuneError || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("%w: invalid delimiter %q", ErrConfiguration, p.Delimiter)
	}
	return r, nil
}

func (p *Projection) Validate() error {
	_, err := p.DelimiterRune()
	return err
}

// Sink spec
type Sink struct {
	// Type specifies the type of sink into which projected rows should be loaded.
	Type EntityType `json:"type"`

	Config *SinkConfig `json:"config,omitempty"`
}

type SinkConfig struct {
	Topic   []SinkTopic  `json:"topic,omitempty"`
	Message *SinkMessage `json:"message,omitempty"`
	Tables  []Table      `json:"tables,omitempty"`
	Kinds   []Kind       `json:"kinds,omitempty"`

	// Stream is the name of the stream key used by the Redis sink
	Stream string `json:"stream,omitempty"`

	// MaxLen caps the Redis stream length (approximate trimming). Zero means no cap.
	MaxLen int64 `json:"maxLen,omitempty"`

	// Synchronous is used by the Kafka sink/loader to specify if each row is guaranteed to
	// be persisted to the broker before the next one is emitted (Synchronous: true), or if
	// delivery reports are verified asynchronously (Synchronous: false), giving higher
	// throughput but with possible message loss on crashes.
	Synchronous *bool `json:"synchronous,omitempty"`

	// Direct low-level entity properties like Kafka producer props
	Properties []Property `json:"properties,omitempty"`
}

// TopicSpec returns the topic specification to use for the provided environment, with
// the same env matching rules as SourceConfig.TopicNames.
func (s *SinkConfig) TopicSpec(env Environment) *TopicSpecification {
	var all *TopicSpecification
	if s == nil {
		return nil
	}
	for _, topic := range s.Topic {
		if topic.Env == env && env != "" {
			return topic.TopicSpec
		}
		if topic.Env == EnvironmentAll || topic.Env == "" {
			all = topic.TopicSpec
		}
	}
	return all
}

type SinkTopic struct {
	Env       Environment         `json:"env,omitempty"`
	TopicSpec *TopicSpecification `json:"topicSpec,omitempty"`
}

// Name is required. NumPartitions and ReplicationFactor are only used by the Kafka sink
// if the topic needs to be created.
type TopicSpecification struct {
	Name              string `json:"name"`
	NumPartitions     int    `json:"numPartitions"`
	ReplicationFactor int    `json:"replicationFactor"`
}

// SinkMessage is used for sinks like PubSub and Kafka, specifying how the message should be published
type SinkMessage struct {
	// KeyFromField is the projected field whose value is used as message key (Kafka) or
	// ordering key (PubSub). If omitted no key is set.
	KeyFromField string `json:"keyFromField,omitempty"`

	// IncludeHeaders specifies if the message headers (id, timestamp, sourceUrl, rowNumber)
	// should be published together with the content type header. Default false.
	IncludeHeaders bool `json:"includeHeaders,omitempty"`
}

// The Kind struct is used for Firestore sinks (in datastore mode).
type Kind struct {
	// If Namespace here is present, it will override the loader factory default one.
	Namespace string `json:"namespace,omitempty"`
	Name      string `json:"name"`

	// If set, will be used to create the Entity Name from the projected field values.
	// If omitted or if none of the fields are present, the message id is used.
	EntityNameFromFields struct {
		Fields    []string `json:"fields,omitempty"`
		Delimiter string   `json:"delimiter,omitempty"`
	} `json:"entityNameFromFields,omitempty"`

	// Fields listed here are stored without index, e.g. for values exceeding 1500 bytes
	// which is a built-in Firestore limit for indexed properties.
	NoIndex []string `json:"noIndex,omitempty"`
}

// The Table struct is used for BigTable, BigQuery and other table based sinks.
type Table struct {
	Name string `json:"name"`

	// Dataset is only used by BigQuery.
	Dataset string `json:"dataset,omitempty"`

	// InsertIdFromField defines which projected field holds the BigQuery insert ID, used for
	// best-effort deduplication. If omitted the message id is used.
	InsertIdFromField string `json:"insertIdFromField,omitempty"`

	// RowKey and ColumnFamily are only used by BigTable.
	RowKey       RowKey `json:"rowKey,omitempty"`
	ColumnFamily string `json:"columnFamily,omitempty"`
}

// RowKey specifies how the row-key should be generated for BigTable sinks.
// If one of the Predefined options are set, that will be used.
// Currently available Predefined options are:
//
//	"uuid"
//	"messageId"
//
// If Predefined is not set, the Fields array should be used to specify which projected
// fields should form the key, joined with Delimiter.
type RowKey struct {
	Predefined string   `json:"predefined,omitempty"`
	Fields     []string `json:"fields,omitempty"`
	Delimiter  string   `json:"delimiter,omitempty"`
}

// Validate is run by NewSpec() after JSON schema validation, for checks that are not
// expressible in the schema.
func (s *Spec) Validate() error {
	switch s.Ops.HandlingOfFailedMessages {
	case HofmDefault, HofmDiscard, HofmFail:
	default:
		return fmt.Errorf("%w: invalid ops.handlingOfFailedMessages value %q", ErrConfiguration, s.Ops.HandlingOfFailedMessages)
	}
	return s.Projection.Validate()
}

func (s *Spec) JSON() []byte {
	specData, _ := json.Marshal(s)
	return specData
}

func validateRawJson(specData []byte) error {
	schemaLoader := gojsonschema.NewBytesLoader(specSchema)
	documentLoader := gojsonschema.NewBytesLoader(specData)
	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		specErrors := ""
		for _, desc := range result.Errors() {
			specErrors += " - " + desc.String()
		}
		err = errors.New(specErrors)
	}
	return err
}

// Processor spec schema with the structural checks. Projection values such as the format
// name are checked when used.
var specSchema = []byte(`
{
  "$schema": "http://json-schema.org/draft-07/schema",
  "type": "object",
  "required": [
    "namespace",
    "processorIdSuffix",
    "version",
    "description",
    "source",
    "projection",
    "sink"
  ],
  "properties": {
    "namespace": {
      "type": "string",
      "minLength": 1
    },
    "processorIdSuffix": {
      "type": "string",
      "minLength": 1
    },
    "version": {
      "type": "integer"
    },
    "description": {
      "type": "string",
      "minLength": 1
    },
    "disabled": {
      "type": "boolean"
    },
    "ops": {
      "$ref": "#/$defs/ops"
    },
    "source": {
      "type": "object",
      "required": [
        "type"
      ],
      "properties": {
        "type": {
          "type": "string",
          "minLength": 1
        }
      }
    },
    "projection": {
      "type": "object",
      "properties": {
        "format": {
          "type": "string"
        },
        "delimiter": {
          "type": "string"
        },
        "aliases": {
          "$ref": "#/$defs/stringList"
        },
        "includes": {
          "$ref": "#/$defs/stringList"
        },
        "excludes": {
          "$ref": "#/$defs/stringList"
        },
        "contentType": {
          "type": "string"
        },
        "charset": {
          "type": "string"
        }
      },
      "additionalProperties": false
    },
    "sink": {
      "type": "object",
      "required": [
        "type"
      ],
      "properties": {
        "type": {
          "type": "string",
          "minLength": 1
        }
      }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "mapString": {
      "type": "string"
    },
    "stringList": {
      "anyOf": [
        {
          "type": "array",
          "items": {
            "type": "string"
          }
        },
        {
          "type": "null"
        }
      ]
    },
    "ops": {
      "type": "object",
      "properties": {
        "streamsPerPod": {
          "type": "integer"
        },
        "handlingOfFailedMessages": {
          "type": "string",
          "enum": [
            "default",
            "discard",
            "fail"
          ]
        },
        "logEventData": {
          "type": "boolean"
        },
        "fetchTimeoutSec": {
          "type": "integer",
          "minimum": 0
        },
        "customProperties": {
          "anyOf": [
            {
              "type": "object",
              "additionalProperties": {
                "$ref": "#/$defs/mapString"
              }
            },
            {
              "type": "null"
            }
          ]
        }
      },
      "additionalProperties": false
    }
  }
}
`)
