package xkafka

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/zpiroux/csv2json/entity"
)

// ConfigMap holds librdkafka properties, such as "bootstrap.servers" or "group.id"
type ConfigMap map[string]any

// Properties never written to logs
var secretProps = map[string]bool{
	"sasl.password":           true,
	"ssl.key.password":        true,
	"sasl.oauthbearer.config": true,
}

// Config is the resolved config of a single extractor or loader instance
type Config struct {
	spec        *entity.Spec
	topics      []string                   // URL topics consumed by the Extractor
	sinkTopic   *entity.TopicSpecification // row topic (created if needed) the Loader produces to
	pollTimeout int                        // ms, used in Consumer.Poll()
	props       ConfigMap
	topicMutex  *sync.Mutex
	synchronous bool
}

func NewExtractorConfig(spec *entity.Spec, topics []string, topicMutex *sync.Mutex) *Config {
	return &Config{
		spec:       spec,
		topics:     topics,
		props:      make(ConfigMap),
		topicMutex: topicMutex,
	}
}

func NewLoaderConfig(spec *entity.Spec, topic *entity.TopicSpecification, topicMutex *sync.Mutex, synchronous bool) *Config {
	return &Config{
		spec:        spec,
		sinkTopic:   topic,
		props:       make(ConfigMap),
		topicMutex:  topicMutex,
		synchronous: synchronous,
	}
}

func (c *Config) SetPollTimeout(ms int) {
	c.pollTimeout = ms
}

func (c *Config) SetProp(key string, value any) {
	c.props[key] = value
}

// AddProps adds the properties, overriding already set ones with the same name
func (c *Config) AddProps(props ConfigMap) {
	for k, v := range props {
		c.props[k] = v
	}
}

// kafkaConfig returns a new client config map with the base properties, overridden by the
// configured ones.
func (c *Config) kafkaConfig(base kafka.ConfigMap) *kafka.ConfigMap {
	kconfig := make(kafka.ConfigMap, len(base)+len(c.props))
	for k, v := range base {
		kconfig[k] = v
	}
	for k, v := range c.props {
		kconfig[k] = v
	}
	return &kconfig
}

// String returns the config in a loggable form, with secrets redacted and props sorted
func (c *Config) String() string {
	keys := make([]string, 0, len(c.props))
	for k := range c.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var props strings.Builder
	for i, k := range keys {
		if i > 0 {
			props.WriteString(", ")
		}
		v := c.props[k]
		if secretProps[k] {
			v = "***"
		}
		fmt.Fprintf(&props, "%s=%v", k, v)
	}
	return fmt.Sprintf("topics: %v, sinkTopic: %+v, pollTimeout: %dms, synchronous: %v, props: [%s]",
		c.topics, c.sinkTopic, c.pollTimeout, c.synchronous, props.String())
}
