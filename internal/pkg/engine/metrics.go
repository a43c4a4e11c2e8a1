package engine

import (
	"errors"

	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	kitprometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "csv2json"

// Label values for the messages counter
const (
	statusSuccess = "success"
	statusFailure = "failure"
)

// Label values for the rows counter
const (
	outcomeRead    = "read"
	outcomeEmitted = "emitted"
	outcomeSkipped = "skipped"
)

// Instruments holds the Prometheus instruments shared by all executors of a processor.
// Instruments created with a nil registerer discard all observations.
type Instruments struct {
	Messages        metrics.Counter   // labels: processor, status
	MessageFailures metrics.Counter   // labels: processor, kind
	Rows            metrics.Counter   // labels: processor, outcome
	Duration        metrics.Histogram // labels: processor
	Inflight        metrics.Gauge     // labels: processor
}

func NewInstruments(reg stdprometheus.Registerer) (*Instruments, error) {
	if reg == nil {
		return &Instruments{
			Messages:        discard.NewCounter(),
			MessageFailures: discard.NewCounter(),
			Rows:            discard.NewCounter(),
			Duration:        discard.NewHistogram(),
			Inflight:        discard.NewGauge(),
		}, nil
	}

	messages := stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "messages",
		Name:      "processed_total",
		Help:      "Number of inbound messages processed.",
	}, []string{"processor", "status"})

	failures := stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "messages",
		Name:      "failed_total",
		Help:      "Number of inbound messages failed, by error kind.",
	}, []string{"processor", "kind"})

	rows := stdprometheus.NewCounterVec(stdprometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "rows",
		Name:      "total",
		Help:      "Number of CSV rows read, emitted and skipped.",
	}, []string{"processor", "outcome"})

	duration := stdprometheus.NewHistogramVec(stdprometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "messages",
		Name:      "duration_seconds",
		Help:      "Time spent fetching, converting and emitting an inbound message.",
		Buckets:   stdprometheus.ExponentialBuckets(0.005, 4, 8),
	}, []string{"processor"})

	inflight := stdprometheus.NewGaugeVec(stdprometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "messages",
		Name:      "inflight",
		Help:      "Number of inbound messages currently being processed.",
	}, []string{"processor"})

	var err error
	if messages, err = register(reg, messages); err != nil {
		return nil, err
	}
	if failures, err = register(reg, failures); err != nil {
		return nil, err
	}
	if rows, err = register(reg, rows); err != nil {
		return nil, err
	}
	if duration, err = register(reg, duration); err != nil {
		return nil, err
	}
	if inflight, err = register(reg, inflight); err != nil {
		return nil, err
	}

	return &Instruments{
		Messages:        kitprometheus.NewCounter(messages),
		MessageFailures: kitprometheus.NewCounter(failures),
		Rows:            kitprometheus.NewCounter(rows),
		Duration:        kitprometheus.NewHistogram(duration),
		Inflight:        kitprometheus.NewGauge(inflight),
	}, nil
}

// register returns the already registered collector if there is one, so that several
// processors can share a registry.
func register[T stdprometheus.Collector](reg stdprometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are stdprometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}
