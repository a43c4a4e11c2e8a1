// csv2json converts CSV resources, located by URLs, into JSON messages with one message
// per CSV row.
//
// The convert command publishes the URLs given as arguments and prints the rows as JSON
// lines on stdout. The run command runs a processor with the source and sink types of its
// spec until terminated.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/teltech/logger"
	"github.com/urfave/cli/v2"
	"github.com/zpiroux/csv2json"
	"github.com/zpiroux/csv2json/entity"
)

// Version is set by ldflags
var Version = "snapshot"

var log *logger.Log

func init() {
	log = logger.New()
}

// Used by convert if no spec file is provided
var passThroughSpec = []byte(`
{
   "namespace": "csv2json",
   "processorIdSuffix": "convert",
   "description": "Converts CSV resources to JSON lines",
   "version": 1,
   "source": {
      "type": "channel"
   },
   "projection": {},
   "sink": {
      "type": "channel"
   }
}`)

var app = &cli.App{
	Name:    "csv2json",
	Usage:   "convert CSV resources located by URLs into JSON messages",
	Version: Version,

	Flags: []cli.Flag{
		&cli.StringFlag{Name: "spec", Usage: "path to the processor spec JSON file", EnvVars: []string{"CSV2JSON_SPEC"}},
		&cli.StringFlag{Name: "env", Usage: "environment to match env specific spec config against, e.g. dev, stage or prod", EnvVars: []string{"CSV2JSON_ENV"}},
		&cli.BoolFlag{Name: "log", Usage: "enable processor logging", EnvVars: []string{"CSV2JSON_LOG"}},
		&cli.DurationFlag{Name: "http-timeout", Value: 60 * time.Second, Usage: "timeout for fetching http(s) resources, 0 for none", EnvVars: []string{"CSV2JSON_HTTP_TIMEOUT"}},
		&cli.StringFlag{Name: "metrics-addr", Usage: "if set, Prometheus metrics are served on this address at /metrics", EnvVars: []string{"CSV2JSON_METRICS_ADDR"}},
	},

	Before: func(c *cli.Context) error {
		// A .env file is optional, and it does not override already set variables
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("could not load .env file: %w", err)
		}
		return nil
	},

	Commands: []*cli.Command{
		convertCmd,
		runCmd,
	},
}

var convertCmd = &cli.Command{
	Name:      "convert",
	Usage:     "convert the CSV resources located by the URLs and print each row as a JSON line",
	ArgsUsage: "URL [URL...]",
	Action: func(c *cli.Context) error {
		if c.NArg() == 0 {
			return cli.Exit("at least one URL is required", 2)
		}

		ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer cancel()

		config, err := processorConfig(c, passThroughSpec)
		if err != nil {
			return err
		}
		processor, err := csv2json.New(ctx, config)
		if err != nil {
			return err
		}
		if processor.Spec().Source.Type != entity.EntityChannel || processor.Spec().Sink.Type != entity.EntityChannel {
			_ = processor.Shutdown(ctx)
			return cli.Exit("convert requires a spec with channel source and sink types", 2)
		}
		go runProcessor(ctx, processor)

		printed := make(chan struct{})
		stop := make(chan struct{})
		go func() {
			printMessages(os.Stdout, processor.OutputChannel(), stop)
			close(printed)
		}()

		var failed int
		for _, url := range c.Args().Slice() {
			if _, err := processor.Publish(ctx, url); err != nil {
				log.Errorf("conversion of %s failed: %v", url, err)
				failed++
			}
		}
		close(stop)
		<-printed

		if err := processor.Shutdown(ctx); err != nil {
			log.Warnf("error shutting down processor: %v", err)
		}
		if failed > 0 {
			return cli.Exit(fmt.Sprintf("%d of %d conversions failed", failed, c.NArg()), 1)
		}
		return nil
	},
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "run the processor with the source and sink types of its spec file until terminated",
	Flags: entityFlags,
	Action: func(c *cli.Context) error {
		if c.String("spec") == "" {
			return cli.Exit("--spec is required", 2)
		}

		ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer cancel()

		config, err := processorConfig(c, nil)
		if err != nil {
			return err
		}
		closeClients, err := registerEntities(ctx, c, config)
		defer func() {
			if err := closeClients(); err != nil {
				log.Warnf("error closing clients: %v", err)
			}
		}()
		if err != nil {
			return err
		}

		processor, err := csv2json.New(ctx, config)
		if err != nil {
			return err
		}
		log.Infof("starting processor %s", processor.Spec().Id())

		done := make(chan error, 1)
		go func() {
			done <- processor.Run(ctx)
		}()

		select {
		case err = <-done:
		case <-ctx.Done():
			log.Infof("shutting down processor %s", processor.Spec().Id())
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if errShutdown := processor.Shutdown(shutdownCtx); errShutdown != nil {
			log.Warnf("error shutting down processor: %v", errShutdown)
		}
		m := processor.Metrics()
		log.Infof("processor finished, messages: %d, failed: %d, rows emitted: %d", m.MessagesProcessed, m.MessagesFailed, m.RowsEmitted)
		return err
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		log.Errorf("csv2json failed: %v", err)
		os.Exit(1)
	}
}

// processorConfig creates the processor config from the global flags. The processor spec file, if
// provided with --spec, takes precedence over defaultSpec.
func processorConfig(c *cli.Context, defaultSpec []byte) (*csv2json.Config, error) {

	spec := defaultSpec
	if path := c.String("spec"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("could not read spec file: %w", err)
		}
		spec = data
	}

	config := csv2json.NewConfig(spec)
	config.Env = c.String("env")
	config.Ops.Log = c.Bool("log")
	config.Fetch.HTTPClient = &http.Client{Timeout: c.Duration("http-timeout")}

	if addr := c.String("metrics-addr"); addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
		config.Ops.MetricsRegisterer = reg
		startMetricsServer(addr, reg)
	}
	return config, nil
}

func startMetricsServer(addr string, gatherer prometheus.Gatherer) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		log.Infof("serving metrics on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Errorf("metrics server stopped: %v", err)
		}
	}()
}

func runProcessor(ctx context.Context, processor *csv2json.Processor) {
	if err := processor.Run(ctx); err != nil {
		log.Errorf("processor stopped with error: %v", err)
	}
}

// printMessages writes each message payload as a JSON line until stop is closed, after
// which the already emitted messages are written.
func printMessages(w io.Writer, messages <-chan *entity.Message, stop <-chan struct{}) {
	enc := json.NewEncoder(w)
	write := func(msg *entity.Message) {
		if err := enc.Encode(msg.Payload); err != nil {
			log.Errorf("could not write message %s: %v", msg.Id(), err)
		}
	}
	for {
		select {
		case msg := <-messages:
			write(msg)
		case <-stop:
			for {
				select {
				case msg := <-messages:
					write(msg)
				default:
					return
				}
			}
		}
	}
}
