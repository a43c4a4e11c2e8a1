package main

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/bigtable"
	"cloud.google.com/go/datastore"
	"cloud.google.com/go/pubsub"
	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
	"github.com/urfave/cli/v2"
	"github.com/zpiroux/csv2json"
	"github.com/zpiroux/csv2json/entity"
	"github.com/zpiroux/csv2json/internal/pkg/entity/xbigquery"
	"github.com/zpiroux/csv2json/internal/pkg/entity/xbigtable"
	"github.com/zpiroux/csv2json/internal/pkg/entity/xfirestore"
	"github.com/zpiroux/csv2json/internal/pkg/entity/xkafka"
	"github.com/zpiroux/csv2json/internal/pkg/entity/xpubsub"
	"github.com/zpiroux/csv2json/internal/pkg/entity/xredis"
)

// Source and sink types are only registered if their connection flags are set
var entityFlags = []cli.Flag{
	&cli.StringFlag{Name: "gcp-project", Usage: "GCP project for the pubsub, bigquery and firestore entities", EnvVars: []string{"CSV2JSON_GCP_PROJECT"}},
	&cli.StringFlag{Name: "bigquery-location", Value: xbigquery.DefaultBigQueryDatasetLocation, Usage: "location of created BigQuery datasets", EnvVars: []string{"CSV2JSON_BIGQUERY_LOCATION"}},
	&cli.StringFlag{Name: "bigtable-instance", Usage: "Bigtable instance, enables the bigtable sink together with --gcp-project", EnvVars: []string{"CSV2JSON_BIGTABLE_INSTANCE"}},
	&cli.StringFlag{Name: "firestore-namespace", Usage: "default namespace of Firestore entities", EnvVars: []string{"CSV2JSON_FIRESTORE_NAMESPACE"}},
	&cli.StringFlag{Name: "kafka-bootstrap-servers", Usage: "enables the kafka source and sink", EnvVars: []string{"CSV2JSON_KAFKA_BOOTSTRAP_SERVERS"}},
	&cli.StringFlag{Name: "kafka-sasl-username", EnvVars: []string{"CSV2JSON_KAFKA_SASL_USERNAME"}},
	&cli.StringFlag{Name: "kafka-sasl-password", EnvVars: []string{"CSV2JSON_KAFKA_SASL_PASSWORD"}},
	&cli.StringFlag{Name: "redis-addr", Usage: "enables the redis sink", EnvVars: []string{"CSV2JSON_REDIS_ADDR"}},
	&cli.StringFlag{Name: "redis-password", EnvVars: []string{"CSV2JSON_REDIS_PASSWORD"}},
	&cli.IntFlag{Name: "redis-db", EnvVars: []string{"CSV2JSON_REDIS_DB"}},
}

type closeFunc func() error

// registerEntities creates the clients enabled by the flags and registers their extractor
// and loader factories. The returned func closes all created clients, also when an error
// is returned.
func registerEntities(ctx context.Context, c *cli.Context, config *csv2json.Config) (func() error, error) {

	var closers []closeFunc
	closeAll := func() error {
		var result *multierror.Error
		for _, fn := range closers {
			result = multierror.Append(result, fn())
		}
		return result.ErrorOrNil()
	}

	if servers := c.String("kafka-bootstrap-servers"); servers != "" {
		fc := xkafka.FactoryConfig{
			Env:              entity.Environment(config.Env),
			BootstrapServers: servers,
			Props:            make(xkafka.ConfigMap),
		}
		if user := c.String("kafka-sasl-username"); user != "" {
			fc.Props["security.protocol"] = "SASL_SSL"
			fc.Props["sasl.mechanisms"] = "PLAIN"
			fc.Props["sasl.username"] = user
			fc.Props["sasl.password"] = c.String("kafka-sasl-password")
		}
		if err := register(config, xkafka.NewExtractorFactory(fc), xkafka.NewLoaderFactory(fc)); err != nil {
			return closeAll, err
		}
	}

	if addr := c.String("redis-addr"); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: c.String("redis-password"),
			DB:       c.Int("redis-db"),
		})
		closers = append(closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return closeAll, fmt.Errorf("could not connect to redis at %s: %w", addr, err)
		}
		if err := register(config, nil, xredis.NewLoaderFactory(client)); err != nil {
			return closeAll, err
		}
	}

	project := c.String("gcp-project")
	if project == "" {
		return closeAll, nil
	}

	psClient, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return closeAll, fmt.Errorf("could not create pubsub client: %w", err)
	}
	closers = append(closers, psClient.Close)
	psConfig := xpubsub.FactoryConfig{Env: entity.Environment(config.Env)}
	if err := register(config, xpubsub.NewExtractorFactory(psClient, psConfig), xpubsub.NewLoaderFactory(psClient, psConfig)); err != nil {
		return closeAll, err
	}

	bqClient, err := bigquery.NewClient(ctx, project)
	if err != nil {
		return closeAll, fmt.Errorf("could not create bigquery client: %w", err)
	}
	closers = append(closers, bqClient.Close)
	bqFactory := xbigquery.NewLoaderFactory(
		xbigquery.NewBigQueryClient("csv2json", bqClient),
		xbigquery.FactoryConfig{DatasetLocation: c.String("bigquery-location")})
	if err := register(config, nil, bqFactory); err != nil {
		return closeAll, err
	}

	dsClient, err := datastore.NewClient(ctx, project)
	if err != nil {
		return closeAll, fmt.Errorf("could not create firestore client: %w", err)
	}
	closers = append(closers, dsClient.Close)
	if err := register(config, nil, xfirestore.NewLoaderFactory(dsClient, c.String("firestore-namespace"))); err != nil {
		return closeAll, err
	}

	if instance := c.String("bigtable-instance"); instance != "" {
		btClient, err := bigtable.NewClient(ctx, project, instance)
		if err != nil {
			return closeAll, fmt.Errorf("could not create bigtable client: %w", err)
		}
		closers = append(closers, btClient.Close)
		btAdminClient, err := bigtable.NewAdminClient(ctx, project, instance)
		if err != nil {
			return closeAll, fmt.Errorf("could not create bigtable admin client: %w", err)
		}
		closers = append(closers, btAdminClient.Close)
		btFactory := xbigtable.NewLoaderFactory(xbigtable.NewBigTableClient(btClient), btAdminClient)
		if err := register(config, nil, btFactory); err != nil {
			return closeAll, err
		}
	}

	return closeAll, nil
}

func register(config *csv2json.Config, ef entity.ExtractorFactory, lf entity.LoaderFactory) error {
	if ef != nil {
		if err := config.RegisterExtractorType(ef); err != nil {
			return fmt.Errorf("could not register source type %s: %w", ef.SourceId(), err)
		}
	}
	if lf != nil {
		if err := config.RegisterLoaderType(lf); err != nil {
			return fmt.Errorf("could not register sink type %s: %w", lf.SinkId(), err)
		}
	}
	return nil
}
