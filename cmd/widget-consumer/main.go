// Command widget-consumer drains widget requests from S3 (or SQS) and applies
// them to the configured widget stores.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/baldanca/widget-consumer/claim"
	"github.com/baldanca/widget-consumer/config"
	"github.com/baldanca/widget-consumer/consumer"
	"github.com/baldanca/widget-consumer/logger"
	"github.com/baldanca/widget-consumer/metrics"
	"github.com/baldanca/widget-consumer/selector"
	"github.com/baldanca/widget-consumer/sink"
	"github.com/baldanca/widget-consumer/source"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "widget-consumer: %v\n", err)
		os.Exit(2)
	}

	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "widget-consumer: log level: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("widget-consumer stopped with error")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	s3Client := s3.NewFromConfig(awsCfg)

	selOpts := []selector.Option{selector.WithLogger(logger.Component(log, "selector"))}

	var sel consumer.Selector
	if cfg.RequestQueueURL != "" {
		if cfg.ClaimRedisURL != "" {
			log.Warn().Msg("claims are ignored for queue input, the visibility timeout is the lease")
		}
		qcfg := source.DefaultSQSQueueConfig
		qcfg.VisibilityTO = cfg.VisibilityTimeoutSeconds()
		q := source.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.RequestQueueURL, qcfg)
		defer q.Close()
		sel = selector.NewQueue(q, selOpts...)
		log.Info().Str("queue", cfg.RequestQueueURL).Msg("reading requests from sqs")
	} else {
		if cfg.ClaimRedisURL != "" {
			rdb, err := claim.Dial(ctx, cfg.ClaimRedisURL)
			if err != nil {
				return err
			}
			defer rdb.Close()

			c := claim.NewRedis(rdb, claim.DefaultPrefix, cfg.ClaimTTL)
			selOpts = append(selOpts, selector.WithClaimer(c))
			log.Info().Str("owner", c.Owner()).Dur("ttl", cfg.ClaimTTL).Msg("redis claims enabled")
		}
		sel = selector.New(source.NewS3Store(s3Client, cfg.RequestBucket, cfg.RequestPrefix), selOpts...)
		log.Info().Str("bucket", cfg.RequestBucket).Str("prefix", cfg.RequestPrefix).Msg("reading requests from s3")
	}

	var sinks []sink.Sinkr
	if cfg.WidgetBucket != "" {
		sinks = append(sinks, sink.NewMirror(s3Client, cfg.WidgetBucket, cfg.WidgetPrefix))
	}
	if cfg.WidgetTable != "" {
		sinks = append(sinks, sink.NewDynamoTable(dynamodb.NewFromConfig(awsCfg), cfg.WidgetTable, cfg.CollisionPolicy))
	}
	if cfg.PostgresURL != "" {
		pool, err := sink.DialPostgres(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		pg := sink.NewPostgresTable(pool, cfg.PostgresTable, cfg.CollisionPolicy)
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		sinks = append(sinks, pg)
	}

	d := consumer.NewDispatcher(logger.Component(log, "dispatcher"), sinks...)
	sinkRetry := consumer.DefaultSinkRetry
	sinkRetry.Attempts = cfg.SinkRetries
	d.SetRetryPolicy(sinkRetry)

	ccfg := consumer.DefaultConfig
	ccfg.PollInterval = cfg.PollInterval
	c, err := consumer.New(ccfg, sel, d, logger.Component(log, "consumer"))
	if err != nil {
		return err
	}
	storeRetry := consumer.DefaultStoreRetry
	storeRetry.Attempts = cfg.StoreRetries
	c.SetRetryPolicy(storeRetry)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		prom := metrics.NewProm()
		c.SetObserver(prom)

		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           prom.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error { return c.Run(gctx) })

	return g.Wait()
}
