package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	kgo "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"relentless-frontier/internal/config"
	"relentless-frontier/internal/dispatch"
	"relentless-frontier/internal/frontier"
	"relentless-frontier/internal/kafka"
	"relentless-frontier/internal/logging"
	"relentless-frontier/internal/store"
)

func main() {
	cfg := config.FromEnv()
	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logging.Component(logger, "api")

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		log.WithError(err).Fatal("api exited")
	}
}

// closer collects shutdown hooks and runs them in reverse order.
type closer struct {
	fns []func() error
	log *logrus.Entry
}

func (c *closer) add(name string, fn func() error) {
	c.fns = append(c.fns, func() error {
		if err := fn(); err != nil {
			c.log.WithError(err).Warnf("failed to close %s", name)
			return err
		}
		return nil
	})
}

func (c *closer) close() {
	for i := len(c.fns) - 1; i >= 0; i-- {
		_ = c.fns[i]()
	}
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	log := logging.Component(logger, "api")
	closers := &closer{log: log}
	defer closers.close()

	// Background loops stop on a signal or when the listener dies.
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	f := frontier.New(cfg.RetryLimit)

	// Left as a nil interface unless Redis is configured.
	var statusStore store.StatusStore
	if cfg.RedisAddr != "" {
		redisStore := store.NewRedisStatusStore(cfg.RedisAddr, cfg.StatusPrefix, cfg.StatusTTL)
		closers.add("status store", redisStore.Close)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisStore.Ping(pingCtx); err != nil {
			log.WithError(err).Warn("redis unreachable; status mirror writes may fail")
		}
		cancel()
		statusStore = redisStore
	}

	srv := newServer(f, statusStore, cfg.MaxBodyBytes, log)

	var workers sync.WaitGroup
	if cfg.DispatchSink != config.SinkNone {
		d, consumer, err := buildDispatch(cfg, f, statusStore, srv.metrics, logger, closers)
		if err != nil {
			return err
		}
		srv.dispatcher = d

		workers.Add(1)
		go func() {
			defer workers.Done()
			d.Run(runCtx)
		}()
		if consumer != nil {
			workers.Add(1)
			go func() {
				defer workers.Done()
				consumer.Run(runCtx)
			}()
		}
	} else {
		log.Info("dispatch disabled; urls stay pending")
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Addr()).Info("api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case serveErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown error")
	}

	cancelRun()
	workers.Wait()
	if serveErr != nil {
		return serveErr
	}

	stats := f.Stats()
	log.WithFields(logrus.Fields{
		"pending":   stats.Pending,
		"in_flight": stats.InFlight,
		"done":      stats.Done,
		"failed":    stats.Failed,
	}).Info("api stopped")
	return nil
}

// buildDispatch picks the job sink and, for a Kafka hand-off, the completion
// consumer that closes the loop.
func buildDispatch(
	cfg config.Config,
	f *frontier.Frontier,
	statusStore store.StatusStore,
	metrics *apiMetrics,
	logger *logrus.Logger,
	closers *closer,
) (*dispatch.Dispatcher, *kafka.CompletionConsumer, error) {
	var (
		writer dispatch.JobWriter
		dlq    dispatch.FailureWriter
	)
	switch cfg.DispatchSink {
	case config.SinkKafka:
		prod := kafka.NewProducer(cfg.KafkaBroker, cfg.KafkaTopic, cfg.KafkaAutoCreateTopics)
		closers.add("job producer", prod.Close)
		writer = prod
		if cfg.DeadLetters() {
			dlqProd := kafka.NewProducer(cfg.KafkaBroker, cfg.KafkaDLQTopic, cfg.KafkaAutoCreateTopics)
			closers.add("dlq producer", dlqProd.Close)
			dlq = dlqProd
		}
	case config.SinkHTTP:
		writer = dispatch.NewHTTPForwarder(&http.Client{Timeout: cfg.JobTimeout}, cfg.CrawlerURL)
	case config.SinkLog:
		writer = dispatch.NewLogWriter(logging.Component(logger, "sink"))
	default:
		return nil, nil, errors.New("unknown dispatch sink " + cfg.DispatchSink)
	}

	reporter := dispatch.NewReporter(f, statusStore, dlq, nil, logging.Component(logger, "reporter"))
	d := dispatch.New(f, writer, reporter, dispatch.Options{
		BatchSize:         cfg.DispatchBatch,
		PollInterval:      cfg.DispatchPollInterval,
		Concurrency:       cfg.ConcurrentJobs,
		JobTimeout:        cfg.JobTimeout,
		AwaitCompletion:   cfg.AwaitCompletions(),
		CompletionTimeout: cfg.CompletionTimeout,
		ObserveLatency:    metrics.dispatchLatency.observe,
	}, logging.Component(logger, "dispatcher"))

	if !cfg.AwaitCompletions() {
		return d, nil, nil
	}

	reader := kgo.NewReader(kgo.ReaderConfig{
		Brokers:  []string{cfg.KafkaBroker},
		Topic:    cfg.KafkaCompletionsTopic,
		GroupID:  cfg.KafkaGroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	closers.add("completion reader", reader.Close)
	consumer := kafka.NewCompletionConsumer(reader, reporter, logging.Component(logger, "completions"))
	return d, consumer, nil
}
