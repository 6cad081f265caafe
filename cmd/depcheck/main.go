package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	kgo "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"relentless-frontier/internal/config"
	"relentless-frontier/internal/logging"
	"relentless-frontier/internal/store"
)

// pinger is satisfied by the Redis status store.
type pinger interface {
	Ping(ctx context.Context) error
}

// topicReader returns partitions for the named topics.
type topicReader interface {
	ReadPartitions(topics ...string) ([]kgo.Partition, error)
	Close() error
}

type dialFunc func(ctx context.Context, broker string) (topicReader, error)

func dialKafka(ctx context.Context, broker string) (topicReader, error) {
	conn, err := kgo.DialContext(ctx, "tcp", broker)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func main() {
	if err := newRootCmd(dialKafka).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(dial dialFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "depcheck",
		Short: "Check that Kafka topics and Redis configured for the frontier are reachable",
		RunE: func(cmd *cobra.Command, _ []string) error {
			timeout, err := cmd.Flags().GetDuration("timeout")
			if err != nil {
				return err
			}
			cfg := config.FromEnv()
			log := logging.Component(logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}), "depcheck")

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			var redis pinger
			if cfg.RedisAddr != "" {
				s := store.NewRedisStatusStore(cfg.RedisAddr, cfg.StatusPrefix, cfg.StatusTTL)
				defer s.Close()
				redis = s
			}
			return check(ctx, cfg, dial, redis, log)
		},
	}
	cmd.Flags().Duration("timeout", 5*time.Second, "Overall deadline for all checks")
	cmd.SilenceUsage = true
	return cmd
}

// check verifies every dependency the configuration enables and joins the
// failures. Topics are only checked for the kafka sink.
func check(ctx context.Context, cfg config.Config, dial dialFunc, redis pinger, log *logrus.Entry) error {
	var errs []error

	if cfg.DispatchSink == config.SinkKafka {
		topics := []string{cfg.KafkaTopic}
		if cfg.AwaitCompletions() {
			topics = append(topics, cfg.KafkaCompletionsTopic)
		}
		if cfg.DeadLetters() {
			topics = append(topics, cfg.KafkaDLQTopic)
		}
		if err := checkKafka(ctx, dial, cfg.KafkaBroker, topics, log); err != nil {
			errs = append(errs, err)
		}
	}

	if redis != nil {
		if err := redis.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis at %s: %w", cfg.RedisAddr, err))
		} else {
			log.WithField("addr", cfg.RedisAddr).Info("redis reachable")
		}
	}

	if err := errors.Join(errs...); err != nil {
		log.WithError(err).Error("dependency check failed")
		return err
	}
	log.Info("all dependencies reachable")
	return nil
}

func checkKafka(ctx context.Context, dial dialFunc, broker string, topics []string, log *logrus.Entry) error {
	conn, err := dial(ctx, broker)
	if err != nil {
		return fmt.Errorf("connect to kafka at %s: %w", broker, err)
	}
	defer conn.Close()

	var errs []error
	for _, topic := range topics {
		partitions, err := conn.ReadPartitions(topic)
		if err != nil {
			errs = append(errs, fmt.Errorf("read partitions of %s: %w", topic, err))
			continue
		}
		if len(partitions) == 0 {
			errs = append(errs, fmt.Errorf("topic %s has no partitions", topic))
			continue
		}
		log.WithFields(logrus.Fields{"topic": topic, "partitions": len(partitions)}).Info("kafka topic reachable")
	}
	return errors.Join(errs...)
}
