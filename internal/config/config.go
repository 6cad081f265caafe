// Package config loads frontier service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"relentless-frontier/common"
)

// Dispatch sinks.
const (
	SinkKafka = "kafka"
	SinkHTTP  = "http"
	SinkLog   = "log"
	SinkNone  = "none"
)

// Config holds every knob of the frontier service.
type Config struct {
	Host         string
	Port         int
	RetryLimit   int
	MaxBodyBytes int64

	LogLevel  string
	LogFormat string

	DispatchSink         string
	DispatchBatch        int
	DispatchPollInterval time.Duration
	ConcurrentJobs       int
	JobTimeout           time.Duration
	CompletionTimeout    time.Duration
	CrawlerURL           string

	KafkaBroker           string
	KafkaTopic            string
	KafkaCompletionsTopic string
	KafkaDLQTopic         string
	KafkaGroupID          string
	KafkaAutoCreateTopics bool

	RedisAddr    string
	StatusPrefix string
	StatusTTL    time.Duration
}

// FromEnv reads the configuration, falling back to defaults for unset or
// unparseable values.
func FromEnv() Config {
	return Config{
		Host:         common.GetEnv("LISTEN_HOST", "0.0.0.0"),
		Port:         common.ParseInt(common.GetEnv("LISTEN_PORT", "8081"), 8081),
		RetryLimit:   common.ParseInt(common.GetEnv("RETRY_LIMIT", "3"), 3),
		MaxBodyBytes: common.ParseInt64(common.GetEnv("MAX_BODY_BYTES", "1048576"), 1<<20),

		LogLevel:  common.GetEnv("LOG_LEVEL", "info"),
		LogFormat: common.GetEnv("LOG_FORMAT", "text"),

		DispatchSink:         strings.ToLower(common.GetEnv("DISPATCH_SINK", SinkLog)),
		DispatchBatch:        common.ParseInt(common.GetEnv("DISPATCH_BATCH", "10"), 10),
		DispatchPollInterval: common.ParseDuration(common.GetEnv("DISPATCH_POLL_INTERVAL", "500ms"), 500*time.Millisecond),
		ConcurrentJobs:       common.ParseInt(common.GetEnv("CONCURRENT_JOBS", "5"), 5),
		JobTimeout:           common.ParseDuration(common.GetEnv("JOB_TIMEOUT", "30s"), 30*time.Second),
		CompletionTimeout:    common.ParseDuration(common.GetEnv("COMPLETION_TIMEOUT", "5m"), 5*time.Minute),
		CrawlerURL:           common.GetEnv("CRAWLER_URL", "http://localhost:8082/crawl"),

		KafkaBroker:           common.GetEnv("KAFKA_BROKER", "localhost:9092"),
		KafkaTopic:            common.GetEnv("KAFKA_TOPIC", "relentless.frontier.jobs"),
		KafkaCompletionsTopic: common.GetEnv("KAFKA_COMPLETIONS_TOPIC", "relentless.frontier.completions"),
		KafkaDLQTopic:         common.GetEnv("KAFKA_DLQ_TOPIC", "relentless.frontier.dlq"),
		KafkaGroupID:          common.GetEnv("KAFKA_GROUP_ID", "relentless-frontier"),
		KafkaAutoCreateTopics: common.ParseBool(common.GetEnv("KAFKA_AUTO_CREATE_TOPICS", "false"), false),

		RedisAddr:    common.GetEnv("REDIS_ADDR", ""),
		StatusPrefix: common.GetEnv("STATUS_PREFIX", "frontier:status:"),
		StatusTTL:    common.ParseDuration(common.GetEnv("STATUS_TTL", "24h"), 24*time.Hour),
	}
}

// Addr is the listen address for the HTTP boundary.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// AwaitCompletions reports whether a successful dispatch only hands the URL
// off, leaving it in flight until a completion message arrives.
func (c Config) AwaitCompletions() bool {
	return c.DispatchSink == SinkKafka && c.KafkaCompletionsTopic != ""
}

// DeadLetters reports whether permanently failed URLs are published to Kafka.
func (c Config) DeadLetters() bool {
	return c.DispatchSink == SinkKafka && c.KafkaDLQTopic != ""
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("LISTEN_PORT %d out of range", c.Port))
	}
	if c.RetryLimit < 0 {
		errs = append(errs, fmt.Errorf("RETRY_LIMIT must be >= 0, got %d", c.RetryLimit))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("MAX_BODY_BYTES must be > 0, got %d", c.MaxBodyBytes))
	}
	if c.DispatchBatch <= 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_BATCH must be > 0, got %d", c.DispatchBatch))
	}
	if c.ConcurrentJobs <= 0 {
		errs = append(errs, fmt.Errorf("CONCURRENT_JOBS must be > 0, got %d", c.ConcurrentJobs))
	}
	if c.AwaitCompletions() && c.CompletionTimeout <= 0 {
		errs = append(errs, fmt.Errorf("COMPLETION_TIMEOUT must be > 0, got %s", c.CompletionTimeout))
	}
	switch c.DispatchSink {
	case SinkKafka:
		if c.KafkaBroker == "" || c.KafkaTopic == "" {
			errs = append(errs, errors.New("kafka sink needs KAFKA_BROKER and KAFKA_TOPIC"))
		}
	case SinkHTTP:
		if c.CrawlerURL == "" {
			errs = append(errs, errors.New("http sink needs CRAWLER_URL"))
		}
	case SinkLog, SinkNone:
	default:
		errs = append(errs, fmt.Errorf("unknown DISPATCH_SINK %q", c.DispatchSink))
	}
	return errors.Join(errs...)
}
