// Package kafka carries frontier jobs, completions and dead letters over Kafka.
package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"relentless-frontier/internal/models"
)

// JobProducer publishes CrawlJob messages.
type JobProducer interface {
	WriteJob(ctx context.Context, job models.CrawlJob) error
}

// Producer wraps a Kafka writer bound to one topic.
type Producer struct {
	writer MessageWriter
}

// NewProducer creates a Kafka producer for the given broker and topic.
func NewProducer(broker, topic string, autoCreate bool) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(broker),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: autoCreate,
		},
	}
}

// NewProducerWithWriter builds a producer using a custom writer (tests).
func NewProducerWithWriter(writer MessageWriter) *Producer {
	return &Producer{writer: writer}
}

// Close shuts down the underlying writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// WriteJob publishes a CrawlJob keyed by URL key, so every attempt for a URL
// lands on the same partition.
func (p *Producer) WriteJob(ctx context.Context, job models.CrawlJob) error {
	return p.write(ctx, job.Key, job)
}

// WriteFailure publishes a CrawlFailure to the dead-letter topic.
func (p *Producer) WriteFailure(ctx context.Context, failure models.CrawlFailure) error {
	return p.write(ctx, failure.Key, failure)
}

func (p *Producer) write(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
	}

	return p.writer.WriteMessages(ctx, msg)
}
