package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"relentless-frontier/internal/frontier"
	"relentless-frontier/internal/models"
)

// CompletionReporter applies a worker's outcome to the frontier.
type CompletionReporter interface {
	Report(ctx context.Context, key string, outcome frontier.Outcome, reason string) (frontier.Record, error)
}

// CompletionConsumer reads CrawlCompletion messages and reports them.
type CompletionConsumer struct {
	reader   MessageReader
	reporter CompletionReporter
	log      *logrus.Entry
	backoff  time.Duration
}

// NewCompletionConsumer wires a reader to a reporter.
func NewCompletionConsumer(reader MessageReader, reporter CompletionReporter, log *logrus.Entry) *CompletionConsumer {
	return &CompletionConsumer{
		reader:   reader,
		reporter: reporter,
		log:      log,
		backoff:  500 * time.Millisecond,
	}
}

// Run consumes until ctx is cancelled. Each message is committed once it has
// been applied, or once it is known that redelivery cannot help.
func (c *CompletionConsumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.WithError(err).Warn("completion fetch error")
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
			continue
		}

		c.handleMessage(ctx, msg.Value)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.WithError(err).WithFields(logrus.Fields{
				"partition": msg.Partition,
				"offset":    msg.Offset,
			}).Error("completion commit error")
		}
	}
}

func (c *CompletionConsumer) handleMessage(ctx context.Context, value []byte) {
	var completion models.CrawlCompletion
	if err := json.Unmarshal(value, &completion); err != nil {
		c.log.WithError(err).Warn("invalid completion payload")
		return
	}
	if completion.Key == "" {
		c.log.Warn("completion without key")
		return
	}

	outcome, err := frontier.ParseOutcome(completion.Outcome)
	if err != nil {
		c.log.WithError(err).WithField("key", completion.Key).Warn("invalid completion outcome")
		return
	}

	entry := c.log.WithFields(logrus.Fields{
		"key":         completion.Key,
		"dispatch_id": completion.DispatchID,
		"outcome":     outcome.String(),
	})
	rec, err := c.reporter.Report(ctx, completion.Key, outcome, completion.Error)
	if err != nil {
		if errors.Is(err, frontier.ErrUnknownKey) {
			entry.WithError(err).Error("completion for key that is not in flight")
			return
		}
		entry.WithError(err).Error("completion report error")
		return
	}
	entry.WithFields(logrus.Fields{"state": rec.State.String(), "attempts": rec.Attempts}).Debug("completion applied")
}
