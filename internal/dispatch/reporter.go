package dispatch

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"relentless-frontier/internal/frontier"
	"relentless-frontier/internal/models"
	"relentless-frontier/internal/store"
)

// Completer is the slice of the frontier used to report outcomes.
type Completer interface {
	Complete(key string, outcome frontier.Outcome) (frontier.Record, error)
	Expire(key string, attempts int) (frontier.Record, error)
}

// FailureWriter receives URLs that exhausted their retries.
type FailureWriter interface {
	WriteFailure(ctx context.Context, failure models.CrawlFailure) error
}

// Counters are cumulative dispatch counts, safe for concurrent use.
type Counters struct {
	Dispatched     uint64
	HandedOff      uint64
	Succeeded      uint64
	Failed         uint64
	Requeued       uint64
	DeadLettered   uint64
	Expired        uint64
	CompleteErrors uint64
}

// Snapshot returns a consistent-enough copy for metrics output.
func (c *Counters) Snapshot() Counters {
	return Counters{
		Dispatched:     atomic.LoadUint64(&c.Dispatched),
		HandedOff:      atomic.LoadUint64(&c.HandedOff),
		Succeeded:      atomic.LoadUint64(&c.Succeeded),
		Failed:         atomic.LoadUint64(&c.Failed),
		Requeued:       atomic.LoadUint64(&c.Requeued),
		DeadLettered:   atomic.LoadUint64(&c.DeadLettered),
		Expired:        atomic.LoadUint64(&c.Expired),
		CompleteErrors: atomic.LoadUint64(&c.CompleteErrors),
	}
}

// Reporter completes keys on the frontier and fans the result out to the
// status mirror and the dead-letter writer. Both are optional.
type Reporter struct {
	frontier Completer
	store    store.StatusStore
	dlq      FailureWriter
	counters *Counters
	log      *logrus.Entry
}

// NewReporter builds a Reporter. counters may be shared with a Dispatcher.
func NewReporter(f Completer, statusStore store.StatusStore, dlq FailureWriter, counters *Counters, log *logrus.Entry) *Reporter {
	if counters == nil {
		counters = &Counters{}
	}
	return &Reporter{
		frontier: f,
		store:    statusStore,
		dlq:      dlq,
		counters: counters,
		log:      log,
	}
}

// Counters exposes the reporter's counters.
func (r *Reporter) Counters() *Counters {
	return r.counters
}

// Report applies outcome to key. Errors from Complete are returned untouched
// so callers can match *frontier.UnknownKeyError; mirror and dead-letter
// errors are only logged.
func (r *Reporter) Report(ctx context.Context, key string, outcome frontier.Outcome, reason string) (frontier.Record, error) {
	rec, err := r.frontier.Complete(key, outcome)
	if err != nil {
		atomic.AddUint64(&r.counters.CompleteErrors, 1)
		return rec, err
	}
	r.apply(ctx, rec, reason)
	return rec, nil
}

// Expire fails the hand-off of rec whose completion never arrived. It is a
// no-op returning frontier.ErrStaleClaim when that claim was already
// completed.
func (r *Reporter) Expire(ctx context.Context, rec frontier.Record, reason string) (frontier.Record, error) {
	cur, err := r.frontier.Expire(rec.Key, rec.Attempts)
	if err != nil {
		return cur, err
	}
	atomic.AddUint64(&r.counters.Expired, 1)
	r.apply(ctx, cur, reason)
	return cur, nil
}

func (r *Reporter) apply(ctx context.Context, rec frontier.Record, reason string) {
	switch rec.State {
	case frontier.Done:
		atomic.AddUint64(&r.counters.Succeeded, 1)
	case frontier.Pending:
		atomic.AddUint64(&r.counters.Failed, 1)
		atomic.AddUint64(&r.counters.Requeued, 1)
	case frontier.Failed:
		atomic.AddUint64(&r.counters.Failed, 1)
		r.deadLetter(ctx, rec, reason)
	}
	r.Mirror(ctx, rec, reason)
}

// Mirror writes rec to the status store if one is configured.
func (r *Reporter) Mirror(ctx context.Context, rec frontier.Record, reason string) {
	if err := store.SaveRecord(ctx, r.store, rec, reason); err != nil {
		r.log.WithError(err).WithField("key", rec.Key).Warn("status mirror write failed")
	}
}

func (r *Reporter) deadLetter(ctx context.Context, rec frontier.Record, reason string) {
	r.log.WithFields(logrus.Fields{
		"key":      rec.Key,
		"attempts": rec.Attempts,
		"error":    reason,
	}).Warn("url failed permanently")
	if r.dlq == nil {
		return
	}
	failure := models.CrawlFailure{
		Key:      rec.Key,
		URL:      rec.URL,
		Attempts: rec.Attempts,
		Error:    reason,
		FailedAt: time.Now().UTC(),
	}
	if err := r.dlq.WriteFailure(ctx, failure); err != nil {
		r.log.WithError(err).WithField("key", rec.Key).Error("dlq publish error")
		return
	}
	atomic.AddUint64(&r.counters.DeadLettered, 1)
}
