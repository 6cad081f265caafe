// Package dispatch moves pending URLs out of the frontier to fetch workers
// and reports their outcomes back.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"relentless-frontier/internal/frontier"
	"relentless-frontier/internal/models"
)

// Claimer is the slice of the frontier the dispatcher pulls from.
type Claimer interface {
	Claim(max int) []frontier.Record
}

// JobWriter hands one job to whatever performs the fetch.
type JobWriter interface {
	WriteJob(ctx context.Context, job models.CrawlJob) error
}

// Options tune a Dispatcher. Zero values get defaults.
type Options struct {
	BatchSize    int
	PollInterval time.Duration
	Concurrency  int
	JobTimeout   time.Duration // per-job deadline so one stuck write can't hold a slot forever
	// AwaitCompletion leaves successfully written jobs in flight; their
	// outcome arrives later through a Reporter (e.g. the Kafka consumer).
	AwaitCompletion bool
	// CompletionTimeout bounds how long a handed-off job may wait for its
	// completion before it counts as a failed attempt.
	CompletionTimeout time.Duration
	// ObserveLatency, when set, receives the duration of every WriteJob call.
	ObserveLatency func(time.Duration)
}

// Dispatcher polls the frontier and runs each claimed job on a bounded pool.
type Dispatcher struct {
	claimer  Claimer
	writer   JobWriter
	reporter *Reporter
	opts     Options
	sem      chan struct{}
	wg       sync.WaitGroup
	inFlight int64
	log      *logrus.Entry

	hmu      sync.Mutex
	handoffs map[string]handoff
}

// handoff is a claim waiting for its completion message.
type handoff struct {
	rec      frontier.Record
	deadline time.Time
}

// New builds a Dispatcher. The reporter's counters are shared with it.
func New(claimer Claimer, writer JobWriter, reporter *Reporter, opts Options, log *logrus.Entry) *Dispatcher {
	if opts.BatchSize < 1 {
		opts.BatchSize = 10
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Second
	}
	if opts.CompletionTimeout <= 0 {
		opts.CompletionTimeout = 5 * time.Minute
	}
	return &Dispatcher{
		claimer:  claimer,
		writer:   writer,
		reporter: reporter,
		opts:     opts,
		sem:      make(chan struct{}, opts.Concurrency),
		log:      log,
		handoffs: make(map[string]handoff),
	}
}

// Counters returns the shared dispatch counters.
func (d *Dispatcher) Counters() *Counters {
	return d.reporter.Counters()
}

// InFlight is the number of job goroutines currently running.
func (d *Dispatcher) InFlight() int64 {
	return atomic.LoadInt64(&d.inFlight)
}

// Run polls until ctx is cancelled, then waits for running jobs.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.WithFields(logrus.Fields{
		"batch":       d.opts.BatchSize,
		"concurrency": d.opts.Concurrency,
		"poll":        d.opts.PollInterval.String(),
	}).Info("dispatcher started")

	ticker := time.NewTicker(d.opts.PollInterval)
	defer ticker.Stop()
	for {
		if d.opts.AwaitCompletion {
			d.ExpireHandoffs(ctx, time.Now())
		}
		// Drain whole batches back to back while work and slots are available.
		for {
			if d.DispatchOnce(ctx) == 0 {
				break
			}
		}
		select {
		case <-ctx.Done():
			d.wg.Wait()
			d.log.Info("dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce claims as many records as there are free slots (capped by the
// batch size) and starts one goroutine per record. It returns the number
// started. Only one goroutine may call DispatchOnce at a time.
func (d *Dispatcher) DispatchOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	free := cap(d.sem) - len(d.sem)
	if free > d.opts.BatchSize {
		free = d.opts.BatchSize
	}
	if free <= 0 {
		return 0
	}

	records := d.claimer.Claim(free)
	for _, rec := range records {
		// Never blocks: this is the only sender and we claimed at most free slots.
		d.sem <- struct{}{}
		atomic.AddInt64(&d.inFlight, 1)
		d.wg.Add(1)
		go d.dispatch(ctx, rec)
	}
	return len(records)
}

// Wait blocks until every started job goroutine has returned.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, rec frontier.Record) {
	defer func() {
		atomic.AddInt64(&d.inFlight, -1)
		<-d.sem
		d.wg.Done()
	}()

	job := models.NewCrawlJob(rec.Key, rec.URL, rec.Attempts+1)
	entry := d.log.WithFields(logrus.Fields{
		"key":         rec.Key,
		"dispatch_id": job.DispatchID,
		"attempt":     job.Attempt,
	})
	counters := d.reporter.Counters()
	atomic.AddUint64(&counters.Dispatched, 1)

	// The completion may be reported while WriteJob is still returning, so the
	// in_flight mirror has to land first.
	if d.opts.AwaitCompletion {
		mirrorCtx, mirrorCancel := reportContext(ctx)
		d.reporter.Mirror(mirrorCtx, rec, "")
		mirrorCancel()
	}

	jobCtx, cancel := context.WithTimeout(ctx, d.opts.JobTimeout)
	start := time.Now()
	err := d.writer.WriteJob(jobCtx, job)
	cancel()
	if d.opts.ObserveLatency != nil {
		d.opts.ObserveLatency(time.Since(start))
	}

	reportCtx, reportCancel := reportContext(ctx)
	defer reportCancel()

	if err != nil {
		entry.WithError(err).Warn("dispatch failed")
		if _, rerr := d.reporter.Report(reportCtx, rec.Key, frontier.Failure, err.Error()); rerr != nil {
			entry.WithError(rerr).Error("report failure error")
		}
		return
	}

	if d.opts.AwaitCompletion {
		atomic.AddUint64(&counters.HandedOff, 1)
		d.trackHandoff(rec, start.Add(d.opts.CompletionTimeout))
		entry.Debug("job handed off")
		return
	}

	if _, rerr := d.reporter.Report(reportCtx, rec.Key, frontier.Success, ""); rerr != nil {
		entry.WithError(rerr).Error("report success error")
		return
	}
	entry.Debug("job dispatched")
}

func (d *Dispatcher) trackHandoff(rec frontier.Record, deadline time.Time) {
	d.hmu.Lock()
	d.handoffs[rec.Key] = handoff{rec: rec, deadline: deadline}
	d.hmu.Unlock()
}

// Handoffs is the number of hand-offs still being tracked.
func (d *Dispatcher) Handoffs() int {
	d.hmu.Lock()
	defer d.hmu.Unlock()
	return len(d.handoffs)
}

// ExpireHandoffs fails every hand-off whose deadline is before now, which
// requeues it or marks it Failed under the usual retry limit. Hand-offs that
// were completed in the meantime are dropped silently. It returns the number
// of records expired.
func (d *Dispatcher) ExpireHandoffs(ctx context.Context, now time.Time) int {
	var due []frontier.Record
	d.hmu.Lock()
	for key, h := range d.handoffs {
		if now.After(h.deadline) {
			due = append(due, h.rec)
			delete(d.handoffs, key)
		}
	}
	d.hmu.Unlock()

	expired := 0
	for _, rec := range due {
		entry := d.log.WithFields(logrus.Fields{"key": rec.Key, "attempt": rec.Attempts + 1})
		reportCtx, cancel := reportContext(ctx)
		cur, err := d.reporter.Expire(reportCtx, rec, "completion timeout")
		cancel()
		switch {
		case errors.Is(err, frontier.ErrStaleClaim):
			continue
		case err != nil:
			entry.WithError(err).Error("expire handoff error")
			continue
		}
		expired++
		entry.WithField("state", cur.State.String()).Warn("completion timed out")
	}
	return expired
}

// reportContext outlives ctx: reporting must finish during shutdown, otherwise
// the record would stay in flight for the life of the process.
func reportContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
}
