// Package frontier tracks every URL known to the crawl and the order in which
// pending URLs are handed to fetch workers.
package frontier

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultRetryLimit is used when New is given a negative limit.
const DefaultRetryLimit = 3

type record struct {
	key      string
	url      string
	state    State
	attempts int
	seq      uint64
}

func (r *record) snapshot() Record {
	return Record{
		Key:      r.key,
		URL:      r.url,
		State:    r.state,
		Attempts: r.attempts,
		Seq:      r.seq,
	}
}

// Frontier is safe for concurrent use. One mutex guards the record map, the
// pending queue and the state counters together: a key must never be both
// queued and in flight.
type Frontier struct {
	mu         sync.Mutex
	retryLimit int
	seq        uint64
	records    map[string]*record
	queue      []string // pending keys, oldest first
	counts     [Failed + 1]int
}

// New creates an empty frontier. A failed URL is requeued at most retryLimit
// times before it is marked Failed.
func New(retryLimit int) *Frontier {
	if retryLimit < 0 {
		retryLimit = DefaultRetryLimit
	}
	return &Frontier{
		retryLimit: retryLimit,
		records:    make(map[string]*record),
		queue:      make([]string, 0, 64),
	}
}

// RetryLimit returns the configured number of retries per URL.
func (f *Frontier) RetryLimit() int {
	return f.retryLimit
}

// Ingest validates, normalizes and deduplicates each raw URL. New keys are
// queued as Pending in batch order. A bad URL never affects the rest of the
// batch.
func (f *Frontier) Ingest(batch []string) IngestResult {
	var res IngestResult
	keys := make([]string, len(batch))
	for i, raw := range batch {
		key, err := NormalizeKey(raw)
		if err != nil {
			res.Rejected++
			reason := err.Error()
			var verr *ValidationError
			if errors.As(err, &verr) {
				reason = verr.Reason
			}
			res.Rejections = append(res.Rejections, Rejection{URL: raw, Reason: reason})
			continue
		}
		keys[i] = key
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for i, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := f.records[key]; ok {
			res.Duplicates++
			continue
		}
		f.seq++
		f.records[key] = &record{
			key:   key,
			url:   batch[i],
			state: Pending,
			seq:   f.seq,
		}
		f.queue = append(f.queue, key)
		f.counts[Pending]++
		res.Accepted++
	}
	return res
}

// Claim moves up to max Pending records to InFlight in FIFO order and
// returns them. It never blocks; an empty result means nothing is pending.
func (f *Frontier) Claim(max int) []Record {
	if max <= 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n := max
	if n > len(f.queue) {
		n = len(f.queue)
	}
	if n == 0 {
		return nil
	}

	out := make([]Record, 0, n)
	for _, key := range f.queue[:n] {
		r := f.records[key]
		f.move(r, InFlight)
		out = append(out, r.snapshot())
	}
	// Clear popped slots so the backing array does not pin old keys.
	for i := 0; i < n; i++ {
		f.queue[i] = ""
	}
	f.queue = f.queue[n:]
	return out
}

// Complete records the outcome for an InFlight key. A failure under the retry
// limit sends the key back to the tail of the queue; past the limit the key
// is Failed for good. Completing a key that is not InFlight returns an
// *UnknownKeyError and changes nothing.
func (f *Frontier) Complete(key string, outcome Outcome) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.records[key]
	if !ok {
		return Record{}, &UnknownKeyError{Key: key}
	}
	if r.state != InFlight {
		return r.snapshot(), &UnknownKeyError{Key: key, Known: true, State: r.state}
	}
	f.complete(r, outcome)
	return r.snapshot(), nil
}

// Expire reports a Failure for key only if it is still held by the claim that
// had seen attempts failures. A key that was completed, or completed and
// claimed again since, is left alone and ErrStaleClaim is returned.
func (f *Frontier) Expire(key string, attempts int) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r, ok := f.records[key]
	if !ok {
		return Record{}, &UnknownKeyError{Key: key}
	}
	if r.state != InFlight || r.attempts != attempts {
		return r.snapshot(), fmt.Errorf("expire %q at attempt %d: %w", key, attempts+1, ErrStaleClaim)
	}
	f.complete(r, Failure)
	return r.snapshot(), nil
}

// Lookup returns the record for raw after normalizing it.
func (f *Frontier) Lookup(raw string) (Record, bool) {
	key, err := NormalizeKey(raw)
	if err != nil {
		return Record{}, false
	}
	return f.Get(key)
}

// Get returns the record stored under an already normalized key.
func (f *Frontier) Get(key string) (Record, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[key]
	if !ok {
		return Record{}, false
	}
	return r.snapshot(), true
}

// Stats returns the current count of records per state.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Pending:  f.counts[Pending],
		InFlight: f.counts[InFlight],
		Done:     f.counts[Done],
		Failed:   f.counts[Failed],
		Total:    len(f.records),
	}
}

// complete applies outcome to an InFlight record. Caller holds f.mu.
func (f *Frontier) complete(r *record, outcome Outcome) {
	if outcome == Success {
		f.move(r, Done)
		return
	}
	retriesUsed := r.attempts
	r.attempts++
	if retriesUsed < f.retryLimit {
		f.move(r, Pending)
		f.queue = append(f.queue, r.key)
	} else {
		f.move(r, Failed)
	}
}

// move changes r's state and keeps counts in sync. Caller holds f.mu.
func (f *Frontier) move(r *record, to State) {
	f.counts[r.state]--
	f.counts[to]++
	r.state = to
}
