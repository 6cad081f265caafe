package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relentless-frontier/internal/frontier"
	"relentless-frontier/internal/logging"
	"relentless-frontier/internal/models"
	"relentless-frontier/mocks"
)

var testLog = logging.Component(logging.Discard(), "dispatch-test")

// recordingWriter is a JobWriter that records jobs and fails URLs listed in fail.
type recordingWriter struct {
	mu   sync.Mutex
	jobs []models.CrawlJob
	fail map[string]bool
}

func (w *recordingWriter) WriteJob(_ context.Context, job models.CrawlJob) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.jobs = append(w.jobs, job)
	if w.fail[job.Key] {
		return errors.New("crawler unavailable")
	}
	return nil
}

func (w *recordingWriter) keys() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, len(w.jobs))
	for i, j := range w.jobs {
		out[i] = j.Key
	}
	return out
}

func newTestDispatcher(f *frontier.Frontier, w JobWriter, opts Options) *Dispatcher {
	return New(f, w, NewReporter(f, nil, nil, nil, testLog), opts, testLog)
}

func TestDispatchOnceCompletesSuccessfulJobs(t *testing.T) {
	f := frontier.New(3)
	f.Ingest([]string{"http://a.com/1", "http://a.com/2", "http://a.com/3"})

	w := &recordingWriter{}
	d := newTestDispatcher(f, w, Options{BatchSize: 2, Concurrency: 4})

	assert.Equal(t, 2, d.DispatchOnce(context.Background()))
	d.Wait()
	assert.Equal(t, 1, d.DispatchOnce(context.Background()))
	d.Wait()
	assert.Equal(t, 0, d.DispatchOnce(context.Background()))

	assert.ElementsMatch(t, []string{"http://a.com/1", "http://a.com/2", "http://a.com/3"}, w.keys())
	assert.Equal(t, frontier.Stats{Done: 3, Total: 3}, f.Stats())

	c := d.Counters().Snapshot()
	assert.EqualValues(t, 3, c.Dispatched)
	assert.EqualValues(t, 3, c.Succeeded)
	assert.Zero(t, c.Failed)
	assert.Zero(t, d.InFlight())
}

func TestDispatchOnceRespectsFreeSlots(t *testing.T) {
	f := frontier.New(3)
	f.Ingest([]string{"http://a.com/1", "http://a.com/2", "http://a.com/3"})

	release := make(chan struct{})
	w := writerFunc(func(ctx context.Context, job models.CrawlJob) error {
		<-release
		return nil
	})
	d := newTestDispatcher(f, w, Options{BatchSize: 10, Concurrency: 2})

	assert.Equal(t, 2, d.DispatchOnce(context.Background()))
	assert.Equal(t, 0, d.DispatchOnce(context.Background()), "no free slots")
	assert.Equal(t, 1, f.Stats().Pending)

	close(release)
	d.Wait()
	assert.Equal(t, 1, d.DispatchOnce(context.Background()))
	d.Wait()
	assert.Equal(t, 3, f.Stats().Done)
}

func TestDispatchFailuresRetryThenFail(t *testing.T) {
	f := frontier.New(2)
	f.Ingest([]string{"http://flaky.com/", "http://ok.com/"})

	w := &recordingWriter{fail: map[string]bool{"http://flaky.com/": true}}
	d := newTestDispatcher(f, w, Options{BatchSize: 10, Concurrency: 1})

	for i := 0; i < 10; i++ {
		d.DispatchOnce(context.Background())
		d.Wait()
	}

	assert.Equal(t, frontier.Stats{Done: 1, Failed: 1, Total: 2}, f.Stats())
	flaky := 0
	for _, k := range w.keys() {
		if k == "http://flaky.com/" {
			flaky++
		}
	}
	assert.Equal(t, 3, flaky, "initial attempt plus two retries")

	c := d.Counters().Snapshot()
	assert.EqualValues(t, 3, c.Failed)
	assert.EqualValues(t, 2, c.Requeued)
	assert.EqualValues(t, 1, c.Succeeded)
}

func TestDispatchJobCarriesAttemptNumber(t *testing.T) {
	f := frontier.New(5)
	f.Ingest([]string{"http://flaky.com/"})

	var attempts []int
	var mu sync.Mutex
	w := writerFunc(func(_ context.Context, job models.CrawlJob) error {
		mu.Lock()
		defer mu.Unlock()
		attempts = append(attempts, job.Attempt)
		if len(attempts) < 3 {
			return errors.New("try again")
		}
		return nil
	})
	d := newTestDispatcher(f, w, Options{Concurrency: 1})
	for i := 0; i < 3; i++ {
		d.DispatchOnce(context.Background())
		d.Wait()
	}
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, 1, f.Stats().Done)
}

func TestDispatchAwaitCompletionLeavesInFlight(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	f := frontier.New(3)
	f.Ingest([]string{"http://a.com/"})

	writer := mocks.NewMockJobWriter(ctrl)
	writer.EXPECT().WriteJob(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, job models.CrawlJob) error {
			if job.Key != "http://a.com/" || job.Attempt != 1 || job.DispatchID == "" {
				t.Errorf("unexpected job: %+v", job)
			}
			return nil
		})

	statusStore := mocks.NewMockStatusStore(ctrl)
	statusStore.EXPECT().SetStatus(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, status models.URLStatus) error {
			if status.State != "in_flight" {
				t.Errorf("expected in_flight mirror, got %s", status.State)
			}
			return nil
		})

	reporter := NewReporter(f, statusStore, nil, nil, testLog)
	d := New(f, writer, reporter, Options{AwaitCompletion: true}, testLog)
	d.DispatchOnce(context.Background())
	d.Wait()

	assert.Equal(t, frontier.Stats{InFlight: 1, Total: 1}, f.Stats())
	assert.EqualValues(t, 1, d.Counters().Snapshot().HandedOff)

	statusStore.EXPECT().SetStatus(gomock.Any(), gomock.Any()).Return(nil)
	rec, err := reporter.Report(context.Background(), "http://a.com/", frontier.Success, "")
	require.NoError(t, err)
	assert.Equal(t, frontier.Done, rec.State)
}

func TestDispatchLostCompletionIsRedispatched(t *testing.T) {
	f := frontier.New(1)
	f.Ingest([]string{"http://lost.com/"})

	w := &recordingWriter{}
	d := newTestDispatcher(f, w, Options{AwaitCompletion: true, CompletionTimeout: time.Minute})
	ctx := context.Background()

	d.DispatchOnce(ctx)
	d.Wait()
	assert.Equal(t, frontier.Stats{InFlight: 1, Total: 1}, f.Stats())
	assert.Equal(t, 1, d.Handoffs())

	assert.Zero(t, d.ExpireHandoffs(ctx, time.Now()), "deadline not reached")
	assert.Equal(t, 1, d.ExpireHandoffs(ctx, time.Now().Add(2*time.Minute)))
	assert.Equal(t, frontier.Stats{Pending: 1, Total: 1}, f.Stats())
	assert.Zero(t, d.Handoffs())

	d.DispatchOnce(ctx)
	d.Wait()
	assert.Equal(t, 1, d.ExpireHandoffs(ctx, time.Now().Add(2*time.Minute)))
	assert.Equal(t, frontier.Stats{Failed: 1, Total: 1}, f.Stats())
	assert.Equal(t, []string{"http://lost.com/", "http://lost.com/"}, w.keys())

	c := d.Counters().Snapshot()
	assert.EqualValues(t, 2, c.HandedOff)
	assert.EqualValues(t, 2, c.Expired)
	assert.EqualValues(t, 1, c.Requeued)
}

func TestDispatchExpireSkipsCompletedHandoffs(t *testing.T) {
	f := frontier.New(3)
	f.Ingest([]string{"http://a.com/", "http://b.com/"})

	d := newTestDispatcher(f, &recordingWriter{}, Options{BatchSize: 2, Concurrency: 2, AwaitCompletion: true})
	ctx := context.Background()
	d.DispatchOnce(ctx)
	d.Wait()

	_, err := d.reporter.Report(ctx, "http://a.com/", frontier.Success, "")
	require.NoError(t, err)
	// b.com fails and is handed off again before the first deadline fires.
	_, err = d.reporter.Report(ctx, "http://b.com/", frontier.Failure, "503")
	require.NoError(t, err)
	d.DispatchOnce(ctx)
	d.Wait()

	assert.Zero(t, d.ExpireHandoffs(ctx, time.Now().Add(time.Minute)), "default timeout still running")
	assert.Equal(t, 1, d.ExpireHandoffs(ctx, time.Now().Add(time.Hour)))
	assert.Equal(t, frontier.Stats{Pending: 1, Done: 1, Total: 2}, f.Stats())

	rec, ok := f.Get("http://b.com/")
	require.True(t, ok)
	assert.Equal(t, 2, rec.Attempts)
}

// memStatusStore keeps the last status written per key.
type memStatusStore struct {
	mu       sync.Mutex
	statuses map[string]models.URLStatus
}

func (s *memStatusStore) SetStatus(_ context.Context, status models.URLStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses == nil {
		s.statuses = make(map[string]models.URLStatus)
	}
	s.statuses[status.Key] = status
	return nil
}

func (s *memStatusStore) GetStatus(_ context.Context, key string) (models.URLStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[key]
	return status, ok, nil
}

func TestDispatchMirrorSurvivesEarlyCompletion(t *testing.T) {
	f := frontier.New(3)
	f.Ingest([]string{"http://fast.com/"})

	statusStore := &memStatusStore{}
	reporter := NewReporter(f, statusStore, nil, nil, testLog)
	// The worker finishes before WriteJob returns to the dispatcher.
	w := writerFunc(func(ctx context.Context, job models.CrawlJob) error {
		status, ok, _ := statusStore.GetStatus(ctx, job.Key)
		if !ok || status.State != "in_flight" {
			t.Errorf("in_flight not mirrored before write: %+v", status)
		}
		_, err := reporter.Report(ctx, job.Key, frontier.Success, "")
		return err
	})
	d := New(f, w, reporter, Options{AwaitCompletion: true}, testLog)
	d.DispatchOnce(context.Background())
	d.Wait()

	status, ok, err := statusStore.GetStatus(context.Background(), "http://fast.com/")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "done", status.State)
	assert.Equal(t, frontier.Stats{Done: 1, Total: 1}, f.Stats())
}

func TestDispatchJobTimeout(t *testing.T) {
	f := frontier.New(0)
	f.Ingest([]string{"http://slow.com/"})

	w := writerFunc(func(ctx context.Context, _ models.CrawlJob) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var observed int64
	d := newTestDispatcher(f, w, Options{JobTimeout: 20 * time.Millisecond, ObserveLatency: func(time.Duration) {
		atomic.AddInt64(&observed, 1)
	}})
	d.DispatchOnce(context.Background())
	d.Wait()

	assert.Equal(t, frontier.Stats{Failed: 1, Total: 1}, f.Stats())
	assert.EqualValues(t, 1, atomic.LoadInt64(&observed))
}

func TestRunDrainsAndStops(t *testing.T) {
	f := frontier.New(3)
	batch := make([]string, 50)
	for i := range batch {
		batch[i] = fmt.Sprintf("http://example.com/%d", i)
	}
	f.Ingest(batch)

	w := &recordingWriter{}
	d := newTestDispatcher(f, w, Options{BatchSize: 7, Concurrency: 3, PollInterval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return f.Stats().Done == 50 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher did not stop")
	}

	keys := w.keys()
	assert.Len(t, keys, 50)
	seen := make(map[string]bool)
	for _, k := range keys {
		assert.False(t, seen[k], "key %s dispatched twice", k)
		seen[k] = true
	}
}

func TestDispatchOnceAfterCancelClaimsNothing(t *testing.T) {
	f := frontier.New(3)
	f.Ingest([]string{"http://a.com/"})
	d := newTestDispatcher(f, &recordingWriter{}, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, 0, d.DispatchOnce(ctx))
	assert.Equal(t, 1, f.Stats().Pending)
}

type writerFunc func(ctx context.Context, job models.CrawlJob) error

func (fn writerFunc) WriteJob(ctx context.Context, job models.CrawlJob) error {
	return fn(ctx, job)
}
