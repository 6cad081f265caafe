package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relentless-frontier/internal/frontier"
	"relentless-frontier/internal/models"
	"relentless-frontier/mocks"
)

func claimOne(t *testing.T, f *frontier.Frontier, raw string) frontier.Record {
	t.Helper()
	f.Ingest([]string{raw})
	claimed := f.Claim(1)
	require.Len(t, claimed, 1)
	return claimed[0]
}

func TestReporterDeadLettersTerminalFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	f := frontier.New(0)
	rec := claimOne(t, f, "HTTP://Dead.com")

	dlq := mocks.NewMockFailureWriter(ctrl)
	dlq.EXPECT().WriteFailure(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, failure models.CrawlFailure) error {
			assert.Equal(t, "http://dead.com/", failure.Key)
			assert.Equal(t, "HTTP://Dead.com", failure.URL)
			assert.Equal(t, 1, failure.Attempts)
			assert.Equal(t, "connection refused", failure.Error)
			assert.False(t, failure.FailedAt.IsZero())
			return nil
		})

	statusStore := mocks.NewMockStatusStore(ctrl)
	statusStore.EXPECT().SetStatus(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, status models.URLStatus) error {
			assert.Equal(t, "failed", status.State)
			assert.Equal(t, "connection refused", status.Error)
			return nil
		})

	r := NewReporter(f, statusStore, dlq, nil, testLog)
	got, err := r.Report(context.Background(), rec.Key, frontier.Failure, "connection refused")
	require.NoError(t, err)
	assert.Equal(t, frontier.Failed, got.State)

	c := r.Counters().Snapshot()
	assert.EqualValues(t, 1, c.Failed)
	assert.EqualValues(t, 1, c.DeadLettered)
	assert.Zero(t, c.Requeued)
}

func TestReporterRequeueSkipsDeadLetter(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	f := frontier.New(1)
	rec := claimOne(t, f, "http://retry.com/")

	dlq := mocks.NewMockFailureWriter(ctrl)
	dlq.EXPECT().WriteFailure(gomock.Any(), gomock.Any()).Times(0)

	r := NewReporter(f, nil, dlq, nil, testLog)
	got, err := r.Report(context.Background(), rec.Key, frontier.Failure, "503")
	require.NoError(t, err)
	assert.Equal(t, frontier.Pending, got.State)
	assert.EqualValues(t, 1, r.Counters().Snapshot().Requeued)
}

func TestReporterSideEffectErrorsAreNotReturned(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	f := frontier.New(0)
	rec := claimOne(t, f, "http://flaky.com/")

	dlq := mocks.NewMockFailureWriter(ctrl)
	dlq.EXPECT().WriteFailure(gomock.Any(), gomock.Any()).Return(errors.New("kafka down"))
	statusStore := mocks.NewMockStatusStore(ctrl)
	statusStore.EXPECT().SetStatus(gomock.Any(), gomock.Any()).Return(errors.New("redis down"))

	r := NewReporter(f, statusStore, dlq, nil, testLog)
	got, err := r.Report(context.Background(), rec.Key, frontier.Failure, "boom")
	require.NoError(t, err)
	assert.Equal(t, frontier.Failed, got.State)
	assert.Zero(t, r.Counters().Snapshot().DeadLettered)
}

func TestReporterUnknownKey(t *testing.T) {
	f := frontier.New(3)
	r := NewReporter(f, nil, nil, nil, testLog)

	_, err := r.Report(context.Background(), "http://never.com/", frontier.Success, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, frontier.ErrUnknownKey))
	assert.EqualValues(t, 1, r.Counters().Snapshot().CompleteErrors)
}

func TestReporterExpireDeadLettersWithReason(t *testing.T) {
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	f := frontier.New(0)
	rec := claimOne(t, f, "http://silent.com/")

	dlq := mocks.NewMockFailureWriter(ctrl)
	dlq.EXPECT().WriteFailure(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, failure models.CrawlFailure) error {
			assert.Equal(t, "completion timeout", failure.Error)
			return nil
		})

	r := NewReporter(f, nil, dlq, nil, testLog)
	got, err := r.Expire(context.Background(), rec, "completion timeout")
	require.NoError(t, err)
	assert.Equal(t, frontier.Failed, got.State)

	c := r.Counters().Snapshot()
	assert.EqualValues(t, 1, c.Expired)
	assert.EqualValues(t, 1, c.Failed)
	assert.EqualValues(t, 1, c.DeadLettered)
}

func TestReporterExpireAfterCompletionIsNoop(t *testing.T) {
	f := frontier.New(3)
	rec := claimOne(t, f, "http://quick.com/")
	r := NewReporter(f, nil, nil, nil, testLog)

	_, err := r.Report(context.Background(), rec.Key, frontier.Success, "")
	require.NoError(t, err)
	got, err := r.Expire(context.Background(), rec, "completion timeout")
	require.ErrorIs(t, err, frontier.ErrStaleClaim)
	assert.Equal(t, frontier.Done, got.State)
	assert.Zero(t, r.Counters().Snapshot().Expired)
}
