package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownTimezone(t *testing.T) {
	_, err := New("Mars/Olympus_Mons", 0, nil)
	require.Error(t, err)
}

func TestAddJob(t *testing.T) {
	s, err := New("Asia/Shanghai", time.Minute, nil)
	require.NoError(t, err)

	noop := func(context.Context) error { return nil }
	require.NoError(t, s.AddJob("crawl", "0 3 * * *", noop))
	require.Error(t, s.AddJob("crawl", "0 4 * * *", noop))
	require.Error(t, s.AddJob("bad", "every day", noop))

	s.Start()
	defer s.Stop()

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	require.Equal(t, "crawl", jobs[0].Name)
	require.Equal(t, 3, jobs[0].NextRun.Hour())

	s.RemoveJob("crawl")
	require.Empty(t, s.ListJobs())
}

func TestRunNowAppliesTimeout(t *testing.T) {
	s, err := New("UTC", 10*time.Millisecond, nil)
	require.NoError(t, err)

	err = s.RunNow(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	boom := errors.New("boom")
	err = s.RunNow(context.Background(), "failing", func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
}
