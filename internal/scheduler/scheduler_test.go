package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewRejectsBadTimezone(t *testing.T) {
	_, err := New("Not/AZone", zap.NewNop())
	assert.Error(t, err)
}

func TestAddJobRejectsBadSchedule(t *testing.T) {
	s, err := New("UTC", zap.NewNop())
	require.NoError(t, err)
	assert.Error(t, s.AddJob("bad", "not a cron expr", func(ctx context.Context) error { return nil }))
}

func TestAddJobAndList(t *testing.T) {
	s, err := New("UTC", zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.AddJob("summary", "0 21 * * *", func(ctx context.Context) error { return nil }))
	require.NoError(t, s.AddJob("cleanup", "0 3 * * *", func(ctx context.Context) error { return nil }))

	s.Start()
	defer s.Stop()

	infos := s.ListJobs()
	require.Len(t, infos, 2)
	names := []string{infos[0].Name, infos[1].Name}
	assert.ElementsMatch(t, []string{"summary", "cleanup"}, names)
	for _, info := range infos {
		assert.False(t, info.NextRun.IsZero())
	}
}

func TestRunNow(t *testing.T) {
	s, err := New("UTC", zap.NewNop())
	require.NoError(t, err)

	ran := false
	require.NoError(t, s.RunNow("adhoc", func(ctx context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)

	wantErr := errors.New("boom")
	assert.ErrorIs(t, s.RunNow("failing", func(ctx context.Context) error { return wantErr }), wantErr)
}
