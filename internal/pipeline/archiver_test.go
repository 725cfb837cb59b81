package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradekernel/internal/domain"
	"github.com/alanyoungcy/tradekernel/internal/store/memory"
)

type fakeLister struct {
	ids   []string
	calls int
	since *time.Time
}

func (f *fakeLister) ListIDsByState(_ context.Context, state domain.TradeState, opts domain.ListOpts) ([]string, error) {
	f.calls++
	f.since = opts.Since
	if state != domain.StateSettled {
		return nil, errors.New("unexpected state")
	}
	if opts.Offset >= len(f.ids) {
		return nil, nil
	}
	end := min(opts.Offset+opts.Limit, len(f.ids))
	return f.ids[opts.Offset:end], nil
}

type fakeDossiers struct {
	stored  map[string]bool
	failFor string
}

func (f *fakeDossiers) DossierExists(_ context.Context, id string) (bool, error) {
	return f.stored[id], nil
}

func (f *fakeDossiers) ExportDossier(_ context.Context, id string) (string, error) {
	if id == f.failFor {
		return "", errors.New("bucket unavailable")
	}
	f.stored[id] = true
	return domain.DossierPath(id), nil
}

func silent() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestArchiverExportsMissingDossiers(t *testing.T) {
	lister := &fakeLister{ids: []string{"t1", "t2", "t3", "t4", "t5"}}
	store := &fakeDossiers{stored: map[string]bool{"t2": true}, failFor: "t4"}
	a := NewArchiver(lister, store, store, nil, ArchiverConfig{PageSize: 2}, silent())

	n, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, lister.calls)
	assert.True(t, store.stored["t1"])
	assert.True(t, store.stored["t5"])
	assert.False(t, store.stored["t4"])

	store.failFor = ""
	n, err = a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestArchiverLookbackBoundsQuery(t *testing.T) {
	lister := &fakeLister{}
	store := &fakeDossiers{stored: map[string]bool{}}
	a := NewArchiver(lister, store, store, nil, ArchiverConfig{Lookback: 24 * time.Hour}, silent())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	_, err := a.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, lister.since)
	assert.Equal(t, now.Add(-24*time.Hour), *lister.since)
}

func TestArchiverSkipsWhenLockHeld(t *testing.T) {
	locks := memory.NewLockManager()
	unlock, err := locks.Acquire(context.Background(), archiveLockKey, time.Minute)
	require.NoError(t, err)
	defer unlock()

	lister := &fakeLister{ids: []string{"t1"}}
	store := &fakeDossiers{stored: map[string]bool{}}
	a := NewArchiver(lister, store, store, locks, ArchiverConfig{}, silent())

	n, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, lister.calls)
}

func TestArchiverRejectsBadSchedule(t *testing.T) {
	store := &fakeDossiers{stored: map[string]bool{}}
	a := NewArchiver(&fakeLister{}, store, store, nil, ArchiverConfig{Schedule: "whenever"}, silent())
	assert.Error(t, a.RunCron(context.Background()))
}
