package proxy

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRefresherTickRefreshesNearExpiry(t *testing.T) {
	dir := t.TempDir()
	writeAccountFile(t, dir, "acct1", time.Now().Unix()+30) // inside refreshAhead

	var calls int64
	refresh := func(refreshToken string) (string, int64, error) {
		atomic.AddInt64(&calls, 1)
		return "new-access", 3600, nil
	}

	m := NewTokenManager(refresh, noopResolveProject)
	_, err := m.Load(dir)
	require.NoError(t, err)

	sigCache := NewSignatureCache(time.Hour)
	r := NewTokenRefresher(m, sigCache, time.Minute, 60*time.Second)
	r.tick()

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestTokenRefresherTickSkipsFreshAccounts(t *testing.T) {
	dir := t.TempDir()
	writeAccountFile(t, dir, "acct1", time.Now().Unix()+100000)

	var calls int64
	refresh := func(refreshToken string) (string, int64, error) {
		atomic.AddInt64(&calls, 1)
		return "new-access", 3600, nil
	}

	m := NewTokenManager(refresh, noopResolveProject)
	_, err := m.Load(dir)
	require.NoError(t, err)

	r := NewTokenRefresher(m, NewSignatureCache(time.Hour), time.Minute, 60*time.Second)
	r.tick()

	assert.Equal(t, int64(0), atomic.LoadInt64(&calls))
}

func TestTokenRefresherTickCleansUpSignatureCache(t *testing.T) {
	dir := t.TempDir()
	writeAccountFile(t, dir, "acct1", time.Now().Unix()+100000)
	m := NewTokenManager(noopRefresh, noopResolveProject)
	_, err := m.Load(dir)
	require.NoError(t, err)

	now := time.Now()
	clock := func() time.Time { return now }
	sigCache := newSignatureCacheWithStore(newMemorySignatureStore(), time.Minute, clock)
	sigCache.Store("k", "v")
	now = now.Add(2 * time.Minute)

	r := NewTokenRefresher(m, sigCache, time.Minute, 60*time.Second)
	r.tick()

	assert.Equal(t, 0, sigCache.Len())
}

func TestTokenRefresherRunStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	writeAccountFile(t, dir, "acct1", time.Now().Unix()+100000)
	m := NewTokenManager(noopRefresh, noopResolveProject)
	_, err := m.Load(dir)
	require.NoError(t, err)

	r := NewTokenRefresher(m, NewSignatureCache(time.Hour), 20*time.Millisecond, 60*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop after cancellation")
	}
}

func TestTokenRefresherStartAutoRefreshRejectsSecondStart(t *testing.T) {
	dir := t.TempDir()
	writeAccountFile(t, dir, "acct1", time.Now().Unix()+100000)
	m := NewTokenManager(noopRefresh, noopResolveProject)
	_, err := m.Load(dir)
	require.NoError(t, err)

	r := NewTokenRefresher(m, NewSignatureCache(time.Hour), 20*time.Millisecond, 60*time.Second)

	cancel, err := r.StartAutoRefresh(context.Background())
	require.NoError(t, err)
	defer r.StopAutoRefresh(cancel)

	_, err = r.StartAutoRefresh(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestTokenRefresherStopAutoRefreshNoopWhenNotRunning(t *testing.T) {
	dir := t.TempDir()
	writeAccountFile(t, dir, "acct1", time.Now().Unix()+100000)
	m := NewTokenManager(noopRefresh, noopResolveProject)
	_, err := m.Load(dir)
	require.NoError(t, err)

	r := NewTokenRefresher(m, NewSignatureCache(time.Hour), 20*time.Millisecond, 60*time.Second)
	r.StopAutoRefresh(nil)

	cancel, err := r.StartAutoRefresh(context.Background())
	require.NoError(t, err)
	r.StopAutoRefresh(cancel)

	time.Sleep(100 * time.Millisecond)
	cancel2, err := r.StartAutoRefresh(context.Background())
	require.NoError(t, err)
	r.StopAutoRefresh(cancel2)
}
