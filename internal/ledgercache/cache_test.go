package ledgercache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpyc/tollbooth/internal/ledger"
	"github.com/dpyc/tollbooth/pkg/logger"
)

// fakeVault is an in-memory vault backend with failure injection.
type fakeVault struct {
	mu         sync.Mutex
	blobs      map[string][]byte
	snapshots  map[string][]byte
	storeCalls int
	fetchCalls int
	failStores int // fail the next N StoreLedger calls
	fetchErr   error
}

func newFakeVault() *fakeVault {
	return &fakeVault{
		blobs:     map[string][]byte{},
		snapshots: map[string][]byte{},
	}
}

func (v *fakeVault) FetchLedger(ctx context.Context, userID string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.fetchCalls++
	if v.fetchErr != nil {
		return nil, v.fetchErr
	}
	return v.blobs[userID], nil
}

func (v *fakeVault) StoreLedger(ctx context.Context, userID string, data []byte) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.storeCalls++
	if v.failStores > 0 {
		v.failStores--
		return "", errors.New("store unavailable")
	}
	v.blobs[userID] = data
	return userID, nil
}

func (v *fakeVault) SnapshotLedger(ctx context.Context, userID string, data []byte, timestamp string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.blobs[userID]; !ok {
		return "", nil
	}
	key := userID + ":" + timestamp
	v.snapshots[key] = data
	return key, nil
}

func (v *fakeVault) stored(t *testing.T, userID string) *ledger.UserLedger {
	t.Helper()
	v.mu.Lock()
	data := v.blobs[userID]
	v.mu.Unlock()
	require.NotNil(t, data)
	l, err := ledger.Decode(data)
	require.NoError(t, err)
	return l
}

func newTestCache(v *fakeVault, opts Options) *Cache {
	return New(v, opts, logger.Discard())
}

func TestGet_MissLoadsFromVault(t *testing.T) {
	ctx := context.Background()
	vault := newFakeVault()
	seeded := ledger.New()
	seeded.BalanceAPISats = 42
	data, err := seeded.Encode()
	require.NoError(t, err)
	vault.blobs["alice"] = data

	c := newTestCache(vault, Options{})

	l := c.Get(ctx, "alice")
	assert.Equal(t, int64(42), l.BalanceAPISats)
	assert.Equal(t, 1, c.Size())

	// Second get is a hit, no further vault fetch.
	fetches := vault.fetchCalls
	c.Get(ctx, "alice")
	assert.Equal(t, fetches, vault.fetchCalls)
}

func TestGet_UnknownUserGetsFreshLedger(t *testing.T) {
	c := newTestCache(newFakeVault(), Options{})

	l := c.Get(context.Background(), "newbie")

	assert.Equal(t, int64(0), l.BalanceAPISats)
	assert.NotNil(t, l.Invoices)
}

func TestGet_CorruptBlobDoesNotBlockUser(t *testing.T) {
	vault := newFakeVault()
	vault.blobs["alice"] = []byte("{{{corrupt")
	c := newTestCache(vault, Options{})

	l := c.Get(context.Background(), "alice")

	require.NotNil(t, l)
	assert.Equal(t, int64(0), l.BalanceAPISats)
}

func TestGet_VaultErrorYieldsFreshLedger(t *testing.T) {
	vault := newFakeVault()
	vault.fetchErr = errors.New("vault down")
	c := newTestCache(vault, Options{})

	l := c.Get(context.Background(), "alice")

	require.NotNil(t, l)
}

func TestFlushUser_WritesDirtyEntry(t *testing.T) {
	ctx := context.Background()
	vault := newFakeVault()
	c := newTestCache(vault, Options{})

	c.Update(ctx, "alice", func(l *ledger.UserLedger) {
		l.BalanceAPISats = 100
	})
	assert.Equal(t, 1, c.DirtyCount())

	require.True(t, c.FlushUser(ctx, "alice"))

	assert.Equal(t, 0, c.DirtyCount())
	assert.Equal(t, int64(100), vault.stored(t, "alice").BalanceAPISats)
	assert.Equal(t, int64(1), c.TotalFlushes())
}

func TestFlushUser_CleanEntryIsNoop(t *testing.T) {
	ctx := context.Background()
	vault := newFakeVault()
	c := newTestCache(vault, Options{})
	c.Get(ctx, "alice")

	require.True(t, c.FlushUser(ctx, "alice"))
	assert.Equal(t, 0, vault.storeCalls)
}

func TestFlushUser_RetriesThenSucceeds(t *testing.T) {
	ctx := context.Background()
	vault := newFakeVault()
	vault.failStores = 1
	c := newTestCache(vault, Options{FlushRetries: 1, FlushRetryDelay: time.Millisecond})

	c.Update(ctx, "alice", func(l *ledger.UserLedger) { l.BalanceAPISats = 7 })

	require.True(t, c.FlushUser(ctx, "alice"))
	assert.Equal(t, 2, vault.storeCalls)
}

func TestFlushUser_ExhaustionLeavesDirty(t *testing.T) {
	ctx := context.Background()
	vault := newFakeVault()
	vault.failStores = 10
	c := newTestCache(vault, Options{FlushRetries: 1, FlushRetryDelay: time.Millisecond})

	c.Update(ctx, "alice", func(l *ledger.UserLedger) { l.BalanceAPISats = 7 })

	require.False(t, c.FlushUser(ctx, "alice"))
	assert.Equal(t, 1, c.DirtyCount())

	// A later flush succeeds once the vault recovers.
	vault.mu.Lock()
	vault.failStores = 0
	vault.mu.Unlock()
	require.True(t, c.FlushUser(ctx, "alice"))
	assert.Equal(t, int64(7), vault.stored(t, "alice").BalanceAPISats)
}

func TestEviction_FlushesDirtyVictim(t *testing.T) {
	ctx := context.Background()
	vault := newFakeVault()
	c := newTestCache(vault, Options{MaxSize: 2})

	c.Get(ctx, "A")
	c.Get(ctx, "B")
	c.Update(ctx, "A", func(l *ledger.UserLedger) { l.BalanceAPISats = 42 })

	// A is most recently used after the update; touch B, then load C to
	// evict A.
	c.Get(ctx, "B")
	c.Get(ctx, "C")

	assert.Equal(t, 2, c.Size())
	assert.Equal(t, int64(42), vault.stored(t, "A").BalanceAPISats)

	// A reload observes the flushed balance.
	l := c.Get(ctx, "A")
	assert.Equal(t, int64(42), l.BalanceAPISats)
}

func TestFlushDirty_FlushesAll(t *testing.T) {
	ctx := context.Background()
	vault := newFakeVault()
	c := newTestCache(vault, Options{})

	c.Update(ctx, "a", func(l *ledger.UserLedger) { l.BalanceAPISats = 1 })
	c.Update(ctx, "b", func(l *ledger.UserLedger) { l.BalanceAPISats = 2 })
	c.Get(ctx, "clean")

	flushed := c.FlushDirty(ctx)

	assert.Equal(t, 2, flushed)
	assert.Equal(t, 0, c.DirtyCount())
	assert.Equal(t, int64(1), vault.stored(t, "a").BalanceAPISats)
	assert.Equal(t, int64(2), vault.stored(t, "b").BalanceAPISats)
}

func TestSnapshotAll_CountsStoredUsersOnly(t *testing.T) {
	ctx := context.Background()
	vault := newFakeVault()
	c := newTestCache(vault, Options{})

	c.Update(ctx, "stored", func(l *ledger.UserLedger) { l.BalanceAPISats = 5 })
	require.True(t, c.FlushUser(ctx, "stored"))
	c.Get(ctx, "never-stored")

	count := c.SnapshotAll(ctx, "2026-08-24T00-00-00")

	assert.Equal(t, 1, count)
	assert.Contains(t, vault.snapshots, "stored:2026-08-24T00-00-00")
}

func TestStartStop_FinalFlush(t *testing.T) {
	ctx := context.Background()
	vault := newFakeVault()
	c := newTestCache(vault, Options{FlushInterval: time.Hour})

	c.Start(ctx)
	assert.True(t, c.Health().BackgroundFlushRunning)

	c.Update(ctx, "alice", func(l *ledger.UserLedger) { l.BalanceAPISats = 9 })

	flushed := c.Stop(ctx)

	assert.GreaterOrEqual(t, flushed, 1)
	assert.False(t, c.Health().BackgroundFlushRunning)
	assert.Equal(t, int64(9), vault.stored(t, "alice").BalanceAPISats)
}

func TestBackgroundFlush_FlushesPeriodically(t *testing.T) {
	ctx := context.Background()
	vault := newFakeVault()
	c := newTestCache(vault, Options{FlushInterval: 10 * time.Millisecond})

	c.Update(ctx, "alice", func(l *ledger.UserLedger) { l.BalanceAPISats = 3 })
	c.Start(ctx)
	defer c.Stop(ctx)

	require.Eventually(t, func() bool {
		return c.DirtyCount() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(3), vault.stored(t, "alice").BalanceAPISats)
}

func TestHealth(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(newFakeVault(), Options{MaxSize: 5, FlushRetries: 2, FlushRetryDelay: time.Second})

	c.Update(ctx, "alice", func(l *ledger.UserLedger) { l.BalanceAPISats = 1 })

	h := c.Health()
	assert.Equal(t, 1, h.CacheSize)
	assert.Equal(t, 1, h.DirtyEntries)
	assert.Equal(t, 2, h.FlushRetries)
	assert.Equal(t, 1.0, h.FlushRetryDelaySecs)
	assert.False(t, h.BackgroundFlushRunning)
	assert.Empty(t, h.LastFlushAt)

	require.True(t, c.FlushUser(ctx, "alice"))
	h = c.Health()
	assert.Equal(t, int64(1), h.TotalFlushes)
	assert.NotEmpty(t, h.LastFlushAt)
}

func TestConcurrentUpdates_SerializePerUser(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(newFakeVault(), Options{})

	c.Update(ctx, "alice", func(l *ledger.UserLedger) { l.BalanceAPISats = 10_000 })

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Update(ctx, "alice", func(l *ledger.UserLedger) {
				l.Debit("tool", 1)
			})
		}()
	}
	wg.Wait()

	l := c.Get(ctx, "alice")
	assert.Equal(t, int64(10_000-50), l.BalanceAPISats)
	assert.Equal(t, int64(50), l.TotalConsumedAPISats)
}
