// Package ledgercache is the in-memory LRU cache for user ledgers with
// write-behind flush to the durable vault.
//
// The cache is the hot path for all credit operations. The vault is
// updated asynchronously every flush interval, synchronously on
// credit-critical paths, and on eviction of dirty entries.
package ledgercache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/dpyc/tollbooth/internal/ledger"
	"github.com/dpyc/tollbooth/internal/vault"
	"github.com/dpyc/tollbooth/pkg/logger"
)

// Options configures a Cache. Zero values fall back to the defaults.
type Options struct {
	MaxSize         int           // entries kept before LRU eviction (default 20)
	FlushInterval   time.Duration // background/opportunistic flush period (default 60s)
	FlushRetries    int           // extra store attempts per flush (default 1)
	FlushRetryDelay time.Duration // pause between attempts (default 2s)
}

func (o Options) withDefaults() Options {
	if o.MaxSize <= 0 {
		o.MaxSize = 20
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 60 * time.Second
	}
	if o.FlushRetries < 0 {
		o.FlushRetries = 0
	}
	if o.FlushRetryDelay <= 0 {
		o.FlushRetryDelay = 2 * time.Second
	}
	return o
}

// Health is the cache's monitoring snapshot.
type Health struct {
	CacheSize              int     `json:"cache_size"`
	DirtyEntries           int     `json:"dirty_entries"`
	LastFlushAt            string  `json:"last_flush_at"`
	TotalFlushes           int64   `json:"total_flushes"`
	FlushRetries           int     `json:"flush_retries"`
	FlushRetryDelaySecs    float64 `json:"flush_retry_delay_secs"`
	BackgroundFlushRunning bool    `json:"background_flush_running"`
	LastFlushCheckAgeSecs  float64 `json:"last_flush_check_age_secs"`
}

// entry wraps a cached ledger with dirty tracking.
type entry struct {
	userID string
	ledger *ledger.UserLedger
	dirty  bool
}

// retired is an evicted dirty entry awaiting its final flush, paired with
// the per-user mutex it was guarded by while cached.
type retired struct {
	ent  *entry
	lock *sync.Mutex
}

// Cache is a bounded LRU over user id -> ledger.
//
// A single user's operations are serialized via a per-user mutex, which
// is also held across every flush of that user, so no mutation can
// interleave with an in-progress flush. The map/LRU bookkeeping sits
// behind a separate short-hold mutex; no I/O happens under it.
type Cache struct {
	vault  vault.Backend
	logger *logger.Logger

	maxSize         int
	flushInterval   time.Duration
	flushRetries    int
	flushRetryDelay time.Duration

	mu             sync.Mutex
	entries        map[string]*list.Element // values are *entry
	lru            *list.List               // front = most recently used
	locks          map[string]*sync.Mutex
	lastFlushAt    string
	totalFlushes   int64
	lastFlushCheck time.Time

	bgMu     sync.Mutex
	bgCancel context.CancelFunc
	bgDone   chan struct{}
}

// New creates a ledger cache in front of the given vault.
func New(v vault.Backend, opts Options, log *logger.Logger) *Cache {
	opts = opts.withDefaults()
	return &Cache{
		vault:           v,
		logger:          log.WithField("component", "ledgercache"),
		maxSize:         opts.MaxSize,
		flushInterval:   opts.FlushInterval,
		flushRetries:    opts.FlushRetries,
		flushRetryDelay: opts.FlushRetryDelay,
		entries:         map[string]*list.Element{},
		lru:             list.New(),
		locks:           map[string]*sync.Mutex{},
		lastFlushCheck:  time.Now(),
	}
}

// userLock returns (creating if needed) the per-user mutex.
func (c *Cache) userLock(userID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[userID] = lock
	}
	return lock
}

// Get returns the cached ledger for a user, loading from the vault on a
// miss. A missing or unreadable blob yields a fresh ledger; corruption
// never blocks a user.
func (c *Cache) Get(ctx context.Context, userID string) *ledger.UserLedger {
	c.maybeFlush(ctx)

	lock := c.userLock(userID)
	lock.Lock()
	led, victims := c.loadLocked(ctx, userID)
	lock.Unlock()

	c.flushRetired(ctx, victims)
	return led
}

// Update runs fn on the user's ledger under the per-user mutex and marks
// the entry dirty. fn must be pure in-memory work: no I/O, no calls back
// into the cache.
func (c *Cache) Update(ctx context.Context, userID string, fn func(*ledger.UserLedger)) {
	lock := c.userLock(userID)
	lock.Lock()
	led, victims := c.loadLocked(ctx, userID)
	fn(led)
	c.markDirty(userID)
	lock.Unlock()

	c.flushRetired(ctx, victims)
}

// View runs fn on the user's ledger under the per-user mutex without
// marking it dirty.
func (c *Cache) View(ctx context.Context, userID string, fn func(*ledger.UserLedger)) {
	lock := c.userLock(userID)
	lock.Lock()
	led, victims := c.loadLocked(ctx, userID)
	fn(led)
	lock.Unlock()

	c.flushRetired(ctx, victims)
}

// loadLocked resolves the cache entry for userID, loading from the vault
// on a miss and evicting while over capacity. The caller holds the
// per-user mutex. Evicted dirty entries are returned for flushing after
// the caller releases its locks.
func (c *Cache) loadLocked(ctx context.Context, userID string) (*ledger.UserLedger, []retired) {
	c.mu.Lock()
	if el, ok := c.entries[userID]; ok {
		c.lru.MoveToFront(el)
		led := el.Value.(*entry).ledger
		c.mu.Unlock()
		return led, nil
	}
	c.mu.Unlock()

	led := c.loadFromVault(ctx, userID)

	c.mu.Lock()
	var victims []retired
	for c.lru.Len() >= c.maxSize {
		back := c.lru.Back()
		if back == nil {
			break
		}
		victim := back.Value.(*entry)
		c.lru.Remove(back)
		delete(c.entries, victim.userID)
		victimLock := c.locks[victim.userID]
		delete(c.locks, victim.userID)
		if victim.dirty {
			victims = append(victims, retired{ent: victim, lock: victimLock})
		}
	}
	el := c.lru.PushFront(&entry{userID: userID, ledger: led})
	c.entries[userID] = el
	c.mu.Unlock()

	return led, victims
}

func (c *Cache) loadFromVault(ctx context.Context, userID string) *ledger.UserLedger {
	data, err := c.vault.FetchLedger(ctx, userID)
	if err != nil {
		c.logger.Warn("failed to load ledger from vault", "user_id", userID, "error", err)
		return ledger.New()
	}
	if data == nil {
		return ledger.New()
	}
	led, err := ledger.Decode(data)
	if err != nil {
		c.logger.Warn("ledger blob unreadable, starting fresh", "user_id", userID, "error", err)
	}
	return led
}

// MarkDirty flags a cached entry as needing a flush. Silent no-op when
// the user is not cached.
func (c *Cache) MarkDirty(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markDirtyLocked(userID)
}

func (c *Cache) markDirty(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markDirtyLocked(userID)
}

func (c *Cache) markDirtyLocked(userID string) {
	if el, ok := c.entries[userID]; ok {
		el.Value.(*entry).dirty = true
	}
}

// FlushUser immediately flushes a single user's entry with bounded retry.
// Use on credit-critical paths where the ledger must be durable before
// returning success. Returns false on exhaustion; the entry stays dirty
// for a future flush.
func (c *Cache) FlushUser(ctx context.Context, userID string) bool {
	lock := c.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	c.mu.Lock()
	el, ok := c.entries[userID]
	if !ok || !el.Value.(*entry).dirty {
		c.mu.Unlock()
		return true // nothing to flush
	}
	ent := el.Value.(*entry)
	c.mu.Unlock()

	return c.flushEntry(ctx, ent, true)
}

// flushEntry encodes and stores one entry with retry. The caller holds
// the entry's per-user mutex. live indicates the entry is still cached
// (so success must clear its dirty flag under c.mu).
func (c *Cache) flushEntry(ctx context.Context, ent *entry, live bool) bool {
	data, err := ent.ledger.Encode()
	if err != nil {
		c.logger.Warn("failed to encode ledger for flush", "user_id", ent.userID, "error", err)
		return false
	}

	maxAttempts := 1 + c.flushRetries
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		_, err := c.vault.StoreLedger(ctx, ent.userID, data)
		if err == nil {
			c.mu.Lock()
			if live {
				ent.dirty = false
			}
			c.totalFlushes++
			c.lastFlushAt = time.Now().UTC().Format(time.RFC3339)
			c.mu.Unlock()
			return true
		}
		if attempt < maxAttempts {
			c.logger.Warn("flush attempt failed, retrying",
				"user_id", ent.userID,
				"attempt", attempt,
				"max_attempts", maxAttempts,
				"retry_delay", c.flushRetryDelay,
				"error", err,
			)
			select {
			case <-ctx.Done():
				return false
			case <-time.After(c.flushRetryDelay):
			}
		} else {
			c.logger.Warn("failed to flush ledger to vault",
				"user_id", ent.userID,
				"attempts", maxAttempts,
				"error", err,
			)
		}
	}
	return false
}

// flushRetired flushes evicted dirty entries under their retired per-user
// mutexes.
func (c *Cache) flushRetired(ctx context.Context, victims []retired) {
	for _, v := range victims {
		if v.lock != nil {
			v.lock.Lock()
		}
		c.flushEntry(ctx, v.ent, false)
		if v.lock != nil {
			v.lock.Unlock()
		}
	}
}

// FlushDirty flushes all dirty entries. Returns the number flushed.
func (c *Cache) FlushDirty(ctx context.Context) int {
	c.mu.Lock()
	dirtyUsers := make([]string, 0, len(c.entries))
	for userID, el := range c.entries {
		if el.Value.(*entry).dirty {
			dirtyUsers = append(dirtyUsers, userID)
		}
	}
	c.mu.Unlock()

	flushed := 0
	for _, userID := range dirtyUsers {
		if c.FlushUser(ctx, userID) {
			// FlushUser reports true for entries that were evicted or
			// cleaned meanwhile; only count entries that are now clean.
			flushed++
		}
	}
	return flushed
}

// maybeFlush flushes dirty entries if the flush interval has elapsed
// since the last check. Piggybacks on request-driven activity so
// deployments that never start the background task still persist.
func (c *Cache) maybeFlush(ctx context.Context) {
	c.mu.Lock()
	if time.Since(c.lastFlushCheck) < c.flushInterval {
		c.mu.Unlock()
		return
	}
	c.lastFlushCheck = time.Now()
	dirty := c.dirtyCountLocked()
	c.mu.Unlock()

	if dirty > 0 {
		if count := c.FlushDirty(ctx); count > 0 {
			c.logger.Info("opportunistic flush", "flushed", count)
		}
	}
}

// SnapshotAll appends a timestamped snapshot of every cached ledger to
// the vault. Returns how many snapshots were created; individual
// failures are logged, not fatal.
func (c *Cache) SnapshotAll(ctx context.Context, timestamp string) int {
	c.mu.Lock()
	userIDs := make([]string, 0, len(c.entries))
	for userID := range c.entries {
		userIDs = append(userIDs, userID)
	}
	c.mu.Unlock()

	snapped := 0
	for _, userID := range userIDs {
		lock := c.userLock(userID)
		lock.Lock()
		c.mu.Lock()
		el, ok := c.entries[userID]
		if !ok {
			c.mu.Unlock()
			lock.Unlock()
			continue // evicted since the scan
		}
		led := el.Value.(*entry).ledger
		c.mu.Unlock()

		data, err := led.Encode()
		if err == nil {
			var id string
			id, err = c.vault.SnapshotLedger(ctx, userID, data, timestamp)
			if err == nil && id != "" {
				snapped++
			}
		}
		lock.Unlock()

		if err != nil {
			c.logger.Warn("failed to snapshot ledger", "user_id", userID, "error", err)
		}
	}
	return snapped
}

// Start launches the periodic background flush task. No-op if already
// running.
func (c *Cache) Start(ctx context.Context) {
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	if c.bgCancel != nil {
		return
	}
	bgCtx, cancel := context.WithCancel(ctx)
	c.bgCancel = cancel
	c.bgDone = make(chan struct{})
	go c.backgroundFlushLoop(bgCtx, c.bgDone)
}

func (c *Cache) backgroundFlushLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	c.logger.Info("background flush loop started", "interval", c.flushInterval)

	cycles := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.flushInterval):
		}
		count := c.FlushDirty(ctx)
		cycles++
		if count > 0 {
			c.logger.Info("background flush",
				"flushed", count,
				"cycle", cycles,
				"total_flushes", c.TotalFlushes(),
			)
		} else if cycles%10 == 0 {
			// Heartbeat so an idle loop is visibly alive
			c.logger.Info("background flush heartbeat",
				"cycle", cycles,
				"cache_size", c.Size(),
				"dirty", c.DirtyCount(),
				"total_flushes", c.TotalFlushes(),
			)
		}
	}
}

// Stop cancels the background flush task, waits for it to exit, and
// flushes all remaining dirty entries. Returns the final flush count.
func (c *Cache) Stop(ctx context.Context) int {
	c.bgMu.Lock()
	if c.bgCancel != nil {
		c.bgCancel()
		<-c.bgDone
		c.bgCancel = nil
		c.bgDone = nil
	}
	c.bgMu.Unlock()

	return c.FlushDirty(ctx)
}

// Size returns the number of cached entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// DirtyCount returns the number of dirty (unflushed) entries.
func (c *Cache) DirtyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirtyCountLocked()
}

func (c *Cache) dirtyCountLocked() int {
	n := 0
	for _, el := range c.entries {
		if el.Value.(*entry).dirty {
			n++
		}
	}
	return n
}

// TotalFlushes returns the number of successful flushes so far.
func (c *Cache) TotalFlushes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalFlushes
}

// Health returns cache metrics for monitoring.
func (c *Cache) Health() Health {
	c.bgMu.Lock()
	running := c.bgCancel != nil
	c.bgMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	return Health{
		CacheSize:              c.lru.Len(),
		DirtyEntries:           c.dirtyCountLocked(),
		LastFlushAt:            c.lastFlushAt,
		TotalFlushes:           c.totalFlushes,
		FlushRetries:           c.flushRetries,
		FlushRetryDelaySecs:    c.flushRetryDelay.Seconds(),
		BackgroundFlushRunning: running,
		LastFlushCheckAgeSecs:  time.Since(c.lastFlushCheck).Seconds(),
	}
}
