package chunkmanager

import (
	"container/heap"
	"context"
	"sort"
	"sync"

	"github.com/coocood/freecache"
	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"github.com/janelia-flyem/sliceview/chunk"
	"github.com/janelia-flyem/sliceview/sv"
)

const (
	DefaultDownloadConcurrency = 8
	DefaultCacheMB             = 256
	DefaultMaxRecent           = 2048
)

// Config holds the [chunkmanager] settings.
type Config struct {
	DownloadConcurrency int     `toml:"download_concurrency"`
	DownloadsPerSecond  float64 `toml:"downloads_per_second"` // 0 means unlimited
	CacheMB             int     `toml:"cache_mb"`
	MaxRecent           int     `toml:"max_recent"`
}

func (c Config) withDefaults() Config {
	if c.DownloadConcurrency <= 0 {
		c.DownloadConcurrency = DefaultDownloadConcurrency
	}
	if c.CacheMB <= 0 {
		c.CacheMB = DefaultCacheMB
	}
	if c.MaxRecent <= 0 {
		c.MaxRecent = DefaultMaxRecent
	}
	return c
}

// State is the download state of a chunk known to the manager.
type State int

const (
	Idle State = iota
	Queued
	Downloading
	Resident
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Queued:
		return "queued"
	case Downloading:
		return "downloading"
	case Resident:
		return "resident"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

type entry struct {
	chunk      *chunk.Chunk
	tier       Tier
	priority   float64
	generation uint64
	state      State
	index      int // position in the queue or -1
	recentSeq  uint64
	cancel     context.CancelFunc
}

type requestQueue []*entry

func (q requestQueue) Len() int { return len(q) }
func (q requestQueue) Less(i, j int) bool {
	return less(q[i].tier, q[i].priority, q[j].tier, q[j].priority)
}
func (q requestQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *requestQueue) Push(x interface{}) {
	e := x.(*entry)
	e.index = len(*q)
	*q = append(*q, e)
}
func (q *requestQueue) Pop() interface{} {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// Manager is the chunk request queue and download scheduler.  All methods are safe for
// concurrent use.
type Manager struct {
	cfg     Config
	cache   *freecache.Cache
	limiter *rate.Limiter
	wake    chan struct{}

	mu         sync.Mutex
	entries    map[string]*entry
	queue      requestQueue
	generation uint64
	recentSeq  uint64
	requests   uint64
	evictions  uint64
}

// New returns a manager.  Downloads do not start until Run is called.
func New(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	cacheBytes := cfg.CacheMB * 1024 * 1024
	m := &Manager{
		cfg:     cfg,
		cache:   freecache.NewCache(cacheBytes),
		wake:    make(chan struct{}, 1),
		entries: make(map[string]*entry),
	}
	if cfg.DownloadsPerSecond > 0 {
		burst := int(cfg.DownloadsPerSecond)
		if burst < 1 {
			burst = 1
		}
		m.limiter = rate.NewLimiter(rate.Limit(cfg.DownloadsPerSecond), burst)
	}
	sv.Infof("Chunk manager: %d download workers, %s payload cache, %d recent chunks retained\n",
		cfg.DownloadConcurrency, humanize.Bytes(uint64(cacheBytes)), cfg.MaxRecent)
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// UpdatePriorities starts a new request generation, calls fn to re-emit every wanted
// chunk via RequestChunk, and then retires every chunk that was not re-requested.
func (m *Manager) UpdatePriorities(fn func()) {
	m.mu.Lock()
	m.generation++
	m.mu.Unlock()

	fn()

	m.mu.Lock()
	var retired int
	for _, e := range m.entries {
		if e.generation == m.generation || e.tier == TierRecent {
			continue
		}
		m.retire(e)
		retired++
	}
	evicted := m.evictRecent()
	queued := len(m.queue)
	gen := m.generation
	m.mu.Unlock()

	queueLength.Set(float64(queued))
	if retired > 0 || evicted > 0 {
		sv.Debugf("Priority update %d: %d chunks queued, %d retired, %d evicted\n", gen, queued, retired, evicted)
	}
	if queued > 0 {
		m.signal()
	}
}

// RequestChunk records that a chunk is wanted with the given tier and priority.  Within one
// generation repeated requests keep the most urgent one.  Safe to call redundantly.
func (m *Manager) RequestChunk(c *chunk.Chunk, tier Tier, priority float64) {
	if tier == TierRecent {
		return
	}
	requestsTotal.WithLabelValues(tier.String()).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	key := c.Key()
	e, found := m.entries[key]
	if !found {
		e = &entry{chunk: c, index: -1, state: Idle}
		m.entries[key] = e
	} else if e.generation == m.generation && e.tier != TierRecent && !less(tier, priority, e.tier, e.priority) {
		return
	}
	e.chunk = c
	e.generation = m.generation
	e.tier = tier
	e.priority = priority
	switch e.state {
	case Idle:
		heap.Push(&m.queue, e)
		e.state = Queued
		m.signal()
	case Queued:
		heap.Fix(&m.queue, e.index)
	}
}

// retire moves an entry to the recent tier.  Must be called with the lock held.
func (m *Manager) retire(e *entry) {
	e.tier = TierRecent
	m.recentSeq++
	e.recentSeq = m.recentSeq
	switch e.state {
	case Queued:
		heap.Remove(&m.queue, e.index)
		e.state = Idle
	case Downloading:
		if e.cancel != nil {
			e.cancel()
		}
	}
}

// evictRecent drops the oldest recent entries beyond the configured maximum.  Must be called
// with the lock held.
func (m *Manager) evictRecent() int {
	var recent []*entry
	for _, e := range m.entries {
		if e.tier == TierRecent {
			recent = append(recent, e)
		}
	}
	excess := len(recent) - m.cfg.MaxRecent
	if excess <= 0 {
		return 0
	}
	sort.Slice(recent, func(i, j int) bool { return recent[i].recentSeq < recent[j].recentSeq })
	for _, e := range recent[:excess] {
		key := e.chunk.Key()
		delete(m.entries, key)
		m.cache.Del([]byte(key))
		e.chunk.Source().RemoveChunk(e.chunk)
	}
	m.evictions += uint64(excess)
	evictionsTotal.Add(float64(excess))
	return excess
}

// ChunkState returns the state, tier and priority of a chunk known to the manager.
func (m *Manager) ChunkState(c *chunk.Chunk) (state State, tier Tier, priority float64, found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, found := m.entries[c.Key()]
	if !found {
		return
	}
	return e.state, e.tier, e.priority, true
}

// Payload returns the cached payload of a downloaded chunk.
func (m *Manager) Payload(c *chunk.Chunk) ([]byte, error) {
	return m.cache.Get([]byte(c.Key()))
}

// Request is a snapshot of one queued request.
type Request struct {
	Chunk    *chunk.Chunk
	Tier     Tier
	Priority float64
}

// Queue returns the queued requests in service order.
func (m *Manager) Queue() []Request {
	m.mu.Lock()
	reqs := make([]Request, len(m.queue))
	for i, e := range m.queue {
		reqs[i] = Request{Chunk: e.chunk, Tier: e.tier, Priority: e.priority}
	}
	m.mu.Unlock()
	sort.SliceStable(reqs, func(i, j int) bool {
		return less(reqs[i].Tier, reqs[i].Priority, reqs[j].Tier, reqs[j].Priority)
	})
	return reqs
}

// Stats summarizes the manager state.
type Stats struct {
	Generation  uint64         `json:"generation"`
	Chunks      int            `json:"chunks"`
	Requests    uint64         `json:"requests"`
	Evictions   uint64         `json:"evictions"`
	States      map[string]int `json:"states"`
	Tiers       map[string]int `json:"tiers"`
	CacheItems  int64          `json:"cache_items"`
	CacheHitPct float64        `json:"cache_hit_pct"`
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	st := Stats{
		Generation: m.generation,
		Chunks:     len(m.entries),
		Requests:   m.requests,
		Evictions:  m.evictions,
		States:     make(map[string]int),
		Tiers:      make(map[string]int),
	}
	for _, e := range m.entries {
		st.States[e.state.String()]++
		st.Tiers[e.tier.String()]++
	}
	m.mu.Unlock()
	st.CacheItems = m.cache.EntryCount()
	st.CacheHitPct = 100 * m.cache.HitRate()
	return st
}
