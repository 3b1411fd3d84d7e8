package chunkmanager

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coocood/freecache"
	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/janelia-flyem/sliceview/sv"
)

// Run starts the download workers and blocks until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < m.cfg.DownloadConcurrency; i++ {
		g.Go(func() error {
			return m.downloadLoop(ctx)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (m *Manager) downloadLoop(ctx context.Context) error {
	for {
		e, dctx, err := m.next(ctx)
		if err != nil {
			return err
		}
		if m.limiter != nil {
			if err := m.limiter.Wait(dctx); err != nil {
				m.finish(e, nil, err, dctx.Err() != nil, 0)
				continue
			}
		}
		start := time.Now()
		data, err := e.chunk.Source().Fetcher().Download(dctx, e.chunk)
		m.finish(e, data, err, dctx.Err() != nil, time.Since(start))
	}
}

// next blocks until a queued entry is available and marks it as downloading.
func (m *Manager) next(ctx context.Context) (*entry, context.Context, error) {
	for {
		m.mu.Lock()
		for len(m.queue) > 0 {
			e := heap.Pop(&m.queue).(*entry)
			if e.chunk.Source().Fetcher() == nil {
				e.state = Failed
				sv.Errorf("No fetcher for %s, marking failed\n", e.chunk)
				continue
			}
			dctx, cancel := context.WithCancel(ctx)
			e.state = Downloading
			e.cancel = cancel
			more := len(m.queue) > 0
			m.mu.Unlock()
			if more {
				m.signal()
			}
			return e, dctx, nil
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-m.wake:
		}
	}
}

// finish records the outcome of a download.  A download whose context was cancelled is
// never marked failed, whatever error the fetcher wrapped around the cancellation.
func (m *Manager) finish(e *entry, data []byte, err error, canceled bool, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	key := e.chunk.Key()
	if cur, found := m.entries[key]; !found || cur != e {
		downloadsTotal.WithLabelValues("evicted").Inc()
		return
	}
	switch {
	case err == nil:
		e.state = Resident
		downloadsTotal.WithLabelValues("ok").Inc()
		downloadBytes.Add(float64(len(data)))
		downloadSeconds.Observe(elapsed.Seconds())
		if err := m.cache.Set([]byte(key), data, 0); err != nil {
			if errors.Is(err, freecache.ErrLargeEntry) {
				sv.Warningf("Chunk %s payload (%s) too large for cache\n", e.chunk, humanize.Bytes(uint64(len(data))))
			} else {
				sv.Errorf("Unable to cache chunk %s: %v\n", e.chunk, err)
			}
		}
		sv.Debugf("Downloaded %s: %s in %s\n", e.chunk, humanize.Bytes(uint64(len(data))), elapsed)
	case canceled || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		downloadsTotal.WithLabelValues("canceled").Inc()
		e.state = Idle
		if e.tier != TierRecent {
			// Re-requested while the cancellation was in flight.
			heap.Push(&m.queue, e)
			e.state = Queued
			m.signal()
		}
	default:
		downloadsTotal.WithLabelValues("failed").Inc()
		e.state = Failed
		sv.Warningf("Download of %s failed: %v\n", e.chunk, err)
	}
}

// Wait blocks until the chunk reaches a final state (resident or failed) or ctx is done.
// It is intended for tools and tests that need a particular chunk.
func (m *Manager) Wait(ctx context.Context, key string) (State, error) {
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		m.mu.Lock()
		e, found := m.entries[key]
		var state State
		if found {
			state = e.state
		}
		m.mu.Unlock()
		if !found {
			return Idle, fmt.Errorf("chunk %q is not known to the chunk manager", key)
		}
		if state == Resident || state == Failed {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case <-tick.C:
		}
	}
}
