package cachestore

import (
	"log"
	"sync"
	"time"

	"github.com/trackdeck/trackdeck/internal/clock"
)

// MirrorFlushWorker periodically flushes the store's dirty set to the
// mirror. It triggers a flush when:
//   - DirtyCount() >= threshold, OR
//   - time since last flush >= interval (and dirty count > 0)
//
// On Stop(), a final flush is performed before returning. Flush errors
// are logged and swallowed; the dirty entries are re-merged so they are
// retried on the next cycle.
type MirrorFlushWorker struct {
	store       *Store
	repo        *MirrorRepo
	clk         clock.Clock
	thresholdFn func() int
	intervalFn  func() time.Duration
	checkTick   time.Duration // how often to check conditions

	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewMirrorFlushWorker creates a flush worker that pulls threshold/interval
// from callbacks on each check cycle.
// checkTick controls how often flush conditions are evaluated (e.g. 5s).
func NewMirrorFlushWorker(
	store *Store,
	repo *MirrorRepo,
	clk clock.Clock,
	thresholdFn func() int,
	intervalFn func() time.Duration,
	checkTick time.Duration,
) *MirrorFlushWorker {
	if store == nil || repo == nil {
		panic("cachestore: NewMirrorFlushWorker requires non-nil store and repo")
	}
	if clk == nil {
		panic("cachestore: NewMirrorFlushWorker requires non-nil clock")
	}
	if thresholdFn == nil {
		panic("cachestore: NewMirrorFlushWorker requires non-nil thresholdFn")
	}
	if intervalFn == nil {
		panic("cachestore: NewMirrorFlushWorker requires non-nil intervalFn")
	}
	if checkTick <= 0 {
		panic("cachestore: NewMirrorFlushWorker requires positive checkTick")
	}

	return &MirrorFlushWorker{
		store:       store,
		repo:        repo,
		clk:         clk,
		thresholdFn: thresholdFn,
		intervalFn:  intervalFn,
		checkTick:   checkTick,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the background flush goroutine.
func (w *MirrorFlushWorker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop signals the worker to stop and performs a final flush.
// Blocks until the goroutine exits.
func (w *MirrorFlushWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *MirrorFlushWorker) run() {
	defer w.wg.Done()

	timer := w.clk.NewTimer(w.checkTick)
	defer timer.Stop()

	lastFlush := w.clk.Now()

	for {
		select {
		case <-w.stopCh:
			// Final flush before exit.
			w.doFlush()
			return
		case <-timer.C():
			dirty := w.store.DirtyCount()
			if dirty > 0 {
				threshold := w.thresholdFn()
				interval := w.intervalFn()
				if dirty >= threshold || w.clk.Now().Sub(lastFlush) >= interval {
					w.doFlush()
					lastFlush = w.clk.Now()
				}
			}
			timer.Reset(w.checkTick)
		}
	}
}

func (w *MirrorFlushWorker) doFlush() {
	if err := w.store.FlushDirty(w.repo); err != nil {
		log.Printf("[cachestore] mirror flush error (entries re-merged): %v", err)
	}
}
