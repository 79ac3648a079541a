// Package batch implements the continuous-batching queue described in
// spec.md §4.1: frames submitted by a stream's verification lane are
// grouped into small batches bounded by size and wait time, with
// backpressure once too many batches are in flight.
package batch

import (
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"coverframe/internal/detector"
)

// ErrBackpressure is returned by Submit when in_flight has reached the
// collector's configured ceiling (spec.md's BACKPRESSURE_DROP).
var ErrBackpressure = errors.New("batch: backpressure, in_flight at capacity")

// Job is a dispatched batch: opaque to the detector beyond its frame
// contents, per spec.md §3's BatchJob entity.
type Job struct {
	BatchID    string
	FrameIDs   []uint64
	Frames     []detector.FrameInput
	EnqueuedAt time.Time

	owner *Collector
}

// Complete is called exactly once by the inference worker pool when a
// batch finishes (success, timeout, or transport error), releasing the
// owning collector's in-flight slot, recording the inference's wall-clock
// latency for avg_inference_ms (spec.md §6's "Persisted state"), and
// forwarding the result to whatever the collector was constructed to
// deliver to (normally a stream's Region Reconciler).
func (j Job) Complete(dets []detector.Detection, err error, latency time.Duration) {
	if j.owner == nil {
		return
	}
	j.owner.Release()
	j.owner.recordInference(latency)
	if j.owner.onResult != nil {
		j.owner.onResult(j, dets, err)
	}
}

// Stats are the observable properties spec.md §4.1 names, backed by
// atomics so the introspection endpoint can read them without taking
// the collector's lock.
type Stats struct {
	DroppedFrames    uint64
	DispatchedJobs   uint64
	DispatchedFrames uint64
	InFlight         int64
	AvgInferenceMs   float64
}

// Collector groups frames into batches obeying a min size (always 1 in
// this implementation — the wait timer is what forces a dispatch of a
// partial batch), a max size B, and a max queue wait W, while limiting
// in-flight batches to P.
//
// One Collector is owned by a single stream (§5: "Batch Collector's
// queue is per-stream"); its counters are atomic so they can be read
// concurrently by the introspection endpoint without synchronizing
// with the submit/dispatch path.
type Collector struct {
	maxSize     int
	maxWait     time.Duration
	maxInFlight int64
	onResult    func(Job, []detector.Detection, error)

	mu      sync.Mutex
	pending []pendingFrame
	timer   *time.Timer

	dispatch chan<- Job

	droppedFrames    atomic.Uint64
	dispatchedJobs   atomic.Uint64
	dispatchedFrames atomic.Uint64
	inFlight         atomic.Int64

	totalInferenceNs atomic.Int64
	inferenceSamples atomic.Uint64

	closeOnce sync.Once
	closed    chan struct{}
}

type pendingFrame struct {
	in         detector.FrameInput
	enqueuedAt time.Time
}

// New creates a Collector bound to a single shared dispatch channel (the
// process-wide inference worker pool's input, per spec.md §5). maxWait
// must be > 0; a zero or negative value would dispatch every frame as
// its own batch-of-one and defeats the point of batching.
func New(maxSize int, maxWait time.Duration, maxInFlight int, dispatch chan<- Job, onResult func(Job, []detector.Detection, error)) *Collector {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Collector{
		maxSize:     maxSize,
		maxWait:     maxWait,
		maxInFlight: int64(maxInFlight),
		dispatch:    dispatch,
		onResult:    onResult,
		closed:      make(chan struct{}),
	}
}

// Submit enqueues a frame for batching. It never blocks the caller: on
// backpressure (in_flight already at the ceiling) it returns
// ErrBackpressure immediately and increments the dropped-frame counter;
// every other path is non-blocking queue manipulation plus, at most,
// firing the dispatch off on a goroutine-free channel send attempt.
func (c *Collector) Submit(in detector.FrameInput) error {
	if c.inFlight.Load() >= c.maxInFlight {
		c.droppedFrames.Add(1)
		return ErrBackpressure
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		c.droppedFrames.Add(1)
		return ErrBackpressure
	default:
	}

	c.pending = append(c.pending, pendingFrame{in: in, enqueuedAt: time.Now()})

	if len(c.pending) == 1 {
		// First frame in a fresh batch: arm the wait timer.
		if c.timer != nil {
			c.timer.Stop()
		}
		c.timer = time.AfterFunc(c.maxWait, c.dispatchLocked)
	}

	if len(c.pending) >= c.maxSize {
		if c.timer != nil {
			c.timer.Stop()
		}
		c.dispatchLockedNoLock()
	}

	return nil
}

// dispatchLocked is the timer callback; it must acquire the lock itself.
func (c *Collector) dispatchLocked() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dispatchLockedNoLock()
}

// dispatchLockedNoLock assumes c.mu is already held. A batch of size 0
// is never dispatched, per spec.md §8's boundary behavior.
func (c *Collector) dispatchLockedNoLock() {
	if len(c.pending) == 0 {
		return
	}
	if c.inFlight.Load() >= c.maxInFlight {
		// Re-check under lock: backpressure may have been hit between
		// Submit's fast-path check and the timer firing. Drop the whole
		// pending set as newest-arriving, per the "drop newest on
		// overflow" policy.
		c.droppedFrames.Add(uint64(len(c.pending)))
		c.pending = nil
		return
	}

	job := Job{
		BatchID:    uuid.New().String(),
		FrameIDs:   make([]uint64, len(c.pending)),
		Frames:     make([]detector.FrameInput, len(c.pending)),
		EnqueuedAt: c.pending[0].enqueuedAt,
		owner:      c,
	}
	for i, p := range c.pending {
		job.FrameIDs[i] = p.in.FrameID
		job.Frames[i] = p.in
	}
	c.pending = nil

	c.inFlight.Add(1)
	c.dispatchedJobs.Add(1)
	c.dispatchedFrames.Add(uint64(len(job.Frames)))

	select {
	case c.dispatch <- job:
	default:
		// Shared pool channel is full: treat as backpressure rather than
		// block the collector (dispatch must be non-blocking w.r.t. the
		// submitter, per spec.md §4.1).
		c.inFlight.Add(-1)
		c.droppedFrames.Add(uint64(len(job.Frames)))
		log.Printf("[batch.Collector] dispatch channel full, dropped batch %s (%d frames)", job.BatchID, len(job.Frames))
	}
}

// Release returns an in-flight slot, called by the worker pool once a
// batch's inference completes (success, timeout, or transport error).
func (c *Collector) Release() {
	c.inFlight.Add(-1)
}

// recordInference accumulates one batch's Infer latency into the running
// total backing Stats.AvgInferenceMs.
func (c *Collector) recordInference(latency time.Duration) {
	c.totalInferenceNs.Add(latency.Nanoseconds())
	c.inferenceSamples.Add(1)
}

// Stats snapshots the collector's counters.
func (c *Collector) Stats() Stats {
	var avgMs float64
	if samples := c.inferenceSamples.Load(); samples > 0 {
		avgMs = float64(c.totalInferenceNs.Load()) / float64(samples) / 1e6
	}
	return Stats{
		DroppedFrames:    c.droppedFrames.Load(),
		DispatchedJobs:   c.dispatchedJobs.Load(),
		DispatchedFrames: c.dispatchedFrames.Load(),
		InFlight:         c.inFlight.Load(),
		AvgInferenceMs:   avgMs,
	}
}

// AvgBatchSize returns DispatchedFrames/DispatchedJobs, or 0 if nothing
// has dispatched yet.
func (s Stats) AvgBatchSize() float64 {
	if s.DispatchedJobs == 0 {
		return 0
	}
	return float64(s.DispatchedFrames) / float64(s.DispatchedJobs)
}

// Close stops accepting new frames and flushes any partial batch that's
// still pending, so a draining stream engine doesn't lose frames that
// arrived just before stop() (spec.md §4.7 Draining state).
func (c *Collector) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		if c.timer != nil {
			c.timer.Stop()
		}
		c.dispatchLockedNoLock()
		c.mu.Unlock()
	})
}
