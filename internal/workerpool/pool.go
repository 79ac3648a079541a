// Package workerpool implements the process-wide inference worker pool
// from spec.md §5: a bounded set of goroutines consuming dispatched
// batches from every stream's Batch Collector and invoking a shared
// Detector Client. The pool never touches per-stream state directly
// beyond the batch.Job it was handed — it calls Job.Complete to both
// release the collector's in-flight slot and forward results to the
// stream that submitted the batch.
package workerpool

import (
	"context"
	"log"
	"sync"
	"time"

	"coverframe/internal/batch"
	"coverframe/internal/detector"
)

// Pool fans a single shared job channel out to a fixed number of
// worker goroutines, matching the one-registry-many-connections shape
// of the reference pack's CVWorkerRegistry, but in-process: goroutines
// rather than websocket-attached external workers, since this detector
// is reached over HTTP per batch.
type Pool struct {
	client  detector.Client
	jobs    chan batch.Job
	wg      sync.WaitGroup
	closeCh chan struct{}
}

// New starts a pool of `concurrency` workers reading off a channel
// buffered to four times that many jobs — concurrency should equal the detector's configured
// max in-flight batches (batch.max_in_flight), per spec.md §5.
func New(client detector.Client, concurrency int) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	p := &Pool{
		client:  client,
		jobs:    make(chan batch.Job, concurrency*4),
		closeCh: make(chan struct{}),
	}
	for i := 0; i < concurrency; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Jobs returns the channel collectors should be constructed to dispatch
// into.
func (p *Pool) Jobs() chan<- batch.Job { return p.jobs }

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.closeCh:
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.run(job)
		}
	}
}

// run invokes the detector and always calls job.Complete, even on
// error, so the owning collector's in-flight slot is reliably
// released — this is what makes DETECTOR_TIMEOUT / DETECTOR_TRANSPORT
// non-fatal per spec.md §7.
func (p *Pool) run(job batch.Job) {
	ctx := context.Background()
	start := time.Now()
	dets, err := p.client.Infer(ctx, detector.Request{FrameIDs: job.FrameIDs, Frames: job.Frames})
	latency := time.Since(start)
	if err != nil {
		log.Printf("[workerpool] batch %s failed: %v", job.BatchID, err)
	}
	job.Complete(dets, err, latency)
}

// Close stops accepting new work and waits for in-flight Infer calls to
// return. It does not close the jobs channel (collectors hold the send
// side via Jobs()); callers should stop submitting before calling
// Close.
func (p *Pool) Close() {
	close(p.closeCh)
	p.wg.Wait()
}
