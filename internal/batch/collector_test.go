package batch_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"coverframe/internal/batch"
	"coverframe/internal/detector"
)

func TestSubmitDispatchesOnMaxSize(t *testing.T) {
	dispatch := make(chan batch.Job, 4)
	c := batch.New(3, time.Hour, 10, dispatch, nil)

	for i := 0; i < 3; i++ {
		if err := c.Submit(detector.FrameInput{FrameID: uint64(i)}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	select {
	case job := <-dispatch:
		if len(job.FrameIDs) != 3 {
			t.Errorf("batch size = %d, want 3", len(job.FrameIDs))
		}
	case <-time.After(time.Second):
		t.Fatal("expected a dispatched batch once max_size was reached")
	}
}

func TestSubmitDispatchesOnMaxWait(t *testing.T) {
	dispatch := make(chan batch.Job, 4)
	c := batch.New(10, 20*time.Millisecond, 10, dispatch, nil)

	if err := c.Submit(detector.FrameInput{FrameID: 1}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case job := <-dispatch:
		if len(job.FrameIDs) != 1 {
			t.Errorf("batch size = %d, want 1", len(job.FrameIDs))
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected the wait timer to force a dispatch of the partial batch")
	}
}

func TestSubmitBackpressure(t *testing.T) {
	dispatch := make(chan batch.Job, 4)
	c := batch.New(1, time.Hour, 2, dispatch, nil)

	if err := c.Submit(detector.FrameInput{FrameID: 1}); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	// First batch dispatched immediately (max_size=1), in_flight now 1.
	<-dispatch

	if err := c.Submit(detector.FrameInput{FrameID: 2}); err != nil {
		t.Fatalf("second Submit before backpressure: %v", err)
	}
	<-dispatch
	// Two in-flight batches now, at the ceiling of 2 — no slot has been
	// released via Job.Complete, so the next Submit must be rejected.

	if err := c.Submit(detector.FrameInput{FrameID: 3}); !errors.Is(err, batch.ErrBackpressure) {
		t.Errorf("Submit at in_flight ceiling: got %v, want ErrBackpressure", err)
	}

	stats := c.Stats()
	if stats.DroppedFrames != 1 {
		t.Errorf("DroppedFrames = %d, want 1", stats.DroppedFrames)
	}
}

func TestJobCompleteReleasesInFlightAndCallsOnResult(t *testing.T) {
	dispatch := make(chan batch.Job, 4)

	var mu sync.Mutex
	var gotErr error
	var gotDets []detector.Detection
	done := make(chan struct{})

	onResult := func(j batch.Job, dets []detector.Detection, err error) {
		mu.Lock()
		gotDets = dets
		gotErr = err
		mu.Unlock()
		close(done)
	}

	c := batch.New(1, time.Hour, 2, dispatch, onResult)
	if err := c.Submit(detector.FrameInput{FrameID: 1}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	job := <-dispatch

	if c.Stats().InFlight != 1 {
		t.Fatalf("InFlight = %d, want 1", c.Stats().InFlight)
	}

	want := []detector.Detection{{FrameID: 1}}
	job.Complete(want, nil, 12*time.Millisecond)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("onResult was never called")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotErr != nil {
		t.Errorf("gotErr = %v, want nil", gotErr)
	}
	if len(gotDets) != 1 {
		t.Errorf("gotDets = %v, want 1 detection", gotDets)
	}
	if c.Stats().InFlight != 0 {
		t.Errorf("InFlight after Complete = %d, want 0", c.Stats().InFlight)
	}
	if got := c.Stats().AvgInferenceMs; got != 12 {
		t.Errorf("AvgInferenceMs = %v, want 12", got)
	}
}

func TestAvgBatchSize(t *testing.T) {
	s := batch.Stats{DispatchedJobs: 4, DispatchedFrames: 12}
	if got := s.AvgBatchSize(); got != 3 {
		t.Errorf("AvgBatchSize() = %v, want 3", got)
	}
	if got := (batch.Stats{}).AvgBatchSize(); got != 0 {
		t.Errorf("AvgBatchSize() on zero jobs = %v, want 0", got)
	}
}
