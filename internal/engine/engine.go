package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"coverframe/internal/batch"
	"coverframe/internal/blur"
	"coverframe/internal/config"
	"coverframe/internal/decay"
	"coverframe/internal/detector"
	"coverframe/internal/events"
	"coverframe/internal/kalman"
	"coverframe/internal/publish"
	"coverframe/internal/reconcile"
)

// State is the Stream Engine's lifecycle state, per spec.md §4.7.
type State int

const (
	Idle State = iota
	Starting
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// drainDeadline is the maximum time the Draining state waits for
// in-flight verification batches before forcing Stopped, per spec.md
// §5.
const drainDeadline = 2 * time.Second

// Engine is one stream's full pipeline: the publish lane (predict,
// decay tick, blur, emit), the verification lane (batch submission and,
// on result, reconciliation), sharing a single Kalman Tracker Bank and
// Confidence Decay Store under one mutex, per spec.md §5's "single
// writer, two lanes" concurrency model.
type Engine struct {
	id  string
	cfg *config.Config

	mu    sync.Mutex
	bank  *kalman.Bank
	store *decay.Store

	collector *batch.Collector
	publisher *publish.Publisher
	source    Source

	stateMu sync.Mutex
	state   State
	cancel  context.CancelFunc
	runDone chan struct{}

	fatalErr error
}

// New wires up one stream's Engine. dispatch is the shared process-wide
// worker pool's job channel (workerpool.Pool.Jobs()); sink is where
// published frames go.
func New(id string, cfg *config.Config, source Source, sink Sink, dispatch chan<- batch.Job) *Engine {
	bank := kalman.NewBank(cfg.KalmanProcessNoise, cfg.KalmanMeasurementNoise, cfg.KalmanEnabled)
	store := decay.New(cfg.DecayRate, cfg.DecayMinConfidence, cfg.DecayDilationPx)

	e := &Engine{
		id:    id,
		cfg:   cfg,
		bank:  bank,
		store: store,
		state: Idle,
	}

	e.collector = batch.New(cfg.BatchMaxSize, cfg.BatchMaxWait, cfg.BatchMaxInFlight, dispatch, e.onBatchResult)

	blurOpt := blur.Options{
		Method:         blur.Method(cfg.BlurMethod),
		PixelSize:      cfg.BlurPixelSize,
		BoxPasses:      cfg.BlurGaussianPasses,
		GaussianRadius: cfg.BlurGaussianRadius,
	}
	e.publisher = publish.New(bank, store, e.collector, publisherSinkAdapter{sink}, blurOpt)
	e.source = source
	return e
}

// publisherSinkAdapter lets publish.Publisher (which depends on its own
// Sink type to avoid importing engine) accept an engine.Sink.
type publisherSinkAdapter struct{ Sink }

// onBatchResult is the Batch Collector's callback, invoked by the
// shared worker pool from an arbitrary goroutine once a batch's
// inference completes. It acquires the stream's mutex before touching
// the Tracker Bank or Decay Store, since those are shared with the
// publish lane's per-frame Predict/Tick (spec.md §5).
func (e *Engine) onBatchResult(job batch.Job, dets []detector.Detection, err error) {
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	if evt, evtErr := events.NewBatchCompleted(e.id, job.BatchID, len(job.FrameIDs), len(dets), errMsg); evtErr == nil {
		log.Printf("[engine.Engine %s] batch %s completed: %d frames, %d detections, err=%q",
			evt.StreamID, evt.BatchID, evt.FrameCount, evt.Detections, evt.Err)
	}

	if err != nil {
		// DETECTOR_TIMEOUT / DETECTOR_TRANSPORT: non-fatal, per spec.md
		// §7 — the batch simply contributes no detections this round.
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	reconcile.Reconcile(e.bank, e.store, dets, reconcile.Config{
		ScoreThreshold: e.cfg.DetectorScoreThreshold,
		MissBudget:     e.cfg.KalmanMissBudget,
		MaxAge:         e.cfg.KalmanMaxAge,
	})
}

// Start transitions Idle -> Starting and launches the publish-lane run
// loop in a goroutine, which moves the stream to Running. It returns
// right after launching the loop; use Wait to block until the stream
// stops.
func (e *Engine) Start() error {
	e.stateMu.Lock()
	if e.state != Idle {
		e.stateMu.Unlock()
		return ErrAlreadyRunning
	}
	e.state = Starting
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.runDone = make(chan struct{})
	e.stateMu.Unlock()

	go e.run(ctx)
	return nil
}

// run is the publish lane's main loop: pull a frame, run it through the
// publisher under the stream mutex, repeat until the source ends, is
// canceled, or the publisher reports an invariant violation. Sink
// errors are counted and skipped, never ending the loop.
func (e *Engine) run(ctx context.Context) {
	defer close(e.runDone)

	e.setState(Running)
	log.Printf("[engine.Engine %s] running", e.id)

	for {
		select {
		case <-ctx.Done():
			e.drain(ErrSourceClosed)
			return
		default:
		}

		f, ok, err := e.source.Next(ctx)
		if err != nil || !ok {
			e.drain(ErrSourceClosed)
			return
		}

		e.mu.Lock()
		pubErr := e.publisher.PublishFrame(f)
		e.mu.Unlock()

		if pubErr != nil {
			var sinkErr *publish.SinkError
			if errors.As(pubErr, &sinkErr) {
				// SINK_ERROR per spec.md §7: logged, frame dropped,
				// counter incremented (already done in the publisher),
				// never fatal. Keep publishing.
				continue
			}

			// Anything else is an INVARIANT_VIOLATION
			// (kalman.ErrInvariantViolation, out-of-order frame_id — a
			// caller bug), fatal for the stream per spec.md §4.7.
			e.fatalErr = fmt.Errorf("%w: %v", ErrInvariantViolation, pubErr)
			e.drain(e.fatalErr)
			return
		}
	}
}

// drain moves Running -> Draining -> Stopped, giving in-flight
// verification batches up to drainDeadline to complete before forcing
// a stop, per spec.md §5's "Draining" state.
func (e *Engine) drain(cause error) {
	e.setState(Draining)
	log.Printf("[engine.Engine %s] draining: %v", e.id, cause)

	done := make(chan struct{})
	abort := make(chan struct{})
	go func() {
		defer close(done)
		e.collector.Close()
		for e.collector.Stats().InFlight > 0 {
			select {
			case <-abort:
				return
			case <-time.After(5 * time.Millisecond):
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(drainDeadline):
		close(abort)
		log.Printf("[engine.Engine %s] %v", e.id, ErrDrainTimeout)
	}

	e.setState(Stopped)
	log.Printf("[engine.Engine %s] stopped", e.id)
}

// Stop requests the stream end: cancels the run loop's context, which
// triggers the normal drain path on its next loop iteration or blocking
// source call.
func (e *Engine) Stop() error {
	e.stateMu.Lock()
	if e.state != Running {
		e.stateMu.Unlock()
		return ErrNotRunning
	}
	cancel := e.cancel
	e.stateMu.Unlock()

	cancel()
	return nil
}

// Wait blocks until the stream reaches Stopped.
func (e *Engine) Wait() {
	<-e.runDone
}

func (e *Engine) setState(s State) {
	e.stateMu.Lock()
	e.state = s
	e.stateMu.Unlock()
}

// State returns the stream's current lifecycle state.
func (e *Engine) State() State {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.state
}

// Stats snapshots every observable property spec.md §8 and the
// introspection endpoint need. The Publisher/Bank/Store numbers are
// taken together under the stream mutex; the Collector's atomic
// counters are read separately, after the mutex is released.
type Stats struct {
	ID            string
	State         string
	Publisher     publish.Stats
	Batch         batch.Stats
}

func (e *Engine) Stats() Stats {
	e.mu.Lock()
	pubStats := e.publisher.Stats()
	e.mu.Unlock()

	return Stats{
		ID:        e.id,
		State:     e.State().String(),
		Publisher: pubStats,
		Batch:     e.collector.Stats(),
	}
}
