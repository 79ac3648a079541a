// Package engine implements the Stream Engine from spec.md §4.7: the
// per-stream orchestrator owning the publish, verification, and
// predict-and-decay lanes, their shared region state, and the lifecycle
// state machine that starts and drains a stream cleanly.
package engine

import "errors"

// Sentinel errors named in spec.md §7. Detector-side failures
// (DETECTOR_TIMEOUT, DETECTOR_TRANSPORT) are deliberately absent here:
// they surface as a plain error from detector.Client.Infer and are
// handled as non-fatal empty-detection batches by the worker pool
// (workerpool.Pool.run always calls Job.Complete), never reaching the
// engine as a stream-ending condition.
var (
	// ErrSourceClosed is returned when the Frame Source ends the stream,
	// either cleanly or on error; the engine treats both the same way,
	// moving to Draining.
	ErrSourceClosed = errors.New("engine: frame source closed")

	// ErrInvariantViolation is the fatal-drain cause wrapped around a
	// publish-lane INVARIANT_VIOLATION (kalman.ErrInvariantViolation, an
	// out-of-order frame_id) — the only PublishFrame error that ends the
	// stream per spec.md §7/§4.7. A Sink.Emit failure is a SINK_ERROR
	// instead (publish.SinkError): logged, frame dropped, counter
	// incremented, never fatal — it does not reach this sentinel.
	ErrInvariantViolation = errors.New("engine: fatal publish lane invariant violation")

	// ErrAlreadyRunning is returned by Start on a stream not in Idle.
	ErrAlreadyRunning = errors.New("engine: stream already started")

	// ErrNotRunning is returned by Stop on a stream not in Running.
	ErrNotRunning = errors.New("engine: stream not running")

	// ErrDrainTimeout is logged (not returned to the caller of Stop,
	// which is asynchronous) when the 2s drain deadline from spec.md §5
	// elapses before in-flight batches finish.
	ErrDrainTimeout = errors.New("engine: drain deadline exceeded")
)
