// Package publish implements the Live Publisher from spec.md §4.6: for
// every incoming frame it predicts tracker motion, decays region
// confidence, blurs the current blur set, emits the frame, and forwards
// the same (already blurred) pixel buffer at source resolution to the
// verification lane's Batch Collector — all within the <30ms publish-latency budget spec.md §1
// names.
package publish

import (
	"fmt"
	"log"
	"time"

	"coverframe/internal/batch"
	"coverframe/internal/blur"
	"coverframe/internal/decay"
	"coverframe/internal/detector"
	"coverframe/internal/frame"
	"coverframe/internal/kalman"
)

// latencyWindow is the EWMA smoothing window spec.md §7 names for
// publish-latency degradation decisions.
const latencyWindow = 30

// degradeThresholdMs is the EWMA publish latency above which the
// publisher enters degraded mode.
const degradeThresholdMs = 25.0

// recoverThresholdMs is the EWMA publish latency below which, sustained
// for recoverHold, the publisher exits degraded mode.
const recoverThresholdMs = 18.0

const recoverHold = 5 * time.Second

// Sink is the (external, per spec.md's Non-goals) destination for
// published frames — the blurred stream leaving the pipeline.
type Sink interface {
	Emit(f frame.Frame) error
}

// SinkError wraps a Sink.Emit failure. Per spec.md §7, SINK_ERROR is
// logged, the frame is dropped, and a counter is incremented — it is
// never fatal for the stream. Distinguishing this type from a raw
// kalman.ErrInvariantViolation is what lets the Stream Engine's run
// loop tell the two apart and keep running after a sink hiccup.
type SinkError struct {
	FrameID uint64
	Err     error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("publish: sink emit failed for frame %d: %v", e.FrameID, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// Stats are the publisher's observable properties for introspection.
type Stats struct {
	FramesEmitted  uint64
	SinkErrors     uint64
	AvgPublishMs   float64
	ActiveTrackers int
	ActiveRegions  int
	Degraded       bool
}

// Publisher is the per-stream Live Publisher. It owns no synchronization
// of its own — the Stream Engine calls PublishFrame (which runs
// Predict/Tick itself) under the stream's single mutex, per spec.md §5.
type Publisher struct {
	bank      *kalman.Bank
	store     *decay.Store
	collector *batch.Collector
	sink      Sink

	blurOpt  blur.Options
	baseOpt  blur.Options

	frameCounter uint64

	ewmaMs       float64
	haveEwma     bool
	degraded     bool
	belowSince   time.Time

	framesEmitted uint64
	sinkErrors    uint64
}

// New creates a Publisher wired to the given tracker bank, decay store,
// verification-lane batch collector, and frame sink.
func New(bank *kalman.Bank, store *decay.Store, collector *batch.Collector, sink Sink, opt blur.Options) *Publisher {
	return &Publisher{
		bank:      bank,
		store:     store,
		collector: collector,
		sink:      sink,
		blurOpt:   opt,
		baseOpt:   opt,
	}
}

// PublishFrame runs one frame through the publish lane: predict, tick,
// blur, emit, submit-to-verification, in that order per spec.md §4.6.
// It returns only an error; after a successful emit it measures the
// predict-through-emit time itself and feeds it into the EWMA and
// degradation state.
func (p *Publisher) PublishFrame(f frame.Frame) error {
	start := time.Now()

	if _, err := p.bank.Predict(f.FrameID); err != nil {
		// INVARIANT_VIOLATION: caller is calling PublishFrame out of
		// frame_id order. Fatal for the stream per spec.md §4.7, but
		// the publisher itself just surfaces the error — it is the
		// Stream Engine's job to transition to Stopped.
		return err
	}
	p.store.Tick()

	boxes := p.store.GetBlurSet(f.Width, f.Height)
	blur.Apply(f.Width, f.Height, f.Pixels, boxes, p.blurOpt)

	if err := p.sink.Emit(f); err != nil {
		// SINK_ERROR per spec.md §7: logged, frame dropped, counter
		// incremented, never fatal. Wrapped so the Stream Engine can
		// tell this apart from a fatal INVARIANT_VIOLATION.
		p.sinkErrors++
		log.Printf("[publish.Publisher] sink emit failed for frame %d: %v", f.FrameID, err)
		return &SinkError{FrameID: f.FrameID, Err: err}
	}
	p.framesEmitted++

	elapsed := time.Since(start)
	p.observeLatency(elapsed)

	p.submitForVerification(f)
	return nil
}

// submitForVerification forwards the frame to the Batch Collector,
// skipping every other frame while degraded per spec.md §7's
// degradation ladder. Backpressure/submit errors are non-fatal: a
// dropped verification frame just means that frame's regions go
// unrefreshed for one extra cycle, which the decay store already
// tolerates.
func (p *Publisher) submitForVerification(f frame.Frame) {
	p.frameCounter++
	if p.degraded && p.frameCounter%2 == 0 {
		return
	}

	in := detector.FrameInput{FrameID: f.FrameID, Width: f.Width, Height: f.Height, Pixels: f.Pixels}
	if err := p.collector.Submit(in); err != nil {
		log.Printf("[publish.Publisher] frame %d dropped from verification lane: %v", f.FrameID, err)
	}
}

// observeLatency updates the EWMA and applies spec.md §7's degradation
// ladder: enter degraded mode as soon as the EWMA crosses
// degradeThresholdMs, and only leave it once the EWMA has stayed below
// recoverThresholdMs for recoverHold continuously.
func (p *Publisher) observeLatency(elapsed time.Duration) {
	ms := float64(elapsed.Microseconds()) / 1000.0
	if !p.haveEwma {
		p.ewmaMs = ms
		p.haveEwma = true
	} else {
		alpha := 2.0 / float64(latencyWindow+1)
		p.ewmaMs = alpha*ms + (1-alpha)*p.ewmaMs
	}

	now := time.Now()
	if p.ewmaMs > degradeThresholdMs {
		if !p.degraded {
			log.Printf("[publish.Publisher] entering degraded mode, ewma=%.2fms", p.ewmaMs)
		}
		p.degraded = true
		p.belowSince = time.Time{}
		p.applyDegradation()
		return
	}

	if !p.degraded {
		return
	}

	if p.ewmaMs >= recoverThresholdMs {
		p.belowSince = time.Time{}
		return
	}
	if p.belowSince.IsZero() {
		p.belowSince = now
		return
	}
	if now.Sub(p.belowSince) >= recoverHold {
		log.Printf("[publish.Publisher] leaving degraded mode, ewma=%.2fms", p.ewmaMs)
		p.degraded = false
		p.blurOpt = p.baseOpt
	}
}

// applyDegradation widens the pixelation block by 25% and drops one
// Gaussian pass. Verification-frame skipping in submitForVerification
// is not a later rung: it applies alongside these for as long as the
// publisher stays degraded.
func (p *Publisher) applyDegradation() {
	p.blurOpt = p.baseOpt
	p.blurOpt.PixelSize = int(float64(p.baseOpt.PixelSize) * 1.25)
	if p.blurOpt.BoxPasses > 1 {
		p.blurOpt.BoxPasses--
	}
}

// Stats snapshots the publisher's observable state.
func (p *Publisher) Stats() Stats {
	return Stats{
		FramesEmitted:  p.framesEmitted,
		SinkErrors:     p.sinkErrors,
		AvgPublishMs:   p.ewmaMs,
		ActiveTrackers: p.bank.Len(),
		ActiveRegions:  p.store.Len(),
		Degraded:       p.degraded,
	}
}
