package engine

import (
	"context"
	"fmt"
	"sync"

	"coverframe/internal/frame"
)

// Source is the Frame Source contract from spec.md §3: an external
// producer of decoded frames, out of this module's scope to implement
// for real (no WebRTC/RTP ingestion per spec.md's Non-goals) but needed
// here as an interface the Stream Engine drives.
type Source interface {
	// Next blocks until a frame is available, ctx is canceled, or the
	// source is exhausted (io.EOF-style: ok=false, err=nil).
	Next(ctx context.Context) (f frame.Frame, ok bool, err error)
	Close() error
}

// Sink is re-exported for engine callers; see publish.Sink for the
// interface the Live Publisher actually depends on. Kept distinct here
// so cmd/coverframe can wire one concrete sink to both without the
// engine package importing publish's naming implicitly.
type Sink interface {
	Emit(f frame.Frame) error
}

// SyntheticSource generates a fixed number of synthetic frames with the
// boxes its boxesFn returns painted in, standing in for a real Frame
// Source for the demo binary and for tests. It emits frames as fast as
// Next is called; it does no pacing of its own.
type SyntheticSource struct {
	mu        sync.Mutex
	width     int
	height    int
	total     uint64
	emitted   uint64
	nextFrame uint64
	boxes     func(frameID uint64) []frame.BBox
}

// NewSyntheticSource creates a source that will emit `total` frames of
// width x height, with boxesFn computing the ground-truth unsafe region
// positions for a given frame_id (the demo binary uses it to have
// something moving to blur; the tests pass a function that returns no
// boxes and script detections on the mock detector instead).
func NewSyntheticSource(width, height int, total uint64, boxesFn func(frameID uint64) []frame.BBox) *SyntheticSource {
	return &SyntheticSource{width: width, height: height, total: total, boxes: boxesFn}
}

// Next synthesizes the next frame: a gray background with black boxes
// painted at the ground-truth positions, so a real detector (or a
// scripted mock) has something deterministic to find.
func (s *SyntheticSource) Next(ctx context.Context) (frame.Frame, bool, error) {
	select {
	case <-ctx.Done():
		return frame.Frame{}, false, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.emitted >= s.total {
		return frame.Frame{}, false, nil
	}

	fid := s.nextFrame
	s.nextFrame++
	s.emitted++

	pixels := make([]byte, s.width*s.height*4)
	for i := 0; i < len(pixels); i += 4 {
		pixels[i], pixels[i+1], pixels[i+2], pixels[i+3] = 96, 96, 96, 255
	}
	if s.boxes != nil {
		for _, b := range s.boxes(fid) {
			paintBox(pixels, s.width, s.height, b)
		}
	}

	return frame.Frame{
		FrameID:     fid,
		TimestampNs: int64(fid) * int64(33_333_333), // ~30fps spacing
		Width:       s.width,
		Height:      s.height,
		Pixels:      pixels,
	}, true, nil
}

func paintBox(pixels []byte, width, height int, b frame.BBox) {
	clamped, ok := b.Clamp(width, height)
	if !ok {
		return
	}
	for y := clamped.Y; y < clamped.Y+clamped.H; y++ {
		for x := clamped.X; x < clamped.X+clamped.W; x++ {
			o := (y*width + x) * 4
			pixels[o], pixels[o+1], pixels[o+2], pixels[o+3] = 10, 10, 10, 255
		}
	}
}

func (s *SyntheticSource) Close() error { return nil }

// MemorySink records every emitted frame's id and the regions blurred
// into it would have to be inferred by the caller from pixel contents;
// for tests and the demo's introspection output it's enough to record
// that a frame of a given size arrived and count them.
type MemorySink struct {
	mu     sync.Mutex
	frames []frame.Frame
	keep   bool
}

// NewMemorySink creates a sink. If keepPixels is false, frames are
// recorded without their pixel buffers (cheaper for long demo runs);
// tests that need to inspect blurred output should pass true.
func NewMemorySink(keepPixels bool) *MemorySink {
	return &MemorySink{keep: keepPixels}
}

func (s *MemorySink) Emit(f frame.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.keep {
		f.Pixels = nil
	}
	s.frames = append(s.frames, f)
	return nil
}

// Frames returns every frame recorded so far, in emission order.
func (s *MemorySink) Frames() []frame.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]frame.Frame, len(s.frames))
	copy(out, s.frames)
	return out
}

// Count returns the number of frames emitted.
func (s *MemorySink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// FailingSink always fails, for exercising spec.md §7's SINK_ERROR
// handling in tests: every Emit is logged and counted but the stream
// keeps running, since SINK_ERROR is never fatal.
type FailingSink struct{}

func (FailingSink) Emit(f frame.Frame) error {
	return fmt.Errorf("engine: synthetic sink failure on frame %d", f.FrameID)
}
