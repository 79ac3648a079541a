// Command coverframe runs a small demo instance of the censorship
// pipeline: a handful of synthetic streams, each with its own Stream
// Engine, sharing one process-wide detector worker pool and exposing
// introspection stats over HTTP.
package main

import (
	"flag"
	"fmt"
	"log"
	"sync"

	"coverframe/internal/config"
	"coverframe/internal/detector"
	"coverframe/internal/engine"
	"coverframe/internal/frame"
	"coverframe/internal/introspect"
	"coverframe/internal/workerpool"
)

func main() {
	streamCount := flag.Int("streams", 2, "number of synthetic streams to run")
	frameTotal := flag.Uint64("frames", 900, "frames per stream (900 ~= 30s at 30fps)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[coverframe] config: %v", err)
	}

	var client detector.Client
	if cfg.DetectorBaseURL != "" {
		log.Printf("[coverframe] using HTTP detector client at %s", cfg.DetectorBaseURL)
		client = detector.NewHTTPDetectorClient(cfg.DetectorBaseURL, cfg.DetectorModel, cfg.DetectorAPIKey, cfg.DetectorTimeout)
	} else {
		log.Printf("[coverframe] no COVERFRAME_DETECTOR_BASE_URL set, using mock detector with a moving scripted box")
		client = newDemoMockClient()
	}

	pool := workerpool.New(client, cfg.BatchMaxInFlight)
	defer pool.Close()

	reg := newRegistry()

	var wg sync.WaitGroup
	for i := 0; i < *streamCount; i++ {
		id := fmt.Sprintf("demo-%d", i)
		source := engine.NewSyntheticSource(640, 360, *frameTotal, movingBox)
		sink := engine.NewMemorySink(false)

		e := engine.New(id, cfg, source, sink, pool.Jobs())
		reg.add(id, e)

		if err := e.Start(); err != nil {
			log.Fatalf("[coverframe] start stream %s: %v", id, err)
		}

		wg.Add(1)
		go func(e *engine.Engine) {
			defer wg.Done()
			e.Wait()
		}(e)
	}

	server := introspect.StartServer(cfg.ListenAddr, reg)
	defer server.Close()

	wg.Wait()
	log.Printf("[coverframe] all streams finished")
}

// movingBox is the ground-truth position of a single synthetic unsafe
// region, sweeping left to right at constant velocity so the demo
// exercises the Kalman tracker's constant-velocity model end to end.
func movingBox(frameID uint64) []frame.BBox {
	x := int(frameID) % 560
	return []frame.BBox{{X: x, Y: 140, W: 80, H: 80}}
}

// newDemoMockClient scripts the mock detector to find movingBox's
// ground-truth position at every frame, so the demo run produces a
// non-empty blur set without a real remote detector configured.
func newDemoMockClient() *detector.MockDetectorClient {
	m := detector.NewMockDetectorClient()
	for fid := uint64(0); fid < 2000; fid++ {
		boxes := movingBox(fid)
		dets := make([]detector.Detection, len(boxes))
		for i, b := range boxes {
			dets[i] = detector.Detection{FrameID: fid, BBox: b, Class: 1, Score: 0.95}
		}
		m.Script(fid, dets)
	}
	return m
}

// registry implements introspect.Registry over a fixed set of streams
// started at process startup.
type registry struct {
	mu      sync.Mutex
	streams map[string]*engine.Engine
	order   []string
}

func newRegistry() *registry {
	return &registry{streams: make(map[string]*engine.Engine)}
}

func (r *registry) add(id string, e *engine.Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[id] = e
	r.order = append(r.order, id)
}

func (r *registry) Streams() []*engine.Engine {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*engine.Engine, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.streams[id])
	}
	return out
}

func (r *registry) Stream(id string) (*engine.Engine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.streams[id]
	return e, ok
}
