package detector

import (
	"context"
	"sync"
)

// MockDetectorClient is a deterministic, scriptable Client used by tests
// and the demo binary's default wiring. It replaces the reference
// pack's pattern of mixing a mock and a real client at the same call
// site (spec.md §9) with a real implementation of the shared interface,
// so "pipeline validation against the mock" and "pipeline validation
// against the real detector" exercise identical code paths.
type MockDetectorClient struct {
	mu      sync.Mutex
	healthy bool
	// script maps a frame_id to the detections that should be returned
	// whenever a batch containing that frame_id is inferred.
	script map[uint64][]Detection
}

// NewMockDetectorClient creates a healthy mock with no scripted
// detections; use Script to seed responses.
func NewMockDetectorClient() *MockDetectorClient {
	return &MockDetectorClient{
		healthy: true,
		script:  make(map[uint64][]Detection),
	}
}

// Script registers the detections to return for a given frame_id.
func (m *MockDetectorClient) Script(frameID uint64, dets []Detection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script[frameID] = dets
}

// SetHealthy toggles the cached health flag, for exercising §4.7's
// degraded-mode failure semantics in tests.
func (m *MockDetectorClient) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthy = healthy
}

func (m *MockDetectorClient) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

func (m *MockDetectorClient) Infer(_ context.Context, req Request) ([]Detection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.healthy {
		return nil, nil
	}
	var out []Detection
	for _, fid := range req.FrameIDs {
		out = append(out, m.script[fid]...)
	}
	return out, nil
}
