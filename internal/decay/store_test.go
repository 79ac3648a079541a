package decay_test

import (
	"math"
	"testing"

	"coverframe/internal/decay"
	"coverframe/internal/detector"
	"coverframe/internal/frame"
)

func TestRefreshIsIdempotent(t *testing.T) {
	store := decay.New(0.85, 0.3, 8)
	det := detector.Detection{FrameID: 1, BBox: frame.BBox{X: 10, Y: 10, W: 20, H: 20}}

	id1 := store.Refresh(det, 0, false)
	id2 := store.Refresh(det, 0, false)
	if id1 != id2 {
		t.Errorf("refreshing the same detection twice created region %d then %d", id1, id2)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}

	regions := store.Regions()
	if regions[0].Confidence != 1.0 {
		t.Errorf("Confidence = %v, want 1.0", regions[0].Confidence)
	}
}

// TestTickAppliesGeometricDecay verifies the decay law named in spec.md
// §4.4: N ticks without a refresh multiplies confidence by rate^N
// exactly.
func TestTickAppliesGeometricDecay(t *testing.T) {
	const rate = 0.85
	store := decay.New(rate, 0.01, 8)
	det := detector.Detection{FrameID: 1, BBox: frame.BBox{X: 10, Y: 10, W: 20, H: 20}}
	store.Refresh(det, 0, false)

	const n = 5
	for i := 0; i < n; i++ {
		store.Tick()
	}

	regions := store.Regions()
	if len(regions) != 1 {
		t.Fatalf("region decayed away early, Regions() = %v", regions)
	}
	want := math.Pow(rate, n)
	got := regions[0].Confidence
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Confidence after %d ticks = %v, want %v", n, got, want)
	}
	if regions[0].FramesSinceUpdate != n {
		t.Errorf("FramesSinceUpdate = %d, want %d", regions[0].FramesSinceUpdate, n)
	}
}

func TestTickRemovesBelowMinConfidence(t *testing.T) {
	store := decay.New(0.5, 0.4, 8)
	det := detector.Detection{FrameID: 1, BBox: frame.BBox{X: 10, Y: 10, W: 20, H: 20}}
	store.Refresh(det, 0, false)

	store.Tick() // confidence -> 0.5, still >= 0.4
	if store.Len() != 1 {
		t.Fatalf("region removed too early, Len() = %d", store.Len())
	}
	store.Tick() // confidence -> 0.25, below 0.4
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after confidence drops below floor", store.Len())
	}
}

func TestGetBlurSetDilatesAndClamps(t *testing.T) {
	store := decay.New(0.85, 0.3, 10)
	det := detector.Detection{FrameID: 1, BBox: frame.BBox{X: 0, Y: 0, W: 10, H: 10}}
	store.Refresh(det, 0, false)

	boxes := store.GetBlurSet(100, 100)
	if len(boxes) != 1 {
		t.Fatalf("got %d blur boxes, want 1", len(boxes))
	}
	// Dilated by 10 on each side from (0,0,10,10) -> (-10,-10,30,30),
	// clamped to [0,100)x[0,100) -> (0,0,20,20).
	want := frame.BBox{X: 0, Y: 0, W: 20, H: 20}
	if boxes[0] != want {
		t.Errorf("got %+v, want %+v", boxes[0], want)
	}
}

func TestRefreshAssociatesByIoUWithoutTracker(t *testing.T) {
	store := decay.New(0.85, 0.3, 0)
	first := detector.Detection{FrameID: 1, BBox: frame.BBox{X: 0, Y: 0, W: 20, H: 20}}
	id1 := store.Refresh(first, 0, false)

	// Shifted slightly but still >= 0.3 IoU with the same region.
	second := detector.Detection{FrameID: 2, BBox: frame.BBox{X: 2, Y: 2, W: 20, H: 20}}
	id2 := store.Refresh(second, 0, false)

	if id1 != id2 {
		t.Errorf("overlapping detection created a new region: %d vs %d", id1, id2)
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}
