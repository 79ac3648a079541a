// Package decay implements the Confidence Decay Store from spec.md §4.4:
// the per-stream set of active blur regions, decayed exponentially every
// published frame so blur persists across the gap between a detection
// arriving and the next one, without flickering off for a single frame.
package decay

import (
	"coverframe/internal/detector"
	"coverframe/internal/frame"
)

// Region is one active blur region.
type Region struct {
	ID                uint32
	BBox              frame.BBox // undilated
	Confidence        float64
	FramesSinceUpdate uint32
	TrackerID         uint32
	HasTracker        bool
	Class             uint16
}

// associationIoU is the threshold below which a detection is considered
// to belong to a new region rather than an existing one, per spec.md
// §4.4.
const associationIoU = 0.3

// Store holds every active region for one stream. Like kalman.Bank, it
// is per-stream and not internally synchronized — the Stream Engine
// serializes access to Store and Bank under the same per-stream mutex
// (spec.md §5).
type Store struct {
	rate          float64
	minConfidence float64
	dilationPx    int

	regions map[uint32]*Region
	nextID  uint32
}

// New creates a Store with the given decay rate, minimum confidence
// floor, and dilation padding (decay.rate / decay.min_confidence /
// decay.dilation_px).
func New(rate, minConfidence float64, dilationPx int) *Store {
	return &Store{
		rate:          rate,
		minConfidence: minConfidence,
		dilationPx:    dilationPx,
		regions:       make(map[uint32]*Region),
	}
}

// Refresh locates an existing region by tracker_id, falling back to
// IoU >= 0.3 against any existing region's bbox, creating a new region
// if neither matches. The matched (or new) region's confidence is reset
// to 1.0 and frames_since_update to 0 — refreshing the same detection
// twice back-to-back is idempotent: same region_id, confidence 1.0.
func (s *Store) Refresh(det detector.Detection, trackerID uint32, hasTracker bool) uint32 {
	if hasTracker {
		for _, r := range s.regions {
			if r.HasTracker && r.TrackerID == trackerID {
				s.reinforce(r, det)
				return r.ID
			}
		}
	}

	var best *Region
	bestIoU := associationIoU
	for _, r := range s.regions {
		iou := frame.IoU(det.BBox, r.BBox)
		if iou >= bestIoU {
			best = r
			bestIoU = iou
		}
	}
	if best != nil {
		s.reinforce(best, det)
		if hasTracker {
			best.TrackerID = trackerID
			best.HasTracker = true
		}
		return best.ID
	}

	s.nextID++
	id := s.nextID
	s.regions[id] = &Region{
		ID:         id,
		BBox:       det.BBox,
		Confidence: 1.0,
		TrackerID:  trackerID,
		HasTracker: hasTracker,
		Class:      det.Class,
	}
	return id
}

func (s *Store) reinforce(r *Region, det detector.Detection) {
	r.BBox = det.BBox
	r.Confidence = 1.0
	r.FramesSinceUpdate = 0
	r.Class = det.Class
}

// Tick decays every region's confidence by the configured rate and
// removes anything that falls below the minimum, per spec.md §4.4. It
// must be called exactly once per published frame, immediately after
// the Tracker Bank's Predict.
func (s *Store) Tick() {
	for id, r := range s.regions {
		r.Confidence *= s.rate
		r.FramesSinceUpdate++
		if r.Confidence < s.minConfidence {
			delete(s.regions, id)
		}
	}
}

// GetBlurSet returns the dilated bbox of every active region, clamped
// to the given frame bounds. Degenerate clamp results (per spec.md §8's
// boundary behavior) are silently dropped rather than blurring nothing
// useful.
func (s *Store) GetBlurSet(width, height int) []frame.BBox {
	out := make([]frame.BBox, 0, len(s.regions))
	for _, r := range s.regions {
		dilated := r.BBox.Dilate(s.dilationPx)
		clamped, ok := dilated.Clamp(width, height)
		if !ok {
			continue
		}
		out = append(out, clamped)
	}
	return out
}

// Len returns the number of active regions.
func (s *Store) Len() int { return len(s.regions) }

// Regions returns every active region, for introspection/tests. The
// slice is a fresh copy; mutating it does not affect the store.
func (s *Store) Regions() []Region {
	out := make([]Region, 0, len(s.regions))
	for _, r := range s.regions {
		out = append(out, *r)
	}
	return out
}
