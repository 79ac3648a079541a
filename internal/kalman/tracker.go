// Package kalman implements the per-stream Kalman Tracker Bank from
// spec.md §4.3: one constant-velocity Kalman filter per tracked region,
// state vector (cx, cy, aspect, h, vcx, vcy, vaspect, vh), using
// gonum's mat package for the 8-vector state and 8x8 covariance — the
// same linear-algebra library the reference pack's lidar tracking
// pipeline depends on for its own motion tracking.
package kalman

import (
	"errors"
	"fmt"
	"time"

	"gonum.org/v1/gonum/mat"

	"coverframe/internal/detector"
	"coverframe/internal/frame"
)

// ErrInvariantViolation is returned when Predict is called twice for
// the same frame_id — spec.md §4.7 names this fatal for the stream.
var ErrInvariantViolation = errors.New("kalman: predict called twice for the same frame_id")

const stateDim = 8

// Tracker is one tracked region's motion model.
type Tracker struct {
	ID              uint32
	Hits            uint32
	Misses          uint32
	LastUpdateFrame uint64
	ClassHint       uint16
	CreatedAt       time.Time
	LastUpdateAt    time.Time

	state *mat.VecDense // [cx, cy, aspect, h, vcx, vcy, vaspect, vh]
	cov   *mat.Dense    // 8x8
}

// Predicted is a tracker's state as exposed after Predict: the bbox is
// not yet clamped to frame bounds, matching FromCenterAspectHeight's
// contract — callers clamp once, at the point the box is actually used.
type Predicted struct {
	TrackerID uint32
	BBox      frame.BBox
	Valid     bool // false if aspect*h degenerated (h<=0 after prediction)
}

// Confidence returns 0.7*hit_ratio + 0.3*recency per spec.md §4.3,
// exposed for logging/introspection only — it does not gate removal
// (that's Bank.Cleanup's job, based on misses/age alone, resolving the
// Open Question in §9 about coupling removal to wallclock confidence).
func (t *Tracker) Confidence(now time.Time) float64 {
	total := t.Hits + t.Misses
	var hitRatio float64
	if total > 0 {
		hitRatio = float64(t.Hits) / float64(total)
	}
	ageS := now.Sub(t.CreatedAt).Seconds()
	recency := 1 - ageS
	if recency < 0 {
		recency = 0
	}
	return 0.7*hitRatio + 0.3*recency
}

// Bank owns every tracker for one stream. It is never shared across
// streams (spec.md §9: "process-wide singletons are disallowed") and is
// not internally synchronized — per spec.md §5 the caller serializes
// Predict and Update onto the same per-stream mutex, since Predict runs
// on the publish task and Update runs on the reconciliation task.
type Bank struct {
	processNoise     float64
	measurementNoise float64
	enabled          bool

	trackers         map[uint32]*Tracker
	nextID           uint32
	lastPredictFrame uint64
	havePredicted    bool
}

// NewBank creates an empty bank tuned with the given process/measurement
// noise magnitudes (kalman.process_noise / kalman.measurement_noise).
// When enabled is false (kalman.enabled=false, spec.md §6), Predict and
// Update skip the constant-velocity math entirely: Init/Miss/Cleanup
// bookkeeping still runs so the Reconciler and Decay Store keep working
// off the detector's raw bboxes, but no motion is ever extrapolated.
func NewBank(processNoise, measurementNoise float64, enabled bool) *Bank {
	return &Bank{
		processNoise:     processNoise,
		measurementNoise: measurementNoise,
		enabled:          enabled,
		trackers:         make(map[uint32]*Tracker),
	}
}

func transitionMatrix() *mat.Dense {
	f := mat.NewDense(stateDim, stateDim, nil)
	for i := 0; i < stateDim; i++ {
		f.Set(i, i, 1)
	}
	// cx += vcx, cy += vcy, aspect += vaspect, h += vh (dt = 1 frame)
	for i := 0; i < 4; i++ {
		f.Set(i, i+4, 1)
	}
	return f
}

func observationMatrix() *mat.Dense {
	h := mat.NewDense(4, stateDim, nil)
	for i := 0; i < 4; i++ {
		h.Set(i, i, 1)
	}
	return h
}

func diag(n int, v float64) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, v)
	}
	return d
}

// Init starts a new tracker from a detection: position/aspect/height
// from the bbox, zero velocity, identity covariance.
func (b *Bank) Init(det detector.Detection) uint32 {
	cx, cy := det.BBox.Center()
	aspect := det.BBox.Aspect()
	h := float64(det.BBox.H)

	state := mat.NewVecDense(stateDim, []float64{cx, cy, aspect, h, 0, 0, 0, 0})
	cov := diag(stateDim, 1)

	now := time.Now()
	b.nextID++
	id := b.nextID
	b.trackers[id] = &Tracker{
		ID:              id,
		Hits:            1,
		ClassHint:       det.Class,
		CreatedAt:       now,
		LastUpdateAt:    now,
		LastUpdateFrame: det.FrameID,
		state:           state,
		cov:             cov,
	}
	return id
}

// Predict advances every tracker by one constant-velocity step and
// returns each tracker's predicted bbox. Must be called exactly once
// per published frame_id, before publication (spec.md §4.3/§4.6). A
// disabled bank (kalman.enabled=false) skips the motion step and
// returns no predictions; trackers hold still at their last update.
func (b *Bank) Predict(frameID uint64) ([]Predicted, error) {
	if !b.enabled {
		return nil, nil
	}
	if b.havePredicted && frameID <= b.lastPredictFrame {
		return nil, fmt.Errorf("%w: frame_id %d, last predicted %d", ErrInvariantViolation, frameID, b.lastPredictFrame)
	}
	b.lastPredictFrame = frameID
	b.havePredicted = true

	f := transitionMatrix()
	q := diag(stateDim, b.processNoise)

	out := make([]Predicted, 0, len(b.trackers))
	for _, t := range b.trackers {
		var newState mat.VecDense
		newState.MulVec(f, t.state)
		t.state = &newState

		var fp mat.Dense
		fp.Mul(f, t.cov)
		var fpft mat.Dense
		fpft.Mul(&fp, f.T())
		fpft.Add(&fpft, q)
		t.cov = &fpft

		bbox, ok := frame.FromCenterAspectHeight(t.state.AtVec(0), t.state.AtVec(1), t.state.AtVec(2), t.state.AtVec(3))
		out = append(out, Predicted{TrackerID: t.ID, BBox: bbox, Valid: ok})
	}
	return out, nil
}

// Update performs the standard Kalman correction with measurement
// (cx, cy, aspect, h) drawn from det.BBox. A zero-height measurement is
// treated as a miss rather than a correction, per spec.md §4.3.
func (b *Bank) Update(trackerID uint32, det detector.Detection) error {
	t, ok := b.trackers[trackerID]
	if !ok {
		return fmt.Errorf("kalman: unknown tracker %d", trackerID)
	}
	if det.BBox.H <= 0 {
		b.Miss(trackerID)
		return nil
	}
	if !b.enabled {
		t.Hits++
		t.LastUpdateFrame = det.FrameID
		t.LastUpdateAt = time.Now()
		return nil
	}

	cx, cy := det.BBox.Center()
	z := mat.NewVecDense(4, []float64{cx, cy, det.BBox.Aspect(), float64(det.BBox.H)})

	h := observationMatrix()
	r := diag(4, b.measurementNoise)

	var hx mat.VecDense
	hx.MulVec(h, t.state)
	var y mat.VecDense
	y.SubVec(z, &hx)

	var hp mat.Dense
	hp.Mul(h, t.cov)
	var s mat.Dense
	s.Mul(&hp, h.T())
	s.Add(&s, r)

	var sInv mat.Dense
	if err := sInv.Inverse(&s); err != nil {
		return fmt.Errorf("kalman: innovation covariance not invertible: %w", err)
	}

	var pht mat.Dense
	pht.Mul(t.cov, h.T())
	var k mat.Dense
	k.Mul(&pht, &sInv)

	var ky mat.VecDense
	ky.MulVec(&k, &y)
	var newState mat.VecDense
	newState.AddVec(t.state, &ky)
	t.state = &newState

	ident := diag(stateDim, 1)
	var kh mat.Dense
	kh.Mul(&k, h)
	var ikh mat.Dense
	ikh.Sub(ident, &kh)
	var newCov mat.Dense
	newCov.Mul(&ikh, t.cov)
	t.cov = &newCov

	t.Hits++
	t.LastUpdateFrame = det.FrameID
	t.LastUpdateAt = time.Now()
	return nil
}

// Miss increments a tracker's miss count without touching its state.
func (b *Bank) Miss(trackerID uint32) {
	if t, ok := b.trackers[trackerID]; ok {
		t.Misses++
	}
}

// Cleanup removes every tracker whose misses reach missBudget or whose
// time since its last reinforcement exceeds maxAge, returning the
// removed ids. Measuring from LastUpdateAt rather than CreatedAt keeps
// a continuously-matched tracker (e.g. a static region hit every batch)
// alive indefinitely instead of expiring on a fixed clock from birth.
func (b *Bank) Cleanup(missBudget int, maxAge time.Duration) []uint32 {
	now := time.Now()
	var removed []uint32
	for id, t := range b.trackers {
		if int(t.Misses) >= missBudget || now.Sub(t.LastUpdateAt) > maxAge {
			removed = append(removed, id)
			delete(b.trackers, id)
		}
	}
	return removed
}

// Get returns the tracker for inspection (e.g. by the Reconciler when
// computing IoU cost against its last-predicted bbox).
func (b *Bank) Get(trackerID uint32) (*Tracker, bool) {
	t, ok := b.trackers[trackerID]
	return t, ok
}

// BBox returns a tracker's current (already-predicted) bbox without
// advancing it, for cost-matrix construction in the Reconciler.
func (t *Tracker) BBox() (frame.BBox, bool) {
	return frame.FromCenterAspectHeight(t.state.AtVec(0), t.state.AtVec(1), t.state.AtVec(2), t.state.AtVec(3))
}

// Confirmed reports whether hits >= 1, per spec.md §3.
func (t *Tracker) Confirmed() bool { return t.Hits >= 1 }

// Len returns the number of live trackers.
func (b *Bank) Len() int { return len(b.trackers) }

// IDs returns every live tracker id, for the Reconciler's "unmatched
// trackers" pass.
func (b *Bank) IDs() []uint32 {
	ids := make([]uint32, 0, len(b.trackers))
	for id := range b.trackers {
		ids = append(ids, id)
	}
	return ids
}
