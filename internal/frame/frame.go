// Package frame defines the basic pixel-buffer and geometry types shared by
// every lane of the censorship pipeline: the immutable Frame, BBox, and the
// small set of geometry helpers (clamp, dilate, IoU) used by the tracker,
// decay store, and reconciler.
package frame

import "time"

// Frame is an immutable decoded video frame handed to the Stream Engine by
// the (external) Frame Source. FrameID is monotonically increasing per
// stream; TimestampNs is monotonic non-decreasing.
type Frame struct {
	FrameID     uint64
	TimestampNs int64
	Width       int
	Height      int
	Pixels      []byte
}

// BBox is a bounding box in source-frame pixel coordinates.
type BBox struct {
	X, Y, W, H int
}

// Valid reports whether the box has positive extent.
func (b BBox) Valid() bool {
	return b.W > 0 && b.H > 0
}

// Clamp returns b clamped to the [0,width) x [0,height) frame, or the zero
// value and false if the clamp leaves a degenerate (w<=0 or h<=0) box.
func (b BBox) Clamp(width, height int) (BBox, bool) {
	x1, y1 := b.X, b.Y
	x2, y2 := b.X+b.W, b.Y+b.H

	if x1 < 0 {
		x1 = 0
	}
	if y1 < 0 {
		y1 = 0
	}
	if x2 > width {
		x2 = width
	}
	if y2 > height {
		y2 = height
	}

	w, h := x2-x1, y2-y1
	if w <= 0 || h <= 0 {
		return BBox{}, false
	}
	return BBox{X: x1, Y: y1, W: w, H: h}, true
}

// Dilate pads b by px on every side. The result is not clamped; callers
// clamp separately once the dilated box is ready for publication.
func (b BBox) Dilate(px int) BBox {
	return BBox{
		X: b.X - px,
		Y: b.Y - px,
		W: b.W + 2*px,
		H: b.H + 2*px,
	}
}

// Center returns the box's center point.
func (b BBox) Center() (cx, cy float64) {
	return float64(b.X) + float64(b.W)/2, float64(b.Y) + float64(b.H)/2
}

// Aspect returns w/h, guarding against a zero-height box by returning 0.
func (b BBox) Aspect() float64 {
	if b.H == 0 {
		return 0
	}
	return float64(b.W) / float64(b.H)
}

// IoU returns the intersection-over-union of a and b, in [0,1].
func IoU(a, b BBox) float64 {
	ax1, ay1, ax2, ay2 := a.X, a.Y, a.X+a.W, a.Y+a.H
	bx1, by1, bx2, by2 := b.X, b.Y, b.X+b.W, b.Y+b.H

	ix1, iy1 := max(ax1, bx1), max(ay1, by1)
	ix2, iy2 := min(ax2, bx2), min(ay2, by2)

	iw, ih := ix2-ix1, iy2-iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := float64(iw * ih)
	union := float64(a.W*a.H) + float64(b.W*b.H) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// FromCenterAspectHeight reconstructs a BBox from a Kalman observation
// vector (cx, cy, aspect, h). w = aspect * h, per spec's predicted-width
// rule. Returns false if h <= 0 (degenerate, treated as a miss upstream).
func FromCenterAspectHeight(cx, cy, aspect, h float64) (BBox, bool) {
	if h <= 0 {
		return BBox{}, false
	}
	w := aspect * h
	return BBox{
		X: int(cx - w/2),
		Y: int(cy - h/2),
		W: int(w),
		H: int(h),
	}, true
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Now is a small indirection over time.Now. No package in the module calls
// it; the packages that stamp wall-clock ages call time.Now directly.
func Now() time.Time { return time.Now() }
