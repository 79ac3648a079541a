package frame_test

import (
	"testing"

	"coverframe/internal/frame"
)

func TestBBoxClamp(t *testing.T) {
	cases := []struct {
		name   string
		box    frame.BBox
		w, h   int
		wantOK bool
		want   frame.BBox
	}{
		{"inside", frame.BBox{X: 10, Y: 10, W: 20, H: 20}, 100, 100, true, frame.BBox{X: 10, Y: 10, W: 20, H: 20}},
		{"overhangs right/bottom", frame.BBox{X: 90, Y: 90, W: 20, H: 20}, 100, 100, true, frame.BBox{X: 90, Y: 90, W: 10, H: 10}},
		{"negative origin", frame.BBox{X: -5, Y: -5, W: 10, H: 10}, 100, 100, true, frame.BBox{X: 0, Y: 0, W: 5, H: 5}},
		{"fully outside", frame.BBox{X: 200, Y: 200, W: 10, H: 10}, 100, 100, false, frame.BBox{}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := c.box.Clamp(c.w, c.h)
			if ok != c.wantOK {
				t.Fatalf("ok = %v, want %v", ok, c.wantOK)
			}
			if ok && got != c.want {
				t.Errorf("got %+v, want %+v", got, c.want)
			}
		})
	}
}

func TestBBoxDilate(t *testing.T) {
	b := frame.BBox{X: 10, Y: 10, W: 10, H: 10}
	d := b.Dilate(5)
	want := frame.BBox{X: 5, Y: 5, W: 20, H: 20}
	if d != want {
		t.Errorf("Dilate(5) = %+v, want %+v", d, want)
	}
}

func TestIoU(t *testing.T) {
	a := frame.BBox{X: 0, Y: 0, W: 10, H: 10}
	identical := frame.BBox{X: 0, Y: 0, W: 10, H: 10}
	if got := frame.IoU(a, identical); got != 1.0 {
		t.Errorf("identical boxes IoU = %v, want 1.0", got)
	}

	disjoint := frame.BBox{X: 100, Y: 100, W: 10, H: 10}
	if got := frame.IoU(a, disjoint); got != 0 {
		t.Errorf("disjoint boxes IoU = %v, want 0", got)
	}

	half := frame.BBox{X: 5, Y: 0, W: 10, H: 10}
	got := frame.IoU(a, half)
	// intersection 5x10=50, union 100+100-50=150
	want := 50.0 / 150.0
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("half-overlap IoU = %v, want %v", got, want)
	}
}

func TestFromCenterAspectHeight(t *testing.T) {
	b, ok := frame.FromCenterAspectHeight(50, 50, 2.0, 10)
	if !ok {
		t.Fatal("expected ok=true for positive height")
	}
	if b.W != 20 || b.H != 10 {
		t.Errorf("got W=%d H=%d, want W=20 H=10", b.W, b.H)
	}

	if _, ok := frame.FromCenterAspectHeight(50, 50, 2.0, 0); ok {
		t.Error("expected ok=false for zero height")
	}
}

func TestBBoxAspectZeroHeight(t *testing.T) {
	b := frame.BBox{X: 0, Y: 0, W: 10, H: 0}
	if got := b.Aspect(); got != 0 {
		t.Errorf("Aspect() with H=0 = %v, want 0", got)
	}
}
