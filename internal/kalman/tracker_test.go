package kalman_test

import (
	"errors"
	"testing"

	"coverframe/internal/detector"
	"coverframe/internal/frame"
	"coverframe/internal/kalman"
)

func TestBankInitAndPredict(t *testing.T) {
	bank := kalman.NewBank(0.01, 0.1, true)
	id := bank.Init(detector.Detection{FrameID: 1, BBox: frame.BBox{X: 10, Y: 10, W: 20, H: 20}})

	preds, err := bank.Predict(2)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(preds) != 1 {
		t.Fatalf("got %d predictions, want 1", len(preds))
	}
	if preds[0].TrackerID != id {
		t.Errorf("tracker id = %d, want %d", preds[0].TrackerID, id)
	}
	if !preds[0].Valid {
		t.Error("expected valid prediction for a freshly initialized tracker")
	}
}

func TestBankPredictRejectsOutOfOrderFrame(t *testing.T) {
	bank := kalman.NewBank(0.01, 0.1, true)
	bank.Init(detector.Detection{FrameID: 1, BBox: frame.BBox{X: 0, Y: 0, W: 10, H: 10}})

	if _, err := bank.Predict(5); err != nil {
		t.Fatalf("first Predict: %v", err)
	}
	_, err := bank.Predict(5)
	if !errors.Is(err, kalman.ErrInvariantViolation) {
		t.Errorf("Predict with non-increasing frame_id: got %v, want ErrInvariantViolation", err)
	}
	_, err = bank.Predict(3)
	if !errors.Is(err, kalman.ErrInvariantViolation) {
		t.Errorf("Predict with smaller frame_id: got %v, want ErrInvariantViolation", err)
	}
}

// TestUpdateWithPredictedMeasurementIsStable verifies the Kalman filter's
// idempotence law: correcting a static tracker with exactly its own
// predicted measurement should leave the state effectively unchanged,
// since the innovation (y = z - Hx) is ~0.
func TestUpdateWithPredictedMeasurementIsStable(t *testing.T) {
	bank := kalman.NewBank(0.0, 0.1, true)
	box := frame.BBox{X: 100, Y: 100, W: 40, H: 40}
	id := bank.Init(detector.Detection{FrameID: 1, BBox: box})

	preds, err := bank.Predict(2)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}

	predictedBox := preds[0].BBox
	if err := bank.Update(id, detector.Detection{FrameID: 2, BBox: predictedBox, Score: 0.9}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	tr, ok := bank.Get(id)
	if !ok {
		t.Fatal("tracker missing after update")
	}
	postBox, valid := tr.BBox()
	if !valid {
		t.Fatal("expected valid bbox after update")
	}

	const tol = 2 // pixel rounding tolerance
	if abs(postBox.X-predictedBox.X) > tol || abs(postBox.Y-predictedBox.Y) > tol ||
		abs(postBox.W-predictedBox.W) > tol || abs(postBox.H-predictedBox.H) > tol {
		t.Errorf("post-update bbox %+v diverged from predicted measurement %+v", postBox, predictedBox)
	}
	if tr.Hits != 2 {
		t.Errorf("Hits = %d, want 2", tr.Hits)
	}
}

func TestUpdateWithZeroHeightIsTreatedAsMiss(t *testing.T) {
	bank := kalman.NewBank(0.01, 0.1, true)
	id := bank.Init(detector.Detection{FrameID: 1, BBox: frame.BBox{X: 0, Y: 0, W: 10, H: 10}})

	if err := bank.Update(id, detector.Detection{FrameID: 2, BBox: frame.BBox{X: 0, Y: 0, W: 10, H: 0}}); err != nil {
		t.Fatalf("Update with degenerate bbox should not error: %v", err)
	}

	tr, _ := bank.Get(id)
	if tr.Misses != 1 {
		t.Errorf("Misses = %d, want 1", tr.Misses)
	}
	if tr.Hits != 1 {
		t.Errorf("Hits = %d, want unchanged at 1", tr.Hits)
	}
}

func TestCleanupRemovesExhaustedTrackers(t *testing.T) {
	bank := kalman.NewBank(0.01, 0.1, true)
	id := bank.Init(detector.Detection{FrameID: 1, BBox: frame.BBox{X: 0, Y: 0, W: 10, H: 10}})

	for i := 0; i < 15; i++ {
		bank.Miss(id)
	}

	removed := bank.Cleanup(15, 1e9)
	if len(removed) != 1 || removed[0] != id {
		t.Errorf("Cleanup removed %v, want [%d]", removed, id)
	}
	if bank.Len() != 0 {
		t.Errorf("bank.Len() = %d, want 0 after cleanup", bank.Len())
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
