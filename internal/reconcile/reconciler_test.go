package reconcile_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coverframe/internal/decay"
	"coverframe/internal/detector"
	"coverframe/internal/frame"
	"coverframe/internal/kalman"
	"coverframe/internal/reconcile"
)

func newFixture() (*kalman.Bank, *decay.Store, reconcile.Config) {
	bank := kalman.NewBank(0.01, 0.1, true)
	store := decay.New(0.85, 0.3, 8)
	cfg := reconcile.Config{ScoreThreshold: 0.5, MissBudget: 5, MaxAge: time.Minute}
	return bank, store, cfg
}

func TestReconcileCreatesTrackerForUnmatchedDetection(t *testing.T) {
	bank, store, cfg := newFixture()

	dets := []detector.Detection{
		{FrameID: 1, BBox: frame.BBox{X: 10, Y: 10, W: 20, H: 20}, Score: 0.9},
	}
	touched := reconcile.Reconcile(bank, store, dets, cfg)

	require.Len(t, touched, 1)
	assert.Equal(t, 1, bank.Len())
	assert.Equal(t, 1, store.Len())
}

func TestReconcileDropsDetectionsBelowScoreThreshold(t *testing.T) {
	bank, store, cfg := newFixture()

	dets := []detector.Detection{
		{FrameID: 1, BBox: frame.BBox{X: 10, Y: 10, W: 20, H: 20}, Score: 0.1},
	}
	touched := reconcile.Reconcile(bank, store, dets, cfg)

	assert.Empty(t, touched)
	assert.Equal(t, 0, bank.Len())
	assert.Equal(t, 0, store.Len())
}

// TestReconcileAssociatesSecondBatchToExistingTracker exercises the
// common two-batch path: the first batch creates a tracker, predict
// advances it, and a second batch with an overlapping detection should
// be associated to the same tracker rather than spawning a new one.
func TestReconcileAssociatesSecondBatchToExistingTracker(t *testing.T) {
	bank, store, cfg := newFixture()

	first := []detector.Detection{
		{FrameID: 1, BBox: frame.BBox{X: 100, Y: 100, W: 40, H: 40}, Score: 0.9},
	}
	reconcile.Reconcile(bank, store, first, cfg)
	require.Equal(t, 1, bank.Len())

	_, err := bank.Predict(2)
	require.NoError(t, err)

	second := []detector.Detection{
		{FrameID: 2, BBox: frame.BBox{X: 102, Y: 101, W: 40, H: 40}, Score: 0.9},
	}
	touched := reconcile.Reconcile(bank, store, second, cfg)

	require.Len(t, touched, 1)
	assert.Equal(t, 1, bank.Len(), "second batch should reinforce the existing tracker, not create a new one")
}

// TestReconcileTieBreaksByScore exercises the score half of spec.md
// §4.5's tie-break rule: when two detections in the same frame have
// equal IoU with the same tracker, the higher-score one wins the
// association and the other becomes a new tracker.
func TestReconcileTieBreaksByScore(t *testing.T) {
	bank, store, cfg := newFixture()

	seed := []detector.Detection{
		{FrameID: 1, BBox: frame.BBox{X: 100, Y: 100, W: 40, H: 40}, Score: 0.9},
	}
	reconcile.Reconcile(bank, store, seed, cfg)
	_, err := bank.Predict(2)
	require.NoError(t, err)

	contested := []detector.Detection{
		{FrameID: 2, BBox: frame.BBox{X: 101, Y: 100, W: 40, H: 40}, Score: 0.6},
		{FrameID: 2, BBox: frame.BBox{X: 100, Y: 101, W: 40, H: 40}, Score: 0.95},
	}
	touched := reconcile.Reconcile(bank, store, contested, cfg)

	// The higher-scored detection claims the existing tracker; the
	// lower-scored one spawns a second tracker. Touched ids follow
	// detection order: the 0.6 detection's new tracker 2, then the 0.95
	// detection's existing tracker 1.
	assert.Equal(t, 2, bank.Len())
	assert.Equal(t, []uint32{2, 1}, touched)
}
