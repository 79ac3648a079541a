// Package reconcile implements the Region Reconciler from spec.md §4.5:
// on every detector batch result, associate detections to trackers by
// greedy IoU, then update the Kalman Tracker Bank and Confidence Decay
// Store accordingly.
package reconcile

import (
	"sort"
	"time"

	"coverframe/internal/decay"
	"coverframe/internal/detector"
	"coverframe/internal/frame"
	"coverframe/internal/kalman"
)

// minAssociationIoU is the eligibility floor for a detection-tracker
// pairing, per spec.md §4.5 step 2.
const minAssociationIoU = 0.3

// Config bundles the tunables the reconciler needs from the detector
// and tracker-bank sections of configuration.
type Config struct {
	ScoreThreshold float64
	MissBudget     int
	MaxAge         time.Duration
}

// Reconcile applies one batch's detections to bank and store, following
// spec.md §4.5's five-step algorithm. dets need not be grouped or
// sorted by frame_id; Reconcile does both. It reports every tracker id
// touched (matched or newly created) purely for logging/tests.
func Reconcile(bank *kalman.Bank, store *decay.Store, dets []detector.Detection, cfg Config) []uint32 {
	byFrame := make(map[uint64][]detector.Detection)
	for _, d := range dets {
		if d.Score < cfg.ScoreThreshold {
			continue
		}
		byFrame[d.FrameID] = append(byFrame[d.FrameID], d)
	}

	frameIDs := make([]uint64, 0, len(byFrame))
	for fid := range byFrame {
		frameIDs = append(frameIDs, fid)
	}
	sort.Slice(frameIDs, func(i, j int) bool { return frameIDs[i] < frameIDs[j] })

	referenced := make(map[uint32]bool)
	var touched []uint32

	for _, fid := range frameIDs {
		frameDets := byFrame[fid]
		matched := assignGreedy(bank, frameDets)

		for i, det := range frameDets {
			if trackerID, ok := matched[i]; ok {
				if err := bank.Update(trackerID, det); err != nil {
					continue
				}
				store.Refresh(det, trackerID, true)
				referenced[trackerID] = true
				touched = append(touched, trackerID)
				continue
			}

			// Unmatched detection: no eligible tracker, or its best
			// tracker was already claimed by a higher-priority pairing.
			// Not an error (ASSIGNMENT_INFEASIBLE, spec.md §7) — becomes
			// a new tracker.
			newID := bank.Init(det)
			store.Refresh(det, newID, true)
			referenced[newID] = true
			touched = append(touched, newID)
		}
	}

	// Trackers never referenced by any frame in this batch are missed.
	// Trackers referenced in some frame but not others within the same
	// batch are NOT missed here. Predict never changes miss counts, so
	// beyond these per-batch misses an unreinforced tracker ages out
	// only through Cleanup's maxAge bound on time since its last update.
	for _, id := range bank.IDs() {
		if !referenced[id] {
			bank.Miss(id)
		}
	}

	bank.Cleanup(cfg.MissBudget, cfg.MaxAge)
	return touched
}

// assignGreedy builds the eligible (IoU>=0.3) detection-tracker pairs
// for one frame's detections and resolves them greedily by descending
// IoU, tie-broken by higher score then lower original index (which,
// since frames are processed in frame_id order by the caller, is
// equivalent to spec.md §4.5's "lower frame_id wins" tie-break applied
// across the whole batch). Returns a map from detection index (within
// dets) to the tracker id it was matched to.
func assignGreedy(bank *kalman.Bank, dets []detector.Detection) map[int]uint32 {
	type candidate struct {
		detIdx    int
		trackerID uint32
		iou       float64
		score     float64
	}

	var candidates []candidate
	for di, det := range dets {
		for _, tid := range bank.IDs() {
			t, ok := bank.Get(tid)
			if !ok {
				continue
			}
			tbbox, valid := t.BBox()
			if !valid {
				continue
			}
			iou := frame.IoU(det.BBox, tbbox)
			if iou >= minAssociationIoU {
				candidates = append(candidates, candidate{detIdx: di, trackerID: tid, iou: iou, score: det.Score})
			}
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].iou != candidates[j].iou {
			return candidates[i].iou > candidates[j].iou
		}
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].detIdx < candidates[j].detIdx
	})

	assignedDet := make(map[int]bool)
	assignedTracker := make(map[uint32]bool)
	result := make(map[int]uint32)

	for _, c := range candidates {
		if assignedDet[c.detIdx] || assignedTracker[c.trackerID] {
			continue
		}
		assignedDet[c.detIdx] = true
		assignedTracker[c.trackerID] = true
		result[c.detIdx] = c.trackerID
	}
	return result
}
