// Package detector implements the asynchronous client to the remote
// batched inference service (§4.2, §6) and its downscale/JPEG-encode
// preprocessing step. The process-wide worker pool that drains every
// stream's Batch Collector lives in internal/workerpool.
package detector

import (
	"coverframe/internal/frame"
)

// DownscaleWidth and DownscaleHeight are the fixed detector input size
// spec.md §4.2/§9 settles on, resolving the source's underspecified
// down-scaling factor.
const (
	DownscaleWidth  = 320
	DownscaleHeight = 180
)

// Detection is a single detector result for one frame, already rescaled
// to source-frame pixel coordinates.
type Detection struct {
	FrameID uint64
	BBox    frame.BBox
	Class   uint16
	Score   float64
}

// FrameInput is one frame submitted as part of a batch request. Pixels
// are the plain source-resolution pixels; the HTTP detector client
// downscales and JPEG-encodes them itself (Preprocess), so this step is
// internal to the client, not the Batch Collector.
type FrameInput struct {
	FrameID uint64
	Width   int
	Height  int
	Pixels  []byte // source-resolution pixels, same format as frame.Frame
}

// Request is the wire-contract request shape from spec.md §6: a batch of
// N frames (still at source resolution; the client downscales them) plus
// the [frame_id]xN mapping. FrameIDs[i] corresponds to Frames[i].
type Request struct {
	FrameIDs []uint64
	Frames   []FrameInput
}

// rawDetection mirrors the wire-contract response entry from spec.md §6:
// coordinates in downscaled space, frame_index into the batch request.
type rawDetection struct {
	FrameIndex int     `json:"frame_index" jsonschema_description:"Index into the batch's frame list this detection belongs to"`
	X1         float64 `json:"x1" jsonschema_description:"Left edge in downscaled (320x180) pixel space"`
	Y1         float64 `json:"y1" jsonschema_description:"Top edge in downscaled (320x180) pixel space"`
	X2         float64 `json:"x2" jsonschema_description:"Right edge in downscaled (320x180) pixel space"`
	Y2         float64 `json:"y2" jsonschema_description:"Bottom edge in downscaled (320x180) pixel space"`
	ClassID    uint16  `json:"class_id" jsonschema_description:"Detector class id for the unsafe-content category matched"`
	Score      float64 `json:"score" jsonschema_description:"Confidence score in [0,1]"`
}

// detectionBatchResponse is the structured-output schema the HTTP
// detector client forces the remote model to emit, one entry per
// detected region across the whole batch (frame_index disambiguates
// which submitted frame each belongs to, since the detector need not
// preserve per-frame grouping).
type detectionBatchResponse struct {
	Detections []rawDetection `json:"detections" jsonschema_description:"Every unsafe-content bounding box detected across the frames in this batch"`
}

// rescale maps a rawDetection from downscaled (320x180) space back to the
// true source-frame resolution of the frame it belongs to.
func rescale(d rawDetection, srcW, srcH int) frame.BBox {
	sx := float64(srcW) / float64(DownscaleWidth)
	sy := float64(srcH) / float64(DownscaleHeight)
	x1, y1 := d.X1*sx, d.Y1*sy
	x2, y2 := d.X2*sx, d.Y2*sy
	return frame.BBox{
		X: int(x1),
		Y: int(y1),
		W: int(x2 - x1),
		H: int(y2 - y1),
	}
}
