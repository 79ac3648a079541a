// Package events builds structured event payloads for batch completions
// (the only event kind it defines), using protobuf's well-known Struct/Timestamp types
// the way the reference pack's batch_manager.go does for its own
// VLM-response events — without needing any generated .pb.go service
// code, since these are just serialized as JSON-compatible structs.
package events

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// BatchCompleted describes one finished verification batch for
// logging/introspection, mirroring the shape of the reference pack's
// VLM-response event payload: a generic Struct body plus a protobuf
// timestamp, so it can be forwarded as-is to any protobuf-JSON-aware
// sink without a bespoke schema.
type BatchCompleted struct {
	StreamID   string
	BatchID    string
	FrameCount int
	Detections int
	Err        string

	CreatedAt *timestamppb.Timestamp
	Payload   *structpb.Struct
}

// NewBatchCompleted builds a BatchCompleted event. errMsg is the empty
// string on success.
func NewBatchCompleted(streamID, batchID string, frameCount, detections int, errMsg string) (*BatchCompleted, error) {
	fields := map[string]any{
		"stream_id":   streamID,
		"batch_id":    batchID,
		"frame_count": frameCount,
		"detections":  detections,
	}
	if errMsg != "" {
		fields["error"] = errMsg
	}

	payload, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}

	return &BatchCompleted{
		StreamID:   streamID,
		BatchID:    batchID,
		FrameCount: frameCount,
		Detections: detections,
		Err:        errMsg,
		CreatedAt:  timestamppb.New(time.Now()),
		Payload:    payload,
	}, nil
}
