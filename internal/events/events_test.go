package events_test

import (
	"testing"

	"coverframe/internal/events"
)

func TestNewBatchCompletedSuccess(t *testing.T) {
	evt, err := events.NewBatchCompleted("stream-1", "batch-1", 4, 2, "")
	if err != nil {
		t.Fatalf("NewBatchCompleted: %v", err)
	}
	if evt.Payload.Fields["stream_id"].GetStringValue() != "stream-1" {
		t.Errorf("payload stream_id = %q, want stream-1", evt.Payload.Fields["stream_id"].GetStringValue())
	}
	if _, hasErr := evt.Payload.Fields["error"]; hasErr {
		t.Error("payload should not carry an error field on success")
	}
	if evt.CreatedAt == nil {
		t.Error("CreatedAt should be set")
	}
}

func TestNewBatchCompletedWithError(t *testing.T) {
	evt, err := events.NewBatchCompleted("stream-1", "batch-2", 4, 0, "detector request failed: timeout")
	if err != nil {
		t.Fatalf("NewBatchCompleted: %v", err)
	}
	if evt.Payload.Fields["error"].GetStringValue() == "" {
		t.Error("expected a non-empty error field in the payload")
	}
}
