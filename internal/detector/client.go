package detector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Client is the single interface both production and test code depend
// on, per spec.md §9's "single Detector Client interface, two
// implementations" redesign note.
type Client interface {
	// Infer sends a dispatched batch to the remote detector and returns
	// its detections, already re-keyed to FrameID and rescaled to
	// source coordinates. A timeout, transport error, or malformed
	// response yields (nil, err); the caller (the worker pool) is
	// responsible for treating that as an empty-detection batch per
	// spec.md §4.2.
	Infer(ctx context.Context, req Request) ([]Detection, error)
	// Healthy reports the cached health flag, refreshed periodically in
	// the background rather than probed inline on every Infer call.
	Healthy() bool
}

// HTTPDetectorClient talks to an OpenAI-compatible batched vision
// endpoint, the same transport shape as the reference pack's
// server/webrtc/frame_client.go FrameClient — a single chat completion
// per batch, one image content part per frame, constrained to a JSON
// schema response instead of free text.
type HTTPDetectorClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration

	healthy   atomic.Bool
	stopHealth chan struct{}
}

// NewHTTPDetectorClient constructs a client and starts its background
// health probe. Call Close to stop the probe goroutine.
func NewHTTPDetectorClient(baseURL, model, apiKey string, timeout time.Duration) *HTTPDetectorClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	c := openai.NewClient(opts...)

	hc := &HTTPDetectorClient{
		client:     &c,
		model:      model,
		timeout:    timeout,
		stopHealth: make(chan struct{}),
	}
	hc.healthy.Store(true)
	go hc.healthLoop()
	return hc
}

func (c *HTTPDetectorClient) Healthy() bool { return c.healthy.Load() }

// Close stops the background health probe.
func (c *HTTPDetectorClient) Close() {
	close(c.stopHealth)
}

// healthLoop refreshes the cached health flag every few seconds with a
// cheap models.list call, matching spec.md's "maintain a cached health
// flag refreshed periodically" requirement.
func (c *HTTPDetectorClient) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopHealth:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			_, err := c.client.Models.List(ctx)
			cancel()
			healthy := err == nil
			if healthy != c.healthy.Load() {
				log.Printf("[detector.HTTPDetectorClient] health changed: healthy=%v", healthy)
			}
			c.healthy.Store(healthy)
		}
	}
}

var detectionSchema = func() any {
	reflector := jsonschema.Reflector{AllowAdditionalProperties: false, DoNotReference: true}
	var v detectionBatchResponse
	return reflector.Reflect(v)
}()

// Infer encodes req's frames as a single multi-image chat completion and
// parses the structured-output response back into per-frame Detections.
// If the detector is cached-unhealthy, it fails fast with an empty
// result rather than attempting the round trip, per spec.md §4.2.
func (c *HTTPDetectorClient) Infer(ctx context.Context, req Request) ([]Detection, error) {
	if !c.Healthy() {
		return nil, nil
	}
	if len(req.Frames) == 0 {
		return nil, fmt.Errorf("detector: empty batch")
	}

	content := []openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(
			"Identify every region depicting unsafe (NSFW) content in these frames. " +
				"Return bounding boxes in 320x180 pixel space, one entry per detected region, " +
				"tagged with the index (0-based) of the frame it was found in.",
		),
	}

	downscaled := make([][]byte, len(req.Frames))
	for i, f := range req.Frames {
		jpegBytes, err := Preprocess(f.Width, f.Height, f.Pixels)
		if err != nil {
			return nil, fmt.Errorf("preprocess frame %d: %w", f.FrameID, err)
		}
		downscaled[i] = jpegBytes
		dataURL := fmt.Sprintf("data:image/jpeg;base64,%s", base64.StdEncoding.EncodeToString(jpegBytes))
		content = append(content, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}))
	}

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(c.model),
		Messages:  []openai.ChatCompletionMessageParamUnion{openai.UserMessage(content)},
		MaxTokens: openai.Int(1024),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "detection_batch",
					Schema: detectionSchema,
					Strict: openai.Bool(true),
				},
			},
		},
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(timeoutCtx, params)
	if err != nil {
		return nil, fmt.Errorf("detector request failed: %w", err)
	}
	log.Printf("[detector.HTTPDetectorClient] batch of %d frames inferred in %v", len(req.Frames), time.Since(start))

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("detector returned no choices")
	}

	var parsed detectionBatchResponse
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &parsed); err != nil {
		return nil, fmt.Errorf("parse detector response: %w", err)
	}

	detections := make([]Detection, 0, len(parsed.Detections))
	for _, d := range parsed.Detections {
		if d.FrameIndex < 0 || d.FrameIndex >= len(req.Frames) {
			continue
		}
		in := req.Frames[d.FrameIndex]
		detections = append(detections, Detection{
			FrameID: in.FrameID,
			BBox:    rescale(d, in.Width, in.Height),
			Class:   d.ClassID,
			Score:   d.Score,
		})
	}
	return detections, nil
}
