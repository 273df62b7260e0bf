package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/qwengate/qwengate/internal/domain/entity"
	"github.com/qwengate/qwengate/internal/infrastructure/qwen"
	domainErrors "github.com/qwengate/qwengate/pkg/errors"
	"github.com/qwengate/qwengate/pkg/safego"
)

// Relay pumps an upstream SSE body to the downstream client, translating
// frames on the fly. It owns both ends for the duration of one stream: the
// upstream reader is closed on every exit path, including client disconnect.
type Relay struct {
	idleTimeout time.Duration
	logger      *zap.Logger
}

// NewRelay creates the relay. idleTimeout bounds the silence between two
// upstream frames.
func NewRelay(idleTimeout time.Duration, logger *zap.Logger) *Relay {
	return &Relay{
		idleTimeout: idleTimeout,
		logger:      logger.With(zap.String("component", "relay")),
	}
}

// RelayResult is what the orchestrator needs after the stream ends: the
// captured parent cursor, accumulated usage and content, and how the stream
// terminated.
type RelayResult struct {
	ParentID     string
	Usage        entity.Usage
	Content      string
	FinishReason string // "stop" on orderly finish, "error" otherwise
	ClientGone   bool
	Err          error
}

// Run relays one stream. ctx is the downstream request context; its
// cancellation (client disconnect) closes the upstream body, which unblocks
// the frame read. Run never writes after a downstream write failure and
// always drains cleanly. The HTTP status is already committed when the first
// byte goes out, so mid-stream failures surface as an SSE error frame, not a
// status code.
func (r *Relay) Run(ctx context.Context, upstream io.ReadCloser, w http.ResponseWriter, streamID, model string) *RelayResult {
	res := &RelayResult{FinishReason: "error"}
	created := time.Now().Unix()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, _ := w.(http.Flusher)

	// Close the upstream body the moment the client goes away so the
	// blocked frame read returns instead of streaming into the void.
	watchDone := make(chan struct{})
	defer close(watchDone)
	safego.Go(r.logger, "relay-disconnect-watch", func() {
		select {
		case <-ctx.Done():
			upstream.Close()
		case <-watchDone:
		}
	})
	defer upstream.Close()

	reader := qwen.NewFrameReader(upstream, r.idleTimeout, r.logger)

	var content strings.Builder
	roleSent := false
	finished := false

	for !finished {
		frame, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				res.ClientGone = true
				res.Content = content.String()
				return res
			}
			res.Err = err
			r.writeErrorFrame(w, flusher, err)
			r.writeRaw(w, flusher, "data: [DONE]\n\n")
			res.Content = content.String()
			return res
		}

		if frame.Usage != nil {
			res.Usage = entity.NewUsage(frame.Usage.InputTokens, frame.Usage.OutputTokens)
		}

		switch ClassifyFrame(frame) {
		case FrameMetadata:
			res.ParentID = frame.ResponseCreated.ParentID

		case FrameRole:
			if !roleSent {
				roleSent = true
				if !r.writeChunk(w, flusher, NewRoleChunk(streamID, created, model)) {
					res.ClientGone = true
					res.Content = content.String()
					return res
				}
			}

		case FrameContent:
			delta := frame.Choices[0].Delta.Content
			content.WriteString(delta)
			if !r.writeChunk(w, flusher, NewContentChunk(streamID, created, model, delta)) {
				res.ClientGone = true
				res.Content = content.String()
				return res
			}

		case FrameFinish:
			// A terminal frame can still carry a trailing delta.
			if delta := frame.Choices[0].Delta.Content; delta != "" {
				content.WriteString(delta)
				if !r.writeChunk(w, flusher, NewContentChunk(streamID, created, model, delta)) {
					res.ClientGone = true
					res.Content = content.String()
					return res
				}
			}
			finished = true

		case FrameSkip:
		}
	}

	res.Content = content.String()

	if !finished {
		// Upstream closed without a terminal frame. The client already got
		// partial content, so finish the stream shape rather than erroring.
		r.logger.Warn("Stream ended without terminal frame", zap.String("stream_id", streamID))
	}

	if !r.writeChunk(w, flusher, NewFinishChunk(streamID, created, model, "stop")) {
		res.ClientGone = true
		return res
	}
	if !r.writeChunk(w, flusher, NewUsageChunk(streamID, created, model, res.Usage)) {
		res.ClientGone = true
		return res
	}
	r.writeRaw(w, flusher, "data: [DONE]\n\n")

	res.FinishReason = "stop"
	return res
}

// writeChunk marshals and writes one SSE data frame. A false return means
// the downstream write failed (client gone).
func (r *Relay) writeChunk(w http.ResponseWriter, flusher http.Flusher, chunk *entity.ChatStreamChunk) bool {
	payload, err := json.Marshal(chunk)
	if err != nil {
		r.logger.Error("Failed to marshal stream chunk", zap.Error(err))
		return false
	}
	return r.writeRaw(w, flusher, fmt.Sprintf("data: %s\n\n", payload))
}

// writeRaw writes and flushes one SSE block.
func (r *Relay) writeRaw(w http.ResponseWriter, flusher http.Flusher, block string) bool {
	if _, err := io.WriteString(w, block); err != nil {
		return false
	}
	if flusher != nil {
		flusher.Flush()
	}
	return true
}

// writeErrorFrame emits a mid-stream failure as an OpenAI error envelope
// inside the SSE channel.
func (r *Relay) writeErrorFrame(w http.ResponseWriter, flusher http.Flusher, cause error) {
	appErr, ok := domainErrors.AsApp(cause)
	if !ok {
		if ue, isUpstream := cause.(*qwen.UpstreamError); isUpstream {
			appErr = ue.AppError()
		} else {
			appErr = domainErrors.NewInternal("stream failed", cause)
		}
	}

	body := map[string]any{
		"error": map[string]any{
			"message": appErr.Message,
			"type":    appErr.Kind.OpenAIType(),
			"code":    appErr.Kind.OpenAICode(),
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return
	}
	r.writeRaw(w, flusher, fmt.Sprintf("data: %s\n\n", payload))
}
