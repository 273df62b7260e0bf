package qwen

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"
)

// FrameReader reads an upstream SSE body and yields parsed frames.
// Lines are split on '\n' with the carry handled by the underlying buffered
// reader, so a JSON payload split across two network reads is never surfaced
// until it is complete. Single-frame parse failures are logged and skipped,
// not fatal to the stream.
type FrameReader struct {
	scanner *bufio.Scanner
	logger  *zap.Logger
}

var dataPrefix = []byte("data: ")

// NewFrameReader wraps an SSE body. idleTimeout bounds the gap between two
// reads; a stalled upstream surfaces as errStreamIdle.
func NewFrameReader(r io.Reader, idleTimeout time.Duration, logger *zap.Logger) *FrameReader {
	tr := &timedReader{r: r, timeout: idleTimeout}
	scanner := bufio.NewScanner(tr)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024) // 1MB max line

	return &FrameReader{scanner: scanner, logger: logger}
}

// Next returns the next parsed frame. io.EOF signals the orderly end of the
// stream (including the upstream [DONE] sentinel).
func (fr *FrameReader) Next() (*StreamFrame, error) {
	for fr.scanner.Scan() {
		line := bytes.TrimRight(fr.scanner.Bytes(), "\r")
		if !bytes.HasPrefix(line, dataPrefix) {
			continue
		}

		payload := bytes.TrimPrefix(line, dataPrefix)
		if len(bytes.TrimSpace(payload)) == 0 {
			continue
		}
		if bytes.Equal(payload, []byte("[DONE]")) {
			return nil, io.EOF
		}

		var frame StreamFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			fr.logger.Debug("Skip unparseable SSE frame", zap.Error(err))
			continue
		}
		return &frame, nil
	}

	if err := fr.scanner.Err(); err != nil {
		if isStreamIdleErr(err) {
			return nil, &UpstreamError{Tag: TagTimeout, Message: "stream idle timeout", Err: err}
		}
		return nil, &UpstreamError{Tag: TagTransient, Message: "stream read failed", Err: err}
	}
	return nil, io.EOF
}

// --- idle timeout support ---

var errStreamIdle = fmt.Errorf("SSE read idle timeout")

// timedReader wraps an io.Reader and applies a per-Read deadline.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errStreamIdle
	}
}

func isStreamIdleErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SSE read idle timeout")
}
