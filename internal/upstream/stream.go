package upstream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"wardwatch/internal/model"
)

// EventSink receives every event successfully decoded off the stream. It is
// called from the reader goroutine and must not block.
type EventSink func(model.Event)

// StreamClient owns exactly one live SSE connection to the upstream push
// endpoint. Incoming frames are decoded strictly; a malformed frame is
// logged and dropped while the connection stays up. Decoded events land in
// a bounded newest-first buffer (a rolling display window, not a ledger:
// re-delivered events are kept as-is, the snapshot poller remains the
// durable source of truth).
//
// Transport-level failures terminate the connection and surface on Err();
// the client never reconnects on its own. The owning scope decides whether
// and when to open a new one.
type StreamClient struct {
	url     string
	maxSize int
	sink    EventSink
	logger  *zap.Logger

	mu     sync.Mutex
	buffer []model.Event

	cancel    context.CancelFunc
	errCh     chan error
	done      chan struct{}
	closeOnce sync.Once
}

// OpenStream dials the push endpoint and starts consuming frames. The
// bearer token is attached when present; an empty token opens the stream
// unauthenticated. The connection is established synchronously so a refused
// dial or a non-200 handshake fails here, not later on Err().
func OpenStream(ctx context.Context, streamURL, token string, maxSize int, sink EventSink, logger *zap.Logger) (*StreamClient, error) {
	if maxSize <= 0 {
		maxSize = 50
	}

	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, streamURL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	// No client timeout: the connection is long-lived by design. Teardown
	// happens through context cancellation.
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, &HTTPError{Status: resp.StatusCode}
	}

	c := &StreamClient{
		url:     streamURL,
		maxSize: maxSize,
		sink:    sink,
		logger:  logger,
		cancel:  cancel,
		errCh:   make(chan error, 1),
		done:    make(chan struct{}),
	}

	go c.readLoop(resp)

	logger.Info("event stream opened", zap.String("url", streamURL), zap.Bool("authenticated", token != ""))
	return c, nil
}

// Events returns a copy of the rolling buffer, newest first
func (c *StreamClient) Events() []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Event, len(c.buffer))
	copy(out, c.buffer)
	return out
}

// Clear empties the buffer without touching the connection
func (c *StreamClient) Clear() {
	c.mu.Lock()
	c.buffer = nil
	c.mu.Unlock()
	c.logger.Debug("recent event buffer cleared")
}

// Err yields at most one terminal transport error. The channel is closed
// without a value on clean shutdown.
func (c *StreamClient) Err() <-chan error {
	return c.errCh
}

// Done is closed once the reader goroutine has fully exited
func (c *StreamClient) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down. Idempotent; safe to call from any
// goroutine and on every exit path of the owner.
func (c *StreamClient) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
	})
}

func (c *StreamClient) readLoop(resp *http.Response) {
	defer close(c.done)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()

		// Blank line terminates one SSE frame
		if line == "" {
			if data.Len() > 0 {
				c.handleFrame(data.String())
				data.Reset()
			}
			continue
		}
		// Comments and non-data fields (event:, id:, retry:) are skipped
		if strings.HasPrefix(line, ":") {
			continue
		}
		if payload, ok := strings.CutPrefix(line, "data:"); ok {
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(payload, " "))
		}
	}
	// Trailing frame without a final blank line
	if data.Len() > 0 {
		c.handleFrame(data.String())
	}

	if err := scanner.Err(); err != nil && !isCanceled(err) {
		c.logger.Error("event stream transport error", zap.Error(err))
		select {
		case c.errCh <- err:
		default:
		}
	}
	close(c.errCh)
	c.Close()
	c.logger.Info("event stream closed", zap.String("url", c.url))
}

func (c *StreamClient) handleFrame(payload string) {
	ev, err := model.DecodeEvent([]byte(payload))
	if err != nil {
		// One bad frame must never take the connection down
		c.logger.Warn("dropping malformed stream frame", zap.Error(err))
		return
	}

	c.mu.Lock()
	c.buffer = append([]model.Event{ev}, c.buffer...)
	if len(c.buffer) > c.maxSize {
		c.buffer = c.buffer[:c.maxSize]
	}
	c.mu.Unlock()

	if c.sink != nil {
		c.sink(ev)
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || strings.Contains(err.Error(), "context canceled")
}
