package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"mcpgate/pkg/logging"
)

const streamBufferSize = 32 << 10

// ServeStream relays a streaming Response to w. Chunks are flushed as they
// arrive. The stream ends cleanly at EOF, after StreamIdleTimeout without
// data, or when ctx is cancelled. An upstream read error is reported to the
// client as an "error" event and returned wrapped in ErrStream.
func (p *Proxy) ServeStream(ctx context.Context, w http.ResponseWriter, resp *Response) error {
	if !resp.IsStream() {
		return fmt.Errorf("response is not a stream")
	}
	defer resp.Stream.Close()

	for name, values := range resp.Header {
		w.Header()[name] = values
	}
	w.WriteHeader(resp.StatusCode)

	rc := http.NewResponseController(w)
	flush := func() {
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			logging.Debug("Proxy", "Flush failed for %s: %v", resp.service, err)
		}
	}
	flush()

	var out io.Writer = w
	var rewriter *EndpointRewriter
	if resp.eventStream {
		rewriter = NewEndpointRewriter(w, p.publicURL, resp.service, resp.upstreamURL)
		out = rewriter
	}

	var idle atomic.Bool
	timer := time.AfterFunc(p.streamIdleTimeout, func() {
		idle.Store(true)
		resp.Stream.Close()
	})
	defer timer.Stop()

	stop := context.AfterFunc(ctx, func() { resp.Stream.Close() })
	defer stop()

	logging.Debug("Proxy", "Streaming response for %s", resp.service)

	buf := make([]byte, streamBufferSize)
	for {
		n, readErr := resp.Stream.Read(buf)
		if n > 0 {
			timer.Reset(p.streamIdleTimeout)
			if _, err := out.Write(buf[:n]); err != nil {
				logging.Debug("Proxy", "Client write failed for %s: %v", resp.service, err)
				return nil
			}
			flush()
		}
		if readErr == nil {
			continue
		}

		if rewriter != nil {
			if err := rewriter.Flush(); err != nil {
				return nil
			}
			flush()
		}

		switch {
		case errors.Is(readErr, io.EOF):
			logging.Debug("Proxy", "Upstream stream for %s ended", resp.service)
			return nil
		case idle.Load():
			logging.Info("Proxy", "Closing stream for %s after %v of inactivity", resp.service, p.streamIdleTimeout)
			return nil
		case ctx.Err() != nil:
			logging.Debug("Proxy", "Client disconnected from %s stream", resp.service)
			return nil
		}

		streamErr := fmt.Errorf("%w: %s: %w", ErrStream, resp.service, readErr)
		logging.Error("Proxy", streamErr, "Stream relay failed")
		writeErrorEvent(w, readErr)
		flush()
		return streamErr
	}
}

func writeErrorEvent(w io.Writer, cause error) {
	payload, _ := json.Marshal(map[string]string{
		"error":   "stream_error",
		"message": cause.Error(),
	})
	fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
}
