package comfy

import (
	"context"

	"github.com/gorilla/websocket"

	"talksync/internal/infra"
)

// Stream is a live monitoring connection to the engine. One connection
// carries events for every job submitted under its client id; Events filters
// them down to a single handle. A stream is not restartable: once the
// connection drops, callers must reconcile through the history query instead
// of re-subscribing.
type Stream struct {
	conn   *websocket.Conn
	logger *infra.Logger
}

// Events consumes the connection and yields the events belonging to
// promptID, in arrival order. The channel closes after this handle's
// terminal event; terminal events for other handles sharing the connection
// are filtered out, not treated as this job's end. If the connection drops
// first, a single EventDisconnected is emitted before the channel closes.
func (s *Stream) Events(ctx context.Context, promptID string) <-chan Event {
	ch := make(chan Event, 16)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			// Unblocks the pending read. Monitoring is abandoned, not the
			// engine-side job.
			s.conn.Close()
		case <-done:
		}
	}()

	go func() {
		defer close(ch)
		defer close(done)
		for {
			msgType, raw, err := s.conn.ReadMessage()
			if err != nil {
				detail := err.Error()
				if ctx.Err() != nil {
					detail = ctx.Err().Error()
				}
				s.emit(ctx, ch, Event{Kind: EventDisconnected, PromptID: promptID, Detail: detail})
				return
			}
			if msgType != websocket.TextMessage {
				// Binary frames carry node previews; monitoring ignores them.
				continue
			}
			evt, ok := parseEvent(raw)
			if !ok || evt.PromptID != promptID {
				continue
			}
			if !s.emit(ctx, ch, evt) {
				return
			}
			if evt.Terminal() {
				return
			}
		}
	}()

	return ch
}

func (s *Stream) emit(ctx context.Context, ch chan<- Event, evt Event) bool {
	select {
	case ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.conn.Close()
}
