package comfy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsScript serves a websocket endpoint that plays the given frames in order.
// A frame starting with "binary:" is sent as a binary message; "close" drops
// the connection without a closing handshake.
func wsScript(t *testing.T, frames []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		for _, frame := range frames {
			switch {
			case frame == "close":
				conn.Close()
				return
			case strings.HasPrefix(frame, "binary:"):
				if err := conn.WriteMessage(websocket.BinaryMessage, []byte(frame)); err != nil {
					return
				}
			default:
				if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
					return
				}
			}
		}
		// Hold the connection open so the reader, not the server, decides
		// when monitoring ends.
		time.Sleep(2 * time.Second)
		conn.Close()
	}))
}

func dialScript(t *testing.T, server *httptest.Server) *Stream {
	t.Helper()
	client := testClient(server.URL)
	client.wsURL = "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	stream, err := client.OpenStream(context.Background(), "client-1")
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { stream.Close() })
	return stream
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(3 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, evt)
		case <-timeout:
			t.Fatalf("timed out waiting for events; got %+v", events)
		}
	}
}

func TestStreamDemultiplexesByHandle(t *testing.T) {
	frames := []string{
		`{"type":"status","data":{"status":{"exec_info":{"queue_remaining":2}}}}`,
		`{"type":"execution_start","data":{"prompt_id":"A"}}`,
		`{"type":"executing","data":{"node":"284","prompt_id":"A"}}`,
		`{"type":"executing","data":{"node":"9","prompt_id":"B"}}`,
		`{"type":"progress","data":{"value":1,"max":4,"node":"128","prompt_id":"A"}}`,
		// B reaches its terminal event first; A's monitor must not stop here.
		`{"type":"executing","data":{"node":null,"prompt_id":"B"}}`,
		`{"type":"progress","data":{"value":4,"max":4,"node":"128","prompt_id":"A"}}`,
		`{"type":"executing","data":{"node":null,"prompt_id":"A"}}`,
	}
	server := wsScript(t, frames)
	defer server.Close()

	stream := dialScript(t, server)
	events := collect(t, stream.Events(context.Background(), "A"))

	wantKinds := []EventKind{EventQueued, EventExecuting, EventProgress, EventProgress, EventCompleted}
	if len(events) != len(wantKinds) {
		t.Fatalf("events = %d, want %d: %+v", len(events), len(wantKinds), events)
	}
	for i, kind := range wantKinds {
		if events[i].Kind != kind {
			t.Fatalf("event[%d].Kind = %s, want %s", i, events[i].Kind, kind)
		}
		if events[i].PromptID != "A" {
			t.Fatalf("event[%d] leaked handle %s", i, events[i].PromptID)
		}
	}
}

func TestStreamFailureCarriesEngineDetail(t *testing.T) {
	frames := []string{
		`{"type":"executing","data":{"node":"128","prompt_id":"A"}}`,
		`{"type":"execution_error","data":{"prompt_id":"A","node_id":"128","node_type":"WanVideoSampler","exception_message":"Allocation on device 0 would exceed allowed memory"}}`,
	}
	server := wsScript(t, frames)
	defer server.Close()

	stream := dialScript(t, server)
	events := collect(t, stream.Events(context.Background(), "A"))

	last := events[len(events)-1]
	if last.Kind != EventFailed {
		t.Fatalf("terminal kind = %s, want failed", last.Kind)
	}
	if !strings.Contains(last.Detail, "Allocation on device 0 would exceed allowed memory") {
		t.Fatalf("engine detail lost: %q", last.Detail)
	}
	if !strings.Contains(last.Detail, "node 128") {
		t.Fatalf("failing node missing from detail: %q", last.Detail)
	}
}

func TestStreamDisconnectEmitsDisconnectedOnce(t *testing.T) {
	frames := []string{
		`{"type":"executing","data":{"node":"284","prompt_id":"A"}}`,
		"close",
	}
	server := wsScript(t, frames)
	defer server.Close()

	stream := dialScript(t, server)
	events := collect(t, stream.Events(context.Background(), "A"))

	if len(events) != 2 {
		t.Fatalf("events = %d, want 2: %+v", len(events), events)
	}
	if events[0].Kind != EventExecuting {
		t.Fatalf("first kind = %s, want executing", events[0].Kind)
	}
	if events[1].Kind != EventDisconnected {
		t.Fatalf("second kind = %s, want disconnected", events[1].Kind)
	}
}

func TestStreamIgnoresBinaryAndForeignFrames(t *testing.T) {
	frames := []string{
		"binary:preview-bytes",
		`{"type":"crystools.monitor","data":{"cpu_utilization":12}}`,
		`{"type":"executing","data":{"node":null,"prompt_id":"A"}}`,
	}
	server := wsScript(t, frames)
	defer server.Close()

	stream := dialScript(t, server)
	events := collect(t, stream.Events(context.Background(), "A"))

	if len(events) != 1 || events[0].Kind != EventCompleted {
		t.Fatalf("events = %+v, want single completed", events)
	}
}

func TestStreamStopsWhenContextCancelled(t *testing.T) {
	// No terminal frame ever arrives for A.
	frames := []string{
		`{"type":"executing","data":{"node":"284","prompt_id":"A"}}`,
	}
	server := wsScript(t, frames)
	defer server.Close()

	stream := dialScript(t, server)
	ctx, cancel := context.WithCancel(context.Background())
	ch := stream.Events(ctx, "A")

	select {
	case evt := <-ch:
		if evt.Kind != EventExecuting {
			t.Fatalf("kind = %s, want executing", evt.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no executing event")
	}

	cancel()
	events := collect(t, ch)
	if len(events) > 1 {
		t.Fatalf("unexpected events after cancel: %+v", events)
	}
	if len(events) == 1 && events[0].Kind != EventDisconnected {
		t.Fatalf("post-cancel kind = %s, want disconnected", events[0].Kind)
	}
}
