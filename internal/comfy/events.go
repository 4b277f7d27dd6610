package comfy

import "encoding/json"

// EventKind tags progress events observed on the engine's monitoring channel.
type EventKind string

const (
	EventQueued    EventKind = "queued"
	EventExecuting EventKind = "executing"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	// EventDisconnected is synthesized locally when the monitoring channel
	// drops before a terminal event. The job's true state on the engine is
	// unknown at that point; callers must reconcile via the history query.
	EventDisconnected EventKind = "disconnected"
)

// Event is one progress notification for a submitted job.
type Event struct {
	Kind     EventKind
	PromptID string
	Node     string
	Value    int
	Max      int
	// Detail carries the engine's failure message verbatim.
	Detail string
}

// Terminal reports whether the event ends monitoring for its handle.
// Completed and failed are mutually exclusive: whichever arrives first ends
// the stream, so a handle never reports both.
func (e Event) Terminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventFailed || e.Kind == EventDisconnected
}

type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type executingData struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

type progressData struct {
	Value    int    `json:"value"`
	Max      int    `json:"max"`
	Node     string `json:"node"`
	PromptID string `json:"prompt_id"`
}

type executionErrorData struct {
	PromptID         string `json:"prompt_id"`
	NodeID           string `json:"node_id"`
	NodeType         string `json:"node_type"`
	ExceptionMessage string `json:"exception_message"`
}

// parseEvent decodes one monitoring frame. Frames the protocol does not
// attribute to a job (global queue status, binary previews) return ok=false
// and are skipped by the stream.
func parseEvent(raw []byte) (Event, bool) {
	var msg wireMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Event{}, false
	}
	switch msg.Type {
	case "execution_start":
		var data executingData
		if err := json.Unmarshal(msg.Data, &data); err != nil || data.PromptID == "" {
			return Event{}, false
		}
		return Event{Kind: EventQueued, PromptID: data.PromptID}, true
	case "executing":
		var data executingData
		if err := json.Unmarshal(msg.Data, &data); err != nil || data.PromptID == "" {
			return Event{}, false
		}
		if data.Node == nil {
			// A null node marks the end of execution for this prompt.
			return Event{Kind: EventCompleted, PromptID: data.PromptID}, true
		}
		return Event{Kind: EventExecuting, PromptID: data.PromptID, Node: *data.Node}, true
	case "progress":
		var data progressData
		if err := json.Unmarshal(msg.Data, &data); err != nil || data.PromptID == "" {
			return Event{}, false
		}
		return Event{Kind: EventProgress, PromptID: data.PromptID, Node: data.Node, Value: data.Value, Max: data.Max}, true
	case "execution_success":
		var data executingData
		if err := json.Unmarshal(msg.Data, &data); err != nil || data.PromptID == "" {
			return Event{}, false
		}
		return Event{Kind: EventCompleted, PromptID: data.PromptID}, true
	case "execution_error":
		var data executionErrorData
		if err := json.Unmarshal(msg.Data, &data); err != nil || data.PromptID == "" {
			return Event{}, false
		}
		detail := data.ExceptionMessage
		if data.NodeID != "" {
			detail = "node " + data.NodeID + ": " + detail
		}
		return Event{Kind: EventFailed, PromptID: data.PromptID, Node: data.NodeID, Detail: detail}, true
	default:
		return Event{}, false
	}
}
