package workflow

import (
	"fmt"

	"talksync/internal/domain"
)

// Params carries the concrete values bound into one job. MediaPath and
// AudioPath are local files produced by the input resolver; Frames comes
// from the frame budget calculator. Zero-valued optional fields fall back to
// the template defaults.
type Params struct {
	MediaPath string
	AudioPath string
	Prompt    string
	Width     int
	Height    int
	Frames    int
	Offload   *bool
}

// Job is a bound graph instance, submitted exactly once and then discarded.
type Job struct {
	Mode  domain.GenerationMode
	Graph Graph
}

// Bind writes each parameter into its declared slot on a private copy of the
// template graph. Binding is all-or-nothing: if any declared slot lacks a
// value, no job is produced.
func Bind(tpl *Template, p Params) (*Job, error) {
	values := map[Param]any{
		ParamMedia:   p.MediaPath,
		ParamAudio:   p.AudioPath,
		ParamPrompt:  orDefault(p.Prompt, tpl.Defaults.Prompt),
		ParamWidth:   orDefaultInt(p.Width, tpl.Defaults.Width),
		ParamHeight:  orDefaultInt(p.Height, tpl.Defaults.Height),
		ParamFrames:  p.Frames,
		ParamOffload: orDefaultBool(p.Offload, tpl.Defaults.Offload),
	}

	// Validate every slot before touching the graph.
	for param := range tpl.Slots {
		value, ok := values[param]
		if !ok {
			return nil, domain.NewError(domain.CategoryBinding, fmt.Sprintf("no value for slot %q", param))
		}
		if empty(value) {
			return nil, domain.NewError(domain.CategoryBinding, fmt.Sprintf("missing value for slot %q", param))
		}
	}

	graph := tpl.Graph.Clone()
	for param, slot := range tpl.Slots {
		id, ok := tpl.resolveNode(graph, slot)
		if !ok {
			return nil, domain.NewError(domain.CategoryBinding, fmt.Sprintf("slot %q targets missing node %s", param, slot.Node))
		}
		node := graph[id]
		if node.Inputs == nil {
			node.Inputs = make(map[string]any)
			graph[id] = node
		}
		node.Inputs[slot.Field] = values[param]
	}

	return &Job{Mode: tpl.Mode, Graph: graph}, nil
}

func empty(v any) bool {
	switch val := v.(type) {
	case string:
		return val == ""
	case int:
		return val <= 0
	default:
		return v == nil
	}
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}

func orDefaultInt(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func orDefaultBool(v *bool, fallback bool) bool {
	if v != nil {
		return *v
	}
	return fallback
}
