package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"talksync/internal/domain"
)

// Node is a single operation inside an engine graph document.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Graph is the engine job document: node identifier to node descriptor. The
// service treats it as opaque except for the slots it is configured to bind.
type Graph map[string]Node

// Clone deep-copies the graph so binding never mutates a shared template.
func (g Graph) Clone() Graph {
	out := make(Graph, len(g))
	for id, node := range g {
		inputs := make(map[string]any, len(node.Inputs))
		for k, v := range node.Inputs {
			inputs[k] = cloneValue(v)
		}
		out[id] = Node{ClassType: node.ClassType, Inputs: inputs}
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// Param names the logical parameters a template can bind.
type Param string

const (
	ParamMedia   Param = "media"
	ParamAudio   Param = "audio"
	ParamPrompt  Param = "prompt"
	ParamWidth   Param = "width"
	ParamHeight  Param = "height"
	ParamFrames  Param = "frames"
	ParamOffload Param = "offload"
)

// Slot declares where one logical parameter lands in a graph: a node id plus
// an input field name. FallbackClass, when set, lets the slot resolve to the
// first node of that class type if the preferred id is absent from the
// template file.
type Slot struct {
	Node          string
	Field         string
	FallbackClass string
}

// Defaults carries per-template fallback values for optional parameters.
type Defaults struct {
	Width   int
	Height  int
	Prompt  string
	Offload bool
}

// Template pairs an immutable graph with the slot table describing how
// request parameters are injected. Templates are loaded once per process
// and cloned per job.
type Template struct {
	Mode     domain.GenerationMode
	Graph    Graph
	Slots    map[Param]Slot
	Defaults Defaults
}

// templateFiles maps each generation mode to its graph document on disk.
var templateFiles = map[domain.GenerationMode]string{
	domain.ModeImage: "I2V_single.json",
	domain.ModeVideo: "V2V_single.json",
}

// slotTable returns the binding targets for a mode. Adding a template is a
// data change here, not new binding logic.
func slotTable(mode domain.GenerationMode) map[Param]Slot {
	switch mode {
	case domain.ModeVideo:
		return map[Param]Slot{
			ParamMedia:   {Node: "278", Field: "video"},
			ParamAudio:   {Node: "125", Field: "audio"},
			ParamPrompt:  {Node: "241", Field: "positive_prompt"},
			ParamWidth:   {Node: "245", Field: "value"},
			ParamHeight:  {Node: "246", Field: "value"},
			ParamFrames:  {Node: "270", Field: "value"},
			ParamOffload: {Node: "128", Field: "force_offload", FallbackClass: "WanVideoSampler"},
		}
	default:
		return map[Param]Slot{
			ParamMedia:   {Node: "284", Field: "image"},
			ParamAudio:   {Node: "125", Field: "audio"},
			ParamPrompt:  {Node: "241", Field: "positive_prompt"},
			ParamWidth:   {Node: "245", Field: "value"},
			ParamHeight:  {Node: "246", Field: "value"},
			ParamFrames:  {Node: "270", Field: "value"},
			ParamOffload: {Node: "128", Field: "force_offload", FallbackClass: "WanVideoSampler"},
		}
	}
}

func defaultsFor(mode domain.GenerationMode) Defaults {
	if mode == domain.ModeVideo {
		return Defaults{Width: 640, Height: 640, Prompt: "A person talking naturally", Offload: true}
	}
	return Defaults{Width: 512, Height: 512, Prompt: "A person talking naturally", Offload: true}
}

// Store holds the parsed graph templates, one per generation mode.
type Store struct {
	templates map[domain.GenerationMode]*Template
}

// NewStore loads and validates every known template from dir. A slot that
// references a node missing from its graph is a configuration error and
// fails the whole load; requests never trip over it at runtime.
func NewStore(dir string) (*Store, error) {
	templates := make(map[domain.GenerationMode]*Template, len(templateFiles))
	for mode, filename := range templateFiles {
		path := filepath.Join(dir, filename)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("workflow: read template %s: %w", path, err)
		}
		var graph Graph
		if err := json.Unmarshal(raw, &graph); err != nil {
			return nil, fmt.Errorf("workflow: parse template %s: %w", path, err)
		}
		tpl := &Template{
			Mode:     mode,
			Graph:    graph,
			Slots:    slotTable(mode),
			Defaults: defaultsFor(mode),
		}
		if err := tpl.validate(); err != nil {
			return nil, fmt.Errorf("workflow: template %s: %w", filename, err)
		}
		templates[mode] = tpl
	}
	return &Store{templates: templates}, nil
}

// Template returns the template for the requested mode.
func (s *Store) Template(mode domain.GenerationMode) (*Template, error) {
	tpl, ok := s.templates[mode]
	if !ok {
		return nil, domain.NewError(domain.CategoryValidation, fmt.Sprintf("no workflow template for input_type %q", mode))
	}
	return tpl, nil
}

func (t *Template) validate() error {
	for param, slot := range t.Slots {
		if _, ok := t.resolveNode(t.Graph, slot); !ok {
			return fmt.Errorf("slot %s targets missing node %s (class %q)", param, slot.Node, slot.FallbackClass)
		}
	}
	return nil
}

// resolveNode locates the node a slot targets, trying the declared id first
// and falling back to a class-type scan. When a fallback class is declared,
// the preferred id must also carry that class.
func (t *Template) resolveNode(g Graph, slot Slot) (string, bool) {
	if node, ok := g[slot.Node]; ok {
		if slot.FallbackClass == "" || node.ClassType == slot.FallbackClass {
			return slot.Node, true
		}
	}
	if slot.FallbackClass == "" {
		return "", false
	}
	for id, node := range g {
		if node.ClassType == slot.FallbackClass {
			return id, true
		}
	}
	return "", false
}
