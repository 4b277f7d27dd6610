package workflow

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"talksync/internal/domain"
)

func testGraph() Graph {
	return Graph{
		"284": {ClassType: "LoadImage", Inputs: map[string]any{"image": ""}},
		"278": {ClassType: "VHS_LoadVideo", Inputs: map[string]any{"video": ""}},
		"125": {ClassType: "LoadAudio", Inputs: map[string]any{"audio": ""}},
		"241": {ClassType: "WanVideoTextEncode", Inputs: map[string]any{"positive_prompt": "", "negative_prompt": "static"}},
		"245": {ClassType: "INTConstant", Inputs: map[string]any{"value": 512}},
		"246": {ClassType: "INTConstant", Inputs: map[string]any{"value": 512}},
		"270": {ClassType: "INTConstant", Inputs: map[string]any{"value": 81}},
		"128": {ClassType: "WanVideoSampler", Inputs: map[string]any{"steps": 4, "model": []any{"122", 0}}},
		"131": {ClassType: "VHS_VideoCombine", Inputs: map[string]any{"frame_rate": 25}},
	}
}

func writeTemplates(t *testing.T, graph Graph) string {
	t.Helper()
	dir := t.TempDir()
	raw, err := json.Marshal(graph)
	if err != nil {
		t.Fatalf("marshal graph: %v", err)
	}
	for _, name := range []string{"I2V_single.json", "V2V_single.json"} {
		if err := os.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
			t.Fatalf("write template %s: %v", name, err)
		}
	}
	return dir
}

func TestStoreLoadsTemplatesForBothModes(t *testing.T) {
	dir := writeTemplates(t, testGraph())
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for _, mode := range []domain.GenerationMode{domain.ModeImage, domain.ModeVideo} {
		tpl, err := store.Template(mode)
		if err != nil {
			t.Fatalf("template %s: %v", mode, err)
		}
		if tpl.Mode != mode {
			t.Fatalf("mode = %s, want %s", tpl.Mode, mode)
		}
		if len(tpl.Graph) != len(testGraph()) {
			t.Fatalf("graph nodes = %d, want %d", len(tpl.Graph), len(testGraph()))
		}
	}
}

func TestStoreRejectsTemplateMissingSlotNode(t *testing.T) {
	graph := testGraph()
	delete(graph, "270")
	dir := writeTemplates(t, graph)
	if _, err := NewStore(dir); err == nil {
		t.Fatalf("expected configuration error for missing frames node")
	}
}

func TestStoreRejectsUnparseableTemplate(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"I2V_single.json", "V2V_single.json"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{not json"), 0o644); err != nil {
			t.Fatalf("write template: %v", err)
		}
	}
	if _, err := NewStore(dir); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestResolveNodeFallsBackToClassType(t *testing.T) {
	graph := testGraph()
	// Move the sampler away from its preferred id.
	graph["301"] = graph["128"]
	delete(graph, "128")
	tpl := &Template{Mode: domain.ModeImage, Graph: graph, Slots: slotTable(domain.ModeImage), Defaults: defaultsFor(domain.ModeImage)}
	id, ok := tpl.resolveNode(graph, tpl.Slots[ParamOffload])
	if !ok {
		t.Fatalf("expected fallback resolution")
	}
	if id != "301" {
		t.Fatalf("resolved node = %s, want 301", id)
	}
}

func TestResolveNodeRequiresDeclaredClassOnPreferredID(t *testing.T) {
	graph := testGraph()
	// Preferred id exists but with the wrong class; the real sampler lives
	// elsewhere.
	graph["128"] = Node{ClassType: "SomethingElse", Inputs: map[string]any{}}
	graph["412"] = Node{ClassType: "WanVideoSampler", Inputs: map[string]any{}}
	tpl := &Template{Mode: domain.ModeImage, Graph: graph, Slots: slotTable(domain.ModeImage), Defaults: defaultsFor(domain.ModeImage)}
	id, ok := tpl.resolveNode(graph, tpl.Slots[ParamOffload])
	if !ok {
		t.Fatalf("expected resolution via class scan")
	}
	if id != "412" {
		t.Fatalf("resolved node = %s, want 412", id)
	}
}

func TestGraphCloneIsDeep(t *testing.T) {
	g := testGraph()
	clone := g.Clone()
	clone["128"].Inputs["steps"] = 99
	if g["128"].Inputs["steps"] == 99 {
		t.Fatalf("clone mutated the source graph")
	}
	wiring := clone["128"].Inputs["model"].([]any)
	wiring[0] = "999"
	if g["128"].Inputs["model"].([]any)[0] == "999" {
		t.Fatalf("clone shares nested slices with the source graph")
	}
}
