package handlers_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"talksync/internal/domain"
	"talksync/internal/http/handlers"
	"talksync/internal/http/httpapi"
	"talksync/internal/infra"
	"talksync/internal/orchestrator"
	"talksync/internal/storage"
)

type fakeRunner struct {
	result *domain.TaskResult
	delay  time.Duration
	gotCtx context.Context
	done   chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context, req *domain.TaskRequest, progress orchestrator.ProgressFunc) *domain.TaskResult {
	f.gotCtx = ctx
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.done != nil {
		defer close(f.done)
	}
	return f.result
}

type fakeTaskStore struct {
	enqueued map[string][]byte
	tasks    map[string]*domain.Task
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{enqueued: map[string][]byte{}, tasks: map[string]*domain.Task{}}
}

func (f *fakeTaskStore) Enqueue(ctx context.Context, id string, request []byte) error {
	f.enqueued[id] = request
	return nil
}

func (f *fakeTaskStore) Get(ctx context.Context, id string) (*domain.Task, error) {
	task, ok := f.tasks[id]
	if !ok {
		return nil, domain.NewError(domain.CategoryNotFound, "task not found: "+id)
	}
	return task, nil
}

func newTestServer(t *testing.T, runner handlers.JobRunner, store handlers.TaskStore, syncTimeout time.Duration) (*httptest.Server, *storage.FileStore) {
	t.Helper()
	files, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	app := &handlers.App{
		Runner:      runner,
		Tasks:       store,
		Files:       files,
		Logger:      infra.NopLogger(),
		SyncTimeout: syncTimeout,
	}
	cfg := &infra.Config{}
	server := httptest.NewServer(httpapi.NewRouter(app, cfg, infra.NopLogger()))
	t.Cleanup(server.Close)
	return server, files
}

func validRequestBody() string {
	return `{"image_base64":"anBlZy1ieXRlcw==","wav_path":"/data/speech.wav"}`
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestGenerateReturnsVideoInline(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "out.mp4")
	if err := os.WriteFile(artifact, []byte("mp4-bytes"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	runner := &fakeRunner{result: &domain.TaskResult{Status: domain.TaskStatusCompleted, ArtifactPath: artifact}}
	server, _ := newTestServer(t, runner, newFakeTaskStore(), time.Second)

	resp := postJSON(t, server.URL+"/v1/generate", validRequestBody())
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Status domain.TaskStatus `json:"status"`
		Video  string            `json:"video"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != domain.TaskStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED", body.Status)
	}
	decoded, err := base64.StdEncoding.DecodeString(body.Video)
	if err != nil || string(decoded) != "mp4-bytes" {
		t.Fatalf("video = %q, %v", decoded, err)
	}
}

func TestGenerateRejectsAmbiguousInput(t *testing.T) {
	server, _ := newTestServer(t, &fakeRunner{}, newFakeTaskStore(), time.Second)

	resp := postJSON(t, server.URL+"/v1/generate",
		`{"image_path":"/a.jpg","image_base64":"aW5saW5l","wav_path":"/a.wav"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}

	var body struct {
		Status string              `json:"status"`
		Error  *domain.TaskFailure `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error == nil || body.Error.Category != domain.CategoryValidation {
		t.Fatalf("error = %+v, want validation failure", body.Error)
	}
}

func TestGenerateMapsFailureCategoriesToStatusCodes(t *testing.T) {
	cases := []struct {
		category domain.ErrorCategory
		want     int
	}{
		{domain.CategoryResolution, http.StatusUnprocessableEntity},
		{domain.CategoryAudioDecode, http.StatusUnprocessableEntity},
		{domain.CategoryExecutionFailed, http.StatusBadGateway},
		{domain.CategorySubmitRejected, http.StatusBadGateway},
		{domain.CategoryInternal, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		runner := &fakeRunner{result: &domain.TaskResult{
			Status:  domain.TaskStatusFailed,
			Failure: &domain.TaskFailure{Stage: domain.StageMonitor, Category: tc.category, Message: "boom"},
		}}
		server, _ := newTestServer(t, runner, newFakeTaskStore(), time.Second)

		resp := postJSON(t, server.URL+"/v1/generate", validRequestBody())
		if resp.StatusCode != tc.want {
			t.Fatalf("category %s: status = %d, want %d", tc.category, resp.StatusCode, tc.want)
		}
	}
}

func TestGenerateTimeoutAbandonsWaitNotJob(t *testing.T) {
	artifact := filepath.Join(t.TempDir(), "out.mp4")
	if err := os.WriteFile(artifact, []byte("mp4-bytes"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	runner := &fakeRunner{
		result: &domain.TaskResult{Status: domain.TaskStatusCompleted, ArtifactPath: artifact},
		delay:  300 * time.Millisecond,
		done:   make(chan struct{}),
	}
	server, _ := newTestServer(t, runner, newFakeTaskStore(), 50*time.Millisecond)

	resp := postJSON(t, server.URL+"/v1/generate", validRequestBody())
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504", resp.StatusCode)
	}

	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != string(domain.CategoryCallerTimeout) {
		t.Fatalf("code = %q, want caller_timeout", body.Error.Code)
	}

	// The run must finish after the caller has gone, on an uncancelled
	// context.
	select {
	case <-runner.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("abandoned run never finished")
	}
	if runner.gotCtx.Err() != nil {
		t.Fatalf("run context cancelled by caller timeout: %v", runner.gotCtx.Err())
	}
}

func TestGenerateRejectsMalformedJSON(t *testing.T) {
	server, _ := newTestServer(t, &fakeRunner{}, newFakeTaskStore(), time.Second)

	resp := postJSON(t, server.URL+"/v1/generate", "{not json")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
