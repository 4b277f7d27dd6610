package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"talksync/internal/comfy"
	"talksync/internal/domain"
	"talksync/internal/infra"
	"talksync/internal/media"
	"talksync/internal/workflow"
)

// Engine is the slice of the inference engine client the orchestrator
// depends on.
type Engine interface {
	OpenStream(ctx context.Context, clientID string) (EventStream, error)
	Submit(ctx context.Context, graph workflow.Graph, clientID string) (string, error)
	History(ctx context.Context, promptID string) (comfy.ArtifactSet, error)
}

// EventStream yields progress events for one submitted job.
type EventStream interface {
	Events(ctx context.Context, promptID string) <-chan comfy.Event
	Close() error
}

// NewEngine adapts the concrete engine client to the Engine interface.
func NewEngine(client *comfy.Client) Engine {
	return &comfyEngine{client: client}
}

type comfyEngine struct {
	client *comfy.Client
}

func (e *comfyEngine) OpenStream(ctx context.Context, clientID string) (EventStream, error) {
	stream, err := e.client.OpenStream(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (e *comfyEngine) Submit(ctx context.Context, graph workflow.Graph, clientID string) (string, error) {
	return e.client.Submit(ctx, graph, clientID)
}

func (e *comfyEngine) History(ctx context.Context, promptID string) (comfy.ArtifactSet, error) {
	return e.client.History(ctx, promptID)
}

// ProgressFunc observes monitoring events as they arrive. Optional.
type ProgressFunc func(comfy.Event)

// Orchestrator sequences one generation request end to end: resolve inputs,
// compute the frame budget, bind the mode-appropriate template, submit,
// monitor to a terminal state and retrieve artifacts. Each stage runs at
// most once per request; there is no automatic retry and no resubmission.
type Orchestrator struct {
	templates *workflow.Store
	resolver  *media.Resolver
	engine    Engine
	tempDir   string
	logger    infra.Logger
}

// New constructs an orchestrator.
func New(templates *workflow.Store, resolver *media.Resolver, engine Engine, tempDir string, logger infra.Logger) *Orchestrator {
	return &Orchestrator{
		templates: templates,
		resolver:  resolver,
		engine:    engine,
		tempDir:   tempDir,
		logger:    logger,
	}
}

// Run executes one request and always returns a TaskResult: every stage
// error is translated into a structured failure, never a raw fault. Only
// engine-produced artifacts appear in the result; resolved temporary inputs
// are removed before returning.
func (o *Orchestrator) Run(ctx context.Context, req *domain.TaskRequest, progress ProgressFunc) *domain.TaskResult {
	if err := req.Validate(); err != nil {
		return o.fail(domain.StageValidate, err)
	}

	clientID := uuid.NewString()
	taskDir := filepath.Join(o.tempDir, "task_"+clientID)
	defer os.RemoveAll(taskDir)

	logger := o.logger.With().Str("client_id", clientID).Str("mode", string(req.Mode())).Logger()

	mediaName, mediaFile := "image", "input_image.jpg"
	if req.Mode() == domain.ModeVideo {
		mediaName, mediaFile = "video", "input_video.mp4"
	}
	mediaInput, err := o.resolver.Resolve(ctx, mediaName, req.MediaRef(), taskDir, mediaFile)
	if err != nil {
		return o.fail(domain.StageResolve, err)
	}
	audioInput, err := o.resolver.Resolve(ctx, "wav", req.AudioRef(), taskDir, "input_audio.wav")
	if err != nil {
		return o.fail(domain.StageResolve, err)
	}

	frames, err := media.FrameBudget(audioInput.Path, req.MaxFrames)
	if err != nil {
		return o.fail(domain.StageFrames, err)
	}

	tpl, err := o.templates.Template(req.Mode())
	if err != nil {
		return o.fail(domain.StageBind, err)
	}
	job, err := workflow.Bind(tpl, workflow.Params{
		MediaPath: mediaInput.Path,
		AudioPath: audioInput.Path,
		Prompt:    req.Prompt,
		Width:     req.Width,
		Height:    req.Height,
		Frames:    frames,
		Offload:   req.ForceOffload,
	})
	if err != nil {
		return o.fail(domain.StageBind, err)
	}
	logger.Info().Int("frames", frames).Msg("orchestrator: job bound")

	// The stream opens before submission so no events are missed.
	stream, err := o.engine.OpenStream(ctx, clientID)
	if err != nil {
		return o.fail(domain.StageMonitor, err)
	}
	defer stream.Close()

	promptID, err := o.engine.Submit(ctx, job.Graph, clientID)
	if err != nil {
		return o.fail(domain.StageSubmit, err)
	}
	logger = logger.With().Str("prompt_id", promptID).Logger()

	terminal := o.monitor(ctx, stream, promptID, progress, logger)
	switch terminal.Kind {
	case comfy.EventCompleted:
		return o.fetch(ctx, promptID, logger)
	case comfy.EventFailed:
		logger.Warn().Str("detail", terminal.Detail).Msg("orchestrator: engine reported failure")
		return o.fail(domain.StageMonitor, domain.NewError(domain.CategoryExecutionFailed, terminal.Detail))
	default:
		// The channel dropped before a terminal event. The job's true state
		// is unknown; reconcile through history instead of resubmitting.
		logger.Warn().Str("detail", terminal.Detail).Msg("orchestrator: monitor disconnected, falling back to history")
		result := o.fetch(ctx, promptID, logger)
		if result.Succeeded() {
			return result
		}
		return o.fail(domain.StageMonitor, domain.NewError(domain.CategoryMonitorDisconnected,
			fmt.Sprintf("monitoring lost (%s) and history reconciliation failed: %s", terminal.Detail, result.Failure.Message)))
	}
}

// monitor consumes events until this handle's terminal event. A closed
// channel without one is treated as a disconnect.
func (o *Orchestrator) monitor(ctx context.Context, stream EventStream, promptID string, progress ProgressFunc, logger infra.Logger) comfy.Event {
	for evt := range stream.Events(ctx, promptID) {
		if progress != nil {
			progress(evt)
		}
		switch evt.Kind {
		case comfy.EventExecuting:
			logger.Debug().Str("node", evt.Node).Msg("orchestrator: executing node")
		case comfy.EventProgress:
			logger.Debug().Str("node", evt.Node).Int("value", evt.Value).Int("max", evt.Max).Msg("orchestrator: progress")
		}
		if evt.Terminal() {
			return evt
		}
	}
	return comfy.Event{Kind: comfy.EventDisconnected, PromptID: promptID, Detail: "event channel closed"}
}

func (o *Orchestrator) fetch(ctx context.Context, promptID string, logger infra.Logger) *domain.TaskResult {
	artifacts, err := o.engine.History(ctx, promptID)
	if err != nil {
		return o.fail(domain.StageFetch, err)
	}
	first, ok := artifacts.First()
	if !ok {
		return o.fail(domain.StageFetch, domain.NewError(domain.CategoryNotReady, "no output video produced"))
	}
	if _, err := os.Stat(first.Path); err != nil {
		return o.fail(domain.StageFetch, domain.NewError(domain.CategoryNotReady, "output video file not found: "+first.Path))
	}
	logger.Info().Str("artifact", first.Path).Msg("orchestrator: job completed")
	return &domain.TaskResult{Status: domain.TaskStatusCompleted, ArtifactPath: first.Path}
}

func (o *Orchestrator) fail(stage domain.Stage, err error) *domain.TaskResult {
	failure := &domain.TaskFailure{
		Stage:    stage,
		Category: domain.CategoryOf(err),
		Message:  domain.MessageOf(err),
	}
	o.logger.Error().Str("stage", string(stage)).Str("category", string(failure.Category)).Msg(failure.Message)
	return &domain.TaskResult{Status: domain.TaskStatusFailed, Failure: failure}
}
