package handlers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"talksync/internal/domain"
)

type generateResponse struct {
	Status domain.TaskStatus `json:"status"`
	Video  string            `json:"video,omitempty"`
}

// Generate runs one request synchronously and returns the finished video
// inline. Waiting is bounded by SyncTimeout; hitting it abandons the wait,
// not the job, which keeps running on the engine.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	var req domain.TaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := req.Validate(); err != nil {
		a.failure(w, &domain.TaskFailure{
			Stage:    domain.StageValidate,
			Category: domain.CategoryOf(err),
			Message:  domain.MessageOf(err),
		})
		return
	}

	// The run is detached from the request context: a caller that gives up
	// must not cancel a job the engine has already accepted.
	runCtx := context.WithoutCancel(r.Context())
	done := make(chan *domain.TaskResult, 1)
	go func() { done <- a.Runner.Run(runCtx, &req, nil) }()

	timer := time.NewTimer(a.SyncTimeout)
	defer timer.Stop()

	select {
	case result := <-done:
		a.writeGenerateResult(w, result)
	case <-timer.C:
		go func() {
			result := <-done
			a.Logger.Warn().
				Str("status", string(result.Status)).
				Msg("handlers: abandoned synchronous job finished")
		}()
		a.error(w, http.StatusGatewayTimeout, string(domain.CategoryCallerTimeout),
			fmt.Sprintf("no result within %s; the job continues on the engine", a.SyncTimeout))
	}
}

func (a *App) writeGenerateResult(w http.ResponseWriter, result *domain.TaskResult) {
	if !result.Succeeded() {
		a.failure(w, result.Failure)
		return
	}
	data, err := os.ReadFile(result.ArtifactPath)
	if err != nil {
		a.error(w, http.StatusInternalServerError, "internal", "failed to read produced video")
		return
	}
	a.json(w, http.StatusOK, generateResponse{
		Status: domain.TaskStatusCompleted,
		Video:  base64.StdEncoding.EncodeToString(data),
	})
}
