package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"talksync/internal/domain"
	"talksync/internal/infra"
	"talksync/internal/workflow"
)

// Options configures the engine client.
type Options struct {
	// BaseURL is the engine's HTTP control endpoint, e.g. http://127.0.0.1:8188.
	BaseURL string
	// WSURL is the engine's event channel, e.g. ws://127.0.0.1:8188/ws.
	WSURL             string
	HTTPClient        *http.Client
	Dialer            *websocket.Dialer
	Logger            *infra.Logger
	ReadyPollInterval time.Duration
	ReadyTimeout      time.Duration
}

// Client owns all interaction with the inference engine's job lifecycle:
// readiness, submission, progress monitoring and artifact retrieval.
type Client struct {
	baseURL           string
	wsURL             string
	httpClient        *http.Client
	dialer            *websocket.Dialer
	logger            *infra.Logger
	readyPollInterval time.Duration
	readyTimeout      time.Duration
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
			HandshakeTimeout: 10 * time.Second,
		}
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.NopLogger()
		logger = &l
	}
	pollInterval := opts.ReadyPollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	readyTimeout := opts.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = 3 * time.Minute
	}
	return &Client{
		baseURL:           strings.TrimRight(opts.BaseURL, "/"),
		wsURL:             opts.WSURL,
		httpClient:        httpClient,
		dialer:            dialer,
		logger:            logger,
		readyPollInterval: pollInterval,
		readyTimeout:      readyTimeout,
	}
}

// WaitReady polls the engine's control port on a fixed interval until it
// accepts connections, up to the configured wall-clock ceiling. No job may
// be submitted before this returns nil. After the ceiling it fails fatally
// for the caller.
func (c *Client) WaitReady(ctx context.Context) error {
	deadline := time.Now().Add(c.readyTimeout)
	attempt := 0
	for {
		attempt++
		if err := c.probe(ctx); err == nil {
			c.logger.Info().Int("attempt", attempt).Msg("comfy: engine ready")
			return nil
		} else if ctx.Err() != nil {
			return domain.WrapError(domain.CategoryEngineNotReady, "readiness check cancelled", ctx.Err())
		}

		if time.Now().After(deadline) {
			return domain.NewError(domain.CategoryEngineNotReady,
				fmt.Sprintf("engine not ready after %s (%d attempts)", c.readyTimeout, attempt))
		}
		c.logger.Debug().Int("attempt", attempt).Msg("comfy: engine not ready, retrying")

		select {
		case <-ctx.Done():
			return domain.WrapError(domain.CategoryEngineNotReady, "readiness check cancelled", ctx.Err())
		case <-time.After(c.readyPollInterval):
		}
	}
}

func (c *Client) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= 500 {
		return fmt.Errorf("engine status %d", resp.StatusCode)
	}
	return nil
}

type submitRequest struct {
	Prompt   workflow.Graph `json:"prompt"`
	ClientID string         `json:"client_id"`
}

type submitResponse struct {
	PromptID string `json:"prompt_id"`
}

// Submit issues the bound job to the engine and returns the prompt id used
// to correlate all subsequent events and history queries. Engine-side
// validation errors are surfaced verbatim, not swallowed.
func (c *Client) Submit(ctx context.Context, graph workflow.Graph, clientID string) (string, error) {
	body, err := json.Marshal(submitRequest{Prompt: graph, ClientID: clientID})
	if err != nil {
		return "", domain.WrapError(domain.CategoryInternal, "encode job", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", domain.WrapError(domain.CategoryInternal, "build submit request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.WrapError(domain.CategoryInternal, "submit job", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.WrapError(domain.CategoryInternal, "read submit response", err)
	}
	if resp.StatusCode >= 300 {
		return "", domain.NewError(domain.CategorySubmitRejected,
			fmt.Sprintf("engine rejected job (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw))))
	}

	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", domain.WrapError(domain.CategoryInternal, "decode submit response", err)
	}
	if decoded.PromptID == "" {
		return "", domain.NewError(domain.CategorySubmitRejected, "engine returned no prompt id")
	}
	c.logger.Info().Str("prompt_id", decoded.PromptID).Msg("comfy: job submitted")
	return decoded.PromptID, nil
}

// OpenStream dials the engine's event channel for the given client id. The
// stream should be open before submission so no events are missed.
func (c *Client) OpenStream(ctx context.Context, clientID string) (*Stream, error) {
	url := c.wsURL + "?clientId=" + clientID
	conn, resp, err := c.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, domain.WrapError(domain.CategoryMonitorDisconnected, "connect event channel", err)
	}
	c.logger.Debug().Str("client_id", clientID).Msg("comfy: event channel open")
	return &Stream{conn: conn, logger: c.logger}, nil
}

// Artifact is one file produced by a graph node.
type Artifact struct {
	Filename string
	Path     string
}

// ArtifactSet maps node identifiers to the files they produced. Retrieved
// once after a terminal success event; immutable thereafter.
type ArtifactSet map[string][]Artifact

// First returns the first artifact in node-id order, so results are stable
// across calls.
func (a ArtifactSet) First() (Artifact, bool) {
	ids := make([]string, 0, len(a))
	for id := range a {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if len(a[id]) > 0 {
			return a[id][0], true
		}
	}
	return Artifact{}, false
}

type historyFile struct {
	Filename string `json:"filename"`
	Fullpath string `json:"fullpath"`
}

type historyOutput struct {
	Gifs []historyFile `json:"gifs"`
}

type historyEntry struct {
	Outputs map[string]historyOutput `json:"outputs"`
}

// History queries the engine's execution record for the handle and maps the
// produced files back to their nodes. It is also the reconciliation path
// when the monitoring channel drops: a dropped connection does not change
// the job's true state on the engine side.
func (c *Client) History(ctx context.Context, promptID string) (ArtifactSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+promptID, nil)
	if err != nil {
		return nil, domain.WrapError(domain.CategoryHistoryUnavailable, "build history request", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.WrapError(domain.CategoryHistoryUnavailable, "query history", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, domain.NewError(domain.CategoryHistoryUnavailable, fmt.Sprintf("history status %d", resp.StatusCode))
	}

	var entries map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, domain.WrapError(domain.CategoryHistoryUnavailable, "decode history", err)
	}
	entry, ok := entries[promptID]
	if !ok {
		return nil, domain.NewError(domain.CategoryNotReady, fmt.Sprintf("no history record for %s", promptID))
	}

	artifacts := make(ArtifactSet, len(entry.Outputs))
	for nodeID, output := range entry.Outputs {
		files := make([]Artifact, 0, len(output.Gifs))
		for _, f := range output.Gifs {
			if f.Fullpath == "" {
				continue
			}
			files = append(files, Artifact{Filename: f.Filename, Path: f.Fullpath})
		}
		artifacts[nodeID] = files
	}
	return artifacts, nil
}
