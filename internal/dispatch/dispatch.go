// Package dispatch triggers GitHub Actions workflow runs for verified
// webhook events. One call, one workflow_dispatch; the triggered run's
// completion is never awaited.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/parishworks/hookgate/internal/config"
)

const (
	defaultBaseURL = "https://api.github.com"

	// Connect fast, allow the API time to answer.
	connectTimeout = 5 * time.Second
	requestTimeout = 30 * time.Second

	maxErrorBodyBytes = 4 * 1024
)

// Result is the outcome of a dispatch attempt. GitHub acknowledges
// workflow_dispatch asynchronously, so a success carries no run id.
type Result struct {
	Success bool
	RunID   string
	Error   string
}

// Client triggers workflow_dispatch against one configured repository.
type Client struct {
	cfg     config.DispatchConfig
	client  *http.Client
	baseURL string
	logger  *slog.Logger
}

// New creates a dispatch client. No hidden globals: the HTTP client is
// constructed here, once, and owned by this Client.
func New(cfg config.DispatchConfig, logger *slog.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		TLSHandshakeTimeout: connectTimeout,
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   requestTimeout,
		},
		baseURL: defaultBaseURL,
		logger:  logger,
	}
}

type dispatchBody struct {
	Ref    string            `json:"ref"`
	Inputs map[string]string `json:"inputs"`
}

// Dispatch triggers one workflow run, passing the originating source as a
// workflow input so the downstream job can run a targeted subset of work.
// Missing configuration fails fast with a descriptive error before any
// network call. Never returns an error: failures are typed into the Result.
func (c *Client) Dispatch(ctx context.Context, triggeredBy string) Result {
	if c.cfg.Repository == "" {
		return Result{Error: "workflow dispatch is not configured: missing target repository"}
	}
	if c.cfg.Token == "" {
		return Result{Error: "workflow dispatch is not configured: missing GitHub token"}
	}

	url := fmt.Sprintf("%s/repos/%s/actions/workflows/%s/dispatches",
		c.baseURL, c.cfg.Repository, c.cfg.Workflow)

	payload, err := json.Marshal(dispatchBody{
		Ref:    c.cfg.Ref,
		Inputs: map[string]string{"triggered_by": triggeredBy},
	})
	if err != nil {
		return Result{Error: fmt.Sprintf("encode dispatch body: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{Error: fmt.Sprintf("build dispatch request: %v", err)}
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Result{Error: fmt.Sprintf("workflow dispatch timed out: %v", err)}
		}
		return Result{Error: fmt.Sprintf("workflow dispatch request failed: %v", err)}
	}
	defer resp.Body.Close()

	// 204 means accepted-async; the run id is not known synchronously.
	if resp.StatusCode == http.StatusNoContent {
		c.logger.Info("workflow dispatched",
			"repository", c.cfg.Repository,
			"workflow", c.cfg.Workflow,
			"triggered_by", triggeredBy,
		)
		return Result{Success: true}
	}

	// Capture the downstream error verbatim for operator visibility.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	return Result{Error: fmt.Sprintf("github responded %d: %s",
		resp.StatusCode, strings.TrimSpace(string(body)))}
}

func isTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
