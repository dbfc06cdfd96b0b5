// Package evaluator implements the HTTP client a phase engine uses to run a
// challenge against the remote evaluator service: submit a job, poll with
// adaptive backoff until it terminates, and translate transport failures
// into the sentinel error kinds of §7.
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/prismbench/searchcore/internal/apierrors"
	"github.com/prismbench/searchcore/internal/metrics"
	"github.com/prismbench/searchcore/internal/strategy"
	"github.com/prismbench/searchcore/internal/tree"
)

// Config configures the Client's transport, retry, and polling behaviour.
type Config struct {
	BaseURL string

	// SubmitRetries bounds retries of the initial submit call on transient
	// transport errors.
	SubmitRetries int
	// RetryBaseDelay is the first retry's backoff; doubles each subsequent
	// attempt up to RetryMaxDelay.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// PollInterval is the first poll interval after submit; PollMaxInterval
	// is the ceiling the adaptive backoff geometrically approaches,
	// modeled on AdaptiveWorkerPool.WaitForCompletion.
	PollInterval    time.Duration
	PollMaxInterval time.Duration
	// PollBackoffFactor multiplies PollInterval after every unterminated
	// poll.
	PollBackoffFactor float64
}

// DefaultConfig returns the teacher-idiom defaults: fast initial polling
// geometrically backing off to a two-second ceiling.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:           baseURL,
		SubmitRetries:     3,
		RetryBaseDelay:    200 * time.Millisecond,
		RetryMaxDelay:     5 * time.Second,
		PollInterval:      100 * time.Millisecond,
		PollMaxInterval:   2 * time.Second,
		PollBackoffFactor: 1.5,
	}
}

// Client is the evaluator.Client of §4.5, implemented over plain net/http.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *logrus.Logger
	metrics    *metrics.Metrics
}

// New returns a Client. httpClient may be nil to use a private
// *http.Client with a 30-second timeout. m may be nil; metrics observation
// calls are then no-ops.
func New(cfg Config, httpClient *http.Client, logger *logrus.Logger, m *metrics.Metrics) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{cfg: cfg, httpClient: httpClient, logger: logger, metrics: m}
}

var _ strategy.Evaluator = (*Client)(nil)

type submitRequest struct {
	Environment          string                 `json:"environment"`
	Concepts             []string               `json:"concepts"`
	Difficulty           string                 `json:"difficulty"`
	MaxAttempts          int                    `json:"max_attempts"`
	Enhanced             bool                   `json:"enhanced,omitempty"`
	VariationsPerConcept int                    `json:"variations_per_concept,omitempty"`
	ExtraParams          map[string]interface{} `json:"extra_params,omitempty"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

// jobStatus mirrors the remote evaluator's polling payload.
type jobStatus struct {
	Status string          `json:"status"` // pending|running|completed|failed
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// RunChallenge submits req, polls until the job reaches a terminal state,
// and returns the raw result record. A context cancellation triggers a
// best-effort remote cancel before returning ErrCancelled.
func (c *Client) RunChallenge(ctx context.Context, req strategy.RunChallengeRequest) (tree.RunResult, error) {
	start := time.Now()

	jobID, err := c.submit(ctx, req)
	if err != nil {
		c.metrics.ObserveEvaluatorCall(req.Environment, start, false)
		return tree.RunResult{}, err
	}

	result, err := c.poll(ctx, jobID)
	if err != nil {
		if ctx.Err() != nil {
			c.cancelRemote(jobID)
		}
		c.metrics.ObserveEvaluatorCall(req.Environment, start, false)
		return tree.RunResult{}, err
	}
	c.metrics.ObserveEvaluatorCall(req.Environment, start, result.Success)
	return result, nil
}

func (c *Client) submit(ctx context.Context, req strategy.RunChallengeRequest) (string, error) {
	body, err := json.Marshal(submitRequest{
		Environment:          req.Environment,
		Concepts:             req.Concepts,
		Difficulty:           req.Difficulty,
		MaxAttempts:          req.MaxAttempts,
		Enhanced:             req.Enhanced,
		VariationsPerConcept: req.VariationsPerConcept,
		ExtraParams:          req.ExtraParams,
	})
	if err != nil {
		return "", fmt.Errorf("marshal submit request: %w", apierrors.ErrEvaluatorPermanent)
	}

	delay := c.cfg.RetryBaseDelay
	var lastErr error
	for attempt := 0; attempt <= c.cfg.SubmitRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("submit cancelled: %w", apierrors.ErrCancelled)
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.cfg.RetryMaxDelay {
				delay = c.cfg.RetryMaxDelay
			}
		}

		var resp submitResponse
		status, err := c.doJSON(ctx, http.MethodPost, "/jobs", body, &resp)
		if err == nil {
			return resp.JobID, nil
		}
		lastErr = err
		if !isTransientStatus(status) && !errors.Is(err, apierrors.ErrEvaluatorTransient) {
			return "", err
		}
		c.logger.WithError(err).WithField("attempt", attempt).Warn("evaluator submit failed, retrying")
	}
	return "", fmt.Errorf("submit exhausted retries: %w: %v", apierrors.ErrEvaluatorTransient, lastErr)
}

func (c *Client) poll(ctx context.Context, jobID string) (tree.RunResult, error) {
	interval := c.cfg.PollInterval
	for {
		select {
		case <-ctx.Done():
			return tree.RunResult{}, fmt.Errorf("poll cancelled: %w", apierrors.ErrCancelled)
		case <-time.After(interval):
		}

		var js jobStatus
		_, err := c.doJSON(ctx, http.MethodGet, "/jobs/"+jobID, nil, &js)
		if err != nil {
			if ctx.Err() != nil {
				return tree.RunResult{}, fmt.Errorf("poll cancelled: %w", apierrors.ErrCancelled)
			}
			return tree.RunResult{}, err
		}

		switch js.Status {
		case "completed":
			var result tree.RunResult
			if err := json.Unmarshal(js.Result, &result); err != nil {
				return tree.RunResult{}, fmt.Errorf("decode evaluator result: %w", apierrors.ErrEvaluatorPermanent)
			}
			result.RecordedAt = time.Now()
			return result, nil
		case "failed":
			return tree.RunResult{}, fmt.Errorf("evaluator job failed: %s: %w", js.Error, apierrors.ErrEvaluatorPermanent)
		}

		if interval < c.cfg.PollMaxInterval {
			interval = time.Duration(float64(interval) * c.cfg.PollBackoffFactor)
			if interval > c.cfg.PollMaxInterval {
				interval = c.cfg.PollMaxInterval
			}
		}
	}
}

func (c *Client) cancelRemote(jobID string) {
	req, err := http.NewRequest(http.MethodDelete, c.cfg.BaseURL+"/jobs/"+jobID, nil)
	if err != nil {
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).WithField("job_id", jobID).Debug("best-effort evaluator cancel failed")
		return
	}
	_ = resp.Body.Close()
}

// doJSON performs one HTTP round-trip, decoding a JSON response body into
// out when non-nil. Returns the HTTP status code (0 on transport failure)
// so callers can classify retryability.
func (c *Client) doJSON(ctx context.Context, method, path string, body []byte, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", apierrors.ErrEvaluatorPermanent)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return 0, fmt.Errorf("evaluator transport error: %w: %v", apierrors.ErrEvaluatorTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return resp.StatusCode, fmt.Errorf("evaluator returned %d: %w", resp.StatusCode, apierrors.ErrEvaluatorTransient)
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("evaluator returned %d: %w", resp.StatusCode, apierrors.ErrEvaluatorPermanent)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode evaluator response: %w", apierrors.ErrEvaluatorTransient)
		}
	}
	return resp.StatusCode, nil
}

func isTransientStatus(status int) bool {
	return status == 0 || status >= 500
}
