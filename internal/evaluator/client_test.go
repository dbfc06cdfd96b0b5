package evaluator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prismbench/searchcore/internal/apierrors"
	"github.com/prismbench/searchcore/internal/strategy"
)

func TestRunChallenge_SubmitThenPollCompleted(t *testing.T) {
	var polls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/jobs":
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(submitResponse{JobID: "job-1"})
		case r.Method == http.MethodGet && r.URL.Path == "/jobs/job-1":
			polls++
			status := "running"
			var result json.RawMessage
			if polls >= 2 {
				status = "completed"
				result, _ = json.Marshal(map[string]interface{}{
					"tests_passed": 8, "tests_failed": 2, "success": true,
				})
			}
			json.NewEncoder(w).Encode(jobStatus{Status: status, Result: result})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.PollInterval = time.Millisecond
	cfg.PollMaxInterval = 5 * time.Millisecond
	c := New(cfg, nil, nil, nil)

	result, err := c.RunChallenge(context.Background(), strategy.RunChallengeRequest{
		Environment: "standard", Concepts: []string{"loops"}, Difficulty: "easy", MaxAttempts: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 8, result.TestsPassed)
	assert.True(t, result.Success)
	assert.GreaterOrEqual(t, polls, 2)
}

func TestRunChallenge_JobFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			json.NewEncoder(w).Encode(submitResponse{JobID: "job-2"})
		default:
			json.NewEncoder(w).Encode(jobStatus{Status: "failed", Error: "boom"})
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.PollInterval = time.Millisecond
	c := New(cfg, nil, nil, nil)

	_, err := c.RunChallenge(context.Background(), strategy.RunChallengeRequest{Environment: "standard"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrEvaluatorPermanent)
}

func TestRunChallenge_SubmitRetriesOnTransientError(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(submitResponse{JobID: "job-3"})
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond
	c := New(cfg, nil, nil, nil)

	jobID, err := c.submit(context.Background(), strategy.RunChallengeRequest{})
	require.NoError(t, err)
	assert.Equal(t, "job-3", jobID)
	assert.Equal(t, 3, attempts)
}

func TestRunChallenge_SubmitGivesUpAfterMaxRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.SubmitRetries = 1
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = time.Millisecond
	c := New(cfg, nil, nil, nil)

	_, err := c.submit(context.Background(), strategy.RunChallengeRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrEvaluatorTransient)
}

func TestRunChallenge_PermanentErrorDoesNotRetry(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.RetryBaseDelay = time.Millisecond
	c := New(cfg, nil, nil, nil)

	_, err := c.submit(context.Background(), strategy.RunChallengeRequest{})
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrEvaluatorPermanent)
	assert.Equal(t, 1, attempts)
}

func TestRunChallenge_ContextCancelDuringPollReturnsCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			json.NewEncoder(w).Encode(submitResponse{JobID: "job-4"})
		case http.MethodDelete:
			w.WriteHeader(http.StatusOK)
		default:
			json.NewEncoder(w).Encode(jobStatus{Status: "running"})
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.PollInterval = 5 * time.Millisecond
	c := New(cfg, nil, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.RunChallenge(ctx, strategy.RunChallengeRequest{Environment: "standard"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apierrors.ErrCancelled)
}
