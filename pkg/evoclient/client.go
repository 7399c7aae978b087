// Package evoclient implements the dashboard-side completion protocol for
// patient evolution generation: trigger the run, then poll for the snapshot
// artifact until it appears or the attempt budget is spent.
package evoclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clinsight-ai/platform/pkg/common/logger"
	"github.com/clinsight-ai/platform/pkg/common/models"
	"github.com/clinsight-ai/platform/pkg/gateway/httpclient"
)

// State of a generation watch. Transitions only move forward:
// Idle -> Submitted -> Polling -> Completed | TimedOut | Failed.
type State string

const (
	StateIdle      State = "idle"
	StateSubmitted State = "submitted"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateTimedOut  State = "timed_out"
	StateFailed    State = "failed"
)

var (
	ErrTimedOut      = errors.New("evolution generation timed out")
	ErrTriggerFailed = errors.New("evolution trigger rejected")
)

const (
	DefaultPollInterval = 3 * time.Second
	DefaultMaxAttempts  = 40
)

// Client triggers evolution runs and polls for their snapshot output.
type Client struct {
	baseURL      string
	namespace    string
	http         *http.Client
	pollInterval time.Duration
	maxAttempts  int

	state State
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithPolling(interval time.Duration, maxAttempts int) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if maxAttempts > 0 {
			c.maxAttempts = maxAttempts
		}
	}
}

func New(baseURL, namespace string, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		namespace:    namespace,
		http:         httpclient.New(30 * time.Second),
		pollInterval: DefaultPollInterval,
		maxAttempts:  DefaultMaxAttempts,
		state:        StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) State() State { return c.state }

// Trigger submits a generation request. Both 200 and 202 count as accepted;
// the asynchronous server replies 202 with a run id, a synchronous one may
// answer 200 directly.
func (c *Client) Trigger(ctx context.Context, identifier string) (*models.GenerateResponse, error) {
	body, err := json.Marshal(models.GenerateRequest{Identifier: identifier})
	if err != nil {
		return nil, err
	}

	url := c.baseURL + "/api/v1/evolution/generate"

	var resp *http.Response
	err = httpclient.Retry(ctx, 3, 200*time.Millisecond, func() error {
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Content-Type", "application/json")
		resp, reqErr = c.http.Do(req)
		if reqErr != nil {
			if httpclient.IsRetriable(reqErr) {
				return reqErr
			}
			return httpclient.Permanent(reqErr)
		}
		if resp.StatusCode >= 500 {
			resp.Body.Close()
			return fmt.Errorf("%w: status %d", ErrTriggerFailed, resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		c.state = StateFailed
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		c.state = StateFailed
		return nil, fmt.Errorf("%w: status %d", ErrTriggerFailed, resp.StatusCode)
	}

	var gr models.GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		// An accepted trigger with an unreadable body is still a trigger;
		// the snapshot poll does not depend on the run id.
		logger.Log.WithError(err).Debug("trigger response body not decodable")
	}
	c.state = StateSubmitted
	return &gr, nil
}

// Poll fetches the snapshot until it parses as a complete evolution output.
// A missing artifact and a malformed one are both "not ready yet": the file
// may be mid-write on the server. Only the attempt budget or the context can
// end the wait.
func (c *Client) Poll(ctx context.Context, identifier string) (*models.PatientEvolutionOutput, error) {
	c.state = StatePolling
	url := fmt.Sprintf("%s/%s/generated/%s_patient_evolution.json", c.baseURL, c.namespace, identifier)

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		out, ready := c.fetchSnapshot(ctx, url, attempt)
		if ready {
			c.state = StateCompleted
			return out, nil
		}
		if ctx.Err() != nil {
			c.state = StateFailed
			return nil, ctx.Err()
		}
		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-time.After(c.pollInterval):
		case <-ctx.Done():
			c.state = StateFailed
			return nil, ctx.Err()
		}
	}

	c.state = StateTimedOut
	return nil, ErrTimedOut
}

// Watch is the full protocol: trigger, then poll.
func (c *Client) Watch(ctx context.Context, identifier string) (*models.PatientEvolutionOutput, error) {
	if _, err := c.Trigger(ctx, identifier); err != nil {
		return nil, err
	}
	return c.Poll(ctx, identifier)
}

func (c *Client) fetchSnapshot(ctx context.Context, url string, attempt int) (*models.PatientEvolutionOutput, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err.Error(),
		}).Debug("snapshot fetch failed")
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, false
	}

	var out models.PatientEvolutionOutput
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		logger.Log.WithFields(logrus.Fields{
			"attempt": attempt,
		}).Debug("snapshot not yet parseable")
		return nil, false
	}
	if out.Metadata.GeneratedAt.IsZero() && len(out.Timeline) == 0 && len(out.Episodes) == 0 {
		// an empty or placeholder document is not a completed run
		return nil, false
	}
	return &out, true
}
