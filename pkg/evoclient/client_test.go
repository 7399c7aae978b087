package evoclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clinsight-ai/platform/pkg/common/logger"
	"github.com/clinsight-ai/platform/pkg/common/models"
)

func TestMain(m *testing.M) {
	logger.Init()
	m.Run()
}

func snapshotJSON(t *testing.T) []byte {
	t.Helper()
	out := models.PatientEvolutionOutput{
		Timeline: []models.TimelineEvent{{EventID: "e1", Category: "observation"}},
		Episodes: []models.Episode{},
		Alerts:   []models.EvolutionAlert{},
		Metadata: models.EvolutionMetadata{GeneratedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
	}
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func newTestClient(baseURL string) *Client {
	return New(baseURL, "patient-evolution",
		WithPolling(5*time.Millisecond, 10))
}

func TestWatchCompletesWhenSnapshotAppears(t *testing.T) {
	var polls int32
	snapshot := snapshotJSON(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/evolution/generate":
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(models.GenerateResponse{RunID: "run-1", Status: "queued"})
		case "/patient-evolution/generated/patient-42_patient_evolution.json":
			if atomic.AddInt32(&polls, 1) < 5 {
				http.NotFound(w, r)
				return
			}
			w.Write(snapshot)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	out, err := c.Watch(context.Background(), "patient-42")
	if err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	if len(out.Timeline) != 1 {
		t.Errorf("unexpected snapshot content: %+v", out)
	}
	if c.State() != StateCompleted {
		t.Errorf("state = %q, want %q", c.State(), StateCompleted)
	}
	if got := atomic.LoadInt32(&polls); got != 5 {
		t.Errorf("snapshot served after %d polls, want 5", got)
	}
}

func TestPollTimesOutAfterBudget(t *testing.T) {
	var polls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&polls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(srv.URL, "patient-evolution", WithPolling(time.Millisecond, 4))
	_, err := c.Poll(context.Background(), "patient-42")
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("err = %v, want ErrTimedOut", err)
	}
	if c.State() != StateTimedOut {
		t.Errorf("state = %q, want %q", c.State(), StateTimedOut)
	}
	if got := atomic.LoadInt32(&polls); got != 4 {
		t.Errorf("made %d polls, want exactly 4", got)
	}
}

func TestPollTreatsPartialWriteAsNotReady(t *testing.T) {
	var polls int32
	snapshot := snapshotJSON(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&polls, 1)
		if n < 3 {
			// half-written file as seen by a concurrent reader
			w.Write(snapshot[:len(snapshot)/2])
			return
		}
		w.Write(snapshot)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	out, err := c.Poll(context.Background(), "patient-42")
	if err != nil {
		t.Fatalf("poll failed: %v", err)
	}
	if len(out.Timeline) != 1 {
		t.Errorf("unexpected snapshot content: %+v", out)
	}
}

func TestPollHonorsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := New(srv.URL, "patient-evolution", WithPolling(50*time.Millisecond, 40))

	done := make(chan error, 1)
	go func() {
		_, err := c.Poll(ctx, "patient-42")
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not stop after cancellation")
	}
}

func TestTriggerRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "identifier is required", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	_, err := c.Trigger(context.Background(), "")
	if !errors.Is(err, ErrTriggerFailed) {
		t.Fatalf("err = %v, want ErrTriggerFailed", err)
	}
	if c.State() != StateFailed {
		t.Errorf("state = %q, want %q", c.State(), StateFailed)
	}
}

func TestTriggerAcceptsPlain200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identifier != "patient-42" {
			t.Errorf("bad request body: %v %+v", err, req)
		}
		json.NewEncoder(w).Encode(models.GenerateResponse{RunID: "run-2", Status: "completed"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.Trigger(context.Background(), "patient-42")
	if err != nil {
		t.Fatalf("trigger failed: %v", err)
	}
	if resp.RunID != "run-2" {
		t.Errorf("run id = %q, want run-2", resp.RunID)
	}
	if c.State() != StateSubmitted {
		t.Errorf("state = %q, want %q", c.State(), StateSubmitted)
	}
}

func TestTriggerRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			http.Error(w, "transient", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(models.GenerateResponse{RunID: "run-3", Status: "queued"})
	}))
	defer srv.Close()

	c := newTestClient(srv.URL)
	resp, err := c.Trigger(context.Background(), "patient-42")
	if err != nil {
		t.Fatalf("trigger failed after retries: %v", err)
	}
	if resp.RunID != "run-3" {
		t.Errorf("run id = %q, want run-3", resp.RunID)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Errorf("server hit %d times, want 3", got)
	}
}

type failingTransport struct {
	calls int32
	err   error
}

func (t *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	atomic.AddInt32(&t.calls, 1)
	return nil, t.err
}

func TestTriggerDoesNotRetryHardTransportErrors(t *testing.T) {
	// Connection-level failures that are neither timeouts nor temporary get
	// one attempt only.
	transport := &failingTransport{err: errors.New("connection refused")}
	c := New("http://evolution", "patient-evolution",
		WithHTTPClient(&http.Client{Transport: transport}))

	_, err := c.Trigger(context.Background(), "patient-42")
	if err == nil {
		t.Fatal("expected trigger to fail")
	}
	if c.State() != StateFailed {
		t.Errorf("state = %q, want %q", c.State(), StateFailed)
	}
	if got := atomic.LoadInt32(&transport.calls); got != 1 {
		t.Errorf("transport called %d times, want 1", got)
	}
}
