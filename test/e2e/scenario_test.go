// Package e2e exercises the full stack in-process: HTTP API, engine,
// trainers and store wired together the way cmd/kiln wires them.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dstauffer/kiln/internal/api"
	"github.com/dstauffer/kiln/internal/engine"
	"github.com/dstauffer/kiln/internal/model"
	"github.com/dstauffer/kiln/internal/store"
	"github.com/dstauffer/kiln/internal/trainer"
)

const pollInterval = 10 * time.Millisecond

type stack struct {
	ts    *httptest.Server
	store store.Store
}

func newStack(t *testing.T, epochDelay time.Duration) *stack {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	reg := trainer.NewRegistry()
	for _, kind := range model.ModelKinds {
		reg.Register(kind, trainer.NewSimulatorFactory(kind, epochDelay))
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.NewEngine(s, reg, logger, 2, 8)
	t.Cleanup(eng.Shutdown)

	srv := api.NewServer(":0", s, eng, reg, logger)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &stack{ts: ts, store: s}
}

func (st *stack) post(t *testing.T, path, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(st.ts.URL+path, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (st *stack) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(st.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func (st *stack) delete(t *testing.T, path string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest("DELETE", st.ts.URL+path, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE %s: %v", path, err)
	}
	resp.Body.Close()
	return resp
}

func (st *stack) waitForStatus(t *testing.T, token, want string) *model.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := st.store.GetJob(context.Background(), token)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("job %s never reached status %q", token, want)
	return nil
}

// TestTrainingRunLifecycle walks a full experiment from creation through
// duplicate handling, job completion and cascading deletion.
func TestTrainingRunLifecycle(t *testing.T) {
	st := newStack(t, 0)

	// Create the experiment.
	resp, data := st.post(t, "/v1/experiments", `{"name":"mnist-baselines","description":"kernel size sweep"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create experiment status = %d, want 201", resp.StatusCode)
	}
	var exp model.Experiment
	if err := json.Unmarshal(data, &exp); err != nil {
		t.Fatalf("decode experiment: %v", err)
	}

	// Submit a cnn job.
	body := fmt.Sprintf(`{"experiment_id":%d,"name":"cnn-k3","model_kind":"cnn","parameters":{"epochs":2,"kernel_size":3}}`, exp.ID)
	resp, data = st.post(t, "/v1/jobs", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d, want 201: %s", resp.StatusCode, data)
	}
	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		t.Fatalf("decode job: %v", err)
	}

	// Resubmitting the identical configuration returns the existing job.
	resp, data = st.post(t, "/v1/jobs", body)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("duplicate submit status = %d, want 200", resp.StatusCode)
	}
	var dup model.Job
	if err := json.Unmarshal(data, &dup); err != nil {
		t.Fatalf("decode duplicate: %v", err)
	}
	if dup.Token != job.Token {
		t.Errorf("duplicate token = %q, want %q", dup.Token, job.Token)
	}

	// A wider kernel is a new run.
	distinct := fmt.Sprintf(`{"experiment_id":%d,"name":"cnn-k5","model_kind":"cnn","parameters":{"epochs":2,"kernel_size":5}}`, exp.ID)
	resp, data = st.post(t, "/v1/jobs", distinct)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("distinct submit status = %d, want 201", resp.StatusCode)
	}
	var second model.Job
	if err := json.Unmarshal(data, &second); err != nil {
		t.Fatalf("decode second job: %v", err)
	}
	if second.Token == job.Token {
		t.Fatal("distinct submission reused the existing job")
	}

	// Both jobs run to completion with recorded results.
	for _, token := range []string{job.Token, second.Token} {
		done := st.waitForStatus(t, token, model.StatusCompleted)
		if done.BestMetric == nil {
			t.Fatalf("job %s completed without best_metric", token)
		}
		if done.EpochsCompleted != 2 {
			t.Errorf("job %s EpochsCompleted = %d, want 2", token, done.EpochsCompleted)
		}
		if done.TotalTimeSeconds == nil {
			t.Errorf("job %s missing total_time_seconds", token)
		}
		if len(done.History[model.SeriesValAccuracy]) != 2 {
			t.Errorf("job %s val_accuracy history length = %d, want 2", token, len(done.History[model.SeriesValAccuracy]))
		}
	}

	// Experiment stats reflect both runs.
	resp, data = st.get(t, "/v1/stats")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", resp.StatusCode)
	}
	var stats struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"by_status"`
	}
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if stats.Total != 2 || stats.ByStatus[model.StatusCompleted] != 2 {
		t.Errorf("stats = %+v, want 2 completed jobs", stats)
	}

	// Deleting the experiment cascades to its jobs.
	if resp := st.delete(t, fmt.Sprintf("/v1/experiments/%d", exp.ID)); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete experiment status = %d, want 204", resp.StatusCode)
	}
	resp, _ = st.get(t, "/v1/jobs/"+job.Token)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("job after cascade delete status = %d, want 404", resp.StatusCode)
	}
}

// TestCancelRunningJob verifies that cancellation interrupts a run promptly
// and the cancelled status reaches observers.
func TestCancelRunningJob(t *testing.T) {
	st := newStack(t, 500*time.Millisecond)

	_, data := st.post(t, "/v1/experiments", `{"name":"cancel-test"}`)
	var exp model.Experiment
	json.Unmarshal(data, &exp)

	body := fmt.Sprintf(`{"experiment_id":%d,"name":"slow","model_kind":"rnn","parameters":{"epochs":20}}`, exp.ID)
	resp, data := st.post(t, "/v1/jobs", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d: %s", resp.StatusCode, data)
	}
	var job model.Job
	json.Unmarshal(data, &job)

	st.waitForStatus(t, job.Token, model.StatusRunning)

	resp, data = st.post(t, "/v1/jobs/"+job.Token+"/cancel", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel status = %d, want 200: %s", resp.StatusCode, data)
	}
	var cancelled model.Job
	if err := json.Unmarshal(data, &cancelled); err != nil {
		t.Fatalf("decode cancelled job: %v", err)
	}
	if cancelled.Status != model.StatusCancelled {
		t.Errorf("status = %q, want %q", cancelled.Status, model.StatusCancelled)
	}
	if cancelled.CompletedAt == nil {
		t.Error("expected completed_at on a cancelled job")
	}
}

// TestObserverSeesLiveProgress drives a run while a websocket observer is
// connected and checks the envelope stream ends with the terminal status.
func TestObserverSeesLiveProgress(t *testing.T) {
	st := newStack(t, 50*time.Millisecond)

	_, data := st.post(t, "/v1/experiments", `{"name":"observed"}`)
	var exp model.Experiment
	json.Unmarshal(data, &exp)

	url := "ws" + strings.TrimPrefix(st.ts.URL, "http") + "/ws/e2e-observer"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial observer: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()
	time.Sleep(100 * time.Millisecond)

	body := fmt.Sprintf(`{"experiment_id":%d,"name":"watched","model_kind":"mlp","parameters":{"epochs":3}}`, exp.ID)
	postResp, data := st.post(t, "/v1/jobs", body)
	if postResp.StatusCode != http.StatusCreated {
		t.Fatalf("submit status = %d: %s", postResp.StatusCode, data)
	}
	var job model.Job
	json.Unmarshal(data, &job)

	conn.SetReadDeadline(time.Now().Add(15 * time.Second))

	var sawEpoch bool
	for {
		var env engine.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read envelope: %v", err)
		}
		if env.JobToken != job.Token {
			t.Fatalf("envelope for unexpected job %q", env.JobToken)
		}
		if env.Event.Epoch > 0 {
			sawEpoch = true
		}
		if env.Event.Terminal() {
			if env.Event.Status != model.StatusCompleted {
				t.Errorf("terminal status = %q, want %q", env.Event.Status, model.StatusCompleted)
			}
			break
		}
	}
	if !sawEpoch {
		t.Error("expected at least one epoch progress event before completion")
	}
}
