//go:build !integration

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"neuroforge/internal/domain"
	"neuroforge/internal/domain/model"
	"neuroforge/internal/infra/adapters/ai"
	"neuroforge/internal/infra/adapters/trainer"
	"neuroforge/internal/infra/worker"
)

const (
	origin = "http://localhost:3000"
	step   = time.Second
)

func newLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

type failingResponder struct{}

func (failingResponder) Name() string { return "broken" }
func (failingResponder) Respond(context.Context, string, []model.ChatMessage) (string, error) {
	return "", errors.New("upstream unavailable")
}

type fixture struct {
	clock clockwork.FakeClock
	sim   *Simulator
	srv   *httptest.Server
}

func newFixture(t *testing.T, steps int, start bool) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	pool := worker.NewPool(2, 1, newLogger())
	if start {
		ctx, cancel := context.WithCancel(context.Background())
		pool.Start(ctx)
		t.Cleanup(func() {
			cancel()
			pool.Stop()
		})
	}
	sim := NewSimulator(pool, clock, SimulatorOptions{Steps: steps, StepEvery: step}, newLogger())
	s := NewServer(sim, ai.NewKeywordResponder("MOCK_MODE", 0), ServerOptions{ModelPath: "MOCK_MODE", AllowedOrigin: origin}, newLogger())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &fixture{clock: clock, sim: sim, srv: srv}
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_Root(t *testing.T) {
	f := newFixture(t, 3, false)
	resp, err := http.Get(f.srv.URL + "/")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "online" || body["model_path"] != "MOCK_MODE" {
		t.Fatalf("unexpected body %v", body)
	}
	if resp.Header.Get(traceHeader) == "" {
		t.Fatal("expected trace id header")
	}
}

func TestServer_TrainValidation(t *testing.T) {
	f := newFixture(t, 3, false)
	testCases := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"missing dataset", `{"model_id":"llama-3-8b"}`, http.StatusBadRequest},
		{"unknown model", `{"model_id":"gpt-9","dataset_path":"/d.jsonl"}`, http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, f.srv.URL+"/train", tc.body)
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, resp.StatusCode)
			}
		})
	}
}

func TestServer_QueueFull(t *testing.T) {
	f := newFixture(t, 3, false) // pool never drains its single slot
	body := `{"model_id":"gemma-2b","dataset_path":"/d.jsonl"}`
	if resp := postJSON(t, f.srv.URL+"/train", body); resp.StatusCode != http.StatusOK {
		t.Fatalf("first submit: %d", resp.StatusCode)
	}
	if resp := postJSON(t, f.srv.URL+"/train", body); resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestServer_StatusUnknownJob(t *testing.T) {
	f := newFixture(t, 3, false)
	resp, err := http.Get(f.srv.URL + "/status/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

// The client used by the controller must understand every answer the service gives.
func TestServer_TrainingRunOverClient(t *testing.T) {
	testCases := []struct {
		name         string
		dataset      string
		advances     int
		wantStatus   model.JobStatus
		wantProgress int
	}{
		{"completes", "/data/train.jsonl", 5, model.JobStatusCompleted, 100},
		{"fails at sixty percent", "/data/fail.jsonl", 4, model.JobStatusFailed, 50},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 4, true)
			client, err := trainer.NewHTTPClient(f.srv.URL, 2*time.Second, newLogger())
			if err != nil {
				t.Fatalf("client: %v", err)
			}
			ctx := context.Background()

			id, err := client.Submit(ctx, "mistral-7b-v0.3", tc.dataset)
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
			snap, err := client.FetchStatus(ctx, id)
			if err != nil {
				t.Fatalf("status: %v", err)
			}
			if snap.Status != model.JobStatusPending || len(snap.Logs) != 0 {
				t.Fatalf("expected pending with no logs, got %+v", snap)
			}

			for i := 0; i < tc.advances; i++ {
				f.clock.BlockUntil(1)
				f.clock.Advance(step)
			}

			deadline := time.Now().Add(2 * time.Second)
			for {
				snap, err = client.FetchStatus(ctx, id)
				if err != nil {
					t.Fatalf("status: %v", err)
				}
				if snap.Status.IsTerminal() || time.Now().After(deadline) {
					break
				}
				time.Sleep(5 * time.Millisecond)
			}
			if snap.Status != tc.wantStatus || snap.Progress != tc.wantProgress {
				t.Fatalf("expected %s/%d, got %+v", tc.wantStatus, tc.wantProgress, snap)
			}
			if len(snap.Logs) < 3 {
				t.Fatalf("expected full log history, got %v", snap.Logs)
			}
		})
	}
}

func TestServer_Chat(t *testing.T) {
	f := newFixture(t, 3, false)
	resp := postJSON(t, f.srv.URL+"/chat", `{"message":"I want to finetune llama","history":[{"role":"assistant","content":"hi"}]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(body["response"], "dataset path") {
		t.Fatalf("unexpected reply %q", body["response"])
	}

	if resp := postJSON(t, f.srv.URL+"/chat", `{"message":"  "}`); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty message, got %d", resp.StatusCode)
	}
}

func TestServer_ChatResponderFailure(t *testing.T) {
	pool := worker.NewPool(1, 1, newLogger())
	sim := NewSimulator(pool, clockwork.NewFakeClock(), SimulatorOptions{}, newLogger())
	srv := httptest.NewServer(NewServer(sim, failingResponder{}, ServerOptions{}, newLogger()).Handler())
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/chat", `{"message":"hello"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
}

func TestServer_CORSPreflight(t *testing.T) {
	f := newFixture(t, 3, false)
	req, _ := http.NewRequest(http.MethodOptions, f.srv.URL+"/train", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != origin {
		t.Fatalf("unexpected allow-origin %q", got)
	}

	req, _ = http.NewRequest(http.MethodGet, f.srv.URL+"/", nil)
	req.Header.Set("Origin", "http://evil.example")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.Header.Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("foreign origin must not be allowed")
	}
}

func TestSimulator_UniqueIDs(t *testing.T) {
	pool := worker.NewPool(1, 64, newLogger())
	sim := NewSimulator(pool, clockwork.NewFakeClock(), SimulatorOptions{Steps: 1}, newLogger())
	seen := map[model.JobID]bool{}
	for i := 0; i < 32; i++ {
		snap, err := sim.Submit("phi-3-mini", "/d.jsonl")
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		if seen[snap.JobID] {
			t.Fatalf("duplicate id %s", snap.JobID)
		}
		seen[snap.JobID] = true
	}
}

func TestSimulator_SweepRemovesFinishedRuns(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pool := worker.NewPool(1, 4, newLogger())
	sim := NewSimulator(pool, clock, SimulatorOptions{Steps: 1, Retention: time.Hour}, newLogger())

	done, err := sim.Submit("llama-3-8b", "/a.jsonl")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	running, err := sim.Submit("llama-3-8b", "/b.jsonl")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	_ = sim.Update(done.JobID, func(s *model.Snapshot) { s.Status = model.JobStatusCompleted })

	clock.Advance(30 * time.Minute)
	if n, _ := sim.Sweep(context.Background()); n != 0 {
		t.Fatalf("nothing is old enough yet, swept %d", n)
	}
	clock.Advance(time.Hour)
	if n, _ := sim.Sweep(context.Background()); n != 1 {
		t.Fatalf("expected 1 swept run, got %d", n)
	}
	if _, err := sim.Status(done.JobID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("finished run should be gone, got %v", err)
	}
	if _, err := sim.Status(running.JobID); err != nil {
		t.Fatalf("unfinished run must be kept: %v", err)
	}
}

func TestServer_RequestLogRecordsRouteAndJob(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	pool := worker.NewPool(1, 1, newLogger())
	sim := NewSimulator(pool, clockwork.NewFakeClock(), SimulatorOptions{}, newLogger())
	h := NewServer(sim, ai.NewKeywordResponder("MOCK_MODE", 0), ServerOptions{}, &logger).Handler()

	req := httptest.NewRequest(http.MethodGet, "/status/01hzy", nil)
	req.Header.Set(traceHeader, "trace-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	var entry map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var e map[string]interface{}
		if err := json.Unmarshal(line, &e); err == nil && e["message"] == "http_request" {
			entry = e
		}
	}
	if entry == nil {
		t.Fatalf("no request log line in %q", buf.String())
	}
	if entry["route"] != "/status/{job_id}" || entry["job_id"] != "01hzy" || entry["trace_id"] != "trace-1" {
		t.Fatalf("unexpected request log %v", entry)
	}
	if entry["status"] != float64(http.StatusNotFound) {
		t.Fatalf("unexpected status in log %v", entry["status"])
	}
}

func TestServer_PanicBecomesInternalError(t *testing.T) {
	pool := worker.NewPool(1, 1, newLogger())
	sim := NewSimulator(pool, clockwork.NewFakeClock(), SimulatorOptions{}, newLogger())
	s := NewServer(sim, failingResponder{}, ServerOptions{}, newLogger())
	h := s.observe(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "internal error") {
		t.Fatalf("unexpected body %q", rr.Body.String())
	}
	if rr.Header().Get(traceHeader) == "" {
		t.Fatal("expected trace id header on a failed request")
	}
}
