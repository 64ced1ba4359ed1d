package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/outletwatch/internal/checker/scripted"
	"github.com/seantiz/outletwatch/internal/model"
	"github.com/seantiz/outletwatch/internal/store"
)

// waitForStatus polls the store until the run reaches the expected status.
func waitForStatus(t *testing.T, s store.Store, id, expected string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r, err := s.GetRun(context.Background(), id)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if r.Status == expected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not reach status %q within %v", id, expected, timeout)
}

func postRun(t *testing.T, ts *httptest.Server) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/runs", "application/json", nil)
	if err != nil {
		t.Fatalf("POST /v1/runs: %v", err)
	}
	return resp
}

func TestCreateRunAccepted(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postRun(t, ts)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var run model.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(run.ID) != 26 {
		t.Errorf("ID length = %d, want 26", len(run.ID))
	}
	if run.Status != model.RunPending || run.Trigger != model.TriggerAPI {
		t.Errorf("run = %+v, want pending api run", run)
	}

	waitForStatus(t, srv.store, run.ID, model.RunCompleted, 5*time.Second)

	res, err := http.Get(ts.URL + "/v1/runs/" + run.ID + "/results")
	if err != nil {
		t.Fatalf("GET results: %v", err)
	}
	defer res.Body.Close()
	var body resultsResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode results: %v", err)
	}
	if len(body.Results) != len(testOutlets) {
		t.Fatalf("len(results) = %d, want %d", len(body.Results), len(testOutlets))
	}
	for _, r := range body.Results {
		if r.Status != "Online" || r.RunID != run.ID {
			t.Errorf("result = %+v", r)
		}
	}
}

func TestCreateRunConflict(t *testing.T) {
	srv := newTestServerWith(t, scripted.New(scripted.Succeed("Online", 300*time.Millisecond)), "")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	first := postRun(t, ts)
	first.Body.Close()
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("first status = %d, want 202", first.StatusCode)
	}

	second := postRun(t, ts)
	defer second.Body.Close()
	if second.StatusCode != http.StatusConflict {
		t.Fatalf("second status = %d, want 409", second.StatusCode)
	}
	var body conflictResponse
	if err := json.NewDecoder(second.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ActiveRun == "" {
		t.Error("conflict response does not name the active run")
	}
}

func TestGetRunNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, path := range []string{"/v1/runs/nonexistent", "/v1/runs/nonexistent/results"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want 404", path, resp.StatusCode)
		}
	}
}

func TestListRunsPagination(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()
	for range 3 {
		run := &model.Run{ID: model.NewID(), Status: model.RunPending, Trigger: model.TriggerCLI, CreatedAt: time.Now().UTC()}
		if err := srv.store.CreateRun(ctx, run); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs?limit=2&offset=0")
	if err != nil {
		t.Fatalf("GET /v1/runs: %v", err)
	}
	defer resp.Body.Close()

	var body listRunsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Total != 3 || len(body.Runs) != 2 || body.Limit != 2 {
		t.Errorf("total/len/limit = %d/%d/%d, want 3/2/2", body.Total, len(body.Runs), body.Limit)
	}
}

func TestListRunsEmpty(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs?limit=500")
	if err != nil {
		t.Fatalf("GET /v1/runs: %v", err)
	}
	defer resp.Body.Close()

	var body listRunsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Runs == nil || len(body.Runs) != 0 {
		t.Errorf("Runs = %v, want empty array", body.Runs)
	}
	if body.Limit != defaultListLimit {
		t.Errorf("Limit = %d, want %d", body.Limit, defaultListLimit)
	}
}

func TestListCheckers(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/checkers")
	if err != nil {
		t.Fatalf("GET /v1/checkers: %v", err)
	}
	defer resp.Body.Close()

	var body checkersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Checkers) != 1 || body.Checkers[0] != scripted.Name || body.Active != scripted.Name {
		t.Errorf("checkers = %+v", body)
	}
}

func TestGetStats(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postRun(t, ts)
	var run model.Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("decode: %v", err)
	}
	resp.Body.Close()
	waitForStatus(t, srv.store, run.ID, model.RunCompleted, 5*time.Second)

	sresp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET /v1/stats: %v", err)
	}
	defer sresp.Body.Close()

	var stats store.RunStats
	if err := json.NewDecoder(sresp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.TotalRuns != 1 || stats.RunsByStatus[model.RunCompleted] != 1 {
		t.Errorf("runs = %d, by status %v", stats.TotalRuns, stats.RunsByStatus)
	}
	if stats.TotalResults != len(testOutlets) || stats.ResultsByStatus["Online"] != len(testOutlets) {
		t.Errorf("results = %d, by status %v", stats.TotalResults, stats.ResultsByStatus)
	}
}
