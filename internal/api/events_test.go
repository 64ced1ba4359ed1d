package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/seantiz/outletwatch/internal/checker/scripted"
	"github.com/seantiz/outletwatch/internal/engine"
	"github.com/seantiz/outletwatch/internal/model"
)

func submitRun(t *testing.T, srv *Server) *model.Run {
	t.Helper()
	run, err := srv.engine.Submit(context.Background(), model.TriggerAPI)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return run
}

func TestStreamEventsNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/nonexistent/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStreamEventsFinishedRun(t *testing.T) {
	srv := newTestServer(t)
	run := submitRun(t, srv)
	waitForStatus(t, srv.store, run.ID, model.RunCompleted, 5*time.Second)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/" + run.ID + "/events")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}
	scanner := bufio.NewScanner(resp.Body)
	if !scanner.Scan() || scanner.Text() != "event: done" {
		t.Errorf("first line = %q, want %q", scanner.Text(), "event: done")
	}
}

func TestStreamEventsReceivesProgress(t *testing.T) {
	srv := newTestServerWith(t, scripted.New(scripted.Succeed("Online", 200*time.Millisecond)), "")
	run := submitRun(t, srv)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/runs/"+run.ID+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var types []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			types = append(types, name)
		}
		if line == "event: done" {
			break
		}
	}

	joined := strings.Join(types, ",")
	for _, want := range []string{engine.EventTaskResolved, engine.EventRunFinished, "done"} {
		if !strings.Contains(joined, want) {
			t.Errorf("events %q missing %q", joined, want)
		}
	}
}

func TestEventsWebSocket(t *testing.T) {
	srv := newTestServerWith(t, scripted.New(scripted.Succeed("Online", 200*time.Millisecond)), "")
	run := submitRun(t, srv)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/runs/" + run.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var last engine.Event
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("ReadMessage: %v", err)
			}
			break
		}
		if err := json.Unmarshal(data, &last); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if last.RunID != run.ID {
			t.Errorf("event run_id = %q, want %q", last.RunID, run.ID)
		}
	}
	if last.Type != engine.EventRunFinished {
		t.Errorf("last event = %q, want %q", last.Type, engine.EventRunFinished)
	}
}
