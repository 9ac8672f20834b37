package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"workswitch/internal/core"
	"workswitch/internal/logging"
	"workswitch/internal/notify"
	"workswitch/internal/profiles"
	"workswitch/internal/store"
)

const testProfiles = `{
  "settings": {"launch_delay_ms": 0},
  "profiles": [
    {
      "id": "work",
      "name": "Work",
      "steps": [
        {"id": "s1", "name": "Editor", "type": "app", "target": "code", "delay_after": 0},
        {"id": "s2", "name": "Docs", "type": "url", "target": "https://example.com", "delay_after": 0}
      ],
      "schedule": {"enabled": true, "time": "09:00", "days": [1]}
    }
  ]
}`

type fakeProbe struct {
	running map[string]bool
	killed  []string
}

func (f *fakeProbe) IsRunning(_ context.Context, name string) bool { return f.running[name] }

func (f *fakeProbe) RunningAmong(_ context.Context, names []string) []string {
	out := []string{}
	for _, n := range names {
		if f.running[n] {
			out = append(out, n)
		}
	}
	return out
}

func (f *fakeProbe) Kill(_ context.Context, name string) error {
	if !f.running[name] {
		return errors.New("no process matched")
	}
	f.killed = append(f.killed, name)
	return nil
}

type testEnv struct {
	server  *httptest.Server
	api     *Server
	hub     *notify.Hub
	history *store.Store
	release chan struct{}
	probe   *fakeProbe
}

// newTestEnv wires a server whose executor blocks each step until release
// receives a value (or is closed).
func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "profiles.json")
	if err := os.WriteFile(path, []byte(testProfiles), 0o644); err != nil {
		t.Fatal(err)
	}
	history, err := store.Open(context.Background(), dir, 10)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { history.Close() })

	release := make(chan struct{})
	exec := core.StepExecutorFunc(func(ctx context.Context, step core.Step) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	hub := notify.NewHub()
	logger := logging.Discard()
	orch := core.NewOrchestrator(exec, hub, history, logger, core.Timing{
		StepTimeout: 2 * time.Second,
		CancelPoll:  5 * time.Millisecond,
		DelaySlice:  5 * time.Millisecond,
	})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	orch.Start(ctx)

	probe := &fakeProbe{running: map[string]bool{"code": true}}
	srv, err := NewServer(Options{
		AuthToken:    token,
		Profiles:     profiles.NewFileSource(path),
		Orchestrator: orch,
		History:      history,
		Probe:        probe,
		Hub:          hub,
		Logger:       logger,
		Location:     time.UTC,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv.heartbeat = 20 * time.Millisecond
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testEnv{server: ts, api: srv, hub: hub, history: history, release: release, probe: probe}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestListAndGetProfiles(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.do(t, http.MethodGet, "/v1/profiles", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	list := body["profiles"].([]any)
	if len(list) != 1 {
		t.Fatalf("expected one profile, got %v", list)
	}
	sched := list[0].(map[string]any)["schedule"].(map[string]any)
	if sched["cron"] != "0 9 * * 1" || sched["next_run"] == nil {
		t.Fatalf("unexpected schedule %v", sched)
	}

	resp, _ = env.do(t, http.MethodGet, "/v1/profiles/nope", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestActivateConflictAndCancel(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.do(t, http.MethodPost, "/v1/profiles/work/activate", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d (%v)", resp.StatusCode, body)
	}
	activationID, _ := body["activation_id"].(string)
	if activationID == "" {
		t.Fatalf("missing activation id in %v", body)
	}

	resp, body = env.do(t, http.MethodPost, "/v1/profiles/work/activate", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if code := body["error"].(map[string]any)["code"]; code != "already_running" {
		t.Fatalf("unexpected error code %v", code)
	}

	_, status := env.do(t, http.MethodGet, "/v1/activation", "")
	if status["running"] != true {
		t.Fatalf("expected running status, got %v", status)
	}

	resp, _ = env.do(t, http.MethodPost, "/v1/activation/cancel", "")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202 from cancel, got %d", resp.StatusCode)
	}
	waitUntil(t, func() bool {
		rec, err := env.history.GetActivation(context.Background(), activationID)
		return err == nil && rec.Status == core.ActivationStatusCancelled
	})

	resp, rec := env.do(t, http.MethodGet, "/v1/activations/"+activationID, "")
	if resp.StatusCode != http.StatusOK || rec["status"] != "cancelled" || rec["trigger"] != "manual" {
		t.Fatalf("unexpected activation %d %v", resp.StatusCode, rec)
	}
	_, list := env.do(t, http.MethodGet, "/v1/activations?profile_id=work", "")
	if n := len(list["activations"].([]any)); n != 1 {
		t.Fatalf("expected 1 activation, got %d", n)
	}
}

func TestActivateUnknownProfile(t *testing.T) {
	env := newTestEnv(t, "")
	resp, _ := env.do(t, http.MethodPost, "/v1/profiles/ghost/activate", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/v1/activations/ghost", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown activation, got %d", resp.StatusCode)
	}
}

func TestExportImportProfile(t *testing.T) {
	env := newTestEnv(t, "")

	resp, err := http.Get(env.server.URL + "/v1/profiles/work/export")
	if err != nil {
		t.Fatal(err)
	}
	var exported map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&exported)
	resp.Body.Close()
	if exported["name"] != "Work" {
		t.Fatalf("unexpected export %v", exported)
	}

	exported["id"] = "work-copy"
	exported["name"] = "Work copy"
	doc, _ := json.Marshal(exported)
	resp2, body := env.do(t, http.MethodPost, "/v1/profiles/import", string(doc))
	if resp2.StatusCode != http.StatusCreated || body["id"] != "work-copy" {
		t.Fatalf("unexpected import response %d %v", resp2.StatusCode, body)
	}

	resp3, _ := env.do(t, http.MethodPost, "/v1/profiles/import", `{"steps": []}`)
	if resp3.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for nameless profile, got %d", resp3.StatusCode)
	}
}

func TestSchedulePreview(t *testing.T) {
	env := newTestEnv(t, "")

	_, body := env.do(t, http.MethodPost, "/v1/schedule/preview",
		`{"time": "09:30", "days": [1], "now": "2024-01-01T10:00:00Z", "count": 2}`)
	if body["valid"] != true || body["cron"] != "30 9 * * 1" {
		t.Fatalf("unexpected preview %v", body)
	}
	times := body["next_times"].([]any)
	if len(times) != 2 || times[0] != "2024-01-08T09:30:00Z" || times[1] != "2024-01-15T09:30:00Z" {
		t.Fatalf("unexpected next times %v", times)
	}

	_, body = env.do(t, http.MethodPost, "/v1/schedule/preview", `{"time": "9:30"}`)
	if body["valid"] != false {
		t.Fatalf("expected invalid preview, got %v", body)
	}
}

func TestProcesses(t *testing.T) {
	env := newTestEnv(t, "")

	_, body := env.do(t, http.MethodGet, "/v1/processes?names=code,slack", "")
	if running := body["running"].([]any); len(running) != 1 || running[0] != "code" {
		t.Fatalf("unexpected running set %v", body)
	}
	_, body = env.do(t, http.MethodGet, "/v1/processes/slack", "")
	if body["running"] != false {
		t.Fatalf("expected slack not running, got %v", body)
	}
	resp, _ := env.do(t, http.MethodPost, "/v1/processes/code/kill", "")
	if resp.StatusCode != http.StatusNoContent || len(env.probe.killed) != 1 {
		t.Fatalf("expected kill to succeed, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodPost, "/v1/processes/slack/kill", "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for failed kill, got %d", resp.StatusCode)
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, "s3cret")

	resp, _ := env.do(t, http.MethodGet, "/v1/profiles", "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodGet, "/v1/profiles?token=s3cret", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with query token, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, env.server.URL+"/v1/profiles", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with bearer token, got %d", resp2.StatusCode)
	}

	resp, _ = env.do(t, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health check must not require auth, got %d", resp.StatusCode)
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, env.server.URL+"/v1/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	waitUntil(t, func() bool { return env.hub.Subscribers() == 1 })
	env.hub.Publish(core.Event{Kind: core.EventScheduledLaunchStarted, ProfileName: "Work"})

	lines := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	var sawEvent bool
	timeout := time.After(3 * time.Second)
	for !sawEvent {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatal("stream closed early")
			}
			if strings.HasPrefix(line, "data: ") {
				var ev core.Event
				if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
					t.Fatalf("bad event payload %q: %v", line, err)
				}
				if ev.Kind != core.EventScheduledLaunchStarted || ev.ProfileName != "Work" {
					t.Fatalf("unexpected event %+v", ev)
				}
				sawEvent = true
			}
		case <-timeout:
			t.Fatal("no event received")
		}
	}
}

func TestEventStreamEndsOnShutdown(t *testing.T) {
	env := newTestEnv(t, "")

	resp, err := http.Get(env.server.URL + "/v1/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	waitUntil(t, func() bool { return env.hub.Subscribers() == 1 })

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.Discard, resp.Body)
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := env.api.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("event stream still open after shutdown")
	}
	waitUntil(t, func() bool { return env.hub.Subscribers() == 0 })
}
