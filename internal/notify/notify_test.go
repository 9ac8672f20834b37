package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"workswitch/internal/config"
	"workswitch/internal/core"
)

func TestBarkNotifier_Send(t *testing.T) {
	var got struct {
		method, title, body, group string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		got.method = r.Method
		got.title = r.PostForm.Get("title")
		got.body = r.PostForm.Get("body")
		got.group = r.PostForm.Get("group")
	}))
	defer srv.Close()

	n, err := NewBarkNotifier(srv.URL + "/devicekey/")
	if err != nil {
		t.Fatalf("new notifier: %v", err)
	}
	if err := n.Send(context.Background(), "Scheduled launch", "Launching profile \"Work\""); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got.method != http.MethodPost || got.title != "Scheduled launch" || got.group != "workswitch" {
		t.Fatalf("unexpected request %+v", got)
	}
	if !strings.Contains(got.body, "Work") {
		t.Fatalf("unexpected body %q", got.body)
	}
}

func TestBarkNotifier_Errors(t *testing.T) {
	if _, err := NewBarkNotifier("  "); err == nil {
		t.Fatal("expected error for empty url")
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()
	n, _ := NewBarkNotifier(srv.URL)
	if err := n.Send(context.Background(), "t", "b"); err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected status error, got %v", err)
	}
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []string
	err   error
	calls chan struct{}
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{calls: make(chan struct{}, 16)}
}

func (r *recordingNotifier) Send(_ context.Context, title, body string) error {
	r.mu.Lock()
	r.sent = append(r.sent, title+"|"+body)
	r.mu.Unlock()
	r.calls <- struct{}{}
	return r.err
}

func (r *recordingNotifier) Sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func TestMultiNotifier_TriesAllAndJoinsErrors(t *testing.T) {
	first := newRecordingNotifier()
	first.err = errors.New("first down")
	second := newRecordingNotifier()

	err := NewMultiNotifier(first, second, &NoOpNotifier{}).Send(context.Background(), "t", "b")
	if err == nil || !strings.Contains(err.Error(), "first down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(second.Sent()) != 1 {
		t.Fatal("second notifier must still receive the message")
	}
}

func TestHub_FanOutAndUnsubscribe(t *testing.T) {
	hub := NewHub()
	a, unsubA := hub.Subscribe(4)
	b, unsubB := hub.Subscribe(4)
	defer unsubB()

	hub.Publish(core.Event{Kind: core.EventProgress, Current: 1})
	for _, ch := range []<-chan core.Event{a, b} {
		select {
		case ev := <-ch:
			if ev.Current != 1 {
				t.Fatalf("unexpected event %+v", ev)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber missed event")
		}
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatal("expected closed channel after unsubscribe")
	}
	if hub.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.Subscribers())
	}
}

func TestHub_PublishDoesNotBlockOnFullSubscriber(t *testing.T) {
	hub := NewHub()
	_, unsub := hub.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(core.Event{Kind: core.EventProgress, Current: i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestRelay_ForwardsSelectedKinds(t *testing.T) {
	hub := NewHub()
	notifier := newRecordingNotifier()
	relay := NewRelay(hub, notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go relay.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for hub.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(core.Event{Kind: core.EventProgress, StepName: "ignored"})
	hub.Publish(core.Event{Kind: core.EventScheduledLaunchStarted, ProfileName: "Work"})
	hub.Publish(core.Event{Kind: core.EventStepError, StepName: "Editor", Error: "not found"})

	for i := 0; i < 2; i++ {
		select {
		case <-notifier.calls:
		case <-time.After(time.Second):
			t.Fatalf("expected 2 notifications, got %v", notifier.Sent())
		}
	}
	sent := notifier.Sent()
	if len(sent) != 2 || !strings.Contains(sent[0], "Work") || sent[1] != "Step failed: Editor|not found" {
		t.Fatalf("unexpected notifications %v", sent)
	}
}

func TestBuild(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if _, ok := Build(config.NotificationConfig{}, logger).(*NoOpNotifier); !ok {
		t.Fatal("expected NoOpNotifier when nothing is enabled")
	}
	invalid := config.NotificationConfig{Bark: config.BarkConfig{Enabled: true, URL: " "}}
	if _, ok := Build(invalid, logger).(*NoOpNotifier); !ok {
		t.Fatal("expected NoOpNotifier when bark cannot be initialised")
	}

	var titles []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		titles = append(titles, r.PostForm.Get("title"))
	}))
	defer srv.Close()

	n := Build(config.NotificationConfig{Bark: config.BarkConfig{Enabled: true, URL: srv.URL}}, logger)
	if _, ok := n.(*MultiNotifier); !ok {
		t.Fatalf("expected MultiNotifier, got %T", n)
	}
	if err := n.Send(context.Background(), "Scheduled launch", "Work"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(titles) != 1 || titles[0] != "Scheduled launch" {
		t.Fatalf("unexpected deliveries %v", titles)
	}
}
