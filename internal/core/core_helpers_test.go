package core

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	notify chan Event
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan Event, 256)}
}

func (s *recordingSink) Publish(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	select {
	case s.notify <- ev:
	default:
	}
}

func (s *recordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func (s *recordingSink) Kinds() []EventKind {
	var kinds []EventKind
	for _, ev := range s.Events() {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (s *recordingSink) Count(kind EventKind) int {
	n := 0
	for _, ev := range s.Events() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// waitFor blocks until an event matching kind (and step name, when non-empty) arrives.
func (s *recordingSink) waitFor(t *testing.T, kind EventKind, step string) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-s.notify:
			if ev.Kind == kind && (step == "" || ev.StepName == step) {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s event (step %q); got %v", kind, step, s.Kinds())
			return Event{}
		}
	}
}

// scriptedExecutor records executed step names and behaves according to per-step hooks.
type scriptedExecutor struct {
	mu    sync.Mutex
	ran   []string
	hooks map[string]func(ctx context.Context) error
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{hooks: make(map[string]func(ctx context.Context) error)}
}

func (e *scriptedExecutor) on(name string, fn func(ctx context.Context) error) *scriptedExecutor {
	e.hooks[name] = fn
	return e
}

func (e *scriptedExecutor) RunStep(ctx context.Context, step Step) error {
	e.mu.Lock()
	e.ran = append(e.ran, step.Name)
	hook := e.hooks[step.Name]
	e.mu.Unlock()
	if hook != nil {
		return hook(ctx)
	}
	return nil
}

func (e *scriptedExecutor) Ran() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.ran...)
}

type memoryHistory struct {
	mu       sync.Mutex
	records  map[string]*ActivationRecord
	pruned   []string
	failWith error
}

func newMemoryHistory() *memoryHistory {
	return &memoryHistory{records: make(map[string]*ActivationRecord)}
}

func (h *memoryHistory) InsertActivation(_ context.Context, rec *ActivationRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failWith != nil {
		return h.failWith
	}
	cp := *rec
	h.records[rec.ID] = &cp
	return nil
}

func (h *memoryHistory) RecordStepResult(_ context.Context, id string, res StepResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failWith != nil {
		return h.failWith
	}
	if rec, ok := h.records[id]; ok {
		rec.Steps = append(rec.Steps, res)
	}
	return nil
}

func (h *memoryHistory) MarkActivationFinished(_ context.Context, id string, status ActivationStatus, failed int, endedAt time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failWith != nil {
		return h.failWith
	}
	if rec, ok := h.records[id]; ok {
		rec.Status = status
		rec.StepsFailed = failed
		rec.EndedAt = &endedAt
	}
	return nil
}

func (h *memoryHistory) PruneActivations(_ context.Context, profileID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruned = append(h.pruned, profileID)
	return h.failWith
}

func (h *memoryHistory) get(id string) (ActivationRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[id]
	if !ok {
		return ActivationRecord{}, false
	}
	return *rec, true
}

func steps(names ...string) []Step {
	out := make([]Step, 0, len(names))
	for _, name := range names {
		out = append(out, Step{ID: name, Name: name, Type: StepTypeApp, Enabled: true})
	}
	return out
}
