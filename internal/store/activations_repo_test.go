package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"workswitch/internal/core"
)

func openTestStore(t *testing.T, retention int) *Store {
	t.Helper()
	s, err := Open(context.Background(), t.TempDir(), retention)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insert(t *testing.T, s *Store, id, profileID string, startedAt time.Time) {
	t.Helper()
	rec := &core.ActivationRecord{
		ID:          id,
		ProfileID:   profileID,
		ProfileName: "Profile " + profileID,
		Trigger:     core.TriggerManual,
		Status:      core.ActivationStatusRunning,
		StepsTotal:  2,
		StartedAt:   startedAt,
	}
	if err := s.InsertActivation(context.Background(), rec); err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
}

func TestOpen_IsIdempotent(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		s, err := Open(context.Background(), dir, 10)
		if err != nil {
			t.Fatalf("open #%d: %v", i+1, err)
		}
		s.Close()
	}
}

func TestActivationLifecycle(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	insert(t, s, "act-1", "work", start)

	msg := "step timed out after 15s"
	results := []core.StepResult{
		{Position: 1, StepID: "s1", StepName: "Editor", Status: core.StepStatusOK, StartedAt: start, EndedAt: start.Add(time.Second)},
		{Position: 2, StepID: "s2", StepName: "Chat", Status: core.StepStatusTimedOut, Error: &msg, StartedAt: start.Add(time.Second), EndedAt: start.Add(16 * time.Second)},
	}
	for _, res := range results {
		if err := s.RecordStepResult(ctx, "act-1", res); err != nil {
			t.Fatalf("record step: %v", err)
		}
	}
	end := start.Add(17 * time.Second)
	if err := s.MarkActivationFinished(ctx, "act-1", core.ActivationStatusCompleted, 1, end); err != nil {
		t.Fatalf("finish: %v", err)
	}

	got, err := s.GetActivation(ctx, "act-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != core.ActivationStatusCompleted || got.StepsFailed != 1 || got.StepsTotal != 2 {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(end) || !got.StartedAt.Equal(start) {
		t.Fatalf("unexpected times %v / %v", got.StartedAt, got.EndedAt)
	}
	if len(got.Steps) != 2 || got.Steps[1].Error == nil || *got.Steps[1].Error != msg {
		t.Fatalf("unexpected steps %+v", got.Steps)
	}
	if got.Steps[0].Error != nil {
		t.Fatalf("successful step must have no error, got %q", *got.Steps[0].Error)
	}
}

func TestNotFound(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()

	if _, err := s.GetActivation(ctx, "missing"); !errors.Is(err, ErrActivationNotFound) {
		t.Fatalf("get: expected ErrActivationNotFound, got %v", err)
	}
	if err := s.MarkActivationFinished(ctx, "missing", core.ActivationStatusCancelled, 0, time.Now()); !errors.Is(err, ErrActivationNotFound) {
		t.Fatalf("finish: expected ErrActivationNotFound, got %v", err)
	}
	err := s.RecordStepResult(ctx, "missing", core.StepResult{Position: 1, StartedAt: time.Now(), EndedAt: time.Now()})
	if !errors.Is(err, ErrActivationNotFound) {
		t.Fatalf("record: expected ErrActivationNotFound, got %v", err)
	}
}

func TestListActivations_NewestFirstWithFilter(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	insert(t, s, "a1", "work", base)
	insert(t, s, "b1", "play", base.Add(time.Minute))
	// Sub-second offsets must still order correctly.
	insert(t, s, "a2", "work", base.Add(2*time.Minute))
	insert(t, s, "a3", "work", base.Add(2*time.Minute+500*time.Millisecond))

	all, err := s.ListActivations(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if ids := recordIDs(all); fmt.Sprint(ids) != "[a3 a2 b1 a1]" {
		t.Fatalf("unexpected order %v", ids)
	}

	work, err := s.ListActivations(ctx, ListFilter{ProfileID: "work", Limit: 2, Offset: 1})
	if err != nil {
		t.Fatalf("list work: %v", err)
	}
	if ids := recordIDs(work); fmt.Sprint(ids) != "[a2 a1]" {
		t.Fatalf("unexpected page %v", ids)
	}
}

func TestPruneActivations_KeepsNewestPerProfile(t *testing.T) {
	s := openTestStore(t, 2)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("w%d", i)
		insert(t, s, id, "work", base.Add(time.Duration(i)*time.Minute))
		if err := s.RecordStepResult(ctx, id, core.StepResult{Position: 1, StepID: "s", StepName: "s", Status: core.StepStatusOK, StartedAt: base, EndedAt: base}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	insert(t, s, "p0", "play", base)

	if err := s.PruneActivations(ctx, "work"); err != nil {
		t.Fatalf("prune: %v", err)
	}
	all, _ := s.ListActivations(ctx, ListFilter{Limit: 100})
	if ids := recordIDs(all); fmt.Sprint(ids) != "[w3 w2 p0]" {
		t.Fatalf("expected w3, w2 and p0 to remain, got %v", ids)
	}

	var orphanSteps int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(1) FROM activation_steps WHERE activation_id IN ('w0', 'w1')`).Scan(&orphanSteps); err != nil {
		t.Fatalf("count steps: %v", err)
	}
	if orphanSteps != 0 {
		t.Fatalf("expected pruned step rows to be removed, found %d", orphanSteps)
	}
}

func TestMarkInterrupted(t *testing.T) {
	s := openTestStore(t, 0)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	insert(t, s, "stuck", "work", now)
	insert(t, s, "done", "work", now)
	if err := s.MarkActivationFinished(ctx, "done", core.ActivationStatusCompleted, 0, now); err != nil {
		t.Fatalf("finish: %v", err)
	}

	n, err := s.MarkInterrupted(ctx, now.Add(time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 interrupted activation, got %d (%v)", n, err)
	}
	got, _ := s.GetActivation(ctx, "stuck")
	if got.Status != core.ActivationStatusCancelled || got.EndedAt == nil {
		t.Fatalf("unexpected record %+v", got)
	}
}

func recordIDs(recs []*core.ActivationRecord) []string {
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.ID)
	}
	return ids
}
