package tasks

import (
	"testing"

	"github.com/cuteecarrot/agentrelay/internal/layout"
)

func TestApplyMessageAssignOpensTask(t *testing.T) {
	s := Store{}
	ApplyMessage(s, map[string]any{
		"task_id": "t1",
		"action":  "assign",
		"to":      []any{"B"},
		"seq":     float64(1),
	})

	task, ok := s["t1"]
	if !ok {
		t.Fatal("expected task t1 to exist")
	}
	if task.Status != "open" {
		t.Errorf("expected status open, got %s", task.Status)
	}
}

func TestApplyMessageOwnerFallsBackToTo(t *testing.T) {
	s := Store{}
	ApplyMessage(s, map[string]any{
		"task_id": "t1",
		"action":  "assign",
		"to":      []any{"B"},
	})
	task := s["t1"]
	list, ok := task.Owner.([]any)
	if !ok || len(list) != 1 || list[0] != "B" {
		t.Errorf("expected owner to fall back to to=[B], got %v", task.Owner)
	}
}

func TestApplyMessageLifecycleTransitions(t *testing.T) {
	s := Store{}
	ApplyMessage(s, map[string]any{"task_id": "t1", "action": "assign"})
	ApplyMessage(s, map[string]any{"task_id": "t1", "action": "verify"})
	if s["t1"].Status != "verify_pending" {
		t.Errorf("expected verify_pending, got %s", s["t1"].Status)
	}
	ApplyMessage(s, map[string]any{"task_id": "t1", "action": "verified"})
	if s["t1"].Status != "verified" {
		t.Errorf("expected verified, got %s", s["t1"].Status)
	}
}

func TestApplyMessageFailTransition(t *testing.T) {
	s := Store{}
	ApplyMessage(s, map[string]any{"task_id": "t1", "action": "assign"})
	ApplyMessage(s, map[string]any{"task_id": "t1", "action": "fail"})
	if s["t1"].Status != "failed" {
		t.Errorf("expected failed, got %s", s["t1"].Status)
	}
}

func TestApplyMessageIgnoresUnrecognizedAction(t *testing.T) {
	s := Store{}
	ApplyMessage(s, map[string]any{"task_id": "t1", "action": "clarify"})
	if _, ok := s["t1"]; ok {
		t.Error("expected no task created for an action with no status mapping")
	}
}

func TestApplyMessageWithoutTaskIDIsNoop(t *testing.T) {
	s := Store{}
	ApplyMessage(s, map[string]any{"action": "assign"})
	if len(s) != 0 {
		t.Errorf("expected no tasks, got %v", s)
	}
}

func TestSaveThenLoad(t *testing.T) {
	dir := t.TempDir()
	l := layout.ForWorkspace(dir)

	s := Store{}
	ApplyMessage(s, map[string]any{"task_id": "t1", "action": "assign", "to": "B"})
	if err := Save(l, s); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	loaded, err := Load(l)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded["t1"].Status != "open" {
		t.Errorf("expected status open after reload, got %s", loaded["t1"].Status)
	}
}

func TestLoadMissingReturnsEmptyStore(t *testing.T) {
	dir := t.TempDir()
	l := layout.ForWorkspace(dir)

	s, err := Load(l)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(s) != 0 {
		t.Errorf("expected empty store, got %v", s)
	}
}
