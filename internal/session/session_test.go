package session

import (
	"testing"

	"github.com/cuteecarrot/agentrelay/internal/layout"
)

func TestInitOrLoadCreatesOnFirstUse(t *testing.T) {
	dir := t.TempDir()
	l := layout.ForWorkspace(dir)

	s, err := InitOrLoad(l, dir, []string{"MAIN", "A"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.SessionID == "" {
		t.Error("expected a generated session id")
	}
	if s.Workspace != dir {
		t.Errorf("expected workspace %s, got %s", dir, s.Workspace)
	}
	if s.CreatedAt == 0 {
		t.Error("expected a non-zero created_at")
	}
}

func TestInitOrLoadPersistsAcrossCalls(t *testing.T) {
	dir := t.TempDir()
	l := layout.ForWorkspace(dir)

	first, err := InitOrLoad(l, dir, []string{"MAIN"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := InitOrLoad(l, dir, []string{"MAIN"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if second.SessionID != first.SessionID {
		t.Errorf("expected stable session id across restarts, got %s then %s", first.SessionID, second.SessionID)
	}
}
