package recovery

import (
	"testing"

	"github.com/cuteecarrot/agentrelay/internal/delivery"
	"github.com/cuteecarrot/agentrelay/internal/layout"
	"github.com/cuteecarrot/agentrelay/internal/logstore"
)

func TestRecoverFreshWorkspace(t *testing.T) {
	dir := t.TempDir()
	l := layout.ForWorkspace(dir)

	res, err := Recover(l, dir, []string{"MAIN", "A"}, 120000, 3600000, 5000000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Session.SessionID == "" {
		t.Error("expected a generated session id")
	}
	if res.State.Epoch != 1 {
		t.Errorf("expected epoch 1 on first start, got %d", res.State.Epoch)
	}
	if len(res.Agents) != 0 {
		t.Errorf("expected no discovered agents, got %v", res.Agents)
	}
}

func TestRecoverBumpsEpochOnRestart(t *testing.T) {
	dir := t.TempDir()
	l := layout.ForWorkspace(dir)

	first, err := Recover(l, dir, nil, 120000, 3600000, 5000000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.State.Epoch != 1 {
		t.Fatalf("expected epoch 1, got %d", first.State.Epoch)
	}

	second, err := Recover(l, dir, nil, 120000, 3600000, 5000001)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.State.Epoch != 2 {
		t.Errorf("expected epoch 2 on second start, got %d", second.State.Epoch)
	}
	if second.Session.SessionID != first.Session.SessionID {
		t.Errorf("expected stable session id across restarts")
	}
}

func TestRecoverRebuildsPendingDeliveryFromLogs(t *testing.T) {
	dir := t.TempDir()
	l := layout.ForWorkspace(dir)

	// Seed a message delivered to B-1 that was never acknowledged,
	// simulating a crash between delivery and ack.
	msg := map[string]any{
		"id":    "sess-1-1-1",
		"to":    []any{"B-1"},
		"ts":    1000,
		"epoch": 1,
		"seq":   1,
	}
	if err := logstore.AppendMessageEvent(l, 1, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const nowMS = 5000000
	res, err := Recover(l, dir, nil, 120000, 3600000, nowMS)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pending, ok := res.Inbox["B-1"]
	if !ok || len(pending) != 1 || pending[0] != "sess-1-1-1" {
		t.Errorf("expected B-1 to have pending message sess-1-1-1, got %v", res.Inbox)
	}

	key := delivery.Key("sess-1-1-1", "B-1")
	state, ok := res.Delivery[key]
	if !ok {
		t.Fatalf("expected delivery state for %s", key)
	}
	if state.Status != delivery.StatusDelivered {
		t.Errorf("expected delivered status, got %s", state.Status)
	}
	if state.FirstTS != nowMS || state.LastTS != nowMS {
		t.Errorf("expected first/last ts re-homed to recovery clock %d, got first=%d last=%d", nowMS, state.FirstTS, state.LastTS)
	}
	if state.NextRetryAt == nil || *state.NextRetryAt != nowMS+120000 {
		t.Errorf("expected next_retry_at re-homed to now+ack_timeout, got %v", state.NextRetryAt)
	}

	if _, ok := res.Messages["sess-1-1-1"]; !ok {
		t.Error("expected message replayed into in-memory map")
	}
}

func TestRecoverDropsAcceptedMessagesFromInbox(t *testing.T) {
	dir := t.TempDir()
	l := layout.ForWorkspace(dir)

	msg := map[string]any{"id": "m1", "to": []any{"B-1"}, "ts": 1000}
	if err := logstore.AppendMessageEvent(l, 1, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ack := map[string]any{"id": "m1", "agent": "B-1", "ack": "accepted", "ts": 2000}
	if err := logstore.AppendAckEvent(l, 1, ack); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := Recover(l, dir, nil, 120000, 3600000, 5000000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if pending := res.Inbox["B-1"]; len(pending) != 0 {
		t.Errorf("expected no pending messages after accept, got %v", pending)
	}

	key := delivery.Key("m1", "B-1")
	if state := res.Delivery[key]; state.Status != delivery.StatusAccepted {
		t.Errorf("expected accepted status, got %s", state.Status)
	}
}

func TestRecoverDiscoversAgentsFromMessageTargets(t *testing.T) {
	dir := t.TempDir()
	l := layout.ForWorkspace(dir)

	msg := map[string]any{"id": "m1", "to": []any{"A-1", "C-1"}, "ts": 1000}
	if err := logstore.AppendMessageEvent(l, 1, msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := Recover(l, dir, nil, 120000, 3600000, 5000000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	seen := map[string]bool{}
	for _, a := range res.Agents {
		seen[a] = true
	}
	if !seen["A-1"] || !seen["C-1"] {
		t.Errorf("expected both targets discovered, got %v", res.Agents)
	}
}
