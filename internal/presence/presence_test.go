package presence

import "testing"

func TestRegisterMarksOnline(t *testing.T) {
	r := New(1000, 2)
	e := r.Register("B-1", map[string]any{"role": "B"}, 1000)

	if e.Status != "online" {
		t.Errorf("expected online, got %s", e.Status)
	}
	if e.Role != "B" {
		t.Errorf("expected role B, got %s", e.Role)
	}
	if e.LastChange != 1000 {
		t.Errorf("expected last_change 1000, got %d", e.LastChange)
	}
}

func TestHeartbeatCreatesEntryIfMissing(t *testing.T) {
	r := New(1000, 2)
	e := r.Heartbeat("B-1", 500)
	if e.Status != "online" {
		t.Errorf("expected online, got %s", e.Status)
	}
}

func TestHeartbeatUpdatesLastSeenWithoutChangingStatus(t *testing.T) {
	r := New(1000, 2)
	r.Register("B-1", nil, 0)
	e := r.Heartbeat("B-1", 500)
	if e.LastSeen != 500 {
		t.Errorf("expected last_seen 500, got %d", e.LastSeen)
	}
	if e.LastChange != 0 {
		t.Errorf("expected last_change unchanged at 0, got %d", e.LastChange)
	}
}

func TestExpireTransitionsAfterTimeout(t *testing.T) {
	r := New(1000, 2)
	r.Register("B-1", map[string]any{"role": "B"}, 0)

	expired := r.Expire(1999)
	if len(expired) != 0 {
		t.Errorf("expected no expirations before timeout, got %v", expired)
	}

	expired = r.Expire(2001)
	if len(expired) != 1 || expired[0] != "B-1" {
		t.Errorf("expected B-1 to expire, got %v", expired)
	}

	entry, _ := r.Get("B-1")
	if entry.Status != "offline" {
		t.Errorf("expected offline after expiry, got %s", entry.Status)
	}
}

func TestHeartbeatAfterExpiryGoesOnlineAgain(t *testing.T) {
	r := New(1000, 2)
	r.Register("B-1", nil, 0)
	r.Expire(2001)

	e := r.Heartbeat("B-1", 3000)
	if e.Status != "online" {
		t.Errorf("expected online after heartbeat, got %s", e.Status)
	}
	if e.LastChange != 3000 {
		t.Errorf("expected last_change updated to 3000, got %d", e.LastChange)
	}
}

func TestByRoleReturnsOnlyOnlineMatchingRole(t *testing.T) {
	r := New(1000, 2)
	r.Register("B-1", map[string]any{"role": "B"}, 0)
	r.Register("B-2", map[string]any{"role": "B"}, 0)
	r.Register("C-1", map[string]any{"role": "C"}, 0)
	r.Expire(2001) // 2001-0 > 1000*2, so every entry is now offline

	online := r.ByRole("B")
	if len(online) != 0 {
		t.Errorf("expected no online B instances after expiry, got %v", online)
	}

	r.Heartbeat("B-1", 2500)
	online = r.ByRole("B")
	if len(online) != 1 || online[0].AgentInstance != "B-1" {
		t.Errorf("expected only B-1 online, got %v", online)
	}
}

func TestSnapshotReturnsRegistrationOrder(t *testing.T) {
	r := New(1000, 2)
	r.Register("B-1", nil, 0)
	r.Register("A-1", nil, 0)

	snap := r.Snapshot()
	if len(snap) != 2 || snap[0].AgentInstance != "B-1" || snap[1].AgentInstance != "A-1" {
		t.Errorf("expected registration order preserved, got %v", snap)
	}
}

func TestGetUnknownAgent(t *testing.T) {
	r := New(1000, 2)
	_, ok := r.Get("nobody")
	if ok {
		t.Error("expected ok=false for unknown agent")
	}
}
