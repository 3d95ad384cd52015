// Package presence tracks agent instance liveness and resolves role
// names to live instances at delivery time.
package presence

import "sync"

// Entry is one agent instance's last-known registration and heartbeat.
type Entry struct {
	AgentInstance string         `json:"agent_instance"`
	Role          string         `json:"role,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
	Status        string         `json:"status"`
	LastSeen      int64          `json:"last_seen"`
	LastChange    int64          `json:"last_change"`
}

// Registry is the in-memory presence table, guarded by its own mutex
// since it is consulted independently of the router's own lock.
type Registry struct {
	mu                sync.Mutex
	entries           map[string]*Entry
	order             []string
	intervalMS        int64
	timeoutMultiplier int64
}

// New builds a Registry. intervalMS is the expected heartbeat
// interval; an entry is considered offline once now-last_seen exceeds
// intervalMS*timeoutMultiplier.
func New(intervalMS, timeoutMultiplier int64) *Registry {
	if intervalMS <= 0 {
		intervalMS = 30000
	}
	if timeoutMultiplier <= 0 {
		timeoutMultiplier = 2
	}
	return &Registry{
		entries:           make(map[string]*Entry),
		intervalMS:        intervalMS,
		timeoutMultiplier: timeoutMultiplier,
	}
}

// Register upserts agent's entry with the given meta and marks it
// online, recording last_change if it was previously offline or new.
func (r *Registry) Register(agent string, meta map[string]any, nowMS int64) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upsert(agent, meta, nowMS)
}

// Heartbeat refreshes last_seen for agent, creating the entry if it
// does not already exist (an agent may heartbeat before it registers
// explicit meta).
func (r *Registry) Heartbeat(agent string, nowMS int64) Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[agent]
	if !ok {
		return r.upsert(agent, nil, nowMS)
	}
	e.LastSeen = nowMS
	if e.Status != "online" {
		e.Status = "online"
		e.LastChange = nowMS
	}
	return *e
}

func (r *Registry) upsert(agent string, meta map[string]any, nowMS int64) Entry {
	e, exists := r.entries[agent]
	if !exists {
		e = &Entry{AgentInstance: agent}
		r.entries[agent] = e
		r.order = append(r.order, agent)
	}
	if meta != nil {
		e.Meta = meta
		if role, ok := meta["role"].(string); ok {
			e.Role = role
		}
	}
	if e.Status != "online" {
		e.LastChange = nowMS
	}
	e.Status = "online"
	e.LastSeen = nowMS
	return *e
}

// Expire marks every online entry whose last_seen is older than the
// configured timeout as offline. Returns the agent instances that
// transitioned.
func (r *Registry) Expire(nowMS int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	timeout := r.intervalMS * r.timeoutMultiplier
	var expired []string
	for _, agent := range r.order {
		e := r.entries[agent]
		if e.Status == "online" && nowMS-e.LastSeen > timeout {
			e.Status = "offline"
			e.LastChange = nowMS
			expired = append(expired, agent)
		}
	}
	return expired
}

// Get returns a copy of the entry for agent, if present.
func (r *Registry) Get(agent string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[agent]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ByRole returns the online entries whose Role matches role, in
// registration order.
func (r *Registry) ByRole(role string) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Entry
	for _, agent := range r.order {
		e := r.entries[agent]
		if e.Role == role && e.Status == "online" {
			out = append(out, *e)
		}
	}
	return out
}

// Snapshot returns a copy of every known entry, in registration order.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.order))
	for _, agent := range r.order {
		out = append(out, *r.entries[agent])
	}
	return out
}
