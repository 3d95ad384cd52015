// Package router implements the routing engine: validated-message
// ingress, per-recipient inbox queueing, the two-stage acknowledgment
// state machine, the background retry loop, and the trace/status
// queries, all guarded by a single mutex over the in-memory state.
package router

import (
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/cuteecarrot/agentrelay/internal/delivery"
	"github.com/cuteecarrot/agentrelay/internal/inbox"
	"github.com/cuteecarrot/agentrelay/internal/jsonio"
	"github.com/cuteecarrot/agentrelay/internal/layout"
	"github.com/cuteecarrot/agentrelay/internal/logstore"
	"github.com/cuteecarrot/agentrelay/internal/presence"
	"github.com/cuteecarrot/agentrelay/internal/protocol"
	"github.com/cuteecarrot/agentrelay/internal/recovery"
	"github.com/cuteecarrot/agentrelay/internal/routerstate"
	"github.com/cuteecarrot/agentrelay/internal/session"
	"github.com/cuteecarrot/agentrelay/internal/tasks"
	"github.com/cuteecarrot/agentrelay/internal/validate"
)

// Router owns every in-memory map the routing engine needs, guarded
// by a single mutex: messages, per-agent inboxes, delivery state, and
// tasks. Presence has its own mutex since it is consulted both from
// ingress and independently from the HTTP surface.
type Router struct {
	mu sync.Mutex

	layout    layout.Layout
	cfg       Config
	log       *slog.Logger
	publisher Publisher
	presence  *presence.Registry
	now       func() int64
	rng       *rand.Rand

	session  session.Session
	state    routerstate.State
	messages map[string]map[string]any
	inboxes  map[string][]string
	delivery map[string]delivery.State
	tasks    tasks.Store

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Router seeded from a recovery.Result. presenceRegistry
// and publisher may be nil; a nil publisher is replaced with a no-op.
func New(l layout.Layout, cfg Config, rec recovery.Result, presenceRegistry *presence.Registry, publisher Publisher, log *slog.Logger) *Router {
	if publisher == nil {
		publisher = noopPublisher{}
	}
	if log == nil {
		log = slog.Default()
	}
	messages := rec.Messages
	if messages == nil {
		messages = map[string]map[string]any{}
	}
	inboxes := rec.Inbox
	if inboxes == nil {
		inboxes = map[string][]string{}
	}
	deliveryState := rec.Delivery
	if deliveryState == nil {
		deliveryState = map[string]delivery.State{}
	}
	taskStore := rec.Tasks
	if taskStore == nil {
		taskStore = tasks.Store{}
	}
	return &Router{
		layout:    l,
		cfg:       cfg.withDefaults(),
		log:       log,
		publisher: publisher,
		presence:  presenceRegistry,
		now:       func() int64 { return time.Now().UnixMilli() },
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		session:   rec.Session,
		state:     rec.State,
		messages:  messages,
		inboxes:   inboxes,
		delivery:  deliveryState,
		tasks:     taskStore,
	}
}

// Start launches the background retry loop. Stop must be called to
// release it.
func (r *Router) Start() {
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go r.retryLoop()
}

// Stop signals the retry loop to exit and waits up to five seconds
// for it to return.
func (r *Router) Stop() {
	if r.stopCh == nil {
		return
	}
	close(r.stopCh)
	select {
	case <-r.doneCh:
	case <-time.After(5 * time.Second):
	}
}

func (r *Router) nowMS() int64 { return r.now() }

// UpdateConfig swaps in a new retry/timeout/backoff configuration. It
// takes effect for deliveries created or retried after the call; it
// does not retroactively recompute already-scheduled retries. The
// retry loop keeps the poll interval it was started with, and the
// presence registry keeps the heartbeat interval and timeout
// multiplier it was built with.
func (r *Router) UpdateConfig(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg.withDefaults()
}

func cloneMessage(src map[string]any) map[string]any {
	out := make(map[string]any, len(src)+4)
	for k, v := range src {
		out[k] = v
	}
	return out
}

// ReceiveMessage runs the ingress path described in spec.md §4.6. Ack
// and nack payloads (type ack/nack, or any payload carrying
// ack_stage) are redirected to ReceiveAck.
func (r *Router) ReceiveMessage(raw map[string]any) (map[string]any, error) {
	if msgType, _ := raw["type"].(string); msgType == "ack" || msgType == "nack" {
		return r.ReceiveAck(raw)
	}
	if _, ok := raw["ack_stage"]; ok {
		return r.ReceiveAck(raw)
	}

	msg := cloneMessage(raw)
	if _, ok := msg["v"]; !ok {
		msg["v"] = "1"
	}

	r.mu.Lock()
	sessionID := r.session.SessionID
	epoch := r.state.Epoch
	r.mu.Unlock()

	if _, ok := msg["session"]; !ok {
		msg["session"] = sessionID
	}
	if _, ok := msg["epoch"]; !ok {
		msg["epoch"] = epoch
	}

	if errs := validate.Message(msg, true); len(errs) > 0 {
		return nil, &ValidationError{Errors: errs}
	}

	now := r.nowMS()

	r.mu.Lock()
	defer r.mu.Unlock()

	state := routerstate.AdvanceSeq(r.state, now)
	if err := routerstate.Save(r.layout, state); err != nil {
		return nil, fmt.Errorf("save router state: %w", err)
	}
	r.state = state

	id := fmt.Sprintf("%s-%d-%d", sessionID, epoch, state.LastSeq)
	msg["seq"] = state.LastSeq
	msg["id"] = id
	msg["ts"] = now

	toList, err := protocol.NormalizeTo(msg["to"])
	if err != nil {
		return nil, &ValidationError{Errors: []string{err.Error()}}
	}
	msg["to"] = toList
	if _, ok := msg["ttl_ms"]; !ok {
		msg["ttl_ms"] = r.cfg.DefaultTTLMS
	}

	if err := logstore.AppendMessageEvent(r.layout, epoch, msg); err != nil {
		return nil, fmt.Errorf("append message event: %w", err)
	}
	r.messages[id] = msg

	recipients := r.resolveRecipients(toList)
	expiresAt := delivery.ComputeExpiresAt(msg, now, r.cfg.DefaultTTLMS)

	acks := make([]map[string]any, 0, len(recipients))
	for _, agent := range recipients {
		if err := inbox.AppendEvent(r.layout, agent, "deliver", id, now); err != nil {
			return nil, fmt.Errorf("append inbox event: %w", err)
		}
		r.inboxes[agent] = append(r.inboxes[agent], id)

		nextRetry := now + r.cfg.AckTimeoutMS
		r.delivery[delivery.Key(id, agent)] = delivery.State{
			MessageID:   id,
			Agent:       agent,
			Status:      delivery.StatusDelivered,
			RetryCount:  0,
			FirstTS:     now,
			LastTS:      now,
			NextRetryAt: &nextRetry,
			ExpiresAt:   expiresAt,
		}

		ackRec := map[string]any{"event": "ack", "id": id, "ack": "delivered", "agent": agent, "ts": now}
		if err := logstore.AppendAckEvent(r.layout, epoch, ackRec); err != nil {
			return nil, fmt.Errorf("append ack event: %w", err)
		}
		acks = append(acks, ackRec)
		r.publisher.PublishAck(ackRec)
	}

	tasks.ApplyMessage(r.tasks, taskMessageFallback(msg))
	if err := tasks.Save(r.layout, r.tasks); err != nil {
		return nil, fmt.Errorf("save tasks: %w", err)
	}

	r.publisher.PublishMessage(msg)
	if taskID, _ := msg["task_id"].(string); taskID != "" {
		r.publisher.PublishTask(taskID, r.tasks[taskID])
	}

	return map[string]any{
		"status": "delivered",
		"id":     id,
		"seq":    state.LastSeq,
		"ts":     now,
		"acks":   acks,
	}, nil
}

// taskMessageFallback returns a copy of msg with action defaulted to
// type when the message carries no explicit action but its type is
// "done" or "fail" — the validator accepts done and fail messages
// without an action (it never requires one), but such a message
// carries no action for the task aggregator to key on. Mirrors original_source's _update_task,
// which mutates a copy rather than the message itself so the
// persisted/published message is untouched.
func taskMessageFallback(msg map[string]any) map[string]any {
	msgType, _ := msg["type"].(string)
	if action, _ := msg["action"].(string); action == "" && (msgType == "done" || msgType == "fail") {
		out := cloneMessage(msg)
		out["action"] = msgType
		return out
	}
	return msg
}

// coerceTS reports the numeric value of an ack's "ts" field, if
// present, so a caller-supplied timestamp is honored rather than
// always stamping with the router's own clock. Mirrors the original's
// ts = _coerce_int(ack.get("ts")) or self._now_ms().
func coerceTS(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// resolveRecipients expands a "to" list into concrete agent instances
// per spec.md §4.5: a literal match against a known instance wins
// outright, else every online instance whose role matches, else the
// target is kept as-is. Order is first-seen, deduplicated.
func (r *Router) resolveRecipients(to []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(agent string) {
		if agent == "" || seen[agent] {
			return
		}
		seen[agent] = true
		out = append(out, agent)
	}

	for _, target := range to {
		if r.presence != nil {
			if _, ok := r.presence.Get(target); ok {
				add(target)
				continue
			}
			matches := r.presence.ByRole(target)
			if len(matches) > 0 {
				for _, m := range matches {
					add(m.AgentInstance)
				}
				continue
			}
		}
		add(target)
	}
	return out
}

// ReceiveAck implements the two-stage ack state machine in
// spec.md §4.7.
func (r *Router) ReceiveAck(raw map[string]any) (map[string]any, error) {
	stage, _ := raw["ack"].(string)
	if stage == "" {
		stage, _ = raw["ack_stage"].(string)
	}
	if stage == "" {
		if msgType, ok := raw["type"].(string); ok && (msgType == "ack" || msgType == "nack") {
			if msgType == "nack" {
				stage = "nack"
			} else {
				stage = "delivered"
			}
		}
	}
	if !protocol.AckStages[stage] {
		return nil, &ProtocolError{Reason: "missing or unknown ack stage"}
	}

	id, _ := raw["corr"].(string)
	if id == "" {
		id, _ = raw["id"].(string)
	}
	if id == "" {
		return nil, &ProtocolError{Reason: "missing corr or id"}
	}

	agent, _ := raw["agent"].(string)
	if agent == "" {
		from, _ := raw["from"].(string)
		if idx := strings.Index(from, "-"); idx > 0 {
			agent = from[:idx]
		} else {
			agent = from
		}
	}
	if agent == "" {
		return nil, &ProtocolError{Reason: "missing agent"}
	}

	now, ok := coerceTS(raw["ts"])
	if !ok {
		now = r.nowMS()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	epoch := r.state.Epoch
	key := delivery.Key(id, agent)
	existing, known := r.delivery[key]

	switch {
	case !known:
		// A nack with no prior delivered record is accepted, creating
		// a failed state directly (see recovery's open-question note).
		if stage == "nack" {
			reason, _ := raw["reason"].(string)
			r.delivery[key] = delivery.State{
				MessageID:     id,
				Agent:         agent,
				Status:        delivery.StatusFailed,
				FirstTS:       now,
				LastTS:        now,
				FailureReason: reason,
			}
		}
	case existing.Status == delivery.StatusDelivered:
		switch stage {
		case "delivered":
			existing.LastTS = now
		case "accepted":
			existing.Status = delivery.StatusAccepted
			existing.LastTS = now
			existing.NextRetryAt = nil
			r.removeFromInbox(agent, id, now)
		case "nack":
			existing.Status = delivery.StatusFailed
			existing.LastTS = now
			existing.NextRetryAt = nil
			if reason, ok := raw["reason"].(string); ok {
				existing.FailureReason = reason
			}
			r.invokeFailureHandler(existing)
		}
		r.delivery[key] = existing
	case existing.Status == delivery.StatusAccepted:
		if stage == "nack" {
			existing.Status = delivery.StatusFailed
			existing.LastTS = now
			if reason, ok := raw["reason"].(string); ok {
				existing.FailureReason = reason
			}
			r.delivery[key] = existing
			r.invokeFailureHandler(existing)
		}
		// delivered/accepted against an already-accepted state: log only.
	default:
		// failed: log only, no transition.
	}

	ackRec := map[string]any{"event": "ack", "id": id, "ack": stage, "agent": agent, "ts": now}
	if reason, ok := raw["reason"].(string); ok {
		ackRec["reason"] = reason
	}
	if err := logstore.AppendAckEvent(r.layout, epoch, ackRec); err != nil {
		return nil, fmt.Errorf("append ack event: %w", err)
	}
	r.publisher.PublishAck(ackRec)

	return map[string]any{"status": "ok", "id": id, "ack": stage, "agent": agent}, nil
}

// removeFromInbox drops id from agent's pending queue and appends an
// "accepted" inbox event. Caller holds r.mu.
func (r *Router) removeFromInbox(agent, id string, now int64) {
	pending := r.inboxes[agent]
	filtered := pending[:0]
	removed := false
	for _, p := range pending {
		if p == id && !removed {
			removed = true
			continue
		}
		filtered = append(filtered, p)
	}
	r.inboxes[agent] = filtered
	if removed {
		_ = inbox.AppendEvent(r.layout, agent, "accepted", id, now)
	}
}

// PopInbox dequeues up to limit ids from agent's queue head and
// returns their materialized messages. This does not transition
// delivery state to accepted; only an explicit ack does (spec.md
// §4.9).
func (r *Router) PopInbox(agent string, limit int) ([]map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := r.inboxes[agent]
	if limit <= 0 || limit > len(pending) {
		limit = len(pending)
	}
	popped := pending[:limit]
	r.inboxes[agent] = pending[limit:]

	out := make([]map[string]any, 0, len(popped))
	for _, id := range popped {
		if msg, ok := r.messages[id]; ok {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Status returns session/epoch/seq, per-agent pending counts, every
// delivery state record, and optionally tasks (spec.md §4.11).
func (r *Router) Status(includeTasks bool, filterTask string) map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	pendingInbox := make(map[string]int, len(r.inboxes))
	for agent, ids := range r.inboxes {
		pendingInbox[agent] = len(ids)
	}

	deliveries := make([]delivery.State, 0, len(r.delivery))
	for _, d := range r.delivery {
		deliveries = append(deliveries, d)
	}

	out := map[string]any{
		"session":       r.session.SessionID,
		"epoch":         r.state.Epoch,
		"last_seq":      r.state.LastSeq,
		"pending_inbox": pendingInbox,
		"delivery":      deliveries,
	}

	if includeTasks {
		if filterTask != "" {
			if t, ok := r.tasks[filterTask]; ok {
				out["tasks"] = tasks.Store{filterTask: t}
			} else {
				out["tasks"] = tasks.Store{}
			}
		} else {
			out["tasks"] = r.tasks
		}
	}
	return out
}

// Trace implements spec.md §4.11: exactly one of taskID/messageID
// must be set.
func (r *Router) Trace(taskID, messageID string) (map[string]any, error) {
	if (taskID == "") == (messageID == "") {
		return nil, &BadRequestError{Reason: "exactly one of task or id is required"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if messageID != "" {
		msg, ok := r.messages[messageID]
		if !ok {
			return nil, &NotFoundError{Reason: "unknown message id"}
		}
		return map[string]any{
			"id":      messageID,
			"message": msg,
			"acks":    r.acksForMessage(messageID),
		}, nil
	}

	var msgs []map[string]any
	var ids []string
	for id, msg := range r.messages {
		if tid, _ := msg["task_id"].(string); tid == taskID {
			msgs = append(msgs, msg)
			ids = append(ids, id)
		}
	}
	if len(msgs) == 0 {
		return nil, &NotFoundError{Reason: "unknown task id"}
	}
	var acks []map[string]any
	for _, id := range ids {
		acks = append(acks, r.acksForMessage(id)...)
	}
	return map[string]any{
		"task_id":  taskID,
		"messages": msgs,
		"acks":     acks,
	}, nil
}

func (r *Router) acksForMessage(id string) []map[string]any {
	var acks []map[string]any
	_ = logstore.IterAckEvents(r.layout, func(rec map[string]any) error {
		if recID, _ := rec["id"].(string); recID == id {
			acks = append(acks, rec)
		}
		return nil
	})
	return acks
}

// RegisterPresence registers an agent instance as online.
func (r *Router) RegisterPresence(agent string, meta map[string]any) map[string]any {
	if r.presence == nil {
		return nil
	}
	now := r.nowMS()
	e := r.presence.Register(agent, meta, now)
	return presenceResponse(e)
}

// Heartbeat refreshes an agent instance's liveness.
func (r *Router) Heartbeat(agent string) map[string]any {
	if r.presence == nil {
		return nil
	}
	now := r.nowMS()
	e := r.presence.Heartbeat(agent, now)
	return presenceResponse(e)
}

// PresenceSnapshot returns one agent's presence record, or the full
// registry snapshot if agent is empty.
func (r *Router) PresenceSnapshot(agent string) any {
	if r.presence == nil {
		return nil
	}
	if agent != "" {
		e, ok := r.presence.Get(agent)
		if !ok {
			return nil
		}
		return presenceResponse(e)
	}
	snapshot := r.presence.Snapshot()
	out := make([]map[string]any, 0, len(snapshot))
	for _, e := range snapshot {
		out = append(out, presenceResponse(e))
	}
	return out
}

func presenceResponse(e presence.Entry) map[string]any {
	return map[string]any{
		"agent_instance": e.AgentInstance,
		"role":           e.Role,
		"status":         e.Status,
		"last_seen":      e.LastSeen,
		"last_change":    e.LastChange,
		"meta":           e.Meta,
	}
}

// invokeFailureHandler appends the default failure record. Caller
// holds r.mu.
func (r *Router) invokeFailureHandler(d delivery.State) {
	rec := map[string]any{
		"message_id":  d.MessageID,
		"agent":       d.Agent,
		"reason":      d.FailureReason,
		"retry_count": d.RetryCount,
	}
	if err := jsonio.AppendLine(r.layout.FailuresLogPath(), rec); err != nil {
		r.log.Error("append failure record", "error", err, "message_id", d.MessageID, "agent", d.Agent)
	}
}
