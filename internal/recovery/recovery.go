// Package recovery rebuilds in-memory router state from the on-disk
// append-only logs on every startup, so a crash between any two
// writes never loses a pending delivery or a task's lifecycle.
package recovery

import (
	"os"

	"github.com/cuteecarrot/agentrelay/internal/delivery"
	"github.com/cuteecarrot/agentrelay/internal/inbox"
	"github.com/cuteecarrot/agentrelay/internal/layout"
	"github.com/cuteecarrot/agentrelay/internal/logstore"
	"github.com/cuteecarrot/agentrelay/internal/protocol"
	"github.com/cuteecarrot/agentrelay/internal/routerstate"
	"github.com/cuteecarrot/agentrelay/internal/session"
	"github.com/cuteecarrot/agentrelay/internal/tasks"
)

// Result is everything the router needs to resume work after a
// restart.
type Result struct {
	Session  session.Session
	State    routerstate.State
	Agents   []string
	Messages map[string]map[string]any
	Inbox    map[string][]string
	Tasks    tasks.Store
	Delivery map[string]delivery.State
}

// Recover runs the full startup sequence: load-or-create the
// workspace session, load-or-rebuild the router's epoch/seq counter,
// discover known agents, rebuild their inbox queues, replay tasks and
// delivery state from the logs. nowMS is the recovery-time clock,
// used to re-home pending deliveries (spec.md §4.4 step 7) rather
// than the original message timestamps.
func Recover(l layout.Layout, workspace string, roles []string, ackTimeoutMS, defaultTTLMS, nowMS int64) (Result, error) {
	sess, err := session.InitOrLoad(l, workspace, roles)
	if err != nil {
		return Result{}, err
	}

	state, err := recoverRouterState(l)
	if err != nil {
		return Result{}, err
	}
	if err := routerstate.Save(l, state); err != nil {
		return Result{}, err
	}

	agents, err := discoverAgents(l)
	if err != nil {
		return Result{}, err
	}

	taskStore, err := recoverTasks(l)
	if err != nil {
		return Result{}, err
	}

	inboxByAgent := make(map[string][]string, len(agents))
	for _, agent := range agents {
		pending, err := recoverInbox(l, agent)
		if err != nil {
			return Result{}, err
		}
		inboxByAgent[agent] = pending
	}

	deliveryState, err := buildDeliveryState(l, ackTimeoutMS, defaultTTLMS, nowMS)
	if err != nil {
		return Result{}, err
	}

	messages, err := recoverMessages(l)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Session:  sess,
		State:    state,
		Agents:   agents,
		Messages: messages,
		Inbox:    inboxByAgent,
		Tasks:    taskStore,
		Delivery: deliveryState,
	}, nil
}

// recoverMessages replays the message log into an in-memory id→message
// map so pop/trace/status queries work immediately after a restart,
// without waiting for a message to be re-sent.
func recoverMessages(l layout.Layout) (map[string]map[string]any, error) {
	messages := make(map[string]map[string]any)
	err := logstore.IterMessageEvents(l, func(rec map[string]any) error {
		id, _ := rec["id"].(string)
		if id == "" {
			return nil
		}
		messages[id] = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// recoverRouterState loads the persisted (epoch, last_seq) counter
// and bumps the epoch for the new process. If the state file is
// missing but logs exist (e.g. it was lost between write and fsync),
// it falls back to scanning the logs for the highest epoch/seq seen.
func recoverRouterState(l layout.Layout) (routerstate.State, error) {
	state, ok, err := routerstate.Load(l)
	if err != nil {
		return routerstate.State{}, err
	}
	if ok {
		return routerstate.IncrementEpoch(state), nil
	}

	maxEpoch, maxSeq, err := scanLogsForMax(l)
	if err != nil {
		return routerstate.State{}, err
	}
	return routerstate.State{Epoch: maxEpoch + 1, LastSeq: maxSeq}, nil
}

func scanLogsForMax(l layout.Layout) (int, int, error) {
	maxEpoch, maxSeq := 0, 0
	track := func(rec map[string]any) error {
		if epoch, ok := intField(rec, "epoch"); ok && epoch > maxEpoch {
			maxEpoch = epoch
		}
		if seq, ok := intField(rec, "seq"); ok && seq > maxSeq {
			maxSeq = seq
		}
		return nil
	}
	if err := logstore.IterMessageEvents(l, track); err != nil {
		return 0, 0, err
	}
	if err := logstore.IterAckEvents(l, track); err != nil {
		return 0, 0, err
	}
	return maxEpoch, maxSeq, nil
}

func intField(rec map[string]any, field string) (int, bool) {
	switch n := rec[field].(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	default:
		return 0, false
	}
}

// discoverAgents unions every agent with an inbox log file and every
// target named in any message's "to" field, so an agent that has
// never yet had a message delivered but was once addressed still
// shows up.
func discoverAgents(l layout.Layout) ([]string, error) {
	seen := make(map[string]bool)
	var order []string
	add := func(agent string) {
		if agent == "" || seen[agent] {
			return
		}
		seen[agent] = true
		order = append(order, agent)
	}

	entries, err := listInboxStems(l)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		add(e)
	}

	err = logstore.IterMessageEvents(l, func(rec map[string]any) error {
		targets, terr := protocol.NormalizeTo(rec["to"])
		if terr != nil {
			return nil
		}
		for _, t := range targets {
			add(t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func listInboxStems(l layout.Layout) ([]string, error) {
	var stems []string
	err := forEachInboxFile(l, func(name string) {
		stems = append(stems, trimSuffix(name, ".jsonl"))
	})
	return stems, err
}

// recoverInbox loads an agent's pending ids from its own inbox log;
// if that log is empty (never written, or lost between message
// delivery and the inbox-log append), it falls back to rebuilding the
// pending set from the message/ack logs directly.
func recoverInbox(l layout.Layout, agent string) ([]string, error) {
	if info, err := os.Stat(l.InboxPath(agent)); err == nil && info.Size() > 0 {
		return inbox.LoadPendingIDs(l, agent)
	}
	return rebuildInboxFromLogs(l, agent)
}

// rebuildInboxFromLogs derives an agent's pending message ids as
// message_ids_addressed_to_agent minus message_ids_accepted_by_agent,
// preserving delivery order.
func rebuildInboxFromLogs(l layout.Layout, agent string) ([]string, error) {
	var delivered []string
	deliveredSet := make(map[string]bool)
	err := logstore.IterMessageEvents(l, func(rec map[string]any) error {
		id, _ := rec["id"].(string)
		if id == "" {
			return nil
		}
		targets, terr := protocol.NormalizeTo(rec["to"])
		if terr != nil {
			return nil
		}
		for _, t := range targets {
			if t == agent && !deliveredSet[id] {
				delivered = append(delivered, id)
				deliveredSet[id] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	accepted := make(map[string]bool)
	err = logstore.IterAckEvents(l, func(rec map[string]any) error {
		a, _ := rec["agent"].(string)
		ack, _ := rec["ack"].(string)
		id, _ := rec["id"].(string)
		if a == agent && ack == "accepted" && id != "" {
			accepted[id] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	pending := make([]string, 0, len(delivered))
	for _, id := range delivered {
		if !accepted[id] {
			pending = append(pending, id)
		}
	}
	return pending, nil
}

// recoverTasks loads state/tasks.json, replaying the message log over
// it from scratch if the file is absent so a lost state write never
// loses task lifecycle history.
func recoverTasks(l layout.Layout) (tasks.Store, error) {
	store, err := tasks.Load(l)
	if err != nil {
		return nil, err
	}
	if len(store) > 0 {
		return store, nil
	}

	store = tasks.Store{}
	err = logstore.IterMessageEvents(l, func(rec map[string]any) error {
		tasks.ApplyMessage(store, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// buildDeliveryState replays the message log to seed a first_ts and
// expires_at per (message, agent) pair, then folds the ack log over
// it to advance each pair's status. Any pair still pending
// (status=delivered) after the fold is re-homed as of nowMS —
// retry_count is reset to 0 and first_ts, last_ts, and next_retry_at
// are reset to the recovery clock, not the original message
// timestamp, so a message delivered
// long before a restart does not retry immediately on the first
// post-restart sweep (spec.md §4.4 step 7).
func buildDeliveryState(l layout.Layout, ackTimeoutMS, defaultTTLMS, nowMS int64) (map[string]delivery.State, error) {
	states := make(map[string]delivery.State)

	err := logstore.IterMessageEvents(l, func(rec map[string]any) error {
		id, _ := rec["id"].(string)
		if id == "" {
			return nil
		}
		ts, _ := intField(rec, "ts")
		targets, terr := protocol.NormalizeTo(rec["to"])
		if terr != nil {
			return nil
		}
		expires := delivery.ComputeExpiresAt(rec, int64(ts), defaultTTLMS)
		for _, agent := range targets {
			key := delivery.Key(id, agent)
			if _, exists := states[key]; exists {
				continue
			}
			nextRetry := int64(ts) + ackTimeoutMS
			states[key] = delivery.State{
				MessageID:   id,
				Agent:       agent,
				Status:      delivery.StatusDelivered,
				RetryCount:  0,
				FirstTS:     int64(ts),
				LastTS:      int64(ts),
				NextRetryAt: &nextRetry,
				ExpiresAt:   expires,
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = logstore.IterAckEvents(l, func(rec map[string]any) error {
		id, _ := rec["id"].(string)
		agent, _ := rec["agent"].(string)
		ack, _ := rec["ack"].(string)
		if id == "" || agent == "" {
			return nil
		}
		key := delivery.Key(id, agent)
		s, ok := states[key]
		ts, _ := intField(rec, "ts")
		if !ok {
			s = delivery.State{
				MessageID: id,
				Agent:     agent,
				Status:    delivery.StatusDelivered,
				FirstTS:   int64(ts),
			}
		}
		s.LastTS = int64(ts)
		switch ack {
		case "accepted":
			if s.Status != delivery.StatusFailed {
				s.Status = delivery.StatusAccepted
				s.NextRetryAt = nil
			}
		case "nack":
			if s.Status != delivery.StatusAccepted {
				s.Status = delivery.StatusFailed
				s.NextRetryAt = nil
				if reason, ok := rec["reason"].(string); ok {
					s.FailureReason = reason
				}
			}
		case "delivered":
			// no status change: the pair stays pending. Retries do
			// not write delivered acks, so their count says nothing
			// about retry_count.
		}
		states[key] = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	for key, s := range states {
		if s.Terminal() {
			continue
		}
		s.RetryCount = 0
		s.FirstTS = nowMS
		s.LastTS = nowMS
		nextRetry := nowMS + ackTimeoutMS
		s.NextRetryAt = &nextRetry
		states[key] = s
	}

	return states, nil
}

func forEachInboxFile(l layout.Layout, fn func(name string)) error {
	entries, err := os.ReadDir(l.InboxDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fn(e.Name())
	}
	return nil
}

func trimSuffix(s, suffix string) string {
	if len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix {
		return s[:len(s)-len(suffix)]
	}
	return s
}
