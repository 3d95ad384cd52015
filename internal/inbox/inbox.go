// Package inbox folds per-agent deliver/accepted event logs into the
// ordered list of message ids still pending acceptance.
package inbox

import (
	"github.com/cuteecarrot/agentrelay/internal/jsonio"
	"github.com/cuteecarrot/agentrelay/internal/layout"
)

// AppendEvent appends a deliver/accepted event to an agent's inbox log.
func AppendEvent(l layout.Layout, agent, eventType, messageID string, ts int64) error {
	return jsonio.AppendLine(l.InboxPath(agent), map[string]any{
		"event": eventType,
		"id":    messageID,
		"ts":    ts,
	})
}

// LoadPendingIDs returns the ordered pending ids for agent by folding
// its inbox log: deliver pushes (if absent), accepted removes.
func LoadPendingIDs(l layout.Layout, agent string) ([]string, error) {
	var events []map[string]any
	err := jsonio.IterLines(l.InboxPath(agent), func(rec map[string]any) error {
		events = append(events, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return PendingIDsFromEvents(events), nil
}

// PendingIDsFromEvents applies the deliver/accepted fold to an
// in-memory slice of inbox events, preserving delivery order.
func PendingIDsFromEvents(events []map[string]any) []string {
	pending := make([]string, 0)
	present := make(map[string]bool)
	for _, ev := range events {
		eventType, _ := ev["event"].(string)
		id, _ := ev["id"].(string)
		if id == "" {
			continue
		}
		switch eventType {
		case "deliver":
			if !present[id] {
				pending = append(pending, id)
				present[id] = true
			}
		case "accepted":
			if present[id] {
				delete(present, id)
				filtered := pending[:0]
				for _, p := range pending {
					if p != id {
						filtered = append(filtered, p)
					}
				}
				pending = filtered
			}
		}
	}
	return pending
}
