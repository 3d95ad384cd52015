// Package routerstate holds the workspace-monotonic (epoch, last_seq)
// counter the router persists to state/router.json.
package routerstate

import (
	"github.com/cuteecarrot/agentrelay/internal/jsonio"
	"github.com/cuteecarrot/agentrelay/internal/layout"
)

// State is the immutable router-sequence tuple. Every transition
// returns a new value rather than mutating in place.
type State struct {
	Epoch   int    `json:"epoch"`
	LastSeq int    `json:"last_seq"`
	LastTS  *int64 `json:"last_ts"`
}

// Load reads state/router.json, returning the zero State if absent.
func Load(l layout.Layout) (State, bool, error) {
	var s State
	ok, err := jsonio.ReadJSON(l.RouterStatePath(), &s)
	if err != nil {
		return State{}, false, err
	}
	return s, ok, nil
}

// Save atomically persists state to state/router.json.
func Save(l layout.Layout, s State) error {
	return jsonio.WriteAtomic(l.RouterStatePath(), s)
}

// IncrementEpoch returns state with epoch+1, called once at startup
// after loading prior state, before any message is routed.
func IncrementEpoch(s State) State {
	return State{Epoch: s.Epoch + 1, LastSeq: s.LastSeq, LastTS: s.LastTS}
}

// AdvanceSeq returns state with last_seq+1, called under the router
// lock on every ingress.
func AdvanceSeq(s State, tsMS int64) State {
	ts := tsMS
	return State{Epoch: s.Epoch, LastSeq: s.LastSeq + 1, LastTS: &ts}
}
