// Package session manages the workspace-scoped identity created on
// first use of a workspace and preserved across restarts.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/cuteecarrot/agentrelay/internal/jsonio"
	"github.com/cuteecarrot/agentrelay/internal/layout"
)

// Session is the immutable identity of a workspace.
type Session struct {
	SessionID string   `json:"session_id"`
	CreatedAt int64    `json:"created_at"`
	Workspace string   `json:"workspace"`
	Roles     []string `json:"roles,omitempty"`
}

// InitOrLoad loads meta/session.json if present, else creates and
// persists a fresh session.
func InitOrLoad(l layout.Layout, workspace string, roles []string) (Session, error) {
	var existing Session
	ok, err := jsonio.ReadJSON(l.SessionPath(), &existing)
	if err != nil {
		return Session{}, err
	}
	if ok {
		return existing, nil
	}

	s := Session{
		SessionID: uuid.New().String(),
		CreatedAt: time.Now().UnixMilli(),
		Workspace: workspace,
		Roles:     roles,
	}
	if err := jsonio.WriteAtomic(l.SessionPath(), s); err != nil {
		return Session{}, err
	}
	return s, nil
}
