// Package layout defines the on-disk directory scheme for a router
// workspace: <workspace>/.codex_team/{meta,state,inbox,logs,blobs}.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Layout resolves well-known paths under a workspace's storage root.
type Layout struct {
	Root string
}

// ForWorkspace returns the Layout rooted at <workspace>/.codex_team.
func ForWorkspace(workspace string) Layout {
	return Layout{Root: filepath.Join(workspace, ".codex_team")}
}

// Ensure creates every directory in the layout, idempotently.
func (l Layout) Ensure() error {
	for _, dir := range []string{l.MetaDir(), l.StateDir(), l.InboxDir(), l.LogsDir(), l.BlobsDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure layout dir %s: %w", dir, err)
		}
	}
	return nil
}

func (l Layout) MetaDir() string  { return filepath.Join(l.Root, "meta") }
func (l Layout) StateDir() string { return filepath.Join(l.Root, "state") }
func (l Layout) InboxDir() string { return filepath.Join(l.Root, "inbox") }
func (l Layout) LogsDir() string  { return filepath.Join(l.Root, "logs") }
func (l Layout) BlobsDir() string { return filepath.Join(l.Root, "blobs") }

func (l Layout) SessionPath() string     { return filepath.Join(l.MetaDir(), "session.json") }
func (l Layout) RouterStatePath() string { return filepath.Join(l.StateDir(), "router.json") }
func (l Layout) TasksPath() string       { return filepath.Join(l.StateDir(), "tasks.json") }

func (l Layout) InboxPath(agent string) string {
	return filepath.Join(l.InboxDir(), agent+".jsonl")
}

func (l Layout) MessagesLogPath(epoch int) string {
	return filepath.Join(l.LogsDir(), messagesLogName(epoch))
}

func (l Layout) AcksLogPath(epoch int) string {
	return filepath.Join(l.LogsDir(), acksLogName(epoch))
}

func (l Layout) FailuresLogPath() string {
	return filepath.Join(l.LogsDir(), "failures.log")
}

func (l Layout) BlobPath(blobID string) string {
	return filepath.Join(l.BlobsDir(), blobID+".json")
}

func messagesLogName(epoch int) string {
	return "messages-" + strconv.Itoa(epoch) + ".jsonl"
}

func acksLogName(epoch int) string {
	return "acks-" + strconv.Itoa(epoch) + ".jsonl"
}
