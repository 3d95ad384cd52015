package router

import "github.com/cuteecarrot/agentrelay/internal/tasks"

// Publisher fans out router events to interested subscribers (the
// internal event bus, in turn rebroadcast to websocket clients). The
// router core only calls it; it never imports the bus or the web
// package itself.
type Publisher interface {
	PublishMessage(message map[string]any)
	PublishAck(ack map[string]any)
	PublishTask(taskID string, task *tasks.Task)
}

type noopPublisher struct{}

func (noopPublisher) PublishMessage(map[string]any)   {}
func (noopPublisher) PublishAck(map[string]any)       {}
func (noopPublisher) PublishTask(string, *tasks.Task) {}
