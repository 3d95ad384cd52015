package eventbus

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/cuteecarrot/agentrelay/internal/tasks"
)

// Client wraps a *nats.Conn and implements router.Publisher by
// marshaling each event to JSON and publishing it on a per-kind
// subject. It deliberately does not import internal/router, to keep
// the dependency direction one-way (router → eventbus.Client as a
// router.Publisher, never eventbus → router).
type Client struct {
	conn *nats.Conn
}

// NewClient connects to the bus's loopback URL.
func NewClient(b *Bus) (*Client, error) {
	conn, err := nats.Connect(b.ClientURL())
	if err != nil {
		return nil, fmt.Errorf("connect to event bus: %w", err)
	}
	return &Client{conn: conn}, nil
}

// PublishMessage satisfies router.Publisher.
func (c *Client) PublishMessage(message map[string]any) {
	id, _ := message["id"].(string)
	c.publishJSON(topicMessage(id), message)
}

// PublishAck satisfies router.Publisher.
func (c *Client) PublishAck(ack map[string]any) {
	id, _ := ack["id"].(string)
	c.publishJSON(topicAck(id), ack)
}

// PublishTask satisfies router.Publisher.
func (c *Client) PublishTask(taskID string, task *tasks.Task) {
	c.publishJSON(topicTask(taskID), map[string]any{"task_id": taskID, "task": task})
}

func (c *Client) publishJSON(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = c.conn.Publish(subject, data)
}

// Subscribe registers fn against subject, returning the subscription
// so the caller can Unsubscribe.
func (c *Client) Subscribe(subject string, fn func(subject string, data []byte)) (*nats.Subscription, error) {
	return c.conn.Subscribe(subject, func(msg *nats.Msg) {
		fn(msg.Subject, msg.Data)
	})
}

// Close flushes and closes the connection.
func (c *Client) Close() {
	c.conn.Close()
}
