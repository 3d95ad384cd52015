package eventbus

// Subject names published by the router core and consumed by the
// websocket hub. Message/ack subjects carry the id so a subscriber
// can filter without decoding every payload.
const (
	TopicMessageAll = "events.message.>"
	TopicAckAll     = "events.ack.>"
	TopicTaskAll    = "events.task.>"
)

func topicMessage(id string) string { return "events.message." + id }
func topicAck(id string) string     { return "events.ack." + id }
func topicTask(taskID string) string { return "events.task." + taskID }
