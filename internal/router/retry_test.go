package router

import (
	"testing"

	"github.com/cuteecarrot/agentrelay/internal/delivery"
)

func TestSweepDeliveriesRetriesAfterAckTimeout(t *testing.T) {
	r, clockFn := newTestRouter(t, nil)
	clock := clockFn

	msg := map[string]any{
		"agent_instance": "MAIN-1",
		"from":           "MAIN-1",
		"to":             []any{"B-1"},
		"type":           "ask",
	}
	result, err := r.ReceiveMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := result["id"].(string)

	// Drain the inbox, as if the agent already popped it once.
	if _, err := r.PopInbox("B-1", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Advance the clock past AckTimeoutMS without an ack.
	advanced := clock() + 1500
	r.now = func() int64 { return advanced }

	r.sweepDeliveries()

	r.mu.Lock()
	state := r.delivery[delivery.Key(id, "B-1")]
	r.mu.Unlock()
	if state.RetryCount != 1 {
		t.Errorf("expected retry_count 1 after sweep, got %d", state.RetryCount)
	}

	popped, err := r.PopInbox("B-1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(popped) != 1 {
		t.Errorf("expected message re-queued to inbox, got %v", popped)
	}
}

func TestSweepDeliveriesFailsAfterMaxRetries(t *testing.T) {
	r, clockFn := newTestRouter(t, nil)
	clock := clockFn

	msg := map[string]any{
		"agent_instance": "MAIN-1",
		"from":           "MAIN-1",
		"to":             []any{"B-1"},
		"type":           "ask",
	}
	result, err := r.ReceiveMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := result["id"].(string)

	current := clock()
	for i := 0; i <= r.cfg.MaxRetries; i++ {
		current += 5000
		r.now = func() int64 { return current }
		r.sweepDeliveries()
	}

	r.mu.Lock()
	state := r.delivery[delivery.Key(id, "B-1")]
	r.mu.Unlock()
	if state.Status != delivery.StatusFailed {
		t.Errorf("expected failed status after exhausting retries, got %s", state.Status)
	}
	if state.FailureReason != "max_retries" {
		t.Errorf("expected failure reason max_retries, got %s", state.FailureReason)
	}
}

func TestSweepDeliveriesFailsOnDeadlineExceeded(t *testing.T) {
	r, clockFn := newTestRouter(t, nil)
	clock := clockFn

	msg := map[string]any{
		"agent_instance": "MAIN-1",
		"from":           "MAIN-1",
		"to":             []any{"B-1"},
		"type":           "ask",
		"deadline":       clock() + 500,
	}
	result, err := r.ReceiveMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := result["id"].(string)

	r.now = func() int64 { return clock() + 600 }
	r.sweepDeliveries()

	r.mu.Lock()
	state := r.delivery[delivery.Key(id, "B-1")]
	r.mu.Unlock()
	if state.Status != delivery.StatusFailed {
		t.Errorf("expected failed status after deadline, got %s", state.Status)
	}
	if state.FailureReason != "deadline_exceeded" {
		t.Errorf("expected failure reason deadline_exceeded, got %s", state.FailureReason)
	}
}

func TestSweepDeliveriesSkipsTerminalStates(t *testing.T) {
	r, _ := newTestRouter(t, nil)

	msg := map[string]any{
		"agent_instance": "MAIN-1",
		"from":           "MAIN-1",
		"to":             []any{"B-1"},
		"type":           "ask",
	}
	result, err := r.ReceiveMessage(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id := result["id"].(string)

	if _, err := r.ReceiveAck(map[string]any{"corr": id, "agent": "B-1", "ack": "accepted"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.sweepDeliveries()

	r.mu.Lock()
	state := r.delivery[delivery.Key(id, "B-1")]
	r.mu.Unlock()
	if state.Status != delivery.StatusAccepted {
		t.Errorf("expected accepted status to remain untouched, got %s", state.Status)
	}
	if state.RetryCount != 0 {
		t.Errorf("expected retry_count unchanged at 0, got %d", state.RetryCount)
	}
}

func TestRetryDelayFloorsAtAckTimeout(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	r.cfg.RetryBackoffMS = []int64{10}
	r.cfg.AckTimeoutMS = 5000
	r.cfg.JitterRatio = 0

	delay := r.retryDelay(0)
	if delay != 5000 {
		t.Errorf("expected delay floored at ack timeout 5000, got %d", delay)
	}
}

func TestRetryDelayFloorsAtAckTimeoutWithJitter(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	r.cfg.RetryBackoffMS = []int64{30000}
	r.cfg.AckTimeoutMS = 120000
	r.cfg.JitterRatio = 0.2

	for i := 0; i < 50; i++ {
		delay := r.retryDelay(0)
		if delay < r.cfg.AckTimeoutMS {
			t.Fatalf("jittered delay %d fell below ack timeout floor %d", delay, r.cfg.AckTimeoutMS)
		}
	}
}

func TestRetryDelayUsesLastBackoffBeyondListLength(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	r.cfg.RetryBackoffMS = []int64{1000, 2000}
	r.cfg.AckTimeoutMS = 0
	r.cfg.JitterRatio = 0

	delay := r.retryDelay(10)
	if delay != 2000 {
		t.Errorf("expected delay to use last backoff entry 2000, got %d", delay)
	}
}
