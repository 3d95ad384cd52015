package router

import (
	"time"

	"github.com/cuteecarrot/agentrelay/internal/delivery"
	"github.com/cuteecarrot/agentrelay/internal/inbox"
)

// retryLoop is the single background worker described in spec.md
// §4.10: it wakes every RetryPollIntervalMS, sweeps every
// non-terminal delivery, and expires stale presence entries.
func (r *Router) retryLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(time.Duration(r.cfg.RetryPollIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweepDeliveries()
			if r.presence != nil {
				r.presence.Expire(r.nowMS())
			}
		}
	}
}

func (r *Router) sweepDeliveries() {
	now := r.nowMS()

	r.mu.Lock()
	defer r.mu.Unlock()

	for key, d := range r.delivery {
		if d.Terminal() {
			continue
		}

		if d.ExpiresAt != 0 && now >= d.ExpiresAt {
			d.Status = delivery.StatusFailed
			d.FailureReason = "deadline_exceeded"
			d.LastTS = now
			d.NextRetryAt = nil
			r.delivery[key] = d
			r.invokeFailureHandler(d)
			continue
		}

		if d.NextRetryAt != nil && now < *d.NextRetryAt {
			continue
		}

		if d.RetryCount >= r.cfg.MaxRetries {
			d.Status = delivery.StatusFailed
			d.FailureReason = "max_retries"
			d.LastTS = now
			d.NextRetryAt = nil
			r.delivery[key] = d
			r.invokeFailureHandler(d)
			continue
		}

		if _, ok := r.messages[d.MessageID]; !ok {
			continue
		}

		delay := r.retryDelay(d.RetryCount)
		d.RetryCount++
		d.LastTS = now
		next := now + delay
		d.NextRetryAt = &next
		r.delivery[key] = d

		if err := inbox.AppendEvent(r.layout, d.Agent, "deliver", d.MessageID, now); err != nil {
			r.log.Error("append retry inbox event", "error", err, "message_id", d.MessageID, "agent", d.Agent)
			continue
		}
		r.inboxes[d.Agent] = append(r.inboxes[d.Agent], d.MessageID)
	}
}

// retryDelay computes the jittered backoff for a delivery currently
// at retryCount, floored at AckTimeoutMS (spec.md §5). Jitter is
// applied to the raw backoff value first; the ack-timeout floor is
// applied to the jittered result, so jitter can never push the delay
// under the floor.
func (r *Router) retryDelay(retryCount int) int64 {
	backoff := r.cfg.RetryBackoffMS
	idx := retryCount
	if idx >= len(backoff) {
		idx = len(backoff) - 1
	}
	base := backoff[idx]
	jitter := float64(base) * r.cfg.JitterRatio
	offset := (r.rng.Float64()*2 - 1) * jitter
	delay := float64(base) + offset
	if delay < 0 {
		delay = 0
	}
	jittered := int64(delay)
	if jittered < r.cfg.AckTimeoutMS {
		return r.cfg.AckTimeoutMS
	}
	return jittered
}
