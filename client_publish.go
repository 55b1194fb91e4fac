package mqttcore

import (
	"context"
	"fmt"
	"time"
)

// Publish sends payload to topic. The payload is copied before Publish
// returns, whatever the wait flags.
//
// With WaitSent it returns once the PUBLISH is written, with WaitAck once
// the QoS exchange completes. Before sending, the caller sleeps for the
// current throttle delay.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, wait WaitFlags) error {
	return c.publish(ctx, topic, payload, qos, false, wait)
}

// PublishRetained is Publish with the retain flag set, so the broker keeps
// the message for future subscribers.
func (c *Client) PublishRetained(ctx context.Context, topic string, payload []byte, qos byte, wait WaitFlags) error {
	return c.publish(ctx, topic, payload, qos, true, wait)
}

func (c *Client) publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool, wait WaitFlags) error {
	if err := ValidateTopicName(topic); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTopic, err)
	}
	if qos > 2 {
		return ErrInvalidQoS
	}

	pkt := &PublishPacket{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	}

	if err := c.ensureAttached(); err != nil {
		return err
	}
	if err := c.pace(ctx); err != nil {
		return err
	}

	m := newMessage(pkt, wait)

	c.mu.Lock()
	err := c.enqueueLocked(m, pkt)
	c.unlock()
	if err != nil {
		return err
	}

	c.logger.Debug("publish queued", LogFields{
		LogFieldTopic:    topic,
		LogFieldQoS:      qos,
		LogFieldPacketID: m.id,
		LogFieldBytes:    len(payload),
	})

	return m.future.wait(ctx, wait)
}

// pace waits for the publish rate limit and the throttle delay. Neither
// holds the client lock.
func (c *Client) pace(ctx context.Context) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	c.mu.Lock()
	delay := c.throttle.next(time.Now())
	c.mu.Unlock()

	c.metrics.throttleDelay(delay)
	return sleepContext(ctx, delay)
}
