package mqtt

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Publish sends a message to the specified MQTT topic.
//
// Publishing is fire-and-forget: the call returns as soon as the
// message reaches the library's write buffer. Delivery failures are
// absorbed, counted in Stats, and logged if a logger is set, so the
// service keeps running through broker blips.
//
// Parameters:
//   - topic: The topic to publish to (e.g., "hearth/announce/request")
//   - payload: The message payload (typically JSON, max 1MB)
//   - qos: Quality of Service level (0, 1, or 2)
//   - retained: Whether the broker should retain the message for new
//     subscribers. Use for state topics, never for events.
//
// Returns:
//   - error: Only for caller mistakes (empty topic, bad QoS, oversized
//     payload) or a client that was never connected
func (c *Client) Publish(topic string, payload []byte, qos byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if len(payload) > maxPayloadSize {
		return fmt.Errorf("%w: payload size %d exceeds maximum %d bytes", ErrPublishFailed, len(payload), maxPayloadSize)
	}

	token := c.client.Publish(topic, qos, retained, payload)

	// Watch the token off the caller's goroutine; a broker that never
	// acks must not block publishing call sites.
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			c.publishErrTotal.Add(1)
			if logger := c.getLogger(); logger != nil {
				logger.Warn("MQTT publish failed",
					"topic", topic,
					"error", err,
				)
			}
		}
	}()

	return nil
}

// PublishJSON marshals v and publishes it to topic.
//
// Example:
//
//	env := bus.New("sonos-gateway", "announce.suppressed", data)
//	client.PublishJSON(client.Topics().AnnounceSuppressed(), env, 1, false)
func (c *Client) PublishJSON(topic string, v any, qos byte, retained bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding payload: %w", ErrPublishFailed, err)
	}
	return c.Publish(topic, payload, qos, retained)
}
