package mqtt

import (
	"errors"
	"fmt"
	"sort"
)

var errSubscribeTimeout = errors.New("timed out")

// Subscribe routes messages matching topic (wildcards allowed) to handler.
// The route is kept and re-subscribed after every reconnect; subscribing
// the same topic again replaces its handler.
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if err := validate(topic, qos); err != nil {
		return err
	}
	if handler == nil {
		return fmt.Errorf("%w: %s: nil handler", ErrSubscribeFailed, topic)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.mu.Lock()
	c.routes[topic] = route{qos: qos, handler: handler}
	c.mu.Unlock()

	token := c.paho.Subscribe(topic, qos, c.dispatch(handler))
	err := errSubscribeTimeout
	if token.WaitTimeout(operationTimeout) {
		err = token.Error()
	}
	if err != nil {
		c.mu.Lock()
		delete(c.routes, topic)
		c.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
	}
	return nil
}

// Subscriptions lists the routed topic patterns in sorted order.
func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	topics := make([]string, 0, len(c.routes))
	for topic := range c.routes {
		topics = append(topics, topic)
	}
	c.mu.RUnlock()

	sort.Strings(topics)
	return topics
}
