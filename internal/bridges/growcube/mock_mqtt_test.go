package growcube

import (
	"errors"
	"sync"

	"github.com/nerrad567/growcube-bridge/internal/infrastructure/mqtt"
)

// publishedMessage is one recorded Publish call.
type publishedMessage struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// mockPublisher implements Publisher for testing.
type mockPublisher struct {
	mu        sync.Mutex
	messages  []publishedMessage
	connected bool
	err       error
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{connected: true}
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	m.messages = append(m.messages, publishedMessage{topic: topic, payload: cp, qos: qos, retained: retained})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) setConnected(v bool) {
	m.mu.Lock()
	m.connected = v
	m.mu.Unlock()
}

func (m *mockPublisher) all() []publishedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]publishedMessage, len(m.messages))
	copy(out, m.messages)
	return out
}

func (m *mockPublisher) byTopic(topic string) []publishedMessage {
	var out []publishedMessage
	for _, msg := range m.all() {
		if msg.topic == topic {
			out = append(out, msg)
		}
	}
	return out
}

// last returns the most recent message on a topic.
func (m *mockPublisher) last(topic string) (publishedMessage, bool) {
	msgs := m.byTopic(topic)
	if len(msgs) == 0 {
		return publishedMessage{}, false
	}
	return msgs[len(msgs)-1], true
}

func (m *mockPublisher) reset() {
	m.mu.Lock()
	m.messages = nil
	m.mu.Unlock()
}

// mockSubscriber implements Subscriber for testing.
type mockSubscriber struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
	err      error
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{handlers: make(map[string]mqtt.MessageHandler)}
}

func (m *mockSubscriber) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.handlers[topic] = handler
	return nil
}

// deliver invokes the handler registered for pattern with a concrete topic.
func (m *mockSubscriber) deliver(pattern, topic string, payload []byte) error {
	m.mu.Lock()
	handler, ok := m.handlers[pattern]
	m.mu.Unlock()
	if !ok {
		return errors.New("no handler for " + pattern)
	}
	return handler(topic, payload)
}

func (m *mockSubscriber) has(pattern string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handlers[pattern]
	return ok
}

// testLogger records log calls.
type testLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *testLogger) Debug(string, ...any) {}
func (l *testLogger) Info(string, ...any)  {}

func (l *testLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *testLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *testLogger) errorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.errors)
}
