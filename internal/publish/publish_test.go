package publish

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopause/internal/config"
	"autopause/internal/trigger"
)

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient implements the paho client methods the publisher uses.
type fakeClient struct {
	pahomqtt.Client

	mu           sync.Mutex
	connected    bool
	publishErr   error
	messages     []published
	disconnected bool
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) IsConnectionOpen() bool {
	return c.IsConnected()
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return newToken(c.publishErr)
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected = true
	c.connected = false
}

func (c *fakeClient) sent() []published {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]published, len(c.messages))
	copy(out, c.messages)
	return out
}

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Enabled:     true,
		Broker:      "tcp://127.0.0.1:1883",
		ClientID:    "autopause-test",
		TopicPrefix: "autopause/desk",
		QoS:         1,
	}
}

func TestTopics(t *testing.T) {
	topics := Topics{Prefix: "autopause/desk"}
	assert.Equal(t, "autopause/desk/trigger", topics.Trigger())
	assert.Equal(t, "autopause/desk/status", topics.Status())
}

func TestOnTrigger_PublishesFiredEvents(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newPublisher(client, testConfig(), nil)

	when := time.Date(2026, 5, 4, 10, 30, 0, 0, time.UTC)
	p.OnTrigger(trigger.Event{Device: "Dell U2720Q", SessionID: "s-1", Key: trigger.KeyEscape, Time: when})
	p.OnTrigger(trigger.Event{Device: "Dell U2720Q", Key: trigger.KeyEscape, Time: when, Debounced: true})
	require.NoError(t, p.Close())

	sent := client.sent()
	require.Len(t, sent, 2)

	assert.Equal(t, "autopause/desk/trigger", sent[0].topic)
	assert.Equal(t, byte(1), sent[0].qos)
	assert.False(t, sent[0].retained)

	var msg TriggerMessage
	require.NoError(t, json.Unmarshal(sent[0].payload, &msg))
	assert.Equal(t, "Dell U2720Q", msg.Device)
	assert.Equal(t, "s-1", msg.SessionID)
	assert.Equal(t, "escape", msg.Key)
	assert.True(t, msg.Timestamp.Equal(when))

	assert.Equal(t, "autopause/desk/status", sent[1].topic)
	assert.True(t, sent[1].retained)
	assert.Contains(t, string(sent[1].payload), `"graceful_shutdown"`)
	assert.True(t, client.disconnected)
}

func TestPublish_Errors(t *testing.T) {
	client := &fakeClient{}
	p := newPublisher(client, testConfig(), nil)
	defer p.Close()

	assert.ErrorIs(t, p.Publish("x", []byte("{}"), false), ErrNotConnected)

	client.mu.Lock()
	client.connected = true
	client.publishErr = errors.New("broker said no")
	client.mu.Unlock()
	assert.ErrorIs(t, p.Publish("x", []byte("{}"), false), ErrPublishFailed)
}

func TestConnected(t *testing.T) {
	client := &fakeClient{connected: true}
	p := newPublisher(client, testConfig(), nil)
	assert.True(t, p.Connected())

	require.NoError(t, p.Close())
	assert.False(t, p.Connected())
}

func TestClose_Twice(t *testing.T) {
	p := newPublisher(&fakeClient{}, testConfig(), nil)
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Close(), ErrClosed)

	p.OnTrigger(trigger.Event{Device: "after close"})
}

func TestConnect_InvalidQoS(t *testing.T) {
	cfg := testConfig()
	cfg.QoS = 3
	_, err := Connect(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidQoS)
}
