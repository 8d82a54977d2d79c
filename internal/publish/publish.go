// Package publish announces fired triggers on an MQTT broker so other
// machines (home automation, stream decks) can react to a disconnection.
package publish

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"autopause/internal/config"
	"autopause/internal/logging"
	"autopause/internal/trigger"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 250 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	maxQoS                   = 2
	queueSize                = 32
)

var (
	ErrConnectionFailed = errors.New("publish: mqtt connection failed")
	ErrNotConnected     = errors.New("publish: not connected")
	ErrPublishFailed    = errors.New("publish: mqtt publish failed")
	ErrInvalidQoS       = errors.New("publish: qos must be 0, 1 or 2")
	ErrClosed           = errors.New("publish: publisher closed")
)

// Topics builds topic names under a prefix.
type Topics struct {
	Prefix string
}

// Trigger is where fired triggers are published.
func (t Topics) Trigger() string { return t.Prefix + "/trigger" }

// Status is the retained online/offline topic.
func (t Topics) Status() string { return t.Prefix + "/status" }

// TriggerMessage is the JSON payload of a trigger publication.
type TriggerMessage struct {
	Device    string    `json:"device"`
	SessionID string    `json:"session_id,omitempty"`
	Key       string    `json:"key"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}

type statusMessage struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher sends trigger events to the broker from a background worker.
type Publisher struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	topics Topics
	logger *slog.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan TriggerMessage
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// Connect dials the broker and announces the client online.
func Connect(cfg config.MQTTConfig, logger *slog.Logger) (*Publisher, error) {
	if cfg.QoS < 0 || cfg.QoS > maxQoS {
		return nil, ErrInvalidQoS
	}

	opts := buildClientOptions(cfg)
	client := pahomqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	p := newPublisher(client, cfg, logger)
	if err := p.publishStatus("online", ""); err != nil {
		p.logger.Warn("publishing online status", "error", err)
	}
	return p, nil
}

func newPublisher(client pahomqtt.Client, cfg config.MQTTConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = logging.Discard()
	}
	p := &Publisher{
		client: client,
		cfg:    cfg,
		topics: Topics{Prefix: cfg.TopicPrefix},
		logger: logger,
		queue:  make(chan TriggerMessage, queueSize),
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	will, _ := json.Marshal(statusMessage{
		Status:    "offline",
		ClientID:  cfg.ClientID,
		Reason:    "unexpected_disconnect",
		Timestamp: time.Now().UTC(),
	})
	opts.SetWill(Topics{Prefix: cfg.TopicPrefix}.Status(), string(will), 1, true)
	return opts
}

// OnTrigger implements trigger.Listener. Debounced events are not
// published. It never blocks; a full queue drops the message.
func (p *Publisher) OnTrigger(ev trigger.Event) {
	if ev.Debounced {
		return
	}

	msg := TriggerMessage{
		Device:    ev.Device,
		SessionID: ev.SessionID,
		Key:       ev.Key.String(),
		Timestamp: ev.Time.UTC(),
	}
	if ev.Err != nil {
		msg.Error = ev.Err.Error()
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- msg:
	default:
		n := p.dropped.Add(1)
		p.logger.Warn("mqtt queue full, trigger not published", "device", ev.Device, "dropped", n)
	}
}

func (p *Publisher) worker() {
	defer p.wg.Done()
	for msg := range p.queue {
		payload, err := json.Marshal(msg)
		if err != nil {
			p.logger.Error("encoding trigger message", "error", err)
			continue
		}
		if err := p.Publish(p.topics.Trigger(), payload, false); err != nil {
			p.logger.Warn("trigger not published", "device", msg.Device, "error", err)
		}
	}
}

// Publish sends payload to topic with the configured QoS.
func (p *Publisher) Publish(topic string, payload []byte, retained bool) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}
	token := p.client.Publish(topic, byte(p.cfg.QoS), retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

func (p *Publisher) publishStatus(status, reason string) error {
	payload, err := json.Marshal(statusMessage{
		Status:    status,
		ClientID:  p.cfg.ClientID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return p.Publish(p.topics.Status(), payload, true)
}

// Connected reports whether the broker connection is up.
func (p *Publisher) Connected() bool {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	return !closed && p.client.IsConnectionOpen()
}

// Dropped returns how many triggers were lost to a full queue.
func (p *Publisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Close flushes queued triggers, announces a graceful shutdown and
// disconnects.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	if p.client.IsConnected() {
		if err := p.publishStatus("offline", "graceful_shutdown"); err != nil {
			p.logger.Debug("publishing offline status", "error", err)
		}
	}
	p.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}
