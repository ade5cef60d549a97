package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	logx "blackoutd/pkg/logx"
)

// Mailbox delivers messages from the background context. C is closed when
// the mailbox is closed.
type Mailbox interface {
	C() <-chan Message
	Close() error
}

// ChanMailbox is an in-process mailbox.
type ChanMailbox struct {
	mu     sync.Mutex
	ch     chan Message
	closed bool
}

func NewChanMailbox(buffer int) *ChanMailbox {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChanMailbox{ch: make(chan Message, buffer)}
}

// Post enqueues m without blocking. It reports false when the mailbox is
// full or closed.
func (b *ChanMailbox) Post(m Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	select {
	case b.ch <- m:
		return true
	default:
		return false
	}
}

func (b *ChanMailbox) C() <-chan Message { return b.ch }

func (b *ChanMailbox) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.ch)
	}
	return nil
}

// MQTTConfig configures the MQTT mailbox.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      byte
	Buffer   int
	Timeout  time.Duration
}

// MQTTMailbox receives JSON messages published on a broker topic.
type MQTTMailbox struct {
	cfg    MQTTConfig
	client mqtt.Client
	log    logx.Logger

	mu     sync.Mutex
	ch     chan Message
	closed bool
}

// NewMQTTMailbox connects to the broker and subscribes to cfg.Topic.
func NewMQTTMailbox(ctx context.Context, cfg MQTTConfig, log logx.Logger) (*MQTTMailbox, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt broker is empty")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("mqtt topic is empty")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "blackoutd"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	mb := &MQTTMailbox{cfg: cfg, log: log.With(logx.String("comp", "bridge.mqtt")), ch: make(chan Message, cfg.Buffer)}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(mb.onConnect)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		mb.log.Warn("mqtt connection lost", logx.String("broker", cfg.Broker), logx.Err(err))
	})
	mb.client = mqtt.NewClient(opts)

	token := mb.client.Connect()
	if !waitToken(ctx, token, cfg.Timeout) {
		mb.client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect to %s: timeout", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return mb, nil
}

// onConnect (re)subscribes; clean sessions drop subscriptions on reconnect.
func (b *MQTTMailbox) onConnect(c mqtt.Client) {
	token := c.Subscribe(b.cfg.Topic, b.cfg.QoS, b.onMessage)
	go func() {
		if !token.WaitTimeout(b.cfg.Timeout) {
			b.log.Error("mqtt subscribe timeout", logx.String("topic", b.cfg.Topic))
			return
		}
		if err := token.Error(); err != nil {
			b.log.Error("mqtt subscribe failed", logx.String("topic", b.cfg.Topic), logx.Err(err))
			return
		}
		b.log.Info("mqtt mailbox subscribed", logx.String("topic", b.cfg.Topic))
	}()
}

func (b *MQTTMailbox) onMessage(_ mqtt.Client, msg mqtt.Message) {
	m, err := Decode(msg.Payload())
	if err != nil {
		b.log.Warn("drop bridge message", logx.String("topic", msg.Topic()), logx.Err(err))
		return
	}
	b.deliver(m)
}

func (b *MQTTMailbox) deliver(m Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.ch <- m:
	default:
		b.log.Warn("bridge mailbox full, message dropped", logx.String("type", m.Type))
	}
}

func (b *MQTTMailbox) C() <-chan Message { return b.ch }

func (b *MQTTMailbox) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.ch)
	b.mu.Unlock()

	if b.client != nil && b.client.IsConnected() {
		b.client.Unsubscribe(b.cfg.Topic).WaitTimeout(time.Second)
		b.client.Disconnect(250)
	}
	return nil
}

func waitToken(ctx context.Context, t mqtt.Token, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
