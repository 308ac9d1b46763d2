package mqtt

import (
	"fmt"
	"log"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/sweeney/twin-monitor/internal/logic"
)

// bufferCapacity bounds the messages held while disconnected.
const bufferCapacity = 100

// Options configures a broker connection.
type Options struct {
	Broker   string
	Username string
	Password string

	// ClientPrefix is combined with a random suffix to form the client ID.
	ClientPrefix string
}

func (o Options) clientOptions() *paho.ClientOptions {
	prefix := o.ClientPrefix
	if prefix == "" {
		prefix = "twin"
	}
	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(prefix + "-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	return opts
}

func connect(client paho.Client) error {
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}
	return nil
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client

	mu     sync.Mutex
	outbox *outbox
}

// NewRealPublisher creates a publisher connected to the given broker. The
// broker marks the publisher OFFLINE (retained) if the connection drops.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	p := &RealPublisher{outbox: newOutbox(bufferCapacity)}

	will, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: "OFFLINE"})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := o.clientOptions().
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) { p.flush() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: connection lost: %v", err)
		})

	p.client = paho.NewClient(opts)
	if err := connect(p.client); err != nil {
		return nil, err
	}
	return p, nil
}

// Publish sends a trip event to the MQTT broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	// QoS 0 (at-most-once), not retained
	return p.send(bufferedMsg{topic: TopicEvents(event.Asset), payload: payload})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) - we want to ensure delivery of lifecycle events
	return p.send(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	if !p.client.IsConnectionOpen() {
		p.mu.Lock()
		p.outbox.add(msg)
		p.mu.Unlock()
		return nil
	}

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// flush replays buffered messages after a (re)connect.
func (p *RealPublisher) flush() {
	p.mu.Lock()
	msgs, dropped := p.outbox.take()
	p.mu.Unlock()

	if len(msgs) > 0 {
		log.Printf("mqtt: replaying %d buffered messages (%d dropped)", len(msgs), dropped)
	}
	for _, m := range msgs {
		// Don't block the connect handler on acknowledgements.
		p.client.Publish(m.topic, m.qos, m.retained, m.payload)
	}
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

// RealSubscriber receives from an actual MQTT broker.
type RealSubscriber struct {
	client paho.Client

	mu      sync.Mutex
	subs    map[string]Handler
	started bool
}

// NewRealSubscriber creates a subscriber connected to the given broker.
// Subscriptions are re-established on every reconnect.
func NewRealSubscriber(o Options) (*RealSubscriber, error) {
	s := &RealSubscriber{subs: make(map[string]Handler)}

	opts := o.clientOptions().
		SetCleanSession(true).
		SetOnConnectHandler(func(c paho.Client) { s.resubscribe(c) }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Printf("mqtt: subscriber connection lost: %v", err)
		})

	s.client = paho.NewClient(opts)
	if err := connect(s.client); err != nil {
		return nil, err
	}
	return s, nil
}

// Subscribe starts delivering messages for topics to h (QoS 0).
func (s *RealSubscriber) Subscribe(topics []string, h Handler) error {
	if len(topics) == 0 {
		return nil
	}

	filters := make(map[string]byte, len(topics))
	s.mu.Lock()
	for _, t := range topics {
		s.subs[t] = h
		filters[t] = 0
	}
	s.mu.Unlock()

	token := s.client.SubscribeMultiple(filters, func(_ paho.Client, m paho.Message) {
		h(Message{Topic: m.Topic(), Payload: m.Payload()})
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	return nil
}

func (s *RealSubscriber) resubscribe(c paho.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The first connect happens before any Subscribe call.
	if !s.started {
		s.started = true
		return
	}
	for topic, h := range s.subs {
		h := h
		c.Subscribe(topic, 0, func(_ paho.Client, m paho.Message) {
			h(Message{Topic: m.Topic(), Payload: m.Payload()})
		})
	}
	log.Printf("mqtt: resubscribed to %d topics", len(s.subs))
}

// Close disconnects from the broker.
func (s *RealSubscriber) Close() error {
	s.client.Disconnect(1000)
	return nil
}
