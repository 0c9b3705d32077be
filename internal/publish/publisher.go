// Package publish forwards readings, connection state and trouble codes to an MQTT broker
// as JSON messages.
package publish

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"elmdiag/internal/models"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

const (
	DefaultTopic    = "elmdiag"
	DefaultClientID = "elmdiag"

	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

type Config struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
}

// ReadingMessage is the JSON published for each reading.
type ReadingMessage struct {
	Name      string `json:"name"`
	PID       string `json:"pid"`
	Mode      int    `json:"mode"`
	Value     string `json:"value"`
	Unit      string `json:"unit,omitempty"`
	Raw       string `json:"raw,omitempty"`
	Error     bool   `json:"error"`
	Timestamp string `json:"timestamp"`
}

// StateMessage is the JSON published on connection state changes.
type StateMessage struct {
	State     string `json:"state"`
	Device    string `json:"device,omitempty"`
	Timestamp string `json:"timestamp"`
}

// TroubleCodesMessage is the JSON published after a trouble code scan.
type TroubleCodesMessage struct {
	Codes     []models.TroubleCode `json:"codes"`
	Timestamp string               `json:"timestamp"`
}

// Publisher holds one broker connection.
type Publisher struct {
	cfg       Config
	logger    *zap.Logger
	newClient func(*pahomqtt.ClientOptions) pahomqtt.Client

	mu      sync.RWMutex
	client  pahomqtt.Client
	running bool

	lastMu     sync.Mutex
	lastValues map[string]string
}

func NewPublisher(cfg Config, logger *zap.Logger) *Publisher {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		cfg:        cfg,
		logger:     logger,
		newClient:  pahomqtt.NewClient,
		lastValues: make(map[string]string),
	}
}

// Address returns the broker URL, defaulting the scheme to tcp.
func (p *Publisher) Address() string {
	if strings.Contains(p.cfg.Broker, "://") {
		return p.cfg.Broker
	}
	return "tcp://" + p.cfg.Broker
}

func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Start connects to the broker.
func (p *Publisher) Start() error {
	if p.IsRunning() {
		return nil
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.Address())
	opts.SetClientID(p.cfg.ClientID)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	client := p.newClient(opts)
	p.logger.Info("connecting to broker", zap.String("broker", p.Address()))
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connect to %s: timeout", p.Address())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to %s: %w", p.Address(), err)
	}

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		client.Disconnect(100)
		return nil
	}
	p.client = client
	p.running = true
	p.mu.Unlock()

	p.lastMu.Lock()
	p.lastValues = make(map[string]string)
	p.lastMu.Unlock()
	return nil
}

// Stop disconnects from the broker.
func (p *Publisher) Stop() {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.running = false
	p.mu.Unlock()
	if client != nil {
		client.Disconnect(500)
	}
}

// ReadingTopic is <root>/readings/<mode+pid>.
func (p *Publisher) ReadingTopic(r models.DecodedReading) string {
	return fmt.Sprintf("%s/readings/%02X%s", p.cfg.Topic, r.Mode, r.PID)
}

func (p *Publisher) StateTopic() string {
	return p.cfg.Topic + "/state"
}

func (p *Publisher) TroubleCodesTopic() string {
	return p.cfg.Topic + "/dtc"
}

// PublishReading sends r unless the same value was the last one published for its PID.
func (p *Publisher) PublishReading(r models.DecodedReading) bool {
	topic := p.ReadingTopic(r)
	p.lastMu.Lock()
	last, seen := p.lastValues[topic]
	p.lastMu.Unlock()
	if seen && last == r.Value {
		return false
	}
	msg := ReadingMessage{
		Name:      r.Name,
		PID:       r.PID,
		Mode:      r.Mode,
		Value:     r.Value,
		Unit:      r.Unit,
		Raw:       r.RawValue,
		Error:     r.IsError,
		Timestamp: timestamp(r.Timestamp),
	}
	if !p.publish(topic, false, msg) {
		return false
	}
	p.lastMu.Lock()
	p.lastValues[topic] = r.Value
	p.lastMu.Unlock()
	return true
}

// PublishState sends a retained connection state message.
func (p *Publisher) PublishState(state string, device models.DeviceDescriptor) bool {
	return p.publish(p.StateTopic(), true, StateMessage{
		State:     state,
		Device:    device.Address,
		Timestamp: timestamp(time.Now()),
	})
}

// PublishTroubleCodes sends a retained list of the stored trouble codes.
func (p *Publisher) PublishTroubleCodes(codes []models.TroubleCode) bool {
	if codes == nil {
		codes = []models.TroubleCode{}
	}
	return p.publish(p.TroubleCodesTopic(), true, TroubleCodesMessage{
		Codes:     codes,
		Timestamp: timestamp(time.Now()),
	})
}

func (p *Publisher) publish(topic string, retained bool, msg any) bool {
	p.mu.RLock()
	client := p.client
	running := p.running
	p.mu.RUnlock()
	if !running || client == nil {
		return false
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("failed to encode message", zap.String("topic", topic), zap.Error(err))
		return false
	}
	token := client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.logger.Warn("publish timed out", zap.String("topic", topic))
		return false
	}
	if err := token.Error(); err != nil {
		p.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
		return false
	}
	return true
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339)
}
