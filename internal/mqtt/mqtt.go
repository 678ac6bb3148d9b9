package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/daemonp/aap2mqtt/internal/config"
	"github.com/daemonp/aap2mqtt/internal/log"
	"github.com/daemonp/aap2mqtt/internal/panel"
	"github.com/daemonp/aap2mqtt/internal/state"
	"github.com/daemonp/aap2mqtt/internal/types"
)

const (
	offlinePayload = "offline"
	onlinePayload  = "online"

	panelConnected    = "connected"
	panelDisconnected = "disconnected"

	stateOpen   = "open"
	stateClosed = "closed"

	publishTimeout = 5 * time.Second
)

// Panel is what the bridge needs from panel.Manager.
type Panel interface {
	SendCommand(output int) error
	Snapshot() types.Snapshot
	Subscribe(fn state.SnapshotHandler) func()
	SubscribeEvents(fn state.EventHandler) func()
	SubscribeState(fn panel.StateHandler)
}

type ZoneStatus struct {
	Zone  int    `json:"zone"`
	Name  string `json:"name"`
	State string `json:"state"`
}

type SystemStatus struct {
	Ready bool `json:"ready"`
}

type MQTT struct {
	config *config.MQTTConfig
	app    *config.Config
	panel  Panel
	log    *log.Logger
	client mqtt.Client
	topics *Topics

	mu        sync.Mutex
	published map[types.ZoneID]bool
	watch     sync.Once
}

func NewMQTT(cfg *config.Config, p Panel, logger *log.Logger) *MQTT {
	return &MQTT{
		config:    &cfg.MQTT,
		app:       cfg,
		panel:     p,
		log:       logger,
		topics:    NewTopics(cfg.MQTT.Prefix),
		published: make(map[types.ZoneID]bool),
	}
}

func (m *MQTT) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", m.config.Host, m.config.Port))
	opts.SetClientID(m.config.ClientID)
	opts.SetUsername(m.config.Username)
	opts.SetPassword(m.config.Password)
	opts.SetCleanSession(m.config.Clean)
	opts.SetKeepAlive(time.Duration(m.config.Keepalive) * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(m.onConnect)
	opts.SetConnectionLostHandler(m.onDisconnect)

	opts.SetWill(m.topics.Status(), offlinePayload, byte(m.config.QOS), true)

	m.client = mqtt.NewClient(opts)

	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	m.log.Info("Connected to MQTT broker: %s:%d", m.config.Host, m.config.Port)
	m.watchPanel()
	return nil
}

// watchPanel wires panel notifications to publishes. Runs once per bridge.
func (m *MQTT) watchPanel() {
	m.watch.Do(func() {
		m.panel.Subscribe(m.PublishSnapshot)
		m.panel.SubscribeEvents(m.handleEvent)
		m.panel.SubscribeState(m.handlePanelState)
	})
}

func (m *MQTT) onConnect(client mqtt.Client) {
	m.log.Info("MQTT connection established")
	m.publish(m.topics.Status(), onlinePayload, true)
	m.subscribeTopics()

	// The broker may have lost retained state, republish everything.
	m.mu.Lock()
	m.published = make(map[types.ZoneID]bool)
	m.mu.Unlock()
	m.PublishSnapshot(m.panel.Snapshot())
}

func (m *MQTT) onDisconnect(client mqtt.Client, err error) {
	m.log.Error("MQTT connection lost: %v", err)
}

func (m *MQTT) subscribeTopics() {
	for _, output := range m.app.Outputs {
		topic := m.topics.OutputCommand(m.app.OutputName(output.Output))
		token := m.client.Subscribe(topic, byte(m.config.QOS), m.handleMessage)
		if token.Wait() && token.Error() != nil {
			m.log.Error("Failed to subscribe to topic %s: %v", topic, token.Error())
		} else {
			m.log.Debug("Subscribed to topic: %s", topic)
		}
	}
}

func (m *MQTT) handleMessage(client mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	m.log.Debug("Received message on topic %s: %s", topic, string(msg.Payload()))

	for _, output := range m.app.Outputs {
		if topic != m.topics.OutputCommand(m.app.OutputName(output.Output)) {
			continue
		}
		if err := m.panel.SendCommand(output.Output); err != nil {
			m.log.Error("Failed to activate output %s (%d): %v", output.Name, output.Output, err)
		}
		return
	}
	m.log.Warning("Received message on unknown topic: %s", topic)
}

// PublishSnapshot publishes every zone whose state differs from what was last sent.
func (m *MQTT) PublishSnapshot(snap types.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, zone := range snap.Zones() {
		active, _ := snap.Get(zone)
		if prev, ok := m.published[zone]; ok && prev == active {
			continue
		}
		m.PublishZoneStatus(zone, active)
		m.published[zone] = active
	}
}

func (m *MQTT) PublishZoneStatus(zone types.ZoneID, active bool) {
	name := m.app.ZoneName(int(zone))
	status := ZoneStatus{
		Zone:  int(zone),
		Name:  name,
		State: stateClosed,
	}
	if active {
		status.State = stateOpen
	}
	m.publish(m.topics.Zone(name), status, true)
}

func (m *MQTT) handleEvent(ev types.Event) {
	switch e := ev.(type) {
	case types.SystemStatus:
		m.publish(m.topics.System(), SystemStatus{Ready: e.Ready}, true)
	case types.Unknown:
		m.publish(m.topics.Raw(), e.Raw, m.config.Retain)
	}
}

// handlePanelState runs on the session goroutine, so publishes must not wait on it.
func (m *MQTT) handlePanelState(st types.SessionState, err error) {
	switch {
	case st == types.SessionConnected:
		go m.publish(m.topics.Panel(), panelConnected, true)
	case st.Terminal():
		go m.publish(m.topics.Panel(), panelDisconnected, true)
	}
}

func (m *MQTT) GetPrefix() string {
	return m.config.Prefix
}

func (m *MQTT) Topics() *Topics {
	return m.topics
}

func (m *MQTT) Publish(topic string, payload interface{}, retain bool) {
	m.publish(topic, payload, retain)
}

// publish sends strings and byte slices as-is and everything else as JSON.
func (m *MQTT) publish(topic string, message interface{}, retain bool) {
	if m.client == nil {
		return
	}

	var payload []byte
	switch v := message.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		data, err := json.Marshal(message)
		if err != nil {
			m.log.Error("Failed to marshal message for topic %s: %v", topic, err)
			return
		}
		payload = data
	}

	token := m.client.Publish(topic, byte(m.config.QOS), retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		m.log.Error("Timed out publishing to topic %s", topic)
		return
	}
	if err := token.Error(); err != nil {
		m.log.Error("Failed to publish message to topic %s: %v", topic, err)
		return
	}
	m.log.Debug("Published message to topic: %s", topic)
}

func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.publish(m.topics.Status(), offlinePayload, true)
		m.client.Disconnect(250)
	}
}
