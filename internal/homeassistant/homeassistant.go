package homeassistant

import (
	"encoding/json"
	"fmt"

	"github.com/daemonp/aap2mqtt/internal/config"
	"github.com/daemonp/aap2mqtt/internal/log"
	"github.com/daemonp/aap2mqtt/internal/mqtt"
	"github.com/daemonp/aap2mqtt/internal/util"
)

type HomeAssistant struct {
	config *config.HomeAssistantConfig
	app    *config.Config
	mqtt   mqtt.MQTTClient
	log    *log.Logger
}

func New(cfg *config.Config, mqttClient mqtt.MQTTClient, logger *log.Logger) *HomeAssistant {
	return &HomeAssistant{
		config: &cfg.HomeAssistant,
		app:    cfg,
		mqtt:   mqttClient,
		log:    logger,
	}
}

func (ha *HomeAssistant) Start() {
	ha.log.Info("Starting Home Assistant integration")
	ha.publishDiscoveryConfig()
}

func (ha *HomeAssistant) publishDiscoveryConfig() {
	ha.publishPanelConfig()
	ha.publishSystemConfig()

	for _, zone := range ha.app.Zones {
		ha.publishZoneConfig(zone)
	}

	for _, output := range ha.app.Outputs {
		ha.publishOutputConfig(output)
	}
}

func (ha *HomeAssistant) device() map[string]interface{} {
	return map[string]interface{}{
		"name":         "AAP Alarm",
		"identifiers":  []string{ha.mqtt.GetPrefix()},
		"manufacturer": "AAP",
		"model":        ha.app.Panel.Host,
	}
}

func (ha *HomeAssistant) publishPanelConfig() {
	config := map[string]interface{}{
		"name":        "Panel Connection",
		"unique_id":   fmt.Sprintf("%s_panel", ha.mqtt.GetPrefix()),
		"state_topic": ha.mqtt.Topics().Panel(),
		"payload_on":  "connected",
		"payload_off": "disconnected",
		"device":      ha.device(),
	}

	ha.publishConfig("binary_sensor", "panel", "connectivity", config)
}

func (ha *HomeAssistant) publishSystemConfig() {
	config := map[string]interface{}{
		"name":           "System Ready",
		"unique_id":      fmt.Sprintf("%s_system_ready", ha.mqtt.GetPrefix()),
		"state_topic":    ha.mqtt.Topics().System(),
		"value_template": "{{ value_json.ready }}",
		"payload_on":     true,
		"payload_off":    false,
		"device":         ha.device(),
	}

	ha.publishConfig("binary_sensor", "system_ready", "", config)
}

func (ha *HomeAssistant) publishZoneConfig(zone config.ZoneConfig) {
	name := ha.app.ZoneName(zone.Zone)
	config := map[string]interface{}{
		"name":           name,
		"unique_id":      fmt.Sprintf("%s_zone_%d", ha.mqtt.GetPrefix(), zone.Zone),
		"state_topic":    ha.mqtt.Topics().Zone(name),
		"device_class":   getDeviceClass(zone),
		"value_template": "{{ value_json.state }}",
		"payload_on":     "open",
		"payload_off":    "closed",
		"device":         ha.device(),
	}

	ha.publishConfig("binary_sensor", fmt.Sprintf("zone_%d", zone.Zone), "", config)
}

func (ha *HomeAssistant) publishOutputConfig(output config.OutputConfig) {
	name := ha.app.OutputName(output.Output)
	config := map[string]interface{}{
		"name":          name,
		"unique_id":     fmt.Sprintf("%s_output_%d", ha.mqtt.GetPrefix(), output.Output),
		"command_topic": ha.mqtt.Topics().OutputCommand(name),
		"payload_press": "PRESS",
		"device":        ha.device(),
	}

	ha.publishConfig("button", fmt.Sprintf("output_%d", output.Output), "", config)
}

func (ha *HomeAssistant) publishConfig(component, objectID, deviceClass string, config map[string]interface{}) {
	topic := fmt.Sprintf("%s/%s/%s/%s/config", ha.config.Prefix, component, util.Slugify(ha.mqtt.GetPrefix()), objectID)

	if deviceClass != "" {
		config["device_class"] = deviceClass
	}

	payload, err := json.Marshal(config)
	if err != nil {
		ha.log.Error("Failed to marshal Home Assistant config: %v", err)
		return
	}

	ha.mqtt.Publish(topic, string(payload), true)
}
