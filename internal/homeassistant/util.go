package homeassistant

import (
	"strings"

	"github.com/daemonp/aap2mqtt/internal/config"
)

const defaultDeviceClass = "motion"

// deviceClassHints maps zone name keywords to binary_sensor device classes.
// Earlier entries win.
var deviceClassHints = []struct {
	keyword string
	class   string
}{
	{"pir", "motion"},
	{"movement", "motion"},
	{"garage", "garage_door"},
	{"door", "door"},
	{"window", "window"},
	{"smoke", "smoke"},
	{"fire", "smoke"},
	{"gas", "gas"},
	{"water", "moisture"},
	{"flood", "moisture"},
	{"tamper", "tamper"},
}

func getDeviceClass(zone config.ZoneConfig) string {
	if zone.DeviceClass != "" {
		return zone.DeviceClass
	}

	name := strings.ToLower(zone.Name)
	for _, hint := range deviceClassHints {
		if strings.Contains(name, hint.keyword) {
			return hint.class
		}
	}
	return defaultDeviceClass
}
