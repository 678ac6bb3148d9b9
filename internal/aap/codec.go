package aap

import (
	"strconv"
	"strings"

	"github.com/daemonp/aap2mqtt/internal/types"
)

const (
	prefixZoneOpen   = "ZO"
	prefixZoneClosed = "ZC"
	msgNotReady      = "NR"
	msgReady         = "RO"
)

// Decode turns one protocol line into an event. It never fails: anything it does
// not recognise comes back as types.Unknown.
func Decode(line string) types.Event {
	line = strings.TrimSpace(line)

	switch line {
	case msgNotReady:
		return types.SystemStatus{Ready: false}
	case msgReady:
		return types.SystemStatus{Ready: true}
	}

	if zone, ok := parseZone(line, prefixZoneOpen); ok {
		return types.ZoneChanged{Zone: zone, Active: true}
	}
	if zone, ok := parseZone(line, prefixZoneClosed); ok {
		return types.ZoneChanged{Zone: zone, Active: false}
	}

	return types.Unknown{Raw: line}
}

func parseZone(line, prefix string) (types.ZoneID, bool) {
	if !strings.HasPrefix(line, prefix) {
		return 0, false
	}
	digits := line[len(prefix):]
	if digits == "" {
		return 0, false
	}
	// strconv accepts a sign, the protocol does not.
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return types.ZoneID(n), true
}

// Encode renders a command as a newline terminated UTF-8 line.
func Encode(cmd types.Command) []byte {
	return []byte(cmd.Line() + "\n")
}
