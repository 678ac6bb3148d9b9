package types

import (
	"fmt"
	"sort"
)

// ZoneID identifies a physical zone on the panel.
type ZoneID int

// Snapshot is an immutable view of every zone the panel has reported.
// Zones that were never reported are absent.
type Snapshot struct {
	zones map[ZoneID]bool
}

func NewSnapshot(zones map[ZoneID]bool) Snapshot {
	m := make(map[ZoneID]bool, len(zones))
	for k, v := range zones {
		m[k] = v
	}
	return Snapshot{zones: m}
}

// Get returns the last known state of zone and whether it was ever reported.
func (s Snapshot) Get(zone ZoneID) (active bool, known bool) {
	active, known = s.zones[zone]
	return
}

func (s Snapshot) Len() int {
	return len(s.zones)
}

// Zones returns the known zone ids in ascending order.
func (s Snapshot) Zones() []ZoneID {
	ids := make([]ZoneID, 0, len(s.zones))
	for id := range s.zones {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Map returns a copy of the snapshot contents.
func (s Snapshot) Map() map[ZoneID]bool {
	m := make(map[ZoneID]bool, len(s.zones))
	for k, v := range s.zones {
		m[k] = v
	}
	return m
}

// With returns a new snapshot with zone set to active. The receiver is not modified.
func (s Snapshot) With(zone ZoneID, active bool) Snapshot {
	m := make(map[ZoneID]bool, len(s.zones)+1)
	for k, v := range s.zones {
		m[k] = v
	}
	m[zone] = active
	return Snapshot{zones: m}
}

// Event is a decoded panel message.
type Event interface {
	event()
}

type ZoneChanged struct {
	Zone   ZoneID
	Active bool
}

type SystemStatus struct {
	Ready bool
}

// Unknown carries a line the decoder did not recognise, trimmed but otherwise verbatim.
type Unknown struct {
	Raw string
}

func (ZoneChanged) event()  {}
func (SystemStatus) event() {}
func (Unknown) event()      {}

func (e ZoneChanged) String() string {
	if e.Active {
		return fmt.Sprintf("zone %d open", e.Zone)
	}
	return fmt.Sprintf("zone %d closed", e.Zone)
}

func (e SystemStatus) String() string {
	if e.Ready {
		return "system ready"
	}
	return "system not ready"
}

func (e Unknown) String() string {
	return fmt.Sprintf("unknown %q", e.Raw)
}

// Command is an outbound panel instruction.
type Command interface {
	Line() string
}

// OutputCommand activates a numbered output relay.
type OutputCommand struct {
	Output int
}

func (c OutputCommand) Line() string {
	return fmt.Sprintf("OUTPUTON %d", c.Output)
}

type SessionState int

const (
	SessionIdle SessionState = iota
	SessionConnecting
	SessionConnected
	SessionClosing
	SessionClosed
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "Idle"
	case SessionConnecting:
		return "Connecting"
	case SessionConnected:
		return "Connected"
	case SessionClosing:
		return "Closing"
	case SessionClosed:
		return "Closed"
	case SessionFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown SessionState(%d)", s)
	}
}

// Terminal reports whether the session has ended.
func (s SessionState) Terminal() bool {
	return s == SessionClosed || s == SessionFailed
}
