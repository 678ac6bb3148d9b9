package aap

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daemonp/aap2mqtt/internal/types"
)

func TestDecode(t *testing.T) {
	for _, tt := range []struct {
		line string
		want types.Event
	}{
		{"ZO1", types.ZoneChanged{Zone: 1, Active: true}},
		{"ZC1", types.ZoneChanged{Zone: 1, Active: false}},
		{"ZO32", types.ZoneChanged{Zone: 32, Active: true}},
		{"ZC007", types.ZoneChanged{Zone: 7, Active: false}},
		{"ZO0", types.ZoneChanged{Zone: 0, Active: true}},
		{"  ZO5 \r\n", types.ZoneChanged{Zone: 5, Active: true}},
		{"NR", types.SystemStatus{Ready: false}},
		{"RO", types.SystemStatus{Ready: true}},
		{" RO\n", types.SystemStatus{Ready: true}},
		{"ZO", types.Unknown{Raw: "ZO"}},
		{"ZC", types.Unknown{Raw: "ZC"}},
		{"ZO-1", types.Unknown{Raw: "ZO-1"}},
		{"ZO+1", types.Unknown{Raw: "ZO+1"}},
		{"ZO1a", types.Unknown{Raw: "ZO1a"}},
		{"ZO 1", types.Unknown{Raw: "ZO 1"}},
		{"zo1", types.Unknown{Raw: "zo1"}},
		{"NRX", types.Unknown{Raw: "NRX"}},
		{"ROO", types.Unknown{Raw: "ROO"}},
		{"ZO99999999999999999999999", types.Unknown{Raw: "ZO99999999999999999999999"}},
		{"  garbage  ", types.Unknown{Raw: "garbage"}},
		{"", types.Unknown{Raw: ""}},
	} {
		t.Run(fmt.Sprintf("%q", tt.line), func(t *testing.T) {
			require.Equal(t, tt.want, Decode(tt.line))
		})
	}
}

func TestDecodeZoneRange(t *testing.T) {
	for z := 0; z <= 1000; z++ {
		require.Equal(t, types.ZoneChanged{Zone: types.ZoneID(z), Active: true}, Decode(fmt.Sprintf("ZO%d", z)))
		require.Equal(t, types.ZoneChanged{Zone: types.ZoneID(z), Active: false}, Decode(fmt.Sprintf("ZC%d", z)))
	}
}

func TestDecodeNeverPanics(t *testing.T) {
	for _, line := range []string{"\x00", "Z", "ZO\x00", "\xff\xfe", "ZC١", "ZO1\tZC2"} {
		require.NotPanics(t, func() { Decode(line) })
	}
	require.IsType(t, types.Unknown{}, Decode("ZC١"))
}

func TestEncode(t *testing.T) {
	require.Equal(t, []byte("OUTPUTON 4\n"), Encode(types.OutputCommand{Output: 4}))
	require.Equal(t, []byte("OUTPUTON 12\n"), Encode(types.OutputCommand{Output: 12}))
}
