package device

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("Kitchen Light"))
	assert.NoError(t, ValidateName(strings.Repeat("a", maxNameLength)))
	for _, bad := range []string{"", "   ", strings.Repeat("a", maxNameLength+1)} {
		assert.ErrorIs(t, ValidateName(bad), ErrInvalidName, "%q", bad)
	}
}

func TestValidateDeviceType(t *testing.T) {
	for _, good := range []DeviceType{"light", "light_switch", "dimmer2"} {
		assert.NoError(t, ValidateDeviceType(good), good)
	}
	for _, bad := range []DeviceType{"", "Light", "2lights", "light-switch", DeviceType(strings.Repeat("a", 65))} {
		assert.ErrorIs(t, ValidateDeviceType(bad), ErrInvalidDeviceType, bad)
	}
}

func TestValidateEnums(t *testing.T) {
	for _, d := range validDomains {
		assert.NoError(t, ValidateDomain(d))
	}
	for _, p := range validProtocols {
		assert.NoError(t, ValidateProtocol(p))
	}
	for _, h := range validHealthStatuses {
		assert.NoError(t, ValidateHealthStatus(h))
	}

	assert.ErrorIs(t, ValidateDomain("kitchen"), ErrInvalidDomain)
	assert.ErrorIs(t, ValidateProtocol("zigbee"), ErrInvalidProtocol)
	assert.ErrorIs(t, ValidateHealthStatus("sleepy"), ErrInvalidState)
}

func TestValidateState(t *testing.T) {
	tooManyKeys := State{}
	for i := 0; i <= maxStateKeys; i++ {
		tooManyKeys[strings.Repeat("k", i+1)] = i
	}

	deep := map[string]any{}
	cur := deep
	for i := 0; i <= maxNestingDepth; i++ {
		next := map[string]any{}
		cur["n"] = next
		cur = next
	}

	tests := []struct {
		name     string
		state    State
		wantPath string // empty means valid
	}{
		{"nil", nil, ""},
		{"light", State{"on": true, "level": 75.0}, ""},
		{"nested", State{"hvac": map[string]any{"mode": "heat", "setpoints": []any{20.0, 22.0}}}, ""},
		{"too many keys", tooManyKeys, "state has"},
		{"too deep", State{"root": deep}, "state.root.n.n"},
		{"long string", State{"label": strings.Repeat("x", maxStringLen+1)}, "state.label"},
		{"long array", State{"values": make([]any, maxArrayLen+1)}, "state.values"},
		{"long string in array", State{"scenes": []any{"a", strings.Repeat("x", maxStringLen+1)}}, "state.scenes[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateState(tt.state)
			if tt.wantPath == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidState)
			assert.Contains(t, err.Error(), tt.wantPath)
		})
	}
}

func TestValidateDevice(t *testing.T) {
	dev := New("light-1")
	dev.Name = "Light 1"
	dev.Protocol = ProtocolKNX
	require.NoError(t, ValidateDevice(dev))

	dev.Type = "Bad-Type"
	assert.ErrorIs(t, ValidateDevice(dev), ErrInvalidDeviceType)
	dev.Type = ""

	dev.Protocol = ""
	assert.ErrorIs(t, ValidateDevice(dev), ErrInvalidProtocol)

	assert.ErrorIs(t, ValidateDevice(nil), ErrInvalidDevice)
}
