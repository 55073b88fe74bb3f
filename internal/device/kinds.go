package device

// Domain is the functional area a device serves.
type Domain string

const (
	DomainLighting       Domain = "lighting"
	DomainClimate        Domain = "climate"
	DomainBlinds         Domain = "blinds"
	DomainAudio          Domain = "audio"
	DomainVideo          Domain = "video"
	DomainSecurity       Domain = "security"
	DomainAccess         Domain = "access"
	DomainEnergy         Domain = "energy"
	DomainPlant          Domain = "plant"
	DomainIrrigation     Domain = "irrigation"
	DomainSafety         Domain = "safety"
	DomainSensor         Domain = "sensor"
	DomainInfrastructure Domain = "infrastructure"
)

// Protocol is the bus behind a device's bridge, and the {protocol}
// segment of its state topic.
type Protocol string

const (
	ProtocolKNX       Protocol = "knx"
	ProtocolDALI      Protocol = "dali"
	ProtocolModbusRTU Protocol = "modbus_rtu"
	ProtocolModbusTCP Protocol = "modbus_tcp"
	ProtocolBACnetIP  Protocol = "bacnet_ip"
	ProtocolMQTT      Protocol = "mqtt"
	ProtocolHTTP      Protocol = "http"
)

// DeviceType is a lowercase identifier chosen by the bridge, such as
// "light_dimmer". Only its shape is validated.
type DeviceType string //nolint:revive // reads better than device.Type at call sites

const (
	DeviceTypeLightDimmer DeviceType = "light_dimmer"
	DeviceTypeThermostat  DeviceType = "thermostat"
)

// HealthStatus is what the server last heard about a device. Any state
// update sets it online.
type HealthStatus string

const (
	HealthStatusOnline   HealthStatus = "online"
	HealthStatusOffline  HealthStatus = "offline"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusUnknown  HealthStatus = "unknown"
)

var (
	validDomains = []Domain{
		DomainLighting, DomainClimate, DomainBlinds, DomainAudio, DomainVideo, DomainSecurity, DomainAccess,
		DomainEnergy, DomainPlant, DomainIrrigation, DomainSafety, DomainSensor, DomainInfrastructure,
	}
	validProtocols = []Protocol{
		ProtocolKNX, ProtocolDALI, ProtocolModbusRTU, ProtocolModbusTCP, ProtocolBACnetIP, ProtocolMQTT, ProtocolHTTP,
	}
	validHealthStatuses = []HealthStatus{
		HealthStatusOnline, HealthStatusOffline, HealthStatusDegraded, HealthStatusUnknown,
	}
)

// State is a device's current values as decoded JSON, e.g.
// {"on": true, "level": 75} or {"temperature": 21.5, "mode": "heat"}.
type State map[string]any

// DeepCopy clones s including nested objects and arrays.
func (s State) DeepCopy() State {
	if s == nil {
		return nil
	}
	return cloneValue(map[string]any(s)).(map[string]any)
}

// cloneValue copies the containers of a decoded JSON value. Scalars are
// immutable and returned as is.
func cloneValue(v any) any {
	switch v := v.(type) {
	case State:
		return cloneValue(map[string]any(v))
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}
