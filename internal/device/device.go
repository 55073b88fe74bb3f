package device

import (
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/name"
	"github.com/nerrad567/gray-logic-sync/internal/namespace"
)

// TypeDevice is the namespace type of field devices.
const TypeDevice = "device"

// Device attributes, in the order AttributeNames reports them.
const (
	AttrName           = "name"
	AttrType           = "type"
	AttrDomain         = "domain"
	AttrProtocol       = "protocol"
	AttrRoomID         = "room_id"
	AttrState          = "state"
	AttrStateUpdatedAt = "state_updated_at"
	AttrHealthStatus   = "health_status"
)

var deviceAttributes = []string{
	AttrName, AttrType, AttrDomain, AttrProtocol, AttrRoomID, AttrState, AttrStateUpdatedAt, AttrHealthStatus,
}

// Device is a field device reported by a protocol bridge, stored in the
// namespace as device/<id>. Like every namespace object it is only
// touched by the task processor's worker.
type Device struct {
	ID       string
	Name     string
	Type     DeviceType
	Domain   Domain
	Protocol Protocol
	Room     string

	State          State
	StateUpdatedAt *time.Time
	HealthStatus   HealthStatus
}

// New returns a device with empty state and unknown health.
func New(id string) *Device {
	return &Device{ID: id, State: State{}, HealthStatus: HealthStatusUnknown}
}

// Spec registers the device type with the namespace. store may be nil for
// devices that are never persisted.
func Spec(store namespace.Persister) namespace.TypeSpec {
	return namespace.TypeSpec{
		Name:  TypeDevice,
		New:   func(id string) namespace.Object { return New(id) },
		Store: store,
	}
}

func (d *Device) ObjectName() name.Name { return name.New(TypeDevice, d.ID) }

// RoomID implements namespace.Located. A device with no room is still
// scoped, so room-scoped roles never see it.
func (d *Device) RoomID() (string, bool) { return d.Room, true }

func (d *Device) AttributeNames() []string { return slices.Clone(deviceAttributes) }

// GetAttribute returns strings for every attribute except state, which is
// a deep copy, and an unset state_updated_at, which is nil.
func (d *Device) GetAttribute(attr string) (any, error) {
	switch attr {
	case AttrState:
		return d.State.DeepCopy(), nil
	case AttrStateUpdatedAt:
		if d.StateUpdatedAt == nil {
			return nil, nil
		}
		return d.StateUpdatedAt.Format(time.RFC3339Nano), nil
	}
	if f, ok := d.field(attr); ok {
		return *f.ptr, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAttribute, attr)
}

// SetAttribute validates and applies one attribute. State is merged into
// the current state so bridges can send partial updates; a null member
// removes that key. Any state update marks the device online.
func (d *Device) SetAttribute(attr string, value any) error {
	switch attr {
	case AttrState:
		return d.mergeState(value)
	case AttrStateUpdatedAt:
		return d.setUpdatedAt(value)
	}

	f, ok := d.field(attr)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAttribute, attr)
	}
	s, ok := value.(string)
	if !ok {
		return fmt.Errorf("%w: %s must be a string", ErrInvalidDevice, attr)
	}
	if f.check != nil {
		if err := f.check(s); err != nil {
			return err
		}
	}
	*f.ptr = s
	return nil
}

// stringField is a string-valued attribute and its validator.
type stringField struct {
	ptr   *string
	check func(string) error
}

func (d *Device) field(attr string) (stringField, bool) {
	switch attr {
	case AttrName:
		return stringField{&d.Name, ValidateName}, true
	case AttrType:
		return stringField{(*string)(&d.Type), func(s string) error { return ValidateDeviceType(DeviceType(s)) }}, true
	case AttrDomain:
		return stringField{(*string)(&d.Domain), func(s string) error { return ValidateDomain(Domain(s)) }}, true
	case AttrProtocol:
		return stringField{(*string)(&d.Protocol), func(s string) error { return ValidateProtocol(Protocol(s)) }}, true
	case AttrRoomID:
		return stringField{ptr: &d.Room}, true
	case AttrHealthStatus:
		return stringField{(*string)(&d.HealthStatus), func(s string) error { return ValidateHealthStatus(HealthStatus(s)) }}, true
	}
	return stringField{}, false
}

func (d *Device) mergeState(value any) error {
	var update map[string]any
	switch v := value.(type) {
	case nil:
	case State:
		update = v
	case map[string]any:
		update = v
	default:
		return fmt.Errorf("%w: state must be an object, got %T", ErrInvalidState, value)
	}

	merged := d.State.DeepCopy()
	if merged == nil {
		merged = State{}
	}
	for k, v := range update {
		if v == nil {
			delete(merged, k)
		} else {
			merged[k] = cloneValue(v)
		}
	}
	if err := ValidateState(merged); err != nil {
		return err
	}

	now := time.Now().UTC()
	d.State, d.StateUpdatedAt, d.HealthStatus = merged, &now, HealthStatusOnline
	return nil
}

func (d *Device) setUpdatedAt(value any) error {
	switch v := value.(type) {
	case nil:
		d.StateUpdatedAt = nil
		return nil
	case string:
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidState, AttrStateUpdatedAt, err)
		}
		d.StateUpdatedAt = &ts
		return nil
	}
	return fmt.Errorf("%w: %s must be a timestamp string", ErrInvalidState, AttrStateUpdatedAt)
}
