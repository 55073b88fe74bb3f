package namespace

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sort"

	"github.com/nerrad567/gray-logic-sync/internal/name"
)

// TypeRecord is the type of generic configuration records.
const TypeRecord = "record"

// Reserved record attributes with access-control meaning.
const (
	AttrOwner  = "owner"
	AttrRoomID = "room_id"
)

// Record is a generic attribute bag used for configuration records.
// Values must be JSON-encodable; setting an attribute to nil deletes it.
type Record struct {
	typ    string
	object string
	attrs  map[string]any
}

// NewRecord creates an empty record.
func NewRecord(typ, object string) *Record {
	return &Record{typ: typ, object: object, attrs: make(map[string]any)}
}

// RecordSpec returns a TypeSpec for a record type backed by store (nil for
// in-memory records).
func RecordSpec(typ string, store Persister) TypeSpec {
	return TypeSpec{
		Name:  typ,
		New:   func(object string) Object { return NewRecord(typ, object) },
		Store: store,
	}
}

// ObjectName implements Object.
func (r *Record) ObjectName() name.Name {
	return name.New(r.typ, r.object)
}

// AttributeNames returns the record's attributes in sorted order.
func (r *Record) AttributeNames() []string {
	keys := slices.Collect(maps.Keys(r.attrs))
	sort.Strings(keys)
	return keys
}

// GetAttribute implements Object.
func (r *Record) GetAttribute(attr string) (any, error) {
	v, ok := r.attrs[attr]
	if !ok {
		return nil, fmt.Errorf("record has no attribute %q", attr)
	}
	return v, nil
}

// SetAttribute implements Object.
func (r *Record) SetAttribute(attr string, value any) error {
	if value == nil {
		delete(r.attrs, attr)
		return nil
	}
	if attr == AttrOwner || attr == AttrRoomID {
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%s must be a string", attr)
		}
	}
	if _, err := json.Marshal(value); err != nil {
		return fmt.Errorf("value for %q is not JSON-encodable: %w", attr, err)
	}
	r.attrs[attr] = value
	return nil
}

// AcceptsAttribute implements Extensible: records take any valid attribute name.
func (r *Record) AcceptsAttribute(attr string) bool {
	return attr != "" && name.New(r.typ, r.object).WithAttribute(attr).Validate() == nil
}

// Owner implements Owned via the "owner" attribute.
func (r *Record) Owner() string {
	s, _ := r.attrs[AttrOwner].(string)
	return s
}

// RoomID implements Located: a record is room-scoped only once it has a
// "room_id" attribute.
func (r *Record) RoomID() (string, bool) {
	s, _ := r.attrs[AttrRoomID].(string)
	return s, s != ""
}
