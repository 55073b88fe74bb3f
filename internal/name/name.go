// Package name defines the structured identifier used for addressing,
// permission checks and subscription matching across Gray Logic Sync.
//
// A Name is the triple (type, object, attribute). The attribute is empty for
// whole-object names (object added/removed) and set for attribute-level
// names (attribute changed).
package name

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrMalformed is returned when a Name or its string form is invalid.
var ErrMalformed = errors.New("name: malformed")

// Separators used by the string form: "type/object#attribute".
const (
	typeSeparator      = "/"
	attributeSeparator = "#"

	// maxComponentLength bounds each component to keep names usable as keys.
	maxComponentLength = 128
)

// typePattern restricts type names to lowercase identifiers.
var typePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Name identifies a namespace object, or one attribute of it.
//
// Name is an immutable value type; it is comparable and safe to use as a map key.
type Name struct {
	Type      string `json:"type"`
	Object    string `json:"object"`
	Attribute string `json:"attribute,omitempty"`
}

// New returns the whole-object Name for an object of the given type.
func New(typ, object string) Name {
	return Name{Type: typ, Object: object}
}

// WithAttribute returns a copy of n addressing the given attribute.
func (n Name) WithAttribute(attr string) Name {
	n.Attribute = attr
	return n
}

// ObjectName returns n with the attribute stripped.
func (n Name) ObjectName() Name {
	n.Attribute = ""
	return n
}

// HasAttribute reports whether n addresses a single attribute.
func (n Name) HasAttribute() bool {
	return n.Attribute != ""
}

// IsZero reports whether n is the zero Name.
func (n Name) IsZero() bool {
	return n == Name{}
}

// String returns the wire/log form: "type/object" or "type/object#attribute".
func (n Name) String() string {
	if n.Attribute == "" {
		return n.Type + typeSeparator + n.Object
	}
	return n.Type + typeSeparator + n.Object + attributeSeparator + n.Attribute
}

// Validate checks every component of n.
func (n Name) Validate() error {
	if !typePattern.MatchString(n.Type) || len(n.Type) > maxComponentLength {
		return fmt.Errorf("%w: invalid type %q", ErrMalformed, n.Type)
	}
	if err := validateComponent("object", n.Object, true); err != nil {
		return err
	}
	return validateComponent("attribute", n.Attribute, false)
}

func validateComponent(field, value string, required bool) error {
	if value == "" {
		if required {
			return fmt.Errorf("%w: %s is required", ErrMalformed, field)
		}
		return nil
	}
	if len(value) > maxComponentLength {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrMalformed, field, maxComponentLength)
	}
	if strings.ContainsAny(value, typeSeparator+attributeSeparator) || strings.TrimSpace(value) != value {
		return fmt.Errorf("%w: %s %q contains reserved characters", ErrMalformed, field, value)
	}
	return nil
}

// Parse parses the string form produced by String.
func Parse(s string) (Name, error) {
	typ, rest, ok := strings.Cut(s, typeSeparator)
	if !ok {
		return Name{}, fmt.Errorf("%w: missing %q in %q", ErrMalformed, typeSeparator, s)
	}
	object, attr, hasAttr := strings.Cut(rest, attributeSeparator)
	if hasAttr && attr == "" {
		return Name{}, fmt.Errorf("%w: empty attribute in %q", ErrMalformed, s)
	}

	n := Name{Type: typ, Object: object, Attribute: attr}
	if err := n.Validate(); err != nil {
		return Name{}, err
	}
	return n, nil
}
