package namespace

import (
	"errors"
	"fmt"
)

// Domain errors for the namespace package.
//
// Naming errors all wrap ErrNaming so callers can tell them apart from
// permission failures with a single check:
//
//	if errors.Is(err, namespace.ErrNaming) {
//	    // reject the request, keep the connection
//	}
var (
	// ErrNaming is the family of bad, duplicate or unknown names.
	ErrNaming = errors.New("namespace: naming error")

	// ErrDuplicateName is returned when a name is taken, or when the object
	// is already present under a different name.
	ErrDuplicateName = fmt.Errorf("%w: duplicate name", ErrNaming)

	// ErrMalformedName is returned when a name fails validation.
	ErrMalformedName = fmt.Errorf("%w: malformed name", ErrNaming)

	// ErrUnknownType is returned for types that were never registered.
	ErrUnknownType = fmt.Errorf("%w: unknown type", ErrNaming)

	// ErrNotFound is returned when no object has the given name.
	ErrNotFound = fmt.Errorf("%w: object not found", ErrNaming)

	// ErrUnknownAttribute is returned when an object has no such attribute.
	ErrUnknownAttribute = fmt.Errorf("%w: unknown attribute", ErrNaming)

	// ErrPermission is returned when the attributed user may not perform
	// the operation.
	ErrPermission = errors.New("namespace: permission denied")

	// ErrInvalidValue is returned when an object rejects an attribute value.
	ErrInvalidValue = errors.New("namespace: invalid attribute value")

	// ErrPersistence is returned when a persistent type could not be stored.
	ErrPersistence = errors.New("namespace: persistence failed")
)
