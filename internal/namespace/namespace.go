package namespace

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"time"

	"github.com/nerrad567/gray-logic-sync/internal/auth"
	"github.com/nerrad567/gray-logic-sync/internal/name"
)

// defaultPersistTimeout bounds a single Persister call.
const defaultPersistTimeout = 5 * time.Second

// Namespace is the authoritative store of named, typed objects.
//
// Thread Safety: a Namespace is NOT safe for concurrent use. It is owned by
// the task processor's worker goroutine; every other goroutine must go
// through the processor.
type Namespace struct {
	types   map[string]TypeSpec
	objects map[name.Name]Object
	names   map[Object]name.Name

	// Attribution: while attributed, mutations and reads are checked
	// against actor. A nil actor under attribution has no rights.
	actor      *auth.User
	attributed bool

	persistTimeout time.Duration
	logger         Logger
}

// New creates an empty namespace with no registered types.
func New() *Namespace {
	return &Namespace{
		types:          make(map[string]TypeSpec),
		objects:        make(map[name.Name]Object),
		names:          make(map[Object]name.Name),
		persistTimeout: defaultPersistTimeout,
		logger:         noopLogger{},
	}
}

// SetLogger sets the logger for the namespace.
func (ns *Namespace) SetLogger(logger Logger) {
	ns.logger = logger
}

// RegisterType makes a type available. Registering a type twice fails.
func (ns *Namespace) RegisterType(spec TypeSpec) error {
	if err := name.New(spec.Name, "x").Validate(); err != nil {
		return fmt.Errorf("%w: type %q", ErrMalformedName, spec.Name)
	}
	if _, ok := ns.types[spec.Name]; ok {
		return fmt.Errorf("%w: type %q already registered", ErrDuplicateName, spec.Name)
	}
	ns.types[spec.Name] = spec
	return nil
}

// Type returns the spec registered for typ.
func (ns *Namespace) Type(typ string) (TypeSpec, bool) {
	spec, ok := ns.types[typ]
	return spec, ok
}

// Attribute makes user the principal for subsequent operations until
// ClearAttribution. A nil user is an anonymous principal with no rights.
func (ns *Namespace) Attribute(user *auth.User) {
	ns.actor = user
	ns.attributed = true
}

// ClearAttribution returns the namespace to system mode, where every
// operation is allowed.
func (ns *Namespace) ClearAttribution() {
	ns.actor = nil
	ns.attributed = false
}

// Actor returns the attributed principal. ok is false in system mode.
func (ns *Namespace) Actor() (user *auth.User, ok bool) {
	return ns.actor, ns.attributed
}

// AddObject inserts a new object. It fails if the name is malformed, the
// type is unknown, the name is taken, or obj is already present under
// another name.
func (ns *Namespace) AddObject(obj Object) error {
	n, spec, err := ns.resolveNew(obj)
	if err != nil {
		return err
	}
	if _, taken := ns.objects[n]; taken {
		return fmt.Errorf("%w: %s", ErrDuplicateName, n)
	}
	if err := ns.authorize(auth.VerbCreate, n, obj); err != nil {
		return err
	}
	if err := ns.persist(spec, n, obj); err != nil {
		return err
	}
	ns.insert(n, obj)
	return nil
}

// StoreObject inserts obj or replaces the object currently holding its name.
// added reports whether the name was new.
func (ns *Namespace) StoreObject(obj Object) (added bool, err error) {
	if !trackable(obj) {
		return false, fmt.Errorf("%w: object %T cannot be tracked", ErrMalformedName, obj)
	}

	// Storing an object that is already present is an in-place update.
	if held, ok := ns.names[obj]; ok {
		if held != obj.ObjectName() {
			return false, fmt.Errorf("%w: object present as %s cannot be renamed to %s",
				ErrDuplicateName, held, obj.ObjectName())
		}
		if err := ns.authorize(auth.VerbWrite, held, obj); err != nil {
			return false, err
		}
		return false, ns.persist(ns.types[held.Type], held, obj)
	}

	n, spec, err := ns.resolveNew(obj)
	if err != nil {
		return false, err
	}

	current, exists := ns.objects[n]
	verb := auth.VerbWrite
	if !exists {
		verb = auth.VerbCreate
	}
	if err := ns.authorize(verb, n, obj); err != nil {
		return false, err
	}
	if err := ns.persist(spec, n, obj); err != nil {
		return false, err
	}

	if exists {
		delete(ns.names, current)
	}
	ns.insert(n, obj)
	return !exists, nil
}

// RemoveObject evicts obj and returns the name it was held under.
func (ns *Namespace) RemoveObject(obj Object) (name.Name, error) {
	if !trackable(obj) {
		return name.Name{}, fmt.Errorf("%w: object %T cannot be tracked", ErrMalformedName, obj)
	}
	n, ok := ns.names[obj]
	if !ok {
		return name.Name{}, fmt.Errorf("%w: %s", ErrNotFound, obj.ObjectName())
	}
	if err := ns.authorize(auth.VerbDelete, n, obj); err != nil {
		return name.Name{}, err
	}

	if spec := ns.types[n.Type]; spec.Store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ns.persistTimeout)
		defer cancel()
		if err := spec.Store.Delete(ctx, n); err != nil {
			return name.Name{}, fmt.Errorf("%w: %s: %w", ErrPersistence, n, err)
		}
	}

	delete(ns.objects, n)
	delete(ns.names, obj)
	return n, nil
}

// SetAttribute assigns value to the attribute addressed by n.
func (ns *Namespace) SetAttribute(n name.Name, value any) error {
	if !n.HasAttribute() {
		return fmt.Errorf("%w: %s has no attribute", ErrMalformedName, n)
	}
	obj, ok := ns.objects[n.ObjectName()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, n.ObjectName())
	}
	if !acceptsAttribute(obj, n.Attribute) {
		return fmt.Errorf("%w: %s", ErrUnknownAttribute, n)
	}
	if err := ns.authorize(auth.VerbWrite, n, obj); err != nil {
		return err
	}

	previous, getErr := obj.GetAttribute(n.Attribute)
	if err := obj.SetAttribute(n.Attribute, value); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidValue, n, err)
	}

	if err := ns.persist(ns.types[n.Type], n.ObjectName(), obj); err != nil {
		if getErr == nil {
			if restoreErr := obj.SetAttribute(n.Attribute, previous); restoreErr != nil {
				ns.logger.Error("restoring attribute after failed persist", "name", n.String(), "error", restoreErr)
			}
		}
		return err
	}
	return nil
}

// GetAttribute returns the JSON encoding of the attribute addressed by n.
func (ns *Namespace) GetAttribute(n name.Name) (json.RawMessage, error) {
	if !n.HasAttribute() {
		return nil, fmt.Errorf("%w: %s has no attribute", ErrMalformedName, n)
	}
	obj, ok := ns.objects[n.ObjectName()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, n.ObjectName())
	}
	if !slices.Contains(obj.AttributeNames(), n.Attribute) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAttribute, n)
	}
	if !ns.readableByActor(n, obj) {
		return nil, fmt.Errorf("%w: read %s", ErrPermission, n)
	}
	return encodeAttribute(obj, n)
}

// Snapshot returns every attribute of the object named n that the
// attributed principal may read.
func (ns *Namespace) Snapshot(n name.Name) (map[string]json.RawMessage, error) {
	return ns.snapshot(n, ns.readableByActor)
}

// Value encodes the attribute addressed by n regardless of attribution.
// Secret attributes are still refused. Used to build notifications, which
// are filtered per connection afterwards.
func (ns *Namespace) Value(n name.Name) (json.RawMessage, error) {
	if !n.HasAttribute() {
		return nil, fmt.Errorf("%w: %s has no attribute", ErrMalformedName, n)
	}
	if auth.IsSecretAttribute(n.Attribute) {
		return nil, fmt.Errorf("%w: read %s", ErrPermission, n)
	}
	obj, ok := ns.objects[n.ObjectName()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, n.ObjectName())
	}
	return encodeAttribute(obj, n)
}

// Values is Snapshot without attribution: every non-secret attribute.
func (ns *Namespace) Values(n name.Name) (map[string]json.RawMessage, error) {
	return ns.snapshot(n, func(an name.Name, _ Object) bool {
		return !an.HasAttribute() || !auth.IsSecretAttribute(an.Attribute)
	})
}

func (ns *Namespace) snapshot(n name.Name, readable func(name.Name, Object) bool) (map[string]json.RawMessage, error) {
	n = n.ObjectName()
	obj, ok := ns.objects[n]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, n)
	}
	if !readable(n, obj) {
		return nil, fmt.Errorf("%w: read %s", ErrPermission, n)
	}

	out := make(map[string]json.RawMessage)
	for _, attr := range obj.AttributeNames() {
		an := n.WithAttribute(attr)
		if !readable(an, obj) {
			continue
		}
		raw, err := encodeAttribute(obj, an)
		if err != nil {
			return nil, err
		}
		out[attr] = raw
	}
	return out, nil
}

// Lookup returns the object holding the whole-object name of n.
func (ns *Namespace) Lookup(n name.Name) (Object, bool) {
	obj, ok := ns.objects[n.ObjectName()]
	return obj, ok
}

// NameOf returns the name obj is held under.
func (ns *Namespace) NameOf(obj Object) (name.Name, bool) {
	if !trackable(obj) {
		return name.Name{}, false
	}
	n, ok := ns.names[obj]
	return n, ok
}

// List returns the names of all objects of typ, sorted by object.
func (ns *Namespace) List(typ string) []name.Name {
	var out []name.Name
	for n := range ns.objects {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Object < out[j].Object })
	return out
}

// Len returns the number of objects held.
func (ns *Namespace) Len() int {
	return len(ns.objects)
}

// IsGettable is a cheap pre-filter for fan-out: it reports whether any
// principal could possibly read n. It works at type/attribute level only;
// IsReadable is the authoritative per-connection check.
func (ns *Namespace) IsGettable(n name.Name) bool {
	if _, ok := ns.types[n.Type]; !ok {
		return false
	}
	if n.HasAttribute() && auth.IsSecretAttribute(n.Attribute) {
		return false
	}
	return auth.AnyRoleCan(n.Type, auth.VerbRead)
}

// IsReadable reports whether user may read n. A nil user (not logged in)
// can read nothing. The object must currently be present.
func (ns *Namespace) IsReadable(user *auth.User, n name.Name) bool {
	obj, ok := ns.objects[n.ObjectName()]
	if !ok {
		return false
	}
	return canRead(user, n, obj)
}

// Load restores persisted objects of typ without re-persisting them.
// Objects that fail to rebuild are logged and skipped.
func (ns *Namespace) Load(ctx context.Context, typ string, src Loader) (int, error) {
	spec, ok := ns.types[typ]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if spec.New == nil {
		return 0, fmt.Errorf("%w: type %q has no factory", ErrUnknownType, typ)
	}

	stored, err := src.LoadType(ctx, typ)
	if err != nil {
		return 0, fmt.Errorf("loading %s objects: %w", typ, err)
	}

	loaded := 0
	for _, s := range stored {
		obj := spec.New(s.Object)
		if err := restore(obj, s.Attributes); err != nil {
			ns.logger.Warn("skipping stored object", "type", typ, "object", s.Object, "error", err)
			continue
		}
		n := obj.ObjectName()
		if _, taken := ns.objects[n]; taken {
			ns.logger.Warn("skipping duplicate stored object", "name", n.String())
			continue
		}
		ns.insert(n, obj)
		loaded++
	}

	ns.logger.Info("namespace objects loaded", "type", typ, "count", loaded)
	return loaded, nil
}

// resolveNew validates a not-yet-present object and returns its name and spec.
func (ns *Namespace) resolveNew(obj Object) (name.Name, TypeSpec, error) {
	if !trackable(obj) {
		return name.Name{}, TypeSpec{}, fmt.Errorf("%w: object %T cannot be tracked", ErrMalformedName, obj)
	}
	n := obj.ObjectName()
	if n.HasAttribute() {
		return name.Name{}, TypeSpec{}, fmt.Errorf("%w: object name %s carries an attribute", ErrMalformedName, n)
	}
	if err := n.Validate(); err != nil {
		return name.Name{}, TypeSpec{}, fmt.Errorf("%w: %w", ErrMalformedName, err)
	}
	spec, ok := ns.types[n.Type]
	if !ok {
		return name.Name{}, TypeSpec{}, fmt.Errorf("%w: %q", ErrUnknownType, n.Type)
	}
	if held, ok := ns.names[obj]; ok {
		return name.Name{}, TypeSpec{}, fmt.Errorf("%w: object already present as %s", ErrDuplicateName, held)
	}
	return n, spec, nil
}

// trackable reports whether obj can be used as an identity map key.
func trackable(obj Object) bool {
	return obj != nil && reflect.TypeOf(obj).Comparable()
}

func (ns *Namespace) insert(n name.Name, obj Object) {
	ns.objects[n] = obj
	ns.names[obj] = n
}

func (ns *Namespace) persist(spec TypeSpec, n name.Name, obj Object) error {
	if spec.Store == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), ns.persistTimeout)
	defer cancel()
	if err := spec.Store.Save(ctx, n, obj); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPersistence, n, err)
	}
	return nil
}

// authorize checks a mutation against the attributed principal.
func (ns *Namespace) authorize(verb auth.Verb, n name.Name, obj Object) error {
	if !ns.attributed {
		return nil
	}
	u := ns.actor
	switch {
	case u == nil || !u.IsActive:
		return fmt.Errorf("%w: %s %s", ErrPermission, verb, n)
	case n.HasAttribute() && auth.IsSecretAttribute(n.Attribute):
		return fmt.Errorf("%w: %s %s", ErrPermission, verb, n)
	case !auth.HasPermission(u.Role, n.Type, verb):
		return fmt.Errorf("%w: %s may not %s %s", ErrPermission, u.Role, verb, n.Type)
	case !inScope(u, obj):
		return fmt.Errorf("%w: %s is outside %s's rooms", ErrPermission, n, u.Username)
	}
	return nil
}

func (ns *Namespace) readableByActor(n name.Name, obj Object) bool {
	if n.HasAttribute() && auth.IsSecretAttribute(n.Attribute) {
		return false
	}
	if !ns.attributed {
		return true
	}
	return canRead(ns.actor, n, obj)
}

// canRead applies the readability rules: secret attributes are never
// readable, owners always read their own objects, otherwise the role must
// grant read on the type and room scoping must admit the object.
func canRead(u *auth.User, n name.Name, obj Object) bool {
	if u == nil || !u.IsActive {
		return false
	}
	if n.HasAttribute() && auth.IsSecretAttribute(n.Attribute) {
		return false
	}
	if owned, ok := obj.(Owned); ok && owned.Owner() != "" && owned.Owner() == u.Username {
		return true
	}
	if !auth.HasPermission(u.Role, n.Type, auth.VerbRead) {
		return false
	}
	return inScope(u, obj)
}

func inScope(u *auth.User, obj Object) bool {
	if !auth.IsRoomScoped(u.Role) {
		return true
	}
	loc, ok := obj.(Located)
	if !ok {
		return true
	}
	roomID, scoped := loc.RoomID()
	if !scoped {
		return true
	}
	return roomID != "" && slices.Contains(u.RoomIDs, roomID)
}

func acceptsAttribute(obj Object, attr string) bool {
	if ext, ok := obj.(Extensible); ok {
		return ext.AcceptsAttribute(attr)
	}
	return slices.Contains(obj.AttributeNames(), attr)
}

func encodeAttribute(obj Object, n name.Name) (json.RawMessage, error) {
	v, err := obj.GetAttribute(n.Attribute)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnknownAttribute, n, err)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding %s: %w", ErrInvalidValue, n, err)
	}
	return raw, nil
}

// restore applies stored attribute values to a freshly built object.
func restore(obj Object, attrs map[string]any) error {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := obj.SetAttribute(k, attrs[k]); err != nil {
			return fmt.Errorf("attribute %s: %w", k, err)
		}
	}
	return nil
}
