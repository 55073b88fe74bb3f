package taskproc

import (
	"encoding/json"
	"errors"

	"github.com/nerrad567/gray-logic-sync/internal/auth"
	"github.com/nerrad567/gray-logic-sync/internal/name"
	"github.com/nerrad567/gray-logic-sync/internal/namespace"
)

// Operations is the namespace as seen by code already running inside a
// task. Every mutation is applied and fanned out before the call returns.
// Errors from the namespace are returned unchanged.
//
// An Operations value is only valid on the worker, during the task that
// handed it over.
type Operations interface {
	Lookup(n name.Name) (namespace.Object, bool)
	Type(typ string) (namespace.TypeSpec, bool)

	AddObject(obj namespace.Object) error
	StoreObject(obj namespace.Object) error
	RemoveObject(obj namespace.Object) error
	SetAttribute(n name.Name, value any) error
	GetAttribute(n name.Name) (json.RawMessage, error)
	Snapshot(n name.Name) (map[string]json.RawMessage, error)

	// Authenticate starts a login for conn. The outcome arrives later as a
	// FinishLogin or FailLogin task; password is zeroed.
	Authenticate(conn Connection, username string, password []byte)

	// ChangePassword starts a password change for conn's user. Both
	// passwords are zeroed.
	ChangePassword(conn Connection, oldPassword, newPassword []byte)

	// Disconnect closes conn immediately.
	Disconnect(conn Connection, reason string)
}

// inlineOps implements Operations directly on the processor.
type inlineOps struct {
	p *Processor
}

func (o *inlineOps) Lookup(n name.Name) (namespace.Object, bool) { return o.p.ns.Lookup(n) }

func (o *inlineOps) Type(typ string) (namespace.TypeSpec, bool) { return o.p.ns.Type(typ) }

func (o *inlineOps) AddObject(obj namespace.Object) error { return o.p.addObject(obj) }

func (o *inlineOps) StoreObject(obj namespace.Object) error { return o.p.storeObject(obj) }

func (o *inlineOps) RemoveObject(obj namespace.Object) error { return o.p.removeObject(obj) }

func (o *inlineOps) SetAttribute(n name.Name, value any) error { return o.p.setAttribute(n, value) }

func (o *inlineOps) GetAttribute(n name.Name) (json.RawMessage, error) { return o.p.ns.GetAttribute(n) }

func (o *inlineOps) Snapshot(n name.Name) (map[string]json.RawMessage, error) {
	return o.p.ns.Snapshot(n)
}

func (o *inlineOps) Authenticate(conn Connection, username string, password []byte) {
	o.p.authenticate(conn, username, password)
}

func (o *inlineOps) ChangePassword(conn Connection, oldPassword, newPassword []byte) {
	o.p.changePassword(conn, oldPassword, newPassword)
}

func (o *inlineOps) Disconnect(conn Connection, reason string) {
	o.p.disconnect(conn, reason)
}

// addObject inserts obj and notifies readers of the add.
func (p *Processor) addObject(obj namespace.Object) error {
	if err := p.ns.AddObject(obj); err != nil {
		return err
	}
	p.notifyAdded(obj)
	return nil
}

// storeObject upserts obj. A new name is fanned out as an add; an update
// as a change of every attribute.
func (p *Processor) storeObject(obj namespace.Object) error {
	added, err := p.ns.StoreObject(obj)
	if err != nil {
		return err
	}
	if added {
		p.notifyAdded(obj)
	} else {
		n := obj.ObjectName()
		for _, attr := range obj.AttributeNames() {
			p.notifyChanged(n.WithAttribute(attr), obj)
		}
	}
	if u, ok := obj.(*auth.User); ok {
		p.syncSessions(u.Username, u)
	}
	return nil
}

// removeObject evicts obj. Recipients are chosen while the object is still
// present, since readability depends on it.
func (p *Processor) removeObject(obj namespace.Object) error {
	n, ok := p.ns.NameOf(obj)
	if !ok {
		_, err := p.ns.RemoveObject(obj)
		return err
	}

	recipients := p.recipients(n)
	if _, err := p.ns.RemoveObject(obj); err != nil {
		return err
	}

	note := Notification{Kind: KindRemoved, Name: n}
	for _, c := range recipients {
		p.deliver(c, note)
	}
	p.observe(Event{Kind: KindRemoved, Name: n, Object: obj})
	if u, ok := obj.(*auth.User); ok {
		p.syncSessions(u.Username, nil)
	}
	return nil
}

// setAttribute assigns value and notifies readers of the change.
func (p *Processor) setAttribute(n name.Name, value any) error {
	if err := p.ns.SetAttribute(n, value); err != nil {
		return err
	}
	obj, _ := p.ns.Lookup(n)
	p.notifyChanged(n, obj)
	if u, ok := obj.(*auth.User); ok {
		p.syncSessions(u.Username, u)
	}
	return nil
}

// syncSessions points the logged-in connections of username at the account
// the namespace now holds. Sessions of a removed or deactivated account are
// disconnected.
func (p *Processor) syncSessions(username string, current *auth.User) {
	for _, c := range p.registry.Snapshot() {
		co := c.Object()
		if u := co.User(); u == nil || u.Username != username {
			continue
		}
		switch {
		case current == nil:
			p.disconnect(c, "account removed")
		case !current.IsActive:
			p.disconnect(c, "account disabled")
		default:
			co.login(current)
		}
	}
}

func (p *Processor) notifyAdded(obj namespace.Object) {
	n := obj.ObjectName()
	values, err := p.ns.Values(n)
	if err != nil {
		p.logger.Warn("encoding added object", "name", n.String(), "error", err)
		return
	}
	raw, err := json.Marshal(values)
	if err != nil {
		p.logger.Warn("encoding added object", "name", n.String(), "error", err)
		return
	}
	p.observe(Event{Kind: KindAdded, Name: n, Object: obj, Value: raw})
	p.fanout(Notification{Kind: KindAdded, Name: n, Value: raw})
}

func (p *Processor) notifyChanged(n name.Name, obj namespace.Object) {
	raw, err := p.ns.Value(n)
	if err != nil {
		// Secret attributes are never encoded, and never announced.
		if !errors.Is(err, namespace.ErrPermission) {
			p.logger.Warn("encoding changed attribute", "name", n.String(), "error", err)
		}
		return
	}
	p.observe(Event{Kind: KindChanged, Name: n, Object: obj, Value: raw})
	p.fanout(Notification{Kind: KindChanged, Name: n, Value: raw})
}

// fanout delivers note to every registered connection allowed to read it.
func (p *Processor) fanout(note Notification) {
	if !p.ns.IsGettable(note.Name) {
		return
	}
	for _, c := range p.registry.Snapshot() {
		if p.ns.IsReadable(c.Object().User(), note.Name) {
			p.deliver(c, note)
		}
	}
}

// recipients returns the connections that may currently read n.
func (p *Processor) recipients(n name.Name) []Connection {
	if !p.ns.IsGettable(n) {
		return nil
	}
	var out []Connection
	for _, c := range p.registry.Snapshot() {
		if p.ns.IsReadable(c.Object().User(), n) {
			out = append(out, c)
		}
	}
	return out
}

func (p *Processor) deliver(c Connection, note Notification) {
	p.metrics.notified(note.Kind)
	if c.Notify(note) {
		p.enqueueOrLog(p.Flush(c))
	}
}

func (p *Processor) observe(ev Event) {
	if len(p.observers) == 0 {
		return
	}
	if u, ok := p.ns.Actor(); ok && u != nil {
		ev.Actor = u.Username
	}
	for _, o := range p.observers {
		o.Observe(ev)
	}
}
