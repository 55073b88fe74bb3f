package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-sync/internal/auth"
	"github.com/nerrad567/gray-logic-sync/internal/name"
	"github.com/nerrad567/gray-logic-sync/internal/taskproc"
)

// handleMessage decodes and executes one client frame. It runs on the
// worker with the namespace attributed to the connection's user.
func (c *Conn) handleMessage(_ context.Context, ops taskproc.Operations, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		c.reply(errorFrame("", CodeBadRequest, "invalid JSON message"))
		return
	}

	switch req.Type {
	case TypeLogin:
		c.handleLogin(ops, req)
	case TypePassword:
		c.handlePassword(ops, req)
	case TypeAdd:
		c.handleAdd(ops, req)
	case TypeSet:
		c.handleSet(ops, req)
	case TypeRemove:
		c.handleRemove(ops, req)
	case TypeGet:
		c.handleGet(ops, req)
	case TypePing:
		c.reply(Frame{Type: TypePong, ID: req.ID})
	default:
		c.reply(errorFrame(req.ID, CodeUnknownOperation, "unknown message type: "+req.Type))
	}
}

func (c *Conn) handleLogin(ops taskproc.Operations, req Request) {
	switch {
	case c.obj.User() != nil:
		c.reply(errorFrame(req.ID, CodeBadRequest, "already logged in"))
		return
	case c.loginPending:
		c.reply(errorFrame(req.ID, CodeBadRequest, "login already in progress"))
		return
	case req.Username == "":
		c.reply(errorFrame(req.ID, CodeBadRequest, "username is required"))
		return
	}

	c.loginPending, c.loginID = true, req.ID
	ops.Authenticate(c, req.Username, []byte(req.Password))
}

func (c *Conn) handlePassword(ops taskproc.Operations, req Request) {
	switch {
	case c.obj.User() == nil:
		c.reply(errorFrame(req.ID, CodeNotLoggedIn, "not logged in"))
		return
	case c.passwordPending:
		c.reply(errorFrame(req.ID, CodeBadRequest, "password change already in progress"))
		return
	}

	c.passwordPending, c.passwordID = true, req.ID
	ops.ChangePassword(c, []byte(req.Password), []byte(req.NewPassword))
}

// handleAdd creates an object from a whole-object name and an optional map
// of initial attribute values.
func (c *Conn) handleAdd(ops taskproc.Operations, req Request) {
	n, ok := c.parseName(req, false)
	if !ok {
		return
	}
	spec, known := ops.Type(n.Type)
	if !known {
		c.reply(errorFrame(req.ID, CodeNotFound, "unknown type"))
		return
	}
	if spec.New == nil {
		c.reply(errorFrame(req.ID, CodeForbidden, "objects of this type cannot be created"))
		return
	}

	var attrs map[string]any
	if len(req.Value) > 0 {
		if err := json.Unmarshal(req.Value, &attrs); err != nil {
			c.reply(errorFrame(req.ID, CodeValidation, "value must be an object of attributes"))
			return
		}
	}

	obj := spec.New(n.Object)
	for attr, v := range attrs {
		if auth.IsSecretAttribute(attr) {
			c.reply(errorFrame(req.ID, CodeForbidden, "permission denied"))
			return
		}
		if err := obj.SetAttribute(attr, v); err != nil {
			c.logger.Debug("rejecting add", "name", n.String(), "attribute", attr, "error", err)
			c.reply(errorFrame(req.ID, CodeValidation, fmt.Sprintf("invalid value for %s", attr)))
			return
		}
	}

	if err := ops.AddObject(obj); err != nil {
		c.fail(req, n, err)
		return
	}
	c.reply(Frame{Type: TypeResponse, ID: req.ID, Name: n.String()})
}

func (c *Conn) handleSet(ops taskproc.Operations, req Request) {
	n, ok := c.parseName(req, true)
	if !ok {
		return
	}
	var value any
	if len(req.Value) > 0 {
		if err := json.Unmarshal(req.Value, &value); err != nil {
			c.reply(errorFrame(req.ID, CodeValidation, "invalid value"))
			return
		}
	}
	if err := ops.SetAttribute(n, value); err != nil {
		c.fail(req, n, err)
		return
	}
	c.reply(Frame{Type: TypeResponse, ID: req.ID, Name: n.String()})
}

func (c *Conn) handleRemove(ops taskproc.Operations, req Request) {
	n, ok := c.parseName(req, false)
	if !ok {
		return
	}
	obj, found := ops.Lookup(n)
	if !found {
		c.reply(errorFrame(req.ID, CodeNotFound, "object not found"))
		return
	}
	if err := ops.RemoveObject(obj); err != nil {
		c.fail(req, n, err)
		return
	}
	c.reply(Frame{Type: TypeResponse, ID: req.ID, Name: n.String()})
}

// handleGet returns one attribute, or every readable attribute when the
// name has none.
func (c *Conn) handleGet(ops taskproc.Operations, req Request) {
	n, err := name.Parse(req.Name)
	if err != nil {
		c.reply(errorFrame(req.ID, CodeBadRequest, "malformed name"))
		return
	}

	var value any
	if n.HasAttribute() {
		value, err = ops.GetAttribute(n)
	} else {
		value, err = ops.Snapshot(n)
	}
	if err != nil {
		c.fail(req, n, err)
		return
	}
	c.reply(Frame{Type: TypeResponse, ID: req.ID, Name: n.String(), Value: value})
}

// parseName parses req.Name and checks whether it addresses an attribute.
// On failure the rejection has already been sent.
func (c *Conn) parseName(req Request, wantAttribute bool) (name.Name, bool) {
	n, err := name.Parse(req.Name)
	if err != nil {
		c.reply(errorFrame(req.ID, CodeBadRequest, "malformed name"))
		return name.Name{}, false
	}
	if n.HasAttribute() != wantAttribute {
		msg := "name must not address an attribute"
		if wantAttribute {
			msg = "name must address an attribute"
		}
		c.reply(errorFrame(req.ID, CodeBadRequest, msg))
		return name.Name{}, false
	}
	return n, true
}

func (c *Conn) fail(req Request, n name.Name, err error) {
	c.logger.Debug("request rejected", "session", c.obj.SessionID(), "type", req.Type, "name", n.String(), "error", err)
	c.reply(rejection(req.ID, err))
}
