// Package actions implements shareable controls and the protocol that links
// them: a private action is published as a public copy, other private
// actions connect to that copy, and values fan out through it.
package actions

import (
	"github.com/google/uuid"

	"github.com/manivault/mvcore/internal/variant"
)

// WidgetAction is implemented by every control. Concrete controls embed
// *Action and add a typed value.
type WidgetAction interface {
	Base() *Action
	TypeName() string
	Value() any
	// SetValue converts v to the control's value type. Changes fan out to
	// connected actions.
	SetValue(v any) error
	// PublicCopy creates an unregistered copy carrying the same settings
	// and value, with fresh ids.
	PublicCopy() WidgetAction
	ToVariantMap() variant.Map
	FromVariantMap(m variant.Map) error
}

// Action carries the identity, ownership and connection state shared by
// all controls.
type Action struct {
	id          string
	title       string
	self        WidgetAction
	parent      WidgetAction
	children    []WidgetAction
	permissions ConnectionPermission

	public       bool
	publicAction WidgetAction
	connected    []WidgetAction

	destroyed bool
	syncing   bool
	onDestroy []func()
	onChange  []func(any)

	manager *Manager
}

func (a *Action) init(self WidgetAction, parent WidgetAction, title string) {
	a.id = uuid.New().String()
	a.title = title
	a.self = self
	a.permissions = Default
	if parent != nil {
		parent.Base().AddChild(self)
	}
}

// Base returns the shared state
func (a *Action) Base() *Action { return a }

// ID returns the globally unique action id
func (a *Action) ID() string { return a.id }

// Title returns the display title
func (a *Action) Title() string { return a.title }

// SetTitle changes the display title
func (a *Action) SetTitle(title string) { a.title = title }

// Parent returns the owning action, nil for roots
func (a *Action) Parent() WidgetAction { return a.parent }

// Children returns the owned child actions in order
func (a *Action) Children() []WidgetAction {
	out := make([]WidgetAction, len(a.children))
	copy(out, a.children)
	return out
}

// Child returns the first child with the given title
func (a *Action) Child(title string) WidgetAction {
	for _, c := range a.children {
		if c.Base().title == title {
			return c
		}
	}
	return nil
}

// AddChild takes ownership of child, detaching it from a previous parent
func (a *Action) AddChild(child WidgetAction) {
	cb := child.Base()
	if cb.parent != nil {
		cb.parent.Base().removeChild(child)
	}
	cb.parent = a.self
	a.children = append(a.children, child)
}

func (a *Action) removeChild(child WidgetAction) {
	for i, c := range a.children {
		if c == child {
			a.children = append(a.children[:i], a.children[i+1:]...)
			return
		}
	}
}

// Permissions returns the connection permission flags
func (a *Action) Permissions() ConnectionPermission { return a.permissions }

// SetPermissions replaces the connection permission flags
func (a *Action) SetPermissions(p ConnectionPermission) { a.permissions = p }

// SetPermissionFlag sets or clears a single permission flag
func (a *Action) SetPermissionFlag(flag ConnectionPermission, on bool) {
	if on {
		a.permissions |= flag
	} else {
		a.permissions &^= flag
	}
}

// IsPublic reports whether the action is a shared public copy
func (a *Action) IsPublic() bool { return a.public }

// IsConnected reports whether the action mirrors a public action
func (a *Action) IsConnected() bool { return a.publicAction != nil }

// IsPublished reports whether the action has a public counterpart
func (a *Action) IsPublished() bool { return a.public || a.publicAction != nil }

// PublicAction returns the public action this one is connected to
func (a *Action) PublicAction() WidgetAction { return a.publicAction }

// ConnectedActions returns the private actions connected to a public action
func (a *Action) ConnectedActions() []WidgetAction {
	out := make([]WidgetAction, len(a.connected))
	copy(out, a.connected)
	return out
}

// IsDestroyed reports whether Destroy has been called
func (a *Action) IsDestroyed() bool { return a.destroyed }

// OnDestroy registers a hook run when the action is destroyed
func (a *Action) OnDestroy(fn func()) {
	a.onDestroy = append(a.onDestroy, fn)
}

// OnValueChanged registers a hook run after every value change
func (a *Action) OnValueChanged(fn func(any)) {
	a.onChange = append(a.onChange, fn)
}

func (a *Action) removeConnected(private WidgetAction) bool {
	for i, c := range a.connected {
		if c == private {
			a.connected = append(a.connected[:i], a.connected[i+1:]...)
			return true
		}
	}
	return false
}

func (a *Action) markPublic() {
	a.public = true
	for _, c := range a.children {
		c.Base().markPublic()
	}
}

// changed runs value hooks and pushes the new value along connections. A
// private action pushes to its public action, which pushes to every other
// connected private action.
func (a *Action) changed() {
	value := a.self.Value()
	for _, fn := range a.onChange {
		fn(value)
	}

	if a.syncing {
		return
	}
	a.syncing = true
	defer func() { a.syncing = false }()

	if a.public {
		for _, private := range a.ConnectedActions() {
			if err := private.SetValue(value); err != nil && a.manager != nil {
				a.manager.logger.Warn("Failed to sync connected action",
					"action", private.Base().id, "error", err)
			}
		}
		return
	}
	if a.publicAction != nil && !a.publicAction.Base().syncing {
		if err := a.publicAction.SetValue(value); err != nil && a.manager != nil {
			a.manager.logger.Warn("Failed to sync public action",
				"action", a.publicAction.Base().id, "error", err)
		}
	}
}

// Destroy tears the action down together with its children. A connected
// private action leaves its public action's connected list; a destroyed
// public action disconnects every private action still attached to it.
func (a *Action) Destroy() {
	if a.destroyed {
		return
	}
	a.destroyed = true

	for _, c := range a.Children() {
		c.Base().Destroy()
	}

	if pub := a.publicAction; pub != nil {
		pub.Base().removeConnected(a.self)
		a.publicAction = nil
		a.notifyDisconnected(a.self, pub)
	}
	for _, private := range a.ConnectedActions() {
		private.Base().publicAction = nil
		a.notifyDisconnected(private, a.self)
	}
	a.connected = nil

	if a.parent != nil {
		a.parent.Base().removeChild(a.self)
	}

	for _, fn := range a.onDestroy {
		fn()
	}
	if a.manager != nil {
		a.manager.forget(a.self)
	}
}

func (a *Action) notifyDisconnected(private, public WidgetAction) {
	m := a.manager
	if m == nil {
		m = public.Base().manager
	}
	if m != nil {
		m.notifyDisconnected(private, public)
	}
}

// baseVariantMap holds the fields every control serializes
func (a *Action) baseVariantMap() variant.Map {
	return variant.Map{
		"ActionType": a.self.TypeName(),
		"ID":         a.id,
		"Title":      a.title,
	}
}
