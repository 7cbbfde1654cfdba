package actions

import (
	"fmt"
	"log/slog"

	"github.com/manivault/mvcore/internal/events"
	"github.com/manivault/mvcore/internal/logging"
	"github.com/manivault/mvcore/internal/mverr"
	"github.com/manivault/mvcore/internal/variant"
)

// Constructor builds an empty action of a registered type
type Constructor func(title string) WidgetAction

// Manager is the registry of actions and the home of the publish/connect
// protocol. It is not safe for concurrent use; callers serialize access.
type Manager struct {
	actions map[string]WidgetAction
	order   []string
	types   map[string]Constructor

	dispatcher *events.Dispatcher
	reporter   *logging.Reporter
	logger     *slog.Logger
}

// NewManager creates an actions manager with the builtin types registered
func NewManager(dispatcher *events.Dispatcher, reporter *logging.Reporter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		actions:    make(map[string]WidgetAction),
		types:      make(map[string]Constructor),
		dispatcher: dispatcher,
		reporter:   reporter,
		logger:     logger.With("component", "actions"),
	}

	m.RegisterActionType(TypeToggle, func(title string) WidgetAction { return NewToggleAction(nil, title, false) })
	m.RegisterActionType(TypeIntegral, func(title string) WidgetAction { return NewIntegralAction(nil, title, 0, 100, 0) })
	m.RegisterActionType(TypeDecimal, func(title string) WidgetAction { return NewDecimalAction(nil, title, 0, 1, 0, 2) })
	m.RegisterActionType(TypeString, func(title string) WidgetAction { return NewStringAction(nil, title, "") })
	m.RegisterActionType(TypeOption, func(title string) WidgetAction { return NewOptionAction(nil, title, nil, -1) })
	m.RegisterActionType(TypeGroup, func(title string) WidgetAction { return NewGroupAction(nil, title) })
	return m
}

func (m *Manager) fail(err error) error {
	return m.reporter.Report("actions", err)
}

// RegisterActionType maps a serialization tag to a constructor
func (m *Manager) RegisterActionType(tag string, ctor Constructor) error {
	if tag == "" || ctor == nil {
		return m.fail(mverr.New(mverr.CodeInvalidArgument, "action type needs a tag and a constructor"))
	}
	m.types[tag] = ctor
	return nil
}

// HasActionType reports whether tag is registered
func (m *Manager) HasActionType(tag string) bool {
	_, ok := m.types[tag]
	return ok
}

// AddAction registers a together with its children
func (m *Manager) AddAction(a WidgetAction) error {
	if a == nil || a.Base().destroyed {
		return m.fail(mverr.New(mverr.CodeInvalidArgument, "invalid action"))
	}
	if _, exists := m.actions[a.Base().id]; exists {
		return m.fail(mverr.New(mverr.CodeAlreadyInState, "action %q already registered", a.Base().title))
	}
	m.register(a)
	return nil
}

func (m *Manager) register(a WidgetAction) {
	b := a.Base()
	if _, exists := m.actions[b.id]; !exists {
		m.actions[b.id] = a
		m.order = append(m.order, b.id)
	}
	b.manager = m
	for _, c := range b.children {
		m.register(c)
	}
}

// RemoveAction destroys a registered action. Destroying a public action
// disconnects every private action attached to it.
func (m *Manager) RemoveAction(a WidgetAction) error {
	if a == nil {
		return m.fail(mverr.New(mverr.CodeInvalidArgument, "invalid action"))
	}
	if _, ok := m.actions[a.Base().id]; !ok {
		return m.fail(mverr.New(mverr.CodeNotFound, "action %q not registered", a.Base().title))
	}
	a.Base().Destroy()
	return nil
}

// forget drops a destroyed action from the registry
func (m *Manager) forget(a WidgetAction) {
	id := a.Base().id
	if _, ok := m.actions[id]; !ok {
		return
	}
	delete(m.actions, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.logger.Debug("Removed action", "id", id, "title", a.Base().title)
	m.dispatcher.Dispatch(events.ActionRemoved{ActionID: id, Public: a.Base().public})
}

// Clear destroys every top-level public action, disconnecting whatever
// mirrors them
func (m *Manager) Clear() {
	for _, a := range m.PublicActions() {
		a.Base().Destroy()
	}
}

// Action looks up a registered action by id
func (m *Manager) Action(id string) (WidgetAction, error) {
	a, ok := m.actions[id]
	if !ok {
		return nil, mverr.New(mverr.CodeNotFound, "action %s not found", id)
	}
	return a, nil
}

// Actions returns all registered actions in registration order
func (m *Manager) Actions() []WidgetAction {
	out := make([]WidgetAction, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.actions[id])
	}
	return out
}

// PublicActions returns the top-level public actions
func (m *Manager) PublicActions() []WidgetAction {
	var out []WidgetAction
	for _, id := range m.order {
		a := m.actions[id]
		if a.Base().public && a.Base().parent == nil {
			out = append(out, a)
		}
	}
	return out
}

// PublicAction looks up a top-level public action by name
func (m *Manager) PublicAction(name string) (WidgetAction, error) {
	for _, a := range m.PublicActions() {
		if a.Base().title == name {
			return a, nil
		}
	}
	return nil, mverr.New(mverr.CodeNotFound, "public action %q not found", name)
}

// IsActionConnected reports whether a mirrors a public action
func (m *Manager) IsActionConnected(a WidgetAction) bool {
	return a != nil && a.Base().IsConnected()
}

// Publish publishes a through the API surface
func (m *Manager) Publish(a WidgetAction, name string) (WidgetAction, error) {
	return m.PublishVia(ViaAPI, a, name)
}

// PublishVia creates a public copy of a named name, registers it and
// connects a (and its children) to it.
func (m *Manager) PublishVia(via Via, a WidgetAction, name string) (WidgetAction, error) {
	if a == nil || a.Base().destroyed {
		return nil, m.fail(mverr.New(mverr.CodeInvalidArgument, "cannot publish an invalid action"))
	}
	b := a.Base()
	if name == "" {
		return nil, m.fail(mverr.New(mverr.CodeInvalidArgument, "public action name is empty"))
	}
	if !b.permissions.MayPublish(via) {
		return nil, m.fail(mverr.New(mverr.CodeInvalidArgument, "action %q may not be published via %s", b.title, via))
	}
	if b.IsPublished() {
		return nil, m.fail(mverr.New(mverr.CodeAlreadyInState, "action %q is already published", b.title))
	}
	if _, err := m.PublicAction(name); err == nil {
		return nil, m.fail(mverr.New(mverr.CodeAlreadyInState, "a public action named %q already exists", name))
	}

	public := a.PublicCopy()
	public.Base().title = name
	public.Base().markPublic()
	m.register(public)

	if err := m.connect(via, a, public, true); err != nil {
		public.Base().Destroy()
		return nil, m.fail(err)
	}

	m.logger.Info("Published action", "action", b.id, "name", name, "type", a.TypeName())
	m.dispatcher.Dispatch(events.ActionPublished{
		ActionID:       b.id,
		PublicActionID: public.Base().id,
		Name:           name,
		ActionType:     a.TypeName(),
	})
	return public, nil
}

// ConnectPrivateActionToPublicAction connects through the API surface
func (m *Manager) ConnectPrivateActionToPublicAction(private, public WidgetAction, recursive bool) error {
	return m.ConnectVia(ViaAPI, private, public, recursive)
}

// ConnectVia makes private mirror public. A private action connected to a
// different public action is moved over.
func (m *Manager) ConnectVia(via Via, private, public WidgetAction, recursive bool) error {
	if err := m.connect(via, private, public, recursive); err != nil {
		return m.fail(err)
	}
	return nil
}

func (m *Manager) connect(via Via, private, public WidgetAction, recursive bool) error {
	if private == nil || public == nil {
		return mverr.New(mverr.CodeInvalidArgument, "cannot connect a nil action")
	}
	pb, pub := private.Base(), public.Base()
	if pb.destroyed || pub.destroyed {
		return mverr.New(mverr.CodeInvalidArgument, "cannot connect a destroyed action")
	}
	if !pub.public {
		return mverr.New(mverr.CodeInvalidArgument, "action %q is not public", pub.title)
	}
	if pb.public {
		return mverr.New(mverr.CodeInvalidArgument, "public action %q cannot be connected", pb.title)
	}
	if !pb.permissions.MayConnect(via) {
		return mverr.New(mverr.CodeInvalidArgument, "action %q may not be connected via %s", pb.title, via)
	}
	if pb.publicAction == public {
		return mverr.New(mverr.CodeAlreadyInState, "action %q is already connected to %q", pb.title, pub.title)
	}
	if private.TypeName() != public.TypeName() {
		return mverr.New(mverr.CodeInvalidArgument, "cannot connect %s action %q to %s action %q",
			private.TypeName(), pb.title, public.TypeName(), pub.title)
	}

	if pb.publicAction != nil {
		if err := m.disconnect(via, private, recursive); err != nil {
			return err
		}
	}

	pb.publicAction = public
	pub.connected = append(pub.connected, private)
	if pb.manager == nil {
		pb.manager = m
	}

	if private.TypeName() != TypeGroup {
		if err := private.SetValue(public.Value()); err != nil {
			m.logger.Warn("Failed to adopt public value", "action", pb.id, "error", err)
		}
	}

	m.logger.Debug("Connected action", "private", pb.id, "public", pub.id)
	m.dispatcher.Dispatch(events.ActionConnected{PrivateActionID: pb.id, PublicActionID: pub.id})

	if recursive {
		for i, child := range pb.children {
			cb := child.Base()
			if cb.permissions&ForceNone != 0 {
				continue
			}
			target := pub.Child(cb.title)
			if target == nil && i < len(pub.children) {
				target = pub.children[i]
			}
			if target == nil {
				m.logger.Warn("No public counterpart for child action", "action", cb.id, "title", cb.title)
				continue
			}
			if err := m.connect(via, child, target, true); err != nil && !mverr.Is(err, mverr.CodeAlreadyInState) {
				m.logger.Warn("Failed to connect child action", "action", cb.id, "error", err)
			}
		}
	}
	return nil
}

// DisconnectPrivateActionFromPublicAction disconnects through the API surface
func (m *Manager) DisconnectPrivateActionFromPublicAction(private WidgetAction, recursive bool) error {
	return m.DisconnectVia(ViaAPI, private, recursive)
}

// DisconnectVia stops private mirroring its public action
func (m *Manager) DisconnectVia(via Via, private WidgetAction, recursive bool) error {
	if err := m.disconnect(via, private, recursive); err != nil {
		return m.fail(err)
	}
	return nil
}

func (m *Manager) disconnect(via Via, private WidgetAction, recursive bool) error {
	if private == nil {
		return mverr.New(mverr.CodeInvalidArgument, "cannot disconnect a nil action")
	}
	pb := private.Base()
	if pb.publicAction == nil {
		return mverr.New(mverr.CodeAlreadyInState, "action %q is not connected", pb.title)
	}
	if !pb.permissions.MayDisconnect(via) {
		return mverr.New(mverr.CodeInvalidArgument, "action %q may not be disconnected via %s", pb.title, via)
	}

	if recursive {
		for _, child := range pb.children {
			if child.Base().publicAction == nil {
				continue
			}
			if err := m.disconnect(via, child, true); err != nil {
				m.logger.Warn("Failed to disconnect child action", "action", child.Base().id, "error", err)
			}
		}
	}

	public := pb.publicAction
	public.Base().removeConnected(private)
	pb.publicAction = nil
	m.notifyDisconnected(private, public)
	return nil
}

func (m *Manager) notifyDisconnected(private, public WidgetAction) {
	m.logger.Debug("Disconnected action", "private", private.Base().id, "public", public.Base().id)
	m.dispatcher.Dispatch(events.ActionDisconnected{
		PrivateActionID: private.Base().id,
		PublicActionID:  public.Base().id,
	})
}

// ToVariantMap serializes the public actions
func (m *Manager) ToVariantMap() variant.Map {
	publics := m.PublicActions()
	out := make([]variant.Map, 0, len(publics))
	for _, a := range publics {
		out = append(out, a.ToVariantMap())
	}
	return variant.Map{"PublicActions": out}
}

// FromVariantMap recreates public actions. Entries with unregistered types
// or bad fields are reported and skipped; the rest still load.
func (m *Manager) FromVariantMap(vm variant.Map) error {
	loaded := 0
	for _, entry := range variant.Maps(vm, "PublicActions") {
		title := variant.String(entry, "Title", "")
		if _, err := m.PublicAction(title); err == nil {
			m.fail(mverr.New(mverr.CodeAlreadyInState, "public action %q already exists", title))
			continue
		}
		a, err := m.build(entry)
		if err != nil {
			m.fail(err)
			continue
		}
		a.Base().markPublic()
		m.register(a)
		loaded++
	}
	m.logger.Info("Loaded public actions", "count", loaded)
	return nil
}

func (m *Manager) build(entry variant.Map) (WidgetAction, error) {
	tag := variant.String(entry, "ActionType", "")
	ctor, ok := m.types[tag]
	if !ok {
		return nil, mverr.New(mverr.CodeNotFound, "unknown action type %q", tag)
	}
	a := ctor(variant.String(entry, "Title", ""))
	if err := a.FromVariantMap(entry); err != nil {
		return nil, mverr.Wrap(mverr.CodeInvalidArgument, err, "failed to restore %s action", tag)
	}
	if id := variant.String(entry, "ID", ""); id != "" {
		if _, taken := m.actions[id]; !taken {
			a.Base().id = id
		}
	}
	for _, childEntry := range variant.Maps(entry, "Children") {
		child, err := m.build(childEntry)
		if err != nil {
			return nil, fmt.Errorf("failed to restore child of %q: %w", a.Base().title, err)
		}
		a.Base().AddChild(child)
	}
	return a, nil
}
