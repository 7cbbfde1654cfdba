package actions

// ConnectionPermission flags control who may publish, connect or
// disconnect an action.
type ConnectionPermission uint16

const (
	PublishViaAPI ConnectionPermission = 1 << iota
	PublishViaGUI
	ConnectViaAPI
	ConnectViaGUI
	DisconnectViaAPI
	DisconnectViaGUI

	// ForceNone overrides every other flag
	ForceNone ConnectionPermission = 1 << 8

	None    ConnectionPermission = 0
	All                          = PublishViaAPI | PublishViaGUI | ConnectViaAPI | ConnectViaGUI | DisconnectViaAPI | DisconnectViaGUI
	Default                      = All
)

// Via identifies the surface a request came through
type Via int

const (
	ViaAPI Via = iota
	ViaGUI
)

func (v Via) String() string {
	if v == ViaGUI {
		return "gui"
	}
	return "api"
}

func (p ConnectionPermission) allows(flag ConnectionPermission) bool {
	return p&ForceNone == 0 && p&flag == flag
}

// MayPublish reports whether publishing through via is permitted
func (p ConnectionPermission) MayPublish(via Via) bool {
	if via == ViaGUI {
		return p.allows(PublishViaGUI)
	}
	return p.allows(PublishViaAPI)
}

// MayConnect reports whether connecting through via is permitted
func (p ConnectionPermission) MayConnect(via Via) bool {
	if via == ViaGUI {
		return p.allows(ConnectViaGUI)
	}
	return p.allows(ConnectViaAPI)
}

// MayDisconnect reports whether disconnecting through via is permitted
func (p ConnectionPermission) MayDisconnect(via Via) bool {
	if via == ViaGUI {
		return p.allows(DisconnectViaGUI)
	}
	return p.allows(DisconnectViaAPI)
}
