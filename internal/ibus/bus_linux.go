//go:build linux

package ibus

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

const introspectXML = `
<interface name="` + Interface + `">
	<method name="ProcessKeyEvent">
		<arg name="keyval" direction="in" type="u"/>
		<arg name="keycode" direction="in" type="u"/>
		<arg name="state" direction="in" type="u"/>
		<arg name="handled" direction="out" type="b"/>
	</method>
	<method name="FocusIn"/>
	<method name="FocusOut"/>
	<method name="Reset"/>
	<method name="Enable"/>
	<method name="Disable"/>
	<signal name="Resolved">
		<arg name="name" type="s"/>
		<arg name="code" type="u"/>
		<arg name="modifiers" type="u"/>
	</signal>
	<signal name="ForwardKeyEvent">
		<arg name="keyval" type="u"/>
		<arg name="keycode" type="u"/>
		<arg name="state" type="u"/>
	</signal>
</interface>` + introspect.IntrospectDataString

// Connect opens the session bus and returns it for use as the Service's
// Emitter.
func Connect() (*dbus.Conn, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	return conn, nil
}

// Export publishes s on conn and claims busName.
func Export(conn *dbus.Conn, s *Service, busName string) error {
	if err := conn.Export(s, s.path, Interface); err != nil {
		return fmt.Errorf("export %s: %w", s.path, err)
	}
	node := introspect.Introspectable("<node>" + introspectXML + "</node>")
	if err := conn.Export(node, s.path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}

	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return fmt.Errorf("bus name %s already taken", busName)
	}
	return nil
}
