package bridge

import (
	"github.com/srg/bleport/internal/device"
	"github.com/srg/bleport/internal/protocol"
)

const (
	// MockVendorID is reported for every bridged port (QinHeng CH340).
	MockVendorID uint16 = 0x1A86
	// MockProductIDBase is offset per port so callers can tell ports apart.
	MockProductIDBase uint16 = 0x7523
)

// Binding is the routing id an application attached to a connection.
// It starts unbound and binds at most once.
type Binding struct {
	id string
}

func (b Binding) Bound() bool { return b.id != "" }

func (b Binding) ID() string { return b.id }

// Bind records id if nothing is bound yet and reports whether it did.
func (b *Binding) Bind(id string) bool {
	if b.id != "" || id == "" {
		return false
	}
	b.id = id
	return true
}

// ConnectionState is one live connection. It is owned by the scheduler; other
// goroutines only read the immutable fields.
type ConnectionState struct {
	DeviceID   string
	DeviceName string
	Protocol   *protocol.Spec
	VendorID   uint16
	ProductID  uint16
	Simulated  bool

	session  device.Session
	writer   device.Characteristic
	notifier device.Characteristic

	routing Binding
	port    *Port
	seq     uint64
}

// RoutingID returns the bound routing id, empty while unbound.
func (c *ConnectionState) RoutingID() string { return c.routing.ID() }

// Live reports whether the connection can still carry writes.
func (c *ConnectionState) Live() bool {
	if c.Simulated {
		return true
	}
	return c.session != nil && c.session.IsConnected()
}

func (c *ConnectionState) logName() string {
	if c.DeviceName != "" {
		return c.DeviceName
	}
	return c.DeviceID
}

// target is the part of a state the router needs after leaving the scheduler.
type target struct {
	deviceID   string
	deviceName string
	routingID  string
	protocol   *protocol.Spec
	writer     device.Characteristic
}

func (c *ConnectionState) target() *target {
	return &target{
		deviceID:   c.DeviceID,
		deviceName: c.logName(),
		routingID:  c.routing.ID(),
		protocol:   c.Protocol,
		writer:     c.writer,
	}
}
