// Package bridge exposes BLE peripherals as synthetic serial ports.
//
// A Serial acquires a device, negotiates one of the registered protocols and
// hands back a Port. Bytes written to the port are decoded as JSON commands,
// routed to the owning (or addressed) connection, encoded into protocol
// frames and written to the device without response.
//
// All connection bookkeeping lives on a single scheduler goroutine; BLE I/O
// never runs there.
package bridge
