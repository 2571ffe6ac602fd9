package main

import (
	"errors"
	"fmt"

	"github.com/srg/bleport/bridge"
	"github.com/srg/bleport/internal/device"
	"github.com/srg/bleport/internal/protocol"
)

// FormatUserError turns an error chain into a message for the terminal.
// Known conditions get a hint; everything else prints as is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, device.ErrSelectionCancelled):
		return "device selection cancelled"
	case errors.Is(err, device.ErrNoDeviceFound):
		return fmt.Sprintf("%v; check that the device is powered on, in range and not connected elsewhere", err)
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off or unavailable; enable it and retry"
	case errors.Is(err, device.ErrUnsupported):
		return fmt.Sprintf("%v; try --config with backend: tinygo", err)
	case errors.Is(err, bridge.ErrNoMatchingProtocol):
		return fmt.Sprintf("device does not expose a supported protocol (%v); run 'bleport protocols' to list them", err)
	case errors.Is(err, protocol.ErrDecode):
		return fmt.Sprintf("invalid command: %v", err)
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("operation timed out: %v", err)
	default:
		return err.Error()
	}
}
