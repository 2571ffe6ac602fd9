package goble

import (
	"fmt"

	"github.com/srg/bleport/internal/device"
)

// NormalizeError maps go-ble specific error strings to device sentinels and
// defers everything else to device.NormalizeError.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	switch msg := err.Error(); {
	case msg == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?":
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	case msg == "can't init hci: no devices available: (hci0: can't down device: no such device)":
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	default:
		return device.NormalizeError(err)
	}
}
