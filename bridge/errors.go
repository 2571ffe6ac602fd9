package bridge

import (
	"errors"
	"fmt"

	"github.com/srg/bleport/internal/device"
)

var (
	ErrNoProtocols               = errors.New("no protocols registered")
	ErrNoMatchingProtocol        = errors.New("no matching protocol or write characteristic")
	ErrCharacteristicUnavailable = errors.New("bluetooth characteristic unavailable for this port")
	ErrConnectionLost            = errors.New("connection to device is no longer registered")
	ErrPortClosed                = errors.New("port closed")
	ErrStreamErrored             = errors.New("stream errored")
	ErrStreamLocked              = errors.New("stream locked to a writer")
	ErrWriterReleased            = errors.New("writer lock released")
	ErrSerialClosed              = errors.New("serial bridge closed")
)

// TransportError reports a failed BLE operation.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bluetooth %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err came from the BLE link rather than from
// protocol negotiation or the caller.
func IsTransport(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, device.ErrNotConnected) ||
		errors.Is(err, device.ErrTimeout) ||
		errors.Is(err, device.ErrBluetoothOff)
}
