package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a GATT resource is not found
type NotFoundError struct {
	Resource string   // "device", "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

// Operation errors
var (
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
	ErrBluetoothOff = errors.New("bluetooth is turned off")

	// ErrSelectionCancelled means the user dismissed device selection. It is not a failure.
	ErrSelectionCancelled = errors.New("device selection cancelled")

	// ErrNoDeviceFound means the scan finished without a single candidate.
	ErrNoDeviceFound = errors.New("no matching bluetooth device found")
)

// NormalizeError maps known backend error strings to the sentinels above.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case containsIgnoreCase(msg, "is bluetooth turned on"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "adapter is not powered"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}

// containsIgnoreCase checks substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// Advertisement is a backend-neutral snapshot of one advertising peripheral.
type Advertisement struct {
	Address     string
	Name        string
	RSSI        int
	Connectable bool
	Services    []string

	// Native carries the backend handle needed to dial this peripheral.
	Native any
}

// DisplayName returns the advertised name, or the address when the peripheral is anonymous.
func (a Advertisement) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.Address
}

// AdvertisesAny reports whether the advertisement lists any of the given services.
func (a Advertisement) AdvertisesAny(services []string) bool {
	for _, want := range services {
		for _, have := range a.Services {
			if SameUUID(want, have) {
				return true
			}
		}
	}
	return false
}

// ScanOptions narrows a scan. Services lists the UUIDs the caller cares about;
// backends that cannot enumerate advertised services check only these.
type ScanOptions struct {
	Services []string
}

// Adapter is the low-level radio a backend provides.
type Adapter interface {
	Scan(ctx context.Context, opts ScanOptions, handler func(Advertisement)) error
	Dial(ctx context.Context, adv Advertisement) (Session, error)
}

// Filter describes which peripherals a RequestDevice call offers.
type Filter struct {
	Services  []string
	Address   string
	AcceptAll bool
}

// Central is the device-request capability the bridge consumes.
type Central interface {
	RequestDevice(ctx context.Context, filter Filter) (Peripheral, error)
}

// Peripheral is a selected, not yet connected device.
type Peripheral interface {
	ID() string
	Name() string

	// OnDisconnect registers fn to run once when an established session drops.
	OnDisconnect(fn func())
	Connect(ctx context.Context) (Session, error)
}

// Session is an open GATT connection.
type Session interface {
	Service(ctx context.Context, uuid string) (Service, error)
	IsConnected() bool
	Disconnect() error

	// Disconnected is closed when the link drops for any reason.
	Disconnected() <-chan struct{}
}

// Service is a discovered primary service.
type Service interface {
	UUID() string
	Characteristic(ctx context.Context, uuid string) (Characteristic, error)
}

// Characteristic is a discovered GATT characteristic.
type Characteristic interface {
	UUID() string
	WriteWithoutResponse(data []byte) error
	Subscribe(handler func(data []byte)) error
	Unsubscribe() error
}
