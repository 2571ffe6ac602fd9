// Package tinyble is the tinygo.org/x/bluetooth backend (BlueZ, CoreBluetooth, WinRT).
package tinyble

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"

	"github.com/srg/bleport/internal/device"
	"github.com/srg/bleport/internal/groutine"
)

// Adapter implements device.Adapter on a tinygo bluetooth adapter.
type Adapter struct {
	radio  *bluetooth.Adapter
	logger *logrus.Logger

	enableOnce sync.Once
	enableErr  error

	mu       sync.Mutex
	sessions map[string]*session
}

func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		radio:    bluetooth.DefaultAdapter,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

func (a *Adapter) enable() error {
	a.enableOnce.Do(func() {
		if err := a.radio.Enable(); err != nil {
			a.enableErr = fmt.Errorf("failed to enable bluetooth adapter: %w", device.NormalizeError(err))
			return
		}
		a.radio.SetConnectHandler(a.onConnectEvent)
	})
	return a.enableErr
}

func (a *Adapter) onConnectEvent(dev bluetooth.Device, connected bool) {
	if connected {
		return
	}
	address := dev.Address.String()

	a.mu.Lock()
	s, ok := a.sessions[address]
	delete(a.sessions, address)
	a.mu.Unlock()

	if ok {
		a.logger.WithField("address", address).Warn("BLE stack reported disconnection")
		s.drop()
	}
}

// Scan runs until ctx ends. Service UUIDs are reported only for the ones
// listed in opts, since tinygo can only test membership.
func (a *Adapter) Scan(ctx context.Context, opts device.ScanOptions, handler func(device.Advertisement)) error {
	if err := a.enable(); err != nil {
		return err
	}

	wanted := parseUUIDs(opts.Services)
	stop := make(chan struct{})
	defer close(stop)
	groutine.Go(ctx, "tinyble-scan-stop", func(ctx context.Context) {
		select {
		case <-ctx.Done():
			if err := a.radio.StopScan(); err != nil {
				a.logger.WithError(err).Debug("StopScan failed")
			}
		case <-stop:
		}
	})

	err := a.radio.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		handler(toAdvertisement(result, wanted))
	})
	if ctx.Err() != nil {
		return device.NormalizeError(ctx.Err())
	}
	return device.NormalizeError(err)
}

// Dial connects to a device found by Scan and discovers all its services.
func (a *Adapter) Dial(ctx context.Context, adv device.Advertisement) (device.Session, error) {
	if err := a.enable(); err != nil {
		return nil, err
	}
	addr, ok := adv.Native.(bluetooth.Address)
	if !ok {
		return nil, fmt.Errorf("%w: tinygo backend can only dial scanned devices", device.ErrUnsupported)
	}

	log := a.logger.WithField("address", adv.Address)
	log.Debug("Dialing BLE device...")

	type result struct {
		dev bluetooth.Device
		err error
	}
	done := make(chan result, 1)
	groutine.Go(ctx, "tinyble-connect", func(context.Context) {
		dev, err := a.radio.Connect(addr, bluetooth.ConnectionParams{})
		done <- result{dev: dev, err: err}
	})

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		// Connect cannot be interrupted; drop the link once it lands.
		groutine.Go(context.Background(), "tinyble-connect-abandon", func(context.Context) {
			if late := <-done; late.err == nil {
				_ = late.dev.Disconnect()
			}
		})
		return nil, device.NormalizeError(ctx.Err())
	}
	if res.err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", adv.Address, device.NormalizeError(res.err))
	}

	services, err := res.dev.DiscoverServices(nil)
	if err != nil {
		if dErr := res.dev.Disconnect(); dErr != nil {
			log.WithError(dErr).Warn("Failed to disconnect after service discovery failure")
		}
		return nil, fmt.Errorf("failed to discover services: %w", device.NormalizeError(err))
	}
	log.WithField("services", len(services)).Debug("Services discovered")

	s := newSession(res.dev, services)
	a.mu.Lock()
	a.sessions[adv.Address] = s
	a.mu.Unlock()
	return s, nil
}

func toAdvertisement(r bluetooth.ScanResult, wanted []bluetooth.UUID) device.Advertisement {
	var services []string
	for _, u := range wanted {
		if r.HasServiceUUID(u) {
			services = append(services, normalize(u))
		}
	}
	return device.Advertisement{
		Address:     r.Address.String(),
		Name:        r.LocalName(),
		RSSI:        int(r.RSSI),
		Connectable: true,
		Services:    services,
		Native:      r.Address,
	}
}

func parseUUIDs(raw []string) []bluetooth.UUID {
	out := make([]bluetooth.UUID, 0, len(raw))
	for _, s := range raw {
		n, err := device.NormalizeUUID(s)
		if err != nil {
			continue
		}
		u, err := bluetooth.ParseUUID(n)
		if err != nil {
			continue
		}
		out = append(out, u)
	}
	return out
}

func normalize(u bluetooth.UUID) string {
	raw := u.String()
	if n, err := device.NormalizeUUID(raw); err == nil {
		return n
	}
	return raw
}
