// Package goble is the go-ble backend: CoreBluetooth on macOS, raw HCI on Linux.
package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleport/internal/device"
)

// Adapter implements device.Adapter on a lazily created ble.Device.
type Adapter struct {
	logger *logrus.Logger

	mu  sync.Mutex
	dev ble.Device
}

func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{logger: logger}
}

func (a *Adapter) device() (ble.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dev != nil {
		return a.dev, nil
	}

	dev, err := DeviceFactory()
	if err != nil {
		a.logger.WithError(err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	ble.SetDefaultDevice(dev)
	a.dev = dev
	return dev, nil
}

// Scan reports every advertisement until ctx ends. Duplicates are passed on so
// RSSI and names stay fresh.
func (a *Adapter) Scan(ctx context.Context, _ device.ScanOptions, handler func(device.Advertisement)) error {
	dev, err := a.device()
	if err != nil {
		return err
	}

	err = dev.Scan(ctx, true, func(adv ble.Advertisement) {
		handler(toAdvertisement(adv))
	})
	return NormalizeError(err)
}

// Dial connects to adv and discovers the full GATT profile.
func (a *Adapter) Dial(ctx context.Context, adv device.Advertisement) (device.Session, error) {
	dev, err := a.device()
	if err != nil {
		return nil, err
	}

	addr := ble.NewAddr(adv.Address)
	if native, ok := adv.Native.(ble.Advertisement); ok {
		addr = native.Addr()
	}

	log := a.logger.WithField("address", adv.Address)
	log.Debug("Dialing BLE device...")
	client, err := dev.Dial(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", adv.Address, NormalizeError(err))
	}

	log.Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			log.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	log.WithField("services", len(profile.Services)).Debug("Profile discovered successfully")
	return newSession(client, profile, a.logger), nil
}

func toAdvertisement(adv ble.Advertisement) device.Advertisement {
	var services []string
	for _, u := range adv.Services() {
		services = append(services, normalizeBLEUUID(u))
	}
	return device.Advertisement{
		Address:     adv.Addr().String(),
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		Services:    services,
		Native:      adv,
	}
}

func normalizeBLEUUID(u ble.UUID) string {
	raw := u.String()
	if n, err := device.NormalizeUUID(raw); err == nil {
		return n
	}
	return raw
}
