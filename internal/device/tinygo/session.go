package tinyble

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"tinygo.org/x/bluetooth"

	"github.com/srg/bleport/internal/device"
)

var errNoNotify = errors.New("characteristic was not subscribed")

type session struct {
	dev      bluetooth.Device
	services []bluetooth.DeviceService

	writeMu      sync.Mutex
	connected    atomic.Bool
	disconnected chan struct{}
	dropOnce     sync.Once
}

func newSession(dev bluetooth.Device, services []bluetooth.DeviceService) *session {
	s := &session{
		dev:          dev,
		services:     services,
		disconnected: make(chan struct{}),
	}
	s.connected.Store(true)
	return s
}

func (s *session) drop() {
	s.dropOnce.Do(func() {
		s.connected.Store(false)
		close(s.disconnected)
	})
}

func (s *session) Service(_ context.Context, uuid string) (device.Service, error) {
	for i := range s.services {
		svc := &s.services[i]
		if device.SameUUID(svc.UUID().String(), uuid) {
			return &service{session: s, svc: svc}, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
}

func (s *session) IsConnected() bool { return s.connected.Load() }

func (s *session) Disconnect() error {
	if !s.connected.Load() {
		return nil
	}
	err := s.dev.Disconnect()
	s.drop()
	return device.NormalizeError(err)
}

func (s *session) Disconnected() <-chan struct{} { return s.disconnected }

type service struct {
	session *session
	svc     *bluetooth.DeviceService

	once  sync.Once
	chars []bluetooth.DeviceCharacteristic
	err   error
}

func (s *service) UUID() string { return normalize(s.svc.UUID()) }

func (s *service) Characteristic(_ context.Context, uuid string) (device.Characteristic, error) {
	s.once.Do(func() {
		s.chars, s.err = s.svc.DiscoverCharacteristics(nil)
	})
	if s.err != nil {
		return nil, device.NormalizeError(s.err)
	}
	for i := range s.chars {
		c := &s.chars[i]
		if device.SameUUID(c.UUID().String(), uuid) {
			return &characteristic{session: s.session, char: c}, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.UUID(), uuid}}
}

type characteristic struct {
	session *session
	char    *bluetooth.DeviceCharacteristic

	subscribed atomic.Bool
}

func (c *characteristic) UUID() string { return normalize(c.char.UUID()) }

func (c *characteristic) WriteWithoutResponse(data []byte) error {
	if !c.session.IsConnected() {
		return device.ErrNotConnected
	}
	c.session.writeMu.Lock()
	defer c.session.writeMu.Unlock()
	_, err := c.char.WriteWithoutResponse(data)
	return device.NormalizeError(err)
}

func (c *characteristic) Subscribe(handler func([]byte)) error {
	err := c.char.EnableNotifications(func(buf []byte) {
		handler(append([]byte(nil), buf...))
	})
	if err != nil {
		return device.NormalizeError(err)
	}
	c.subscribed.Store(true)
	return nil
}

func (c *characteristic) Unsubscribe() error {
	if !c.subscribed.Swap(false) {
		return errNoNotify
	}
	if !c.session.IsConnected() {
		return device.ErrNotConnected
	}
	return device.NormalizeError(c.char.EnableNotifications(nil))
}
