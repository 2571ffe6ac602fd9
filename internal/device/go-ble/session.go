package goble

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleport/internal/device"
	"github.com/srg/bleport/internal/groutine"
)

// session is a connected ble.Client with its discovered profile.
type session struct {
	client  ble.Client
	profile *ble.Profile
	logger  *logrus.Logger

	writeMu      sync.Mutex
	connected    atomic.Bool
	disconnected chan struct{}
	dropOnce     sync.Once
}

func newSession(client ble.Client, profile *ble.Profile, logger *logrus.Logger) *session {
	s := &session{
		client:       client,
		profile:      profile,
		logger:       logger,
		disconnected: make(chan struct{}),
	}
	s.connected.Store(true)

	if notifier, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "goble-disconnect-monitor", func(context.Context) {
			select {
			case <-notifier.Disconnected():
				s.logger.Warn("BLE stack reported disconnection")
				s.drop()
			case <-s.disconnected:
			}
		})
	} else {
		logger.Debug("Client does not expose a Disconnected() channel")
	}
	return s
}

func (s *session) drop() {
	s.dropOnce.Do(func() {
		s.connected.Store(false)
		close(s.disconnected)
	})
}

func (s *session) Service(_ context.Context, uuid string) (device.Service, error) {
	for _, svc := range s.profile.Services {
		if device.SameUUID(svc.UUID.String(), uuid) {
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
	err := s.client.CancelConnection()
	s.drop()
	return NormalizeError(err)
}

func (s *session) Disconnected() <-chan struct{} { return s.disconnected }

type service struct {
	session *session
	svc     *ble.Service
}

func (s *service) UUID() string { return normalizeBLEUUID(s.svc.UUID) }

func (s *service) Characteristic(_ context.Context, uuid string) (device.Characteristic, error) {
	for _, c := range s.svc.Characteristics {
		if device.SameUUID(c.UUID.String(), uuid) {
			return &characteristic{session: s.session, char: c}, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.UUID(), uuid}}
}

type characteristic struct {
	session *session
	char    *ble.Characteristic
}

func (c *characteristic) UUID() string { return normalizeBLEUUID(c.char.UUID) }

func (c *characteristic) WriteWithoutResponse(data []byte) error {
	if !c.session.IsConnected() {
		return device.ErrNotConnected
	}
	c.session.writeMu.Lock()
	defer c.session.writeMu.Unlock()
	return NormalizeError(c.session.client.WriteCharacteristic(c.char, data, true))
}

func (c *characteristic) Subscribe(handler func([]byte)) error {
	return NormalizeError(c.session.client.Subscribe(c.char, false, func(data []byte) {
		// handlers may keep the slice
		handler(append([]byte(nil), data...))
	}))
}

func (c *characteristic) Unsubscribe() error {
	return NormalizeError(c.session.client.Unsubscribe(c.char, false))
}
