package testutils

import (
	"context"
	"strings"
	"sync"

	"github.com/srg/bleport/internal/device"
	"github.com/srg/bleport/internal/protocol"
)

// FakeCharacteristic records writes and notification subscriptions.
type FakeCharacteristic struct {
	uuid string

	mu               sync.Mutex
	writes           [][]byte
	handler          func([]byte)
	unsubscribeCalls int

	WriteErr       error
	SubscribeErr   error
	UnsubscribeErr error
}

func NewFakeCharacteristic(uuid string) *FakeCharacteristic {
	return &FakeCharacteristic{uuid: uuid}
}

func (c *FakeCharacteristic) UUID() string { return c.uuid }

func (c *FakeCharacteristic) WriteWithoutResponse(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.WriteErr != nil {
		return c.WriteErr
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *FakeCharacteristic) Subscribe(handler func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SubscribeErr != nil {
		return c.SubscribeErr
	}
	c.handler = handler
	return nil
}

func (c *FakeCharacteristic) Unsubscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribeCalls++
	if c.UnsubscribeErr != nil {
		return c.UnsubscribeErr
	}
	c.handler = nil
	return nil
}

// Notify delivers data to the current subscriber, if any.
func (c *FakeCharacteristic) Notify(data []byte) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(data)
	}
}

func (c *FakeCharacteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

func (c *FakeCharacteristic) Subscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

func (c *FakeCharacteristic) UnsubscribeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribeCalls
}

// FakeService is a primary service holding fake characteristics.
type FakeService struct {
	uuid  string
	chars []*FakeCharacteristic

	// CharacteristicErr, when set, fails every characteristic lookup.
	CharacteristicErr error
}

func NewFakeService(uuid string, chars ...*FakeCharacteristic) *FakeService {
	return &FakeService{uuid: uuid, chars: chars}
}

func (s *FakeService) UUID() string { return s.uuid }

func (s *FakeService) Characteristic(_ context.Context, uuid string) (device.Characteristic, error) {
	if s.CharacteristicErr != nil {
		return nil, s.CharacteristicErr
	}
	for _, c := range s.chars {
		if device.SameUUID(c.uuid, uuid) {
			return c, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{s.uuid, uuid}}
}

// FakeSession is an open GATT session over fake services.
type FakeSession struct {
	services []*FakeService

	// ServiceErr, when set, fails every service lookup.
	ServiceErr    error
	DisconnectErr error

	mu              sync.Mutex
	connected       bool
	disconnectCalls int
	disconnected    chan struct{}
	closeOnce       sync.Once
}

func NewFakeSession(services ...*FakeService) *FakeSession {
	return &FakeSession{
		services:     services,
		connected:    true,
		disconnected: make(chan struct{}),
	}
}

func (s *FakeSession) Service(_ context.Context, uuid string) (device.Service, error) {
	if s.ServiceErr != nil {
		return nil, s.ServiceErr
	}
	for _, svc := range s.services {
		if device.SameUUID(svc.uuid, uuid) {
			return svc, nil
		}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{uuid}}
}

func (s *FakeSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *FakeSession) Disconnect() error {
	s.mu.Lock()
	s.disconnectCalls++
	err := s.DisconnectErr
	s.mu.Unlock()

	s.Drop()
	return err
}

func (s *FakeSession) Disconnected() <-chan struct{} { return s.disconnected }

// Drop simulates link loss.
func (s *FakeSession) Drop() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.disconnected) })
}

func (s *FakeSession) DisconnectCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnectCalls
}

// FakePeripheral is a selectable device that hands out a fixed session.
type FakePeripheral struct {
	id, name string
	Session  *FakeSession

	ConnectErr error

	mu           sync.Mutex
	callbacks    []func()
	connectCalls int
}

func NewFakePeripheral(id, name string, session *FakeSession) *FakePeripheral {
	return &FakePeripheral{id: id, name: name, Session: session}
}

// NewProtocolPeripheral builds a peripheral exposing spec's service with its
// write characteristic and, when withNotify is set, its notify characteristic.
func NewProtocolPeripheral(id, name string, spec *protocol.Spec, withNotify bool) *FakePeripheral {
	chars := []*FakeCharacteristic{NewFakeCharacteristic(spec.WriteUUID)}
	if withNotify && spec.NotifyUUID != "" {
		chars = append(chars, NewFakeCharacteristic(spec.NotifyUUID))
	}
	return NewFakePeripheral(id, name, NewFakeSession(NewFakeService(spec.ServiceUUID, chars...)))
}

func (p *FakePeripheral) ID() string   { return p.id }
func (p *FakePeripheral) Name() string { return p.name }

func (p *FakePeripheral) OnDisconnect(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callbacks = append(p.callbacks, fn)
}

func (p *FakePeripheral) Connect(context.Context) (device.Session, error) {
	p.mu.Lock()
	p.connectCalls++
	p.mu.Unlock()
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	return p.Session, nil
}

// Disconnect drops the session and fires the registered disconnect callbacks.
func (p *FakePeripheral) Disconnect() {
	if p.Session != nil {
		p.Session.Drop()
	}
	p.mu.Lock()
	callbacks := p.callbacks
	p.callbacks = nil
	p.mu.Unlock()
	for _, fn := range callbacks {
		fn()
	}
}

func (p *FakePeripheral) ConnectCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connectCalls
}

// Characteristic returns the fake characteristic with uuid from any service of the session.
func (p *FakePeripheral) Characteristic(uuid string) *FakeCharacteristic {
	for _, svc := range p.Session.services {
		for _, c := range svc.chars {
			if device.SameUUID(c.uuid, uuid) {
				return c
			}
		}
	}
	return nil
}

// FakeCentral hands out peripherals in order; the last one is repeated once the queue is drained.
type FakeCentral struct {
	Peripherals []*FakePeripheral
	Err         error

	mu      sync.Mutex
	calls   int
	filters []device.Filter
}

func (c *FakeCentral) RequestDevice(_ context.Context, filter device.Filter) (device.Peripheral, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.filters = append(c.filters, filter)
	if c.Err != nil {
		return nil, c.Err
	}
	if len(c.Peripherals) == 0 {
		return nil, device.ErrNoDeviceFound
	}
	idx := min(c.calls-1, len(c.Peripherals)-1)
	return c.Peripherals[idx], nil
}

func (c *FakeCentral) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *FakeCentral) Filters() []device.Filter {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]device.Filter(nil), c.filters...)
}

// FakeAdapter replays a fixed set of advertisements and dials fake sessions.
type FakeAdapter struct {
	Advertisements []device.Advertisement
	ScanErr        error
	DialErr        error

	// BlockScan keeps Scan running until its context ends, like a real radio.
	BlockScan bool
	// BlockDial makes Dial wait for its context, like an out-of-range peripheral.
	BlockDial bool

	mu       sync.Mutex
	sessions map[string]*FakeSession
	dials    []string
}

func (a *FakeAdapter) Scan(ctx context.Context, _ device.ScanOptions, handler func(device.Advertisement)) error {
	for _, adv := range a.Advertisements {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		handler(adv)
	}
	if a.ScanErr != nil {
		return a.ScanErr
	}
	if a.BlockScan {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (a *FakeAdapter) Dial(ctx context.Context, adv device.Advertisement) (device.Session, error) {
	if a.BlockDial {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dials = append(a.dials, adv.Address)
	if a.DialErr != nil {
		return nil, a.DialErr
	}
	return a.sessionLocked(adv.Address), nil
}

// Session returns (creating on first use) the session handed out for address.
func (a *FakeAdapter) Session(address string) *FakeSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionLocked(address)
}

func (a *FakeAdapter) sessionLocked(address string) *FakeSession {
	if a.sessions == nil {
		a.sessions = map[string]*FakeSession{}
	}
	key := strings.ToUpper(address)
	s, ok := a.sessions[key]
	if !ok {
		s = NewFakeSession()
		a.sessions[key] = s
	}
	return s
}

func (a *FakeAdapter) Dials() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.dials...)
}
