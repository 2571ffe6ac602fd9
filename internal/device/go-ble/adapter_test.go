package goble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/srg/bleport/internal/device"
	"github.com/srg/bleport/internal/testutils"
)

const (
	serviceUUID = "fe400001-b5a3-f393-e0a9-e50e24dcca9e"
	writeUUID   = "fe400002-b5a3-f393-e0a9-e50e24dcca9e"
	notifyUUID  = "fe400003-b5a3-f393-e0a9-e50e24dcca9e"
)

// fakeAdvertisement overrides the ble.Advertisement methods the adapter reads;
// anything else panics through the nil embedded interface.
type fakeAdvertisement struct {
	ble.Advertisement
	name     string
	addr     string
	rssi     int
	services []ble.UUID
}

func (a *fakeAdvertisement) LocalName() string        { return a.name }
func (a *fakeAdvertisement) Addr() ble.Addr           { return ble.NewAddr(a.addr) }
func (a *fakeAdvertisement) RSSI() int                { return a.rssi }
func (a *fakeAdvertisement) Connectable() bool        { return true }
func (a *fakeAdvertisement) Services() []ble.UUID     { return a.services }
func (a *fakeAdvertisement) ManufacturerData() []byte { return nil }

type fakeClient struct {
	ble.Client

	mu           sync.Mutex
	profile      *ble.Profile
	writes       [][]byte
	noRsp        []bool
	handlers     map[string]ble.NotificationHandler
	unsubscribed []string
	cancelCalls  int
	disconnected chan struct{}
}

func newFakeClient(profile *ble.Profile) *fakeClient {
	return &fakeClient{
		profile:      profile,
		handlers:     make(map[string]ble.NotificationHandler),
		disconnected: make(chan struct{}),
	}
}

func (c *fakeClient) DiscoverProfile(bool) (*ble.Profile, error) { return c.profile, nil }

func (c *fakeClient) WriteCharacteristic(_ *ble.Characteristic, value []byte, noRsp bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), value...))
	c.noRsp = append(c.noRsp, noRsp)
	return nil
}

func (c *fakeClient) Subscribe(char *ble.Characteristic, _ bool, h ble.NotificationHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[char.UUID.String()] = h
	return nil
}

func (c *fakeClient) Unsubscribe(char *ble.Characteristic, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unsubscribed = append(c.unsubscribed, char.UUID.String())
	return nil
}

func (c *fakeClient) CancelConnection() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelCalls++
	return nil
}

func (c *fakeClient) Disconnected() <-chan struct{} { return c.disconnected }

func (c *fakeClient) notify(uuid ble.UUID, data []byte) {
	c.mu.Lock()
	h := c.handlers[uuid.String()]
	c.mu.Unlock()
	h(data)
}

type fakeDevice struct {
	ble.Device

	adverts []ble.Advertisement
	client  *fakeClient
	scanErr error
	dialErr error
	dialed  []string
}

func (d *fakeDevice) Scan(ctx context.Context, _ bool, h ble.AdvHandler) error {
	for _, a := range d.adverts {
		h(a)
	}
	if d.scanErr != nil {
		return d.scanErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (d *fakeDevice) Dial(_ context.Context, a ble.Addr) (ble.Client, error) {
	d.dialed = append(d.dialed, a.String())
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.client, nil
}

type AdapterTestSuite struct {
	suite.Suite

	helper          *testutils.TestHelper
	dev             *fakeDevice
	client          *fakeClient
	adapter         *Adapter
	originalFactory func() (ble.Device, error)
}

func (s *AdapterTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())

	profile := &ble.Profile{Services: []*ble.Service{{
		UUID: ble.MustParse(serviceUUID),
		Characteristics: []*ble.Characteristic{
			{UUID: ble.MustParse(writeUUID)},
			{UUID: ble.MustParse(notifyUUID)},
		},
	}}}
	s.client = newFakeClient(profile)
	s.dev = &fakeDevice{client: s.client}

	s.originalFactory = DeviceFactory
	DeviceFactory = func() (ble.Device, error) { return s.dev, nil }
	s.adapter = NewAdapter(s.helper.Logger)
}

func (s *AdapterTestSuite) TearDownTest() {
	DeviceFactory = s.originalFactory
}

func (s *AdapterTestSuite) TestScanConvertsAdvertisements() {
	// GOAL: Verify go-ble advertisements are converted with normalized service UUIDs
	//
	// TEST SCENARIO: One advertisement, scan until timeout → converted fields, deadline error surfaced

	s.dev.adverts = []ble.Advertisement{&fakeAdvertisement{
		name:     "Toy",
		addr:     "aa:bb:cc:dd:ee:ff",
		rssi:     -42,
		services: []ble.UUID{ble.MustParse(serviceUUID)},
	}}

	var got []device.Advertisement
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.adapter.Scan(ctx, device.ScanOptions{}, func(a device.Advertisement) { got = append(got, a) })
	s.ErrorIs(err, device.ErrTimeout, "scan deadline MUST be normalized")

	s.Require().Len(got, 1)
	s.Equal("Toy", got[0].Name)
	s.Equal("aa:bb:cc:dd:ee:ff", got[0].Address)
	s.Equal(-42, got[0].RSSI)
	s.True(got[0].Connectable)
	s.Equal([]string{serviceUUID}, got[0].Services, "services MUST be normalized")
	s.NotNil(got[0].Native, "MUST keep the native advertisement for dialing")
}

func (s *AdapterTestSuite) TestScanBluetoothOff() {
	s.dev.scanErr = errors.New("central manager has invalid state: have=4 want=5: is Bluetooth turned on?")
	err := s.adapter.Scan(context.Background(), device.ScanOptions{}, func(device.Advertisement) {})
	s.ErrorIs(err, device.ErrBluetoothOff)
}

func (s *AdapterTestSuite) TestFactoryFailure() {
	DeviceFactory = func() (ble.Device, error) { return nil, errors.New("no hci") }
	adapter := NewAdapter(s.helper.Logger)

	err := adapter.Scan(context.Background(), device.ScanOptions{}, func(device.Advertisement) {})
	s.ErrorContains(err, "failed to create BLE device")
}

func (s *AdapterTestSuite) TestSessionRoundTrip() {
	// GOAL: Verify a dialed session exposes the profile and performs writes and subscriptions
	//
	// TEST SCENARIO: Dial → find service and characteristics → write without response → notify → unsubscribe → disconnect

	session, err := s.adapter.Dial(context.Background(), device.Advertisement{Address: "aa:bb:cc:dd:ee:ff"})
	s.Require().NoError(err)
	s.Equal([]string{"aa:bb:cc:dd:ee:ff"}, s.dev.dialed)
	s.True(session.IsConnected())

	svc, err := session.Service(context.Background(), "FE400001-B5A3-F393-E0A9-E50E24DCCA9E")
	s.Require().NoError(err, "service lookup MUST be case-insensitive")
	s.Equal(serviceUUID, svc.UUID())

	_, err = session.Service(context.Background(), "180d")
	s.True(device.IsNotFound(err), "missing service MUST be a not-found error")

	writer, err := svc.Characteristic(context.Background(), writeUUID)
	s.Require().NoError(err)
	s.Require().NoError(writer.WriteWithoutResponse([]byte{0x55, 0xAA, 0x03, 0x01, 0x18, 0x00}))
	s.Equal([][]byte{{0x55, 0xAA, 0x03, 0x01, 0x18, 0x00}}, s.client.writes)
	s.Equal([]bool{true}, s.client.noRsp, "MUST write without response")

	notifier, err := svc.Characteristic(context.Background(), notifyUUID)
	s.Require().NoError(err)
	received := make(chan []byte, 1)
	s.Require().NoError(notifier.Subscribe(func(b []byte) { received <- b }))
	s.client.notify(ble.MustParse(notifyUUID), []byte{1, 2})
	s.Equal([]byte{1, 2}, <-received)
	s.Require().NoError(notifier.Unsubscribe())
	s.Len(s.client.unsubscribed, 1)

	_, err = svc.Characteristic(context.Background(), "fe4000ff-b5a3-f393-e0a9-e50e24dcca9e")
	s.True(device.IsNotFound(err))

	s.Require().NoError(session.Disconnect())
	s.Require().NoError(session.Disconnect(), "second disconnect MUST be a no-op")
	s.Equal(1, s.client.cancelCalls)
	s.False(session.IsConnected())
	s.ErrorIs(writer.WriteWithoutResponse([]byte{0}), device.ErrNotConnected)
}

func (s *AdapterTestSuite) TestStackDisconnectClosesSession() {
	session, err := s.adapter.Dial(context.Background(), device.Advertisement{Address: "aa:bb:cc:dd:ee:ff"})
	s.Require().NoError(err)

	close(s.client.disconnected)

	select {
	case <-session.Disconnected():
	case <-time.After(time.Second):
		s.Fail("session MUST observe the stack disconnect")
	}
	s.False(session.IsConnected())
}

func (s *AdapterTestSuite) TestDialFailure() {
	s.dev.dialErr = errors.New("device not connected")
	_, err := s.adapter.Dial(context.Background(), device.Advertisement{Address: "aa:bb:cc:dd:ee:ff"})
	s.ErrorIs(err, device.ErrNotConnected)
}

func TestAdapterTestSuite(t *testing.T) {
	suite.Run(t, new(AdapterTestSuite))
}

func TestNormalizeError(t *testing.T) {
	assert.Nil(t, NormalizeError(nil))
	assert.ErrorIs(t,
		NormalizeError(errors.New("can't init hci: no devices available: (hci0: can't down device: no such device)")),
		device.ErrBluetoothOff)
	assert.ErrorIs(t, NormalizeError(errors.New("peripheral disconnected")), device.ErrNotConnected,
		"generic strings MUST fall through to device.NormalizeError")

	plain := errors.New("something else")
	require.Equal(t, plain, NormalizeError(plain))
}
