package bridge_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/bleport/bridge"
	"github.com/srg/bleport/internal/device"
	"github.com/srg/bleport/internal/protocol"
	"github.com/srg/bleport/internal/testutils"
)

type AcquireTestSuite struct {
	BridgeSuite
}

func (s *AcquireTestSuite) TestConnectsAndNegotiatesProtocol() {
	// GOAL: Verify a production acquisition connects, subscribes notifications and registers one port
	//
	// TEST SCENARIO: One fake Roussan device → RequestPort → port info and store reflect it

	p := s.addPeripheral("AA:BB:CC:DD:EE:01", "Roussan Toy")
	serial := s.newSerial(false)

	port, err := serial.RequestPort(s.ctx)
	s.Require().NoError(err, "acquisition MUST succeed")

	info := port.Info()
	s.Equal(bridge.MockVendorID, info.USBVendorID, "MUST report the mock vendor id")
	s.Equal(bridge.MockProductIDBase+uint16(fixedNow.UnixMilli()%10000), info.USBProductID,
		"MUST derive the product id from the acquisition time")
	s.Equal(s.roussan().ServiceUUID, info.BluetoothServiceClassID)
	s.Equal("AA:BB:CC:DD:EE:01", info.DeviceID)
	s.Equal("Roussan Toy", info.Name, "unbound port MUST be named after the device")

	s.Equal(1, p.ConnectCalls())
	s.True(s.notifier(p).Subscribed(), "notify characteristic MUST be subscribed")
	s.Equal(1, s.portCount())
	s.Empty(s.notices.Notices(), "success MUST not show a modal")

	s.Len(s.central.Filters(), 1)
	s.True(s.central.Filters()[0].AcceptAll, "default filter MUST accept any device")
	s.Equal([]string{s.roussan().ServiceUUID}, s.central.Filters()[0].Services,
		"default filter MUST list registered services")
}

func (s *AcquireTestSuite) TestReacquireReturnsSamePort() {
	// GOAL: Verify re-selecting a connected device reuses its port without reconnecting

	p := s.addPeripheral("dev-1", "Toy")
	serial := s.newSerial(false)

	first, err := serial.RequestPort(s.ctx)
	s.Require().NoError(err)
	second, err := serial.RequestPort(s.ctx)
	s.Require().NoError(err)

	s.Same(first, second, "MUST return the identical port")
	s.Equal(1, p.ConnectCalls(), "MUST not connect twice")
	s.Equal(1, s.portCount())
}

func (s *AcquireTestSuite) TestDebugNeverTouchesCentral() {
	// GOAL: Verify debug acquisitions fabricate distinct simulated devices
	//
	// TEST SCENARIO: Two RequestPort calls in debug mode → distinct ids and product ids, central unused

	serial := s.newSerial(true)

	first, err := serial.RequestPort(s.ctx)
	s.Require().NoError(err)
	second, err := serial.RequestPort(s.ctx)
	s.Require().NoError(err)

	s.Equal(0, s.central.Calls(), "debug mode MUST never request a device")

	a, b := first.Info(), second.Info()
	s.Equal(fmt.Sprintf("debug-device-%d-1", fixedNow.UnixMilli()), a.DeviceID)
	s.Equal(fmt.Sprintf("debug-device-%d-2", fixedNow.UnixMilli()), b.DeviceID)
	s.Equal("Debug device #1", a.Name)
	s.Equal(bridge.MockProductIDBase+1, a.USBProductID)
	s.Equal(bridge.MockProductIDBase+2, b.USBProductID)
	s.NotEqual(a.DeviceID, b.DeviceID, "ids MUST differ")
	s.Equal(2, s.portCount())
}

func (s *AcquireTestSuite) TestDebugWithoutProtocols() {
	s.registry = protocol.NewRegistry()
	serial := s.newSerial(true)

	_, err := serial.RequestPort(s.ctx)
	s.ErrorIs(err, bridge.ErrNoProtocols, "empty registry MUST fail debug acquisition")
	s.Equal(0, s.portCount())
}

func (s *AcquireTestSuite) TestSelectionCancelled() {
	// GOAL: Verify a cancelled chooser rejects quietly
	//
	// TEST SCENARIO: Central returns ErrSelectionCancelled → error returned, no modal, empty store

	s.central.Err = device.ErrSelectionCancelled
	serial := s.newSerial(false)

	_, err := serial.RequestPort(s.ctx)
	s.ErrorIs(err, device.ErrSelectionCancelled)
	s.Empty(s.notices.Notices(), "cancellation MUST not show a modal")
	s.Equal(0, s.portCount(), "cancellation MUST leave the store empty")
	s.Empty(s.helper.EntriesAt(logrus.ErrorLevel), "cancellation MUST not log at error level")
}

func (s *AcquireTestSuite) TestFailures() {
	// GOAL: Verify each acquisition failure kind shows the matching modal and leaves nothing behind

	tests := []struct {
		name        string
		setup       func(p *testutils.FakePeripheral)
		wantErr     error
		wantMessage string
	}{
		{
			name: "no matching service",
			setup: func(p *testutils.FakePeripheral) {
				p.Session = testutils.NewFakeSession()
			},
			wantErr:     bridge.ErrNoMatchingProtocol,
			wantMessage: "No matching protocol or write characteristic on device Toy.",
		},
		{
			name: "missing write characteristic",
			setup: func(p *testutils.FakePeripheral) {
				spec := protocol.Roussan()
				p.Session = testutils.NewFakeSession(testutils.NewFakeService(spec.ServiceUUID))
			},
			wantErr:     bridge.ErrNoMatchingProtocol,
			wantMessage: "No matching protocol or write characteristic on device Toy.",
		},
		{
			name: "service discovery transport error",
			setup: func(p *testutils.FakePeripheral) {
				p.Session.ServiceErr = errors.New("device not connected")
			},
			wantErr:     device.ErrNotConnected,
			wantMessage: "Connection or communication with device Toy failed. Check that it is powered on and in range, then reconnect.",
		},
		{
			name: "connect failure",
			setup: func(p *testutils.FakePeripheral) {
				p.ConnectErr = errors.New("le-connection-abort-by-local")
			},
			wantMessage: "Connection or communication with device Toy failed. Check that it is powered on and in range, then reconnect.",
		},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			defer s.TearDownTest()

			p := s.addPeripheral("dev-1", "Toy")
			tt.setup(p)
			serial := s.newSerial(false)

			_, err := serial.RequestPort(s.ctx)
			s.Require().Error(err)
			if tt.wantErr != nil {
				s.ErrorIs(err, tt.wantErr)
			}

			notices := s.notices.Notices()
			s.Require().Len(notices, 1, "failure MUST show exactly one modal")
			s.Equal("Connection failed", notices[0].Title)
			s.Equal(tt.wantMessage, notices[0].Message)
			s.Equal(0, s.portCount(), "failure MUST not leave a registered connection")

			if p.ConnectErr == nil {
				s.Equal(1, p.Session.DisconnectCalls(), "unregistered session MUST be disconnected")
			}
		})
	}
}

func (s *AcquireTestSuite) TestUnknownErrorMessage() {
	s.central.Err = errors.New("chooser exploded")
	serial := s.newSerial(false)

	_, err := serial.RequestPort(s.ctx)
	s.Require().Error(err)

	notices := s.notices.Notices()
	s.Require().Len(notices, 1)
	s.Equal("Unknown error while connecting: chooser exploded.", notices[0].Message)
}

func (s *AcquireTestSuite) TestFallsThroughToSecondProtocol() {
	// GOAL: Verify protocols are tried in registry order and a missing service moves on

	second := &protocol.Spec{
		Name:        "Second",
		ServiceUUID: "0000fff0-0000-1000-8000-00805f9b34fb",
		WriteUUID:   "0000fff2-0000-1000-8000-00805f9b34fb",
		Rescale:     false,
	}
	s.Require().NoError(s.registry.Register(second))

	p := testutils.NewProtocolPeripheral("dev-2", "Other", second, false)
	s.central.Peripherals = []*testutils.FakePeripheral{p}
	serial := s.newSerial(false)

	port, err := serial.RequestPort(s.ctx)
	s.Require().NoError(err)
	s.Equal(second.ServiceUUID, port.Info().BluetoothServiceClassID, "MUST bind the second protocol")

	s.Require().NoError(s.write(port, `{"vibrate":80}`))
	s.Equal([][]byte{{0x55, 0xAA, 0x03, 0x01, 80, 0x00}}, p.Characteristic(second.WriteUUID).Writes(),
		"non-rescaling protocol MUST send the raw level")
}

func (s *AcquireTestSuite) TestNotifySubscriptionFailureIsTolerated() {
	p := s.addPeripheral("dev-1", "Toy")
	s.notifier(p).SubscribeErr = errors.New("cccd write failed")
	serial := s.newSerial(false)

	_, err := serial.RequestPort(s.ctx)
	s.Require().NoError(err, "notify failure MUST not fail acquisition")
	s.Contains(s.helper.EntriesAt(logrus.WarnLevel), "Failed to subscribe to notifications")
}

func TestAcquireTestSuite(t *testing.T) {
	suite.Run(t, new(AcquireTestSuite))
}
