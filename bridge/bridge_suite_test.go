package bridge_test

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/bleport/bridge"
	"github.com/srg/bleport/internal/notice"
	"github.com/srg/bleport/internal/protocol"
	"github.com/srg/bleport/internal/testutils"
)

const (
	eventuallyTimeout = time.Second
	eventuallyTick    = 10 * time.Millisecond
)

var fixedNow = time.UnixMilli(1_700_000_012_345)

// BridgeSuite wires a Serial to fake BLE peripherals and a notice recorder.
// Every test gets a fresh Serial, closed in TearDownTest.
type BridgeSuite struct {
	suite.Suite

	helper   *testutils.TestHelper
	notices  *notice.Recorder
	central  *testutils.FakeCentral
	registry *protocol.Registry
	serial   *bridge.Serial
	ctx      context.Context
}

func (s *BridgeSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.notices = &notice.Recorder{}
	s.central = &testutils.FakeCentral{}
	s.registry = protocol.DefaultRegistry()
	s.ctx = context.Background()
	s.serial = nil
}

func (s *BridgeSuite) TearDownTest() {
	if s.serial != nil {
		s.NoError(s.serial.Close())
	}
}

// newSerial builds the Serial under test; debug selects simulated devices.
func (s *BridgeSuite) newSerial(debug bool) *bridge.Serial {
	serial, err := bridge.New(bridge.Options{
		Registry: s.registry,
		Central:  s.central,
		Debug:    debug,
		Notifier: s.notices,
		Logger:   s.helper.Logger,
		Now:      func() time.Time { return fixedNow },
	})
	s.Require().NoError(err, "bridge construction MUST succeed")
	s.serial = serial
	return serial
}

// roussan returns the built-in protocol as registered.
func (s *BridgeSuite) roussan() *protocol.Spec {
	spec, ok := s.registry.First()
	s.Require().True(ok, "default registry MUST have a protocol")
	return spec
}

// addPeripheral queues a fake device exposing the built-in protocol.
func (s *BridgeSuite) addPeripheral(id, name string) *testutils.FakePeripheral {
	p := testutils.NewProtocolPeripheral(id, name, s.roussan(), true)
	s.central.Peripherals = append(s.central.Peripherals, p)
	return p
}

func (s *BridgeSuite) writer(p *testutils.FakePeripheral) *testutils.FakeCharacteristic {
	return p.Characteristic(s.roussan().WriteUUID)
}

func (s *BridgeSuite) notifier(p *testutils.FakePeripheral) *testutils.FakeCharacteristic {
	return p.Characteristic(s.roussan().NotifyUUID)
}

func (s *BridgeSuite) portCount() int {
	ports, err := s.serial.GetPorts(s.ctx)
	s.Require().NoError(err)
	return len(ports)
}

func (s *BridgeSuite) write(port *bridge.Port, payload string) error {
	_, err := port.Writable().Write([]byte(payload))
	return err
}
