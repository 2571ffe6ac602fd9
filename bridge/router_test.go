package bridge_test

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/bleport/bridge"
	"github.com/srg/bleport/internal/protocol"
)

type RouterTestSuite struct {
	BridgeSuite
}

func (s *RouterTestSuite) TestVibrateWritesOneRescaledFrame() {
	// GOAL: Verify a command written to a port becomes exactly one rescaled frame on the device
	//
	// TEST SCENARIO: {"vibrate":80} on Roussan → one WriteWithoutResponse(55 AA 03 01 18 00)

	p := s.addPeripheral("dev-1", "Toy")
	port, err := s.newSerial(false).RequestPort(s.ctx)
	s.Require().NoError(err)

	s.Require().NoError(s.write(port, `{"vibrate":80}`))

	s.Equal([][]byte{{0x55, 0xAA, 0x03, 0x01, 0x18, 0x00}}, s.writer(p).Writes(),
		"MUST write exactly one rescaled frame")
}

func (s *RouterTestSuite) TestDecodeFailure() {
	// GOAL: Verify non-JSON input is rejected with a preview in the log and the port stays usable

	p := s.addPeripheral("dev-1", "Toy")
	port, err := s.newSerial(false).RequestPort(s.ctx)
	s.Require().NoError(err)

	err = s.write(port, "AT+RESET\r\n")
	s.ErrorIs(err, protocol.ErrDecode, "MUST report a decode failure")
	s.Contains(s.helper.EntriesAt(logrus.ErrorLevel),
		"Failed to decode command; non-command data may have been received")
	s.Empty(s.writer(p).Writes())

	s.NoError(s.write(port, `{"speed":"50"}`), "port MUST stay writable after a bad command")
	s.Equal([][]byte{{0x55, 0xAA, 0x03, 0x01, 0x0F, 0x00}}, s.writer(p).Writes())
}

func (s *RouterTestSuite) TestNoPacketIsANoOp() {
	p := s.addPeripheral("dev-1", "Toy")
	port, err := s.newSerial(false).RequestPort(s.ctx)
	s.Require().NoError(err)

	s.NoError(s.write(port, `{}`), "command without a level MUST complete")
	s.NoError(s.write(port, `{"vibrate":"fast"}`), "unparseable level MUST complete")
	s.Empty(s.writer(p).Writes(), "MUST not write anything")
	s.Contains(s.helper.EntriesAt(logrus.WarnLevel), "Command produced no packet; write skipped")
}

func (s *RouterTestSuite) TestRoutingIDBindsAndRoutes() {
	// GOAL: Verify routing ids bind once per connection and steer commands across ports
	//
	// TEST SCENARIO: Two devices bind "a" and "b" → a command for "b" on port A reaches device B →
	//                an unknown id is dropped → a second id never rebinds

	pa := s.addPeripheral("dev-a", "Toy A")
	pb := s.addPeripheral("dev-b", "Toy B")
	serial := s.newSerial(false)

	portA, err := serial.RequestPort(s.ctx)
	s.Require().NoError(err)
	portB, err := serial.RequestPort(s.ctx)
	s.Require().NoError(err)
	s.Require().NotSame(portA, portB)

	s.Require().NoError(s.write(portA, `{"id":"a","vibrate":10}`))
	s.Require().NoError(s.write(portB, `{"id":"b","vibrate":20}`))
	s.Equal("a", portA.Info().Name, "bound id MUST name the port")
	s.Equal("b", portB.Info().Name)

	s.Require().NoError(s.write(portA, `{"id":"b","vibrate":100}`))
	s.Len(s.writer(pa).Writes(), 1, "command for b MUST not reach device A")
	s.Equal([][]byte{
		{0x55, 0xAA, 0x03, 0x01, 0x06, 0x00},
		{0x55, 0xAA, 0x03, 0x01, 0x1E, 0x00},
	}, s.writer(pb).Writes(), "command for b MUST reach device B")

	s.NoError(s.write(portA, `{"id":"zzz","vibrate":50}`), "unresolved command MUST be dropped silently")
	s.Len(s.writer(pa).Writes(), 1)
	s.Len(s.writer(pb).Writes(), 2)
	s.Contains(s.helper.EntriesAt(logrus.WarnLevel), "No connection matches the command routing id; command dropped")
	s.Equal("a", portA.Info().Name, "binding MUST be write-once")
}

func (s *RouterTestSuite) TestNumericRoutingID() {
	p := s.addPeripheral("dev-1", "Toy")
	port, err := s.newSerial(false).RequestPort(s.ctx)
	s.Require().NoError(err)

	s.Require().NoError(s.write(port, `{"id":42,"vibrate":100}`))
	s.Equal("42", port.Info().Name, "numeric id MUST bind as its decimal form")
	s.Len(s.writer(p).Writes(), 1)
}

func (s *RouterTestSuite) TestWriteFailureIsTransportError() {
	p := s.addPeripheral("dev-1", "Toy")
	port, err := s.newSerial(false).RequestPort(s.ctx)
	s.Require().NoError(err)

	s.writer(p).WriteErr = errors.New("att: write failed")
	err = s.write(port, `{"vibrate":10}`)

	var te *bridge.TransportError
	s.Require().ErrorAs(err, &te, "MUST report a transport error")
	s.Equal("write", te.Op)

	s.writer(p).WriteErr = nil
	s.NoError(s.write(port, `{"vibrate":10}`), "port MUST stay writable after a failed write")
}

func (s *RouterTestSuite) TestDebugLogsPacketsAndAbsorbsIDs() {
	// GOAL: Verify debug ports log packets and keep unknown routing ids on the owner

	serial := s.newSerial(true)
	port, err := serial.RequestPort(s.ctx)
	s.Require().NoError(err)

	s.Require().NoError(s.write(port, `{"id":"toy","vibrate":80}`))
	s.Require().NoError(s.write(port, `{"id":"other","vibrate":80}`))

	var packets []string
	for _, e := range s.helper.Logs.AllEntries() {
		if e.Message == "[debug] packet not sent" {
			packets = append(packets, e.Data["packet"].(string))
		}
	}
	s.Equal([]string{"55 aa 03 01 18 00", "55 aa 03 01 18 00"}, packets,
		"simulated owner MUST absorb an unclaimed id")
	s.Equal("toy", port.Info().Name)
}

func (s *RouterTestSuite) TestWriteAfterDisconnect() {
	p := s.addPeripheral("dev-1", "Toy")
	port, err := s.newSerial(false).RequestPort(s.ctx)
	s.Require().NoError(err)

	p.Disconnect()
	s.Eventually(func() bool { return s.portCount() == 0 }, eventuallyTimeout, eventuallyTick)

	s.ErrorIs(s.write(port, `{"vibrate":10}`), bridge.ErrConnectionLost,
		"writes to a retired connection MUST fail")
}

func TestRouterTestSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}
