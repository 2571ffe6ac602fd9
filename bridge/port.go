package bridge

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
)

// PortInfo mirrors the identification a serial port reports.
type PortInfo struct {
	USBVendorID             uint16 `json:"usbVendorId"`
	USBProductID            uint16 `json:"usbProductId"`
	BluetoothServiceClassID string `json:"bluetoothServiceClassId"`
	DeviceID                string `json:"deviceId"`
	Name                    string `json:"name"`
}

// OpenOptions are accepted for compatibility; the bridge ignores them.
type OpenOptions struct {
	BaudRate    int    `json:"baudRate"`
	DataBits    int    `json:"dataBits,omitempty"`
	StopBits    int    `json:"stopBits,omitempty"`
	Parity      string `json:"parity,omitempty"`
	BufferSize  int    `json:"bufferSize,omitempty"`
	FlowControl string `json:"flowControl,omitempty"`
}

type OutputSignals struct {
	DataTerminalReady bool `json:"dataTerminalReady"`
	RequestToSend     bool `json:"requestToSend"`
	Break             bool `json:"break"`
}

type InputSignals struct {
	DataCarrierDetect bool `json:"dataCarrierDetect"`
	ClearToSend       bool `json:"clearToSend"`
	RingIndicator     bool `json:"ringIndicator"`
	DataSetReady      bool `json:"dataSetReady"`
}

// Port is the serial-port façade of one connection.
type Port struct {
	serial   *Serial
	state    *ConnectionState
	log      *logrus.Entry
	writable *WriteStream
	readable *ReadStream
}

func newPort(s *Serial, st *ConnectionState) *Port {
	p := &Port{
		serial:   s,
		state:    st,
		readable: newReadStream(),
		log: s.logger.WithFields(logrus.Fields{
			"device_id":   st.DeviceID,
			"device_name": st.DeviceName,
		}),
	}
	p.writable = newWriteStream(portSink{port: p})
	return p
}

// DeviceID is the internal id of the owning connection.
func (p *Port) DeviceID() string { return p.state.DeviceID }

func (p *Port) Writable() *WriteStream { return p.writable }

func (p *Port) Readable() *ReadStream { return p.readable }

// Open accepts any options; the link is already up.
func (p *Port) Open(_ context.Context, opts OpenOptions) error {
	p.log.WithField("baud_rate", opts.BaudRate).Info("Port opened")
	return nil
}

// Close closes the write stream when nobody holds its lock. Repeated calls
// are no-ops.
func (p *Port) Close(context.Context) error {
	w := p.writable
	switch {
	case w.Locked():
		p.log.Debug("Write stream is locked by a writer; leaving it open")
	case w.currentState() == streamWritable:
		if err := w.close(); err != nil {
			if errors.Is(err, ErrStreamErrored) {
				p.log.WithError(err).Warn("Write stream already errored while closing port")
			} else if !errors.Is(err, ErrPortClosed) {
				p.log.WithError(err).Error("Failed to close write stream")
			}
		}
	case w.currentState() == streamErrored:
		p.log.Warn("Write stream already errored while closing port")
	}
	return nil
}

// Forget closes the port.
func (p *Port) Forget(ctx context.Context) error {
	p.log.Info("Port forgotten")
	return p.Close(ctx)
}

func (p *Port) SetSignals(context.Context, OutputSignals) error { return nil }

func (p *Port) GetSignals(context.Context) (InputSignals, error) { return InputSignals{}, nil }

// Info describes the port. The name prefers the bound routing id.
func (p *Port) Info() PortInfo {
	var routingID string
	if err := p.serial.sched.do(context.Background(), func() { routingID = p.state.RoutingID() }); err != nil {
		// scheduler gone: nothing mutates the binding any more
		routingID = p.state.RoutingID()
	}

	st := p.state
	info := PortInfo{
		USBVendorID:  st.VendorID,
		USBProductID: st.ProductID,
		DeviceID:     st.DeviceID,
	}
	if st.Protocol != nil {
		info.BluetoothServiceClassID = st.Protocol.ServiceUUID
	}

	switch {
	case routingID != "":
		info.Name = routingID
	case st.DeviceName != "":
		info.Name = st.DeviceName
	default:
		short := []rune(st.DeviceID)
		if len(short) > 8 {
			short = short[:8]
		}
		info.Name = "Bluetooth device " + string(short)
	}
	return info
}

type portSink struct {
	port *Port
}

func (s portSink) write(data []byte) error {
	return s.port.serial.router.route(context.Background(), data, s.port.state.DeviceID)
}

func (s portSink) close() {
	p := s.port
	p.log.Info("Write stream closed")
	p.readable.close()
	if !p.serial.debug {
		p.serial.retireState(context.Background(), p.state, "port closed")
	}
}

func (s portSink) abort(reason error) {
	p := s.port
	p.log.WithError(reason).Error("Write stream aborted")
	p.readable.close()
	if !p.serial.debug {
		p.serial.retireState(context.Background(), p.state, "port aborted")
	}
}
