package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleport/internal/device"
	"github.com/srg/bleport/internal/protocol"
)

const connectionFailedTitle = "Connection failed"

func (s *Serial) acquireSimulated(ctx context.Context) (*Port, error) {
	spec, ok := s.registry.First()
	if !ok {
		s.logger.Error("Cannot create a debug device: no protocols registered")
		return nil, ErrNoProtocols
	}

	var port *Port
	var st *ConnectionState
	err := s.sched.do(ctx, func() {
		s.debugCounter++
		n := s.debugCounter
		st = &ConnectionState{
			DeviceID:   fmt.Sprintf("debug-device-%d-%d", s.now().UnixMilli(), n),
			DeviceName: fmt.Sprintf("Debug device #%d", n),
			Protocol:   spec,
			VendorID:   MockVendorID,
			ProductID:  MockProductIDBase + uint16(n),
			Simulated:  true,
		}
		port = newPort(s, st)
		st.port = port
		s.store.Insert(st.DeviceID, st)
	})
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"device_id":   st.DeviceID,
		"device_name": st.DeviceName,
		"protocol":    spec.Name,
	}).Info("Debug device registered")
	return port, nil
}

func (s *Serial) acquireDevice(ctx context.Context) (*Port, error) {
	peripheral, err := s.central.RequestDevice(ctx, s.filter)
	if err != nil {
		return nil, s.failAcquisition(ctx, "", "", err)
	}

	id, name := peripheral.ID(), peripheral.Name()
	log := s.logger.WithFields(logrus.Fields{"device_id": id, "device_name": name})

	var existing *Port
	if err := s.sched.do(ctx, func() {
		if st, ok := s.store.Get(id); ok && st.Live() {
			existing = st.port
		}
	}); err != nil {
		return nil, err
	}
	if existing != nil {
		log.Info("Device already connected, reusing its port")
		return existing, nil
	}

	// The callback needs the session, which only exists after Connect.
	sessionReady := make(chan device.Session, 1)
	peripheral.OnDisconnect(func() {
		select {
		case session := <-sessionReady:
			s.postRetire(id, session, "device disconnected")
		default:
			log.Debug("Disconnect before the session was established")
		}
	})

	log.Info("Connecting to device")
	session, err := peripheral.Connect(ctx)
	if err != nil {
		return nil, s.failAcquisition(ctx, id, name, &TransportError{Op: "connect", Err: device.NormalizeError(err)})
	}
	sessionReady <- session

	st, err := s.negotiate(ctx, session, id, name)
	if err != nil {
		if dErr := session.Disconnect(); dErr != nil {
			log.WithError(dErr).Debug("Disconnect of a failed session failed")
		}
		return nil, s.failAcquisition(ctx, id, name, err)
	}

	ms := s.now().UnixMilli()
	st.VendorID = MockVendorID
	st.ProductID = MockProductIDBase + uint16(ms%10000)

	var port *Port
	var stale *ConnectionState
	if err := s.sched.do(ctx, func() {
		port = newPort(s, st)
		st.port = port
		stale = s.store.Insert(id, st)
	}); err != nil {
		s.release(st, "registration failed")
		return nil, err
	}
	if stale != nil {
		s.release(stale, "replaced by a new connection")
	}

	log.WithFields(logrus.Fields{
		"protocol":   st.Protocol.Name,
		"product_id": fmt.Sprintf("0x%04X", st.ProductID),
	}).Info("Device connected")
	return port, nil
}

// negotiate tries each registered protocol in order until the device exposes
// its service.
func (s *Serial) negotiate(ctx context.Context, session device.Session, id, name string) (*ConnectionState, error) {
	log := s.logger.WithFields(logrus.Fields{"device_id": id, "device_name": name})

	for _, spec := range s.registry.All() {
		plog := log.WithField("protocol", spec.Name)

		svc, err := session.Service(ctx, spec.ServiceUUID)
		if err != nil {
			if device.IsNotFound(err) {
				plog.Debug("Service not present, trying next protocol")
				continue
			}
			return nil, &TransportError{Op: "discover service", Err: device.NormalizeError(err)}
		}

		writer, err := svc.Characteristic(ctx, spec.WriteUUID)
		if err != nil {
			return nil, fmt.Errorf("%w: protocol %s: %w", ErrNoMatchingProtocol, spec.Name, err)
		}

		st := &ConnectionState{
			DeviceID:   id,
			DeviceName: name,
			Protocol:   spec,
			session:    session,
			writer:     writer,
		}
		st.notifier = s.subscribeNotifications(ctx, svc, spec, plog)

		plog.Info("Protocol matched")
		return st, nil
	}

	return nil, ErrNoMatchingProtocol
}

func (s *Serial) subscribeNotifications(ctx context.Context, svc device.Service, spec *protocol.Spec, log *logrus.Entry) device.Characteristic {
	if spec.NotifyUUID == "" {
		return nil
	}
	char, err := svc.Characteristic(ctx, spec.NotifyUUID)
	if err != nil {
		log.WithError(err).Warn("Notify characteristic unavailable")
		return nil
	}
	if err := char.Subscribe(notificationListener(log)); err != nil {
		log.WithError(device.NormalizeError(err)).Warn("Failed to subscribe to notifications")
		return nil
	}
	log.Debug("Subscribed to notifications")
	return char
}

// failAcquisition reports err to the user and drops whatever is registered
// under id. It returns err unchanged.
func (s *Serial) failAcquisition(ctx context.Context, id, name string, err error) error {
	if errors.Is(err, device.ErrSelectionCancelled) {
		s.logger.Info("Device selection cancelled")
		return err
	}

	display := name
	switch {
	case display == "" && id != "":
		display = "ID: " + id
	case display == "":
		display = "unknown device"
	}

	var message string
	switch {
	case errors.Is(err, ErrNoMatchingProtocol):
		message = fmt.Sprintf("No matching protocol or write characteristic on device %s.", display)
	case IsTransport(err):
		message = fmt.Sprintf("Connection or communication with device %s failed. Check that it is powered on and in range, then reconnect.", display)
	default:
		message = fmt.Sprintf("Unknown error while connecting: %v.", err)
	}

	s.logger.WithError(err).WithFields(logrus.Fields{
		"device_id":   id,
		"device_name": name,
	}).Error("Device acquisition failed")
	s.notifier.Notify(connectionFailedTitle, message)

	if id != "" {
		s.retire(context.WithoutCancel(ctx), id, "acquisition failed")
	}
	return err
}
