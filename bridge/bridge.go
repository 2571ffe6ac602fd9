package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleport/internal/device"
	"github.com/srg/bleport/internal/groutine"
	"github.com/srg/bleport/internal/notice"
	"github.com/srg/bleport/internal/protocol"
)

// Options configures a Serial.
type Options struct {
	// Registry lists the protocols tried in order; nil means the built-in set.
	// It is frozen by New.
	Registry *protocol.Registry
	// Central selects devices. Required unless Debug is set.
	Central device.Central
	// Debug fabricates simulated devices and logs packets instead of writing them.
	Debug    bool
	Notifier notice.Notifier
	Logger   *logrus.Logger
	// Filter overrides the device filter; by default every registered service
	// is listed and any device is accepted.
	Filter *device.Filter
	Now    func() time.Time
}

// Serial is the bridge entry point: it acquires devices and hands out ports.
type Serial struct {
	registry *protocol.Registry
	central  device.Central
	debug    bool
	notifier notice.Notifier
	logger   *logrus.Logger
	filter   device.Filter
	now      func() time.Time

	sched  *scheduler
	store  *Store
	router *router

	// owned by the scheduler goroutine
	debugCounter int

	closeOnce sync.Once
}

func New(opts Options) (*Serial, error) {
	registry := opts.Registry
	if registry == nil {
		registry = protocol.DefaultRegistry()
	}
	registry.Freeze()

	if opts.Central == nil && !opts.Debug {
		return nil, errors.New("bluetooth central is required outside debug mode")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notice.Discard
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	filter := device.Filter{Services: registry.ServiceUUIDs(), AcceptAll: true}
	if opts.Filter != nil {
		filter = *opts.Filter
	}

	s := &Serial{
		registry: registry,
		central:  opts.Central,
		debug:    opts.Debug,
		notifier: notifier,
		logger:   logger,
		filter:   filter,
		now:      now,
		sched:    newScheduler(context.Background()),
		store:    NewStore(),
	}
	s.router = &router{serial: s, logger: logger}

	logger.WithFields(logrus.Fields{
		"debug":     s.debug,
		"protocols": registry.Len(),
	}).Debug("Serial bridge ready")
	return s, nil
}

func (s *Serial) Debug() bool { return s.debug }

func (s *Serial) Registry() *protocol.Registry { return s.registry }

// RequestPort acquires a device and returns its port. A device that is
// already connected yields its existing port.
func (s *Serial) RequestPort(ctx context.Context) (*Port, error) {
	if s.debug {
		return s.acquireSimulated(ctx)
	}
	return s.acquireDevice(ctx)
}

// GetPorts lists the ports of every registered connection in acquisition order.
func (s *Serial) GetPorts(ctx context.Context) ([]*Port, error) {
	var ports []*Port
	err := s.sched.do(ctx, func() {
		for _, st := range s.store.Snapshot() {
			ports = append(ports, st.port)
		}
	})
	return ports, err
}

// Write routes raw as if it had been written to the port of ownerID.
func (s *Serial) Write(ctx context.Context, ownerID string, raw []byte) error {
	return s.router.route(ctx, raw, ownerID)
}

// Close retires every connection and stops the scheduler.
func (s *Serial) Close() error {
	s.closeOnce.Do(func() {
		var states []*ConnectionState
		if err := s.sched.do(context.Background(), func() { states = s.store.Drain() }); err != nil {
			s.logger.WithError(err).Warn("Failed to drain connections on close")
		}
		for _, st := range states {
			s.release(st, "bridge closed")
		}
		s.sched.stop()
		s.logger.WithField("connections", len(states)).Info("Serial bridge closed")
	})
	return nil
}

// retire removes id and, if this call removed it, releases the connection.
func (s *Serial) retire(ctx context.Context, id, reason string) {
	var st *ConnectionState
	var removed bool
	if err := s.sched.do(ctx, func() { st, removed = s.store.Remove(id) }); err != nil {
		s.logger.WithError(err).WithField("device_id", id).Debug("Retire skipped")
		return
	}
	if removed {
		s.release(st, reason)
	}
}

// retireState is retire restricted to st still being the registered state,
// so a stale port cannot tear down a newer connection to the same device.
func (s *Serial) retireState(ctx context.Context, st *ConnectionState, reason string) {
	var removed bool
	if err := s.sched.do(ctx, func() {
		if cur, ok := s.store.Get(st.DeviceID); ok && cur == st {
			s.store.Remove(st.DeviceID)
			removed = true
		}
	}); err != nil {
		s.logger.WithError(err).WithField("device_id", st.DeviceID).Debug("Retire skipped")
		return
	}
	if removed {
		s.release(st, reason)
	}
}

// postRetire queues removal of id when it is still owned by session.
// Used from BLE callbacks, which must not block on the scheduler.
func (s *Serial) postRetire(id string, session device.Session, reason string) {
	posted := s.sched.post(func() {
		st, ok := s.store.Get(id)
		if !ok || st.session != session {
			return
		}
		s.store.Remove(id)
		groutine.Go(context.Background(), "bridge-release", func(context.Context) { s.release(st, reason) })
	})
	if !posted {
		s.logger.WithField("device_id", id).Debug("Disconnect after bridge close ignored")
	}
}

// release performs the I/O side of retirement. It runs exactly once per
// state, on whichever goroutine removed it from the store.
func (s *Serial) release(st *ConnectionState, reason string) {
	log := s.logger.WithFields(logrus.Fields{
		"device_id":   st.DeviceID,
		"device_name": st.DeviceName,
		"reason":      reason,
	})

	connected := st.session != nil && st.session.IsConnected()

	if st.notifier != nil {
		if err := st.notifier.Unsubscribe(); err != nil {
			if connected {
				log.WithError(err).Error("Failed to stop notifications")
			} else {
				log.WithError(err).Info("Stopping notifications failed on a disconnected device")
			}
		}
	}

	if connected {
		if err := st.session.Disconnect(); err != nil {
			log.WithError(device.NormalizeError(err)).Warn("Disconnect request failed")
		}
	}

	if st.port != nil {
		st.port.readable.close()
	}
	log.Info("Connection retired")
}
