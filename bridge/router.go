package bridge

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/srg/bleport/internal/device"
	"github.com/srg/bleport/internal/protocol"
)

type router struct {
	serial *Serial
	logger *logrus.Logger
}

// route decodes raw, resolves its target and writes the encoded packet.
// A command that resolves nowhere or encodes to nothing is dropped without error.
func (r *router) route(ctx context.Context, raw []byte, ownerID string) error {
	log := r.logger.WithField("owner_id", ownerID)

	cmd, err := protocol.DecodeCommand(raw)
	if err != nil {
		log.WithError(err).WithField("preview", protocol.Preview(raw)).
			Error("Failed to decode command; non-command data may have been received")
		return err
	}

	commandID := cmd.RoutingID()
	var (
		tgt        *target
		resolution Resolution
		ownerFound bool
	)
	err = r.serial.sched.do(ctx, func() {
		owner, ok := r.serial.store.Get(ownerID)
		ownerFound = ok
		if !ok {
			return
		}
		if commandID != "" && owner.routing.Bind(commandID) {
			log.WithField("routing_id", commandID).Info("Routing id bound to connection")
		}
		key, res := Resolve(r.serial.store.RouteTable(), ownerID, commandID)
		resolution = res
		if st, found := r.serial.store.Get(key); found && res != Unresolved {
			tgt = st.target()
		}
	})
	if err != nil {
		return err
	}
	if !ownerFound {
		log.Warn("Write on a port whose connection was retired")
		return ErrConnectionLost
	}
	if tgt == nil {
		log.WithField("routing_id", commandID).Warn("No connection matches the command routing id; command dropped")
		return nil
	}

	log = log.WithFields(logrus.Fields{
		"device_id":   tgt.deviceID,
		"device_name": tgt.deviceName,
		"protocol":    tgt.protocol.Name,
		"routing_id":  commandID,
		"resolution":  resolution.String(),
	})

	packet, err := tgt.protocol.Encode(cmd)
	if errors.Is(err, protocol.ErrNoPacket) {
		log.WithError(err).Warn("Command produced no packet; write skipped")
		return nil
	}
	if err != nil {
		log.WithError(err).Error("Failed to encode command")
		return err
	}

	log = log.WithField("packet", packet.String())
	if r.serial.debug {
		log.Info("[debug] packet not sent")
		return nil
	}
	if tgt.writer == nil {
		log.Error("Write characteristic unavailable")
		return ErrCharacteristicUnavailable
	}
	if err := tgt.writer.WriteWithoutResponse(packet); err != nil {
		werr := &TransportError{Op: "write", Err: device.NormalizeError(err)}
		log.WithError(werr).Error("Failed to write packet")
		return werr
	}
	log.Debug("Packet sent")
	return nil
}
