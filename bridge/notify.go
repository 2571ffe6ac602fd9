package bridge

import (
	"github.com/sirupsen/logrus"

	"github.com/srg/bleport/internal/protocol"
)

// notificationListener logs values pushed by the device. Nothing is forwarded
// to the port's readable side.
func notificationListener(log *logrus.Entry) func([]byte) {
	return func(data []byte) {
		log.WithField("packet", protocol.Packet(data).String()).Info("Notification received")
	}
}
