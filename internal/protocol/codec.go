package protocol

import (
	"errors"
	"fmt"
	"math"
)

const (
	// MaxLevel is the upper bound of the command level domain.
	MaxLevel = 100

	// DefaultSteps is the device-native step count used when a protocol rescales.
	DefaultSteps = 30

	// FrameSize is the length of every level frame.
	FrameSize = 6
)

// ErrNoPacket signals that a transform declined to produce a packet. It is not a failure.
var ErrNoPacket = errors.New("no packet")

var frameHeader = [...]byte{0x55, 0xAA, 0x03, 0x01}

// Packet is an encoded frame ready to be written to a characteristic.
type Packet []byte

// String renders the packet as space separated lowercase hex octets.
func (p Packet) String() string {
	return fmt.Sprintf("% x", []byte(p))
}

// Clamp bounds level to [0, MaxLevel].
func Clamp(level int) int {
	return max(0, min(MaxLevel, level))
}

// Rescale maps a clamped level from [0, MaxLevel] onto [0, steps], rounding half away from zero.
func Rescale(level, steps int) int {
	return int(math.Round(float64(level) * float64(steps) / MaxLevel))
}

// EncodeFrame builds the fixed 55 AA 03 01 <level> 00 frame.
func EncodeFrame(level byte) Packet {
	p := make(Packet, 0, FrameSize)
	p = append(p, frameHeader[:]...)
	return append(p, level, 0x00)
}

// LevelTransform returns the built-in level codec. With rescale set, clamped levels
// are mapped onto [0, steps]; steps <= 0 selects DefaultSteps.
func LevelTransform(rescale bool, steps int) TransformFunc {
	if steps <= 0 {
		steps = DefaultSteps
	}
	return func(cmd Command) (Packet, error) {
		level, err := cmd.Level()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrNoPacket, err)
		}

		level = Clamp(level)
		if rescale {
			level = Rescale(level, steps)
		}
		return EncodeFrame(byte(level)), nil
	}
}
