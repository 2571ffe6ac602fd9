package protocol

// TransformFunc turns a command into a packet. Returning an error wrapping
// ErrNoPacket means there is nothing to send.
type TransformFunc func(cmd Command) (Packet, error)

// Spec describes one supported wire protocol: where to find it on the peripheral
// and how commands are encoded for it.
type Spec struct {
	Name        string
	ServiceUUID string
	WriteUUID   string
	NotifyUUID  string // optional

	// Rescale maps levels from 0-100 onto 0-Steps before framing.
	Rescale bool
	Steps   int

	// Transform overrides the built-in level codec.
	Transform TransformFunc
}

// Encode runs the protocol transform on cmd.
func (s *Spec) Encode(cmd Command) (Packet, error) {
	if s.Transform != nil {
		return s.Transform(cmd)
	}
	return LevelTransform(s.Rescale, s.Steps)(cmd)
}

// MaxLevel reports the highest level value the protocol puts on the wire.
func (s *Spec) MaxLevel() int {
	if !s.Rescale {
		return MaxLevel
	}
	if s.Steps <= 0 {
		return DefaultSteps
	}
	return s.Steps
}

// Roussan is the built-in protocol. It rescales to 30 steps.
func Roussan() *Spec {
	return &Spec{
		Name:        "Roussan",
		ServiceUUID: "fe400001-b5a3-f393-e0a9-e50e24dcca9e",
		WriteUUID:   "fe400002-b5a3-f393-e0a9-e50e24dcca9e",
		NotifyUUID:  "fe400003-b5a3-f393-e0a9-e50e24dcca9e",
		Rescale:     true,
		Steps:       DefaultSteps,
	}
}
