package protocol

import (
	"errors"
	"fmt"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/srg/bleport/internal/device"
)

var (
	ErrRegistryFrozen = errors.New("protocol registry is frozen")
	ErrUnknown        = errors.New("unknown protocol")
)

// Registry is the ordered table of supported protocols. Acquisition tries
// protocols in registration order. Once frozen it is read-only.
type Registry struct {
	mu     sync.RWMutex
	specs  *orderedmap.OrderedMap[string, *Spec]
	frozen bool
}

func NewRegistry() *Registry {
	return &Registry{specs: orderedmap.New[string, *Spec]()}
}

// DefaultRegistry returns a registry holding only the built-in protocol.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	if err := r.Register(Roussan()); err != nil {
		panic(err)
	}
	return r
}

// Register validates spec and adds it. Registering an existing name replaces
// the entry in place, keeping its position.
func (r *Registry) Register(spec *Spec) error {
	if spec == nil || spec.Name == "" {
		return errors.New("protocol name is required")
	}

	normalized := *spec
	var err error
	if normalized.ServiceUUID, err = device.NormalizeUUID(spec.ServiceUUID); err != nil {
		return fmt.Errorf("protocol %s: service: %w", spec.Name, err)
	}
	if normalized.WriteUUID, err = device.NormalizeUUID(spec.WriteUUID); err != nil {
		return fmt.Errorf("protocol %s: write characteristic: %w", spec.Name, err)
	}
	if spec.NotifyUUID != "" {
		if normalized.NotifyUUID, err = device.NormalizeUUID(spec.NotifyUUID); err != nil {
			return fmt.Errorf("protocol %s: notify characteristic: %w", spec.Name, err)
		}
	}
	if normalized.Steps < 0 || normalized.Steps > 255 {
		return fmt.Errorf("protocol %s: steps must be within 0..255, got %d", spec.Name, spec.Steps)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return ErrRegistryFrozen
	}
	r.specs.Set(normalized.Name, &normalized)
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (*Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.specs.Get(name)
}

// Lookup is Get returning ErrUnknown for missing names.
func (r *Registry) Lookup(name string) (*Spec, error) {
	if spec, ok := r.Get(name); ok {
		return spec, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
}

// First returns the earliest registered protocol.
func (r *Registry) First() (*Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p := r.specs.Oldest(); p != nil {
		return p.Value, true
	}
	return nil, false
}

// All returns the protocols in registration order.
func (r *Registry) All() []*Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Spec, 0, r.specs.Len())
	for p := r.specs.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value)
	}
	return out
}

// ServiceUUIDs lists the primary service of every protocol, in order.
func (r *Registry) ServiceUUIDs() []string {
	specs := r.All()
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.ServiceUUID
	}
	return out
}

// ForService returns the protocol whose primary service matches uuid.
func (r *Registry) ForService(uuid string) (*Spec, bool) {
	for _, s := range r.All() {
		if device.SameUUID(s.ServiceUUID, uuid) {
			return s, true
		}
	}
	return nil, false
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.specs.Len()
}
