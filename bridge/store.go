package bridge

import "sort"

// Store maps internal device ids to live connections. It is not safe for
// concurrent use; only the scheduler goroutine touches it.
type Store struct {
	states map[string]*ConnectionState
	next   uint64
}

func NewStore() *Store {
	return &Store{states: make(map[string]*ConnectionState)}
}

// Insert registers st under id and returns the state it replaced, if any.
func (s *Store) Insert(id string, st *ConnectionState) *ConnectionState {
	prev := s.states[id]
	s.next++
	st.seq = s.next
	s.states[id] = st
	return prev
}

func (s *Store) Get(id string) (*ConnectionState, bool) {
	st, ok := s.states[id]
	return st, ok
}

// Remove detaches id. Removing an unknown id is a no-op returning false.
func (s *Store) Remove(id string) (*ConnectionState, bool) {
	st, ok := s.states[id]
	if ok {
		delete(s.states, id)
	}
	return st, ok
}

// Snapshot returns every state in registration order.
func (s *Store) Snapshot() []*ConnectionState {
	out := make([]*ConnectionState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// Drain removes and returns every state.
func (s *Store) Drain() []*ConnectionState {
	out := s.Snapshot()
	s.states = make(map[string]*ConnectionState)
	return out
}

func (s *Store) Len() int { return len(s.states) }

// RouteTable projects the store into the read-only view Resolve works on.
func (s *Store) RouteTable() []RouteEntry {
	snap := s.Snapshot()
	out := make([]RouteEntry, 0, len(snap))
	for _, st := range snap {
		out = append(out, RouteEntry{Key: st.DeviceID, RoutingID: st.routing.ID(), Simulated: st.Simulated})
	}
	return out
}
