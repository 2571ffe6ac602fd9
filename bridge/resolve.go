package bridge

// RouteEntry is the routing view of one registered connection.
type RouteEntry struct {
	Key       string
	RoutingID string
	Simulated bool
}

// Resolution says how Resolve picked its target.
type Resolution int

const (
	Unresolved Resolution = iota
	ResolvedOwner
	ResolvedMatch
	ResolvedSimulatedOwner
	ResolvedKey
)

func (r Resolution) String() string {
	switch r {
	case ResolvedOwner:
		return "owner"
	case ResolvedMatch:
		return "match"
	case ResolvedSimulatedOwner:
		return "simulated-owner"
	case ResolvedKey:
		return "key"
	default:
		return "unresolved"
	}
}

// Resolve picks the key of the connection a command should go to.
//
// Commands without an id go to the owner. Otherwise the first entry whose key
// or bound routing id equals commandID wins, the owner itself being checked
// first. A simulated owner absorbs ids nobody claims. The id is finally tried
// as a plain key.
func Resolve(entries []RouteEntry, ownerID, commandID string) (string, Resolution) {
	owner, hasOwner := findEntry(entries, ownerID)

	if commandID == "" {
		if !hasOwner {
			return "", Unresolved
		}
		return ownerID, ResolvedOwner
	}

	if hasOwner && (owner.Key == commandID || owner.RoutingID == commandID) {
		return owner.Key, ResolvedMatch
	}
	for _, e := range entries {
		if e.Key == commandID || (e.RoutingID != "" && e.RoutingID == commandID) {
			return e.Key, ResolvedMatch
		}
	}

	if hasOwner && owner.Simulated {
		return owner.Key, ResolvedSimulatedOwner
	}

	if e, ok := findEntry(entries, commandID); ok {
		return e.Key, ResolvedKey
	}
	return "", Unresolved
}

func findEntry(entries []RouteEntry, key string) (RouteEntry, bool) {
	for _, e := range entries {
		if e.Key == key {
			return e, true
		}
	}
	return RouteEntry{}, false
}
