package pairing

// State is a phase of the pairing protocol. Pairing only moves forward or
// falls back to Idle.
type State uint32

const (
	Idle State = iota
	Advertising
	AwaitingPeerKey
	Exchanged
	DistributingKey
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Advertising:
		return "advertising"
	case AwaitingPeerKey:
		return "awaiting-peer-key"
	case Exchanged:
		return "exchanged"
	case DistributingKey:
		return "distributing-key"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Active reports whether a pairing is in progress.
func (s State) Active() bool { return s != Idle }

func (s State) acceptsPublicKey() bool {
	return s == Advertising || s == AwaitingPeerKey
}
