package reconcile

// State is the engine's current phase.
type State int32

const (
	StateIdle State = iota
	StateFetching
	StateDeduplicating
	StateResolvingWriting
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDeduplicating:
		return "deduplicating"
	case StateResolvingWriting:
		return "resolving_writing"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}
