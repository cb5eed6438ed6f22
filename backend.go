package dustlink

// OperationKind enumerates the five backend session primitives. Each kind
// has its own independent state machine in the orchestrator and its own
// registration slot.
type OperationKind int

const (
	KindCreate OperationKind = iota
	KindFind
	KindJoin
	KindDestroy
	KindStart
)

func (k OperationKind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindFind:
		return "find"
	case KindJoin:
		return "join"
	case KindDestroy:
		return "destroy"
	case KindStart:
		return "start"
	default:
		return "unknown"
	}
}

// LocalBackendName is the conventional Name() of an offline/LAN-only
// backend. The orchestrator derives transport locality from it.
const LocalBackendName = "local"

// Backend provides the session primitives the orchestrator drives. Each
// primitive accepts exactly one completion callback and either rejects the
// request synchronously by returning a non-nil error (the callback will
// never fire) or completes asynchronously by invoking the callback exactly
// once.
//
// The backend owns transport, discovery and timeouts. None of the primitives
// block: they return as soon as the request is dispatched.
type Backend interface {
	// Name identifies the backend implementation. A backend named
	// LocalBackendName implies local-network transport.
	Name() string

	CreateSession(participant LocalParticipant, handle SessionHandle, desc *SessionDescriptor, done func(wasSuccessful bool)) error
	FindSessions(participant LocalParticipant, query *SearchQuery, done func(results []SearchResult, wasSuccessful bool)) error
	JoinSession(participant LocalParticipant, handle SessionHandle, result SearchResult, done func(result JoinResult)) error
	DestroySession(handle SessionHandle, done func(wasSuccessful bool)) error
	StartSession(handle SessionHandle, done func(wasSuccessful bool)) error

	// HasNamedSession reports whether a session currently exists under
	// handle (hosted or joined through this backend).
	HasNamedSession(handle SessionHandle) bool

	// ResolveConnectAddress returns the connect address for the session
	// under handle, used for the network transition after a join succeeds.
	ResolveConnectAddress(handle SessionHandle) (string, bool)
}
