package dustlink

import (
	"github.com/google/uuid"
)

// SessionHandle names the single well-known session slot an orchestrator
// manages. There is no concurrent multi-session support: a create under the
// handle replaces whatever session previously lived there.
type SessionHandle string

// DefaultSessionHandle is the conventional handle for the game session slot.
const DefaultSessionHandle SessionHandle = "GameSession"

// MatchTypeKey is the descriptor attribute under which the match-type label
// is advertised. Discovery filters on exact string equality against it.
const MatchTypeKey = "MatchType"

// LocalParticipant identifies the local player on whose behalf session
// operations are issued.
type LocalParticipant struct {
	ID          uuid.UUID
	DisplayName string
}

func NewLocalParticipant(displayName string) LocalParticipant {
	return LocalParticipant{
		ID:          uuid.New(),
		DisplayName: displayName,
	}
}

// SessionDescriptor is the configuration published when advertising a
// session. It is built fresh on every create and handed to the backend.
type SessionDescriptor struct {
	PublicSlotCount     int
	IsLocalNetwork      bool
	ShouldAdvertise     bool
	UsesPresence        bool
	AllowJoinInProgress bool
	UseLobbies          bool
	Attributes          map[string]string
}

// SearchQuery is the discovery filter handed to the backend's find
// primitive. Match-type filtering is not part of the query: it happens
// client-side after results return, because not every backend guarantees
// exact-string predicates.
type SearchQuery struct {
	MaxResults     int
	IsLocalNetwork bool
	LobbiesOnly    bool
}

// SearchResult is one discovered session record: an opaque connect
// reference plus the advertised attribute bag.
type SearchResult struct {
	ConnectRef string
	HostName   string
	OpenSlots  int
	Attributes map[string]string
}

// MatchType returns the advertised match-type label, or "" when the record
// carries none.
func (r SearchResult) MatchType() string {
	return r.Attributes[MatchTypeKey]
}

// JoinResult is the backend-reported outcome of a join operation.
type JoinResult int

const (
	JoinSuccess JoinResult = iota
	JoinSessionIsFull
	JoinSessionDoesNotExist
	JoinCouldNotRetrieveAddress
	JoinAlreadyInSession
	JoinUnknownError
)

func (r JoinResult) String() string {
	switch r {
	case JoinSuccess:
		return "success"
	case JoinSessionIsFull:
		return "session_is_full"
	case JoinSessionDoesNotExist:
		return "session_does_not_exist"
	case JoinCouldNotRetrieveAddress:
		return "could_not_retrieve_address"
	case JoinAlreadyInSession:
		return "already_in_session"
	default:
		return "unknown_error"
	}
}

// FindCompletion is the payload published on FindComplete.
type FindCompletion struct {
	Results       []SearchResult
	WasSuccessful bool
}

// JoinCompletion is the payload published on JoinComplete. ConnectAddress is
// resolved from the backend and set only when Result is JoinSuccess.
type JoinCompletion struct {
	Result         JoinResult
	ConnectAddress string
}
