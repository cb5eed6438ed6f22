package dustlink

// NewSessionDescriptor builds the advertised configuration for a hosted
// session. The advertisement flags are fixed policy: sessions are always
// advertised with presence, allow join-in-progress and prefer lobby
// transport. Callers wanting different policy extend the descriptor after
// the fact.
//
// isLocalNetwork is not user-supplied; the orchestrator derives it from the
// active backend's name before calling here.
func NewSessionDescriptor(publicSlotCount int, matchType string, isLocalNetwork bool) *SessionDescriptor {
	return &SessionDescriptor{
		PublicSlotCount:     publicSlotCount,
		IsLocalNetwork:      isLocalNetwork,
		ShouldAdvertise:     true,
		UsesPresence:        true,
		AllowJoinInProgress: true,
		UseLobbies:          true,
		// The match type is a queryable attribute, not metadata: discovery
		// filters on exact equality against it.
		Attributes: map[string]string{
			MatchTypeKey: matchType,
		},
	}
}

// NewSearchQuery builds a discovery filter. The predicate is fixed to
// lobby-capable sessions; no free-text filter is applied at the backend
// level because the backend's predicate language does not guarantee
// exact-string matching across implementations.
func NewSearchQuery(maxResults int, isLocalNetwork bool) *SearchQuery {
	return &SearchQuery{
		MaxResults:     maxResults,
		IsLocalNetwork: isLocalNetwork,
		LobbiesOnly:    true,
	}
}
