package dustlink

import (
	"errors"
	"sync"
)

// StubBackend is a scriptable Backend for tests. Primitives record their
// completion callback instead of completing, so tests can observe the
// pending window between invoke and callback and then trigger completion
// explicitly. Set Reject* to make the next primitive of that kind reject
// synchronously.
type StubBackend struct {
	mu sync.Mutex

	BackendName string

	RejectCreate  bool
	RejectFind    bool
	RejectJoin    bool
	RejectDestroy bool
	RejectStart   bool

	sessions map[SessionHandle]string

	pendingCreate  func(bool)
	pendingFind    func([]SearchResult, bool)
	pendingJoin    func(JoinResult)
	pendingDestroy func(bool)
	pendingStart   func(bool)

	calls          map[OperationKind]int
	lastDescriptor *SessionDescriptor
	lastQuery      *SearchQuery
	lastJoined     SearchResult
}

func NewStubBackend(name string) *StubBackend {
	return &StubBackend{
		BackendName: name,
		sessions:    map[SessionHandle]string{},
		calls:       map[OperationKind]int{},
	}
}

func (b *StubBackend) Name() string {
	return b.BackendName
}

func (b *StubBackend) CreateSession(_ LocalParticipant, _ SessionHandle, desc *SessionDescriptor, done func(wasSuccessful bool)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[KindCreate]++
	b.lastDescriptor = desc
	if b.RejectCreate {
		return errors.New("stub: create rejected")
	}
	b.pendingCreate = done
	return nil
}

func (b *StubBackend) FindSessions(_ LocalParticipant, query *SearchQuery, done func(results []SearchResult, wasSuccessful bool)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[KindFind]++
	b.lastQuery = query
	if b.RejectFind {
		return errors.New("stub: find rejected")
	}
	b.pendingFind = done
	return nil
}

func (b *StubBackend) JoinSession(_ LocalParticipant, _ SessionHandle, result SearchResult, done func(result JoinResult)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[KindJoin]++
	b.lastJoined = result
	if b.RejectJoin {
		return errors.New("stub: join rejected")
	}
	b.pendingJoin = done
	return nil
}

func (b *StubBackend) DestroySession(handle SessionHandle, done func(wasSuccessful bool)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[KindDestroy]++
	if b.RejectDestroy {
		return errors.New("stub: destroy rejected")
	}
	delete(b.sessions, handle)
	b.pendingDestroy = done
	return nil
}

func (b *StubBackend) StartSession(_ SessionHandle, done func(wasSuccessful bool)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[KindStart]++
	if b.RejectStart {
		return errors.New("stub: start rejected")
	}
	b.pendingStart = done
	return nil
}

func (b *StubBackend) HasNamedSession(handle SessionHandle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sessions[handle]
	return ok
}

func (b *StubBackend) ResolveConnectAddress(handle SessionHandle) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	addr, ok := b.sessions[handle]
	return addr, ok
}

// PutSession scripts a session under handle, visible to HasNamedSession and
// ResolveConnectAddress.
func (b *StubBackend) PutSession(handle SessionHandle, connectAddress string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[handle] = connectAddress
}

// Calls reports how many primitives of the given kind were invoked,
// including synchronously rejected ones.
func (b *StubBackend) Calls(kind OperationKind) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[kind]
}

// Pending reports whether a completion callback of the given kind is
// currently held.
func (b *StubBackend) Pending(kind OperationKind) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch kind {
	case KindCreate:
		return b.pendingCreate != nil
	case KindFind:
		return b.pendingFind != nil
	case KindJoin:
		return b.pendingJoin != nil
	case KindDestroy:
		return b.pendingDestroy != nil
	case KindStart:
		return b.pendingStart != nil
	default:
		return false
	}
}

// LastDescriptor returns the descriptor handed to the most recent create.
func (b *StubBackend) LastDescriptor() *SessionDescriptor {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastDescriptor
}

// LastQuery returns the query handed to the most recent find.
func (b *StubBackend) LastQuery() *SearchQuery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastQuery
}

// LastJoined returns the search result handed to the most recent join.
func (b *StubBackend) LastJoined() SearchResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastJoined
}

// CompleteCreate fires the held create callback. Completing with no pending
// create is a no-op, mirroring a backend that already delivered.
func (b *StubBackend) CompleteCreate(wasSuccessful bool) {
	b.mu.Lock()
	done := b.pendingCreate
	b.pendingCreate = nil
	b.mu.Unlock()
	if done != nil {
		done(wasSuccessful)
	}
}

func (b *StubBackend) CompleteFind(results []SearchResult, wasSuccessful bool) {
	b.mu.Lock()
	done := b.pendingFind
	b.pendingFind = nil
	b.mu.Unlock()
	if done != nil {
		done(results, wasSuccessful)
	}
}

func (b *StubBackend) CompleteJoin(result JoinResult) {
	b.mu.Lock()
	done := b.pendingJoin
	b.pendingJoin = nil
	b.mu.Unlock()
	if done != nil {
		done(result)
	}
}

func (b *StubBackend) CompleteDestroy(wasSuccessful bool) {
	b.mu.Lock()
	done := b.pendingDestroy
	b.pendingDestroy = nil
	b.mu.Unlock()
	if done != nil {
		done(wasSuccessful)
	}
}

func (b *StubBackend) CompleteStart(wasSuccessful bool) {
	b.mu.Lock()
	done := b.pendingStart
	b.pendingStart = nil
	b.mu.Unlock()
	if done != nil {
		done(wasSuccessful)
	}
}

var _ Backend = (*StubBackend)(nil)
