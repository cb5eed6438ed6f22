package dustlink

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/xid"
)

// ErrOperationPending is returned when an operation of some kind is issued
// while another operation of the same kind is still in flight.
var ErrOperationPending = errors.New("operation of this kind is already pending")

// RegistrationToken names one live callback registration. Completion paths
// release their slot through the token they were issued, so a stale
// completion can never unregister a newer operation.
type RegistrationToken struct {
	kind OperationKind
	id   xid.ID
}

func (t RegistrationToken) Kind() OperationKind { return t.kind }

type registration struct {
	id        xid.ID
	startedAt time.Time
}

// operationRegistry holds the per-kind registration slots. The single-flight
// invariant lives here: at most one live registration per operation kind,
// and every registration is released exactly once, on completion, regardless
// of success or failure. A leaked slot would block all further operations of
// that kind, so completion paths must always unregister.
type operationRegistry struct {
	mu      sync.Mutex
	pending map[OperationKind]registration
}

func newOperationRegistry() *operationRegistry {
	return &operationRegistry{
		pending: map[OperationKind]registration{},
	}
}

func (r *operationRegistry) register(kind OperationKind) (RegistrationToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[kind]; ok {
		return RegistrationToken{}, fmt.Errorf("%s: %w", kind, ErrOperationPending)
	}
	reg := registration{id: xid.New(), startedAt: time.Now()}
	r.pending[kind] = reg
	return RegistrationToken{kind: kind, id: reg.id}, nil
}

// unregister releases the slot named by token. It reports false for a token
// that is not the slot's current registration, which makes release
// idempotent per token.
func (r *operationRegistry) unregister(token RegistrationToken) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.pending[token.kind]
	if !ok || reg.id != token.id {
		return 0, false
	}
	delete(r.pending, token.kind)
	return time.Since(reg.startedAt), true
}

func (r *operationRegistry) isPending(kind OperationKind) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[kind]
	return ok
}
