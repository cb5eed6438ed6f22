package dustlink

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bojand/hri"
	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/sethvargo/go-retry"

	"github.com/dustbyte/dustlink/pkg/directory"
	"github.com/dustbyte/dustlink/pkg/dlog"
)

const (
	defaultAdvertiseTTL     = 30 * time.Second
	defaultOperationTimeout = 10 * time.Second
	refreshRetryBase        = 100 * time.Millisecond
	refreshMaxRetries       = 3
)

type DirectoryBackendOption interface {
	apply(opts *directoryBackendOpts)
}

type DirectoryBackendOptionFunc func(opts *directoryBackendOpts)

func (f DirectoryBackendOptionFunc) apply(opts *directoryBackendOpts) {
	f(opts)
}

// WithAdvertiseTTL sets the advertisement lifetime. The heartbeat refreshes
// hosted records at a third of this interval.
func WithAdvertiseTTL(ttl time.Duration) DirectoryBackendOption {
	return DirectoryBackendOptionFunc(func(opts *directoryBackendOpts) {
		opts.advertiseTTL = ttl
	})
}

// WithOperationTimeout bounds each primitive's directory I/O. The
// orchestrator itself has no timer; timeouts are the backend's concern.
func WithOperationTimeout(timeout time.Duration) DirectoryBackendOption {
	return DirectoryBackendOptionFunc(func(opts *directoryBackendOpts) {
		opts.operationTimeout = timeout
	})
}

// WithConnectAddress sets the address advertised for sessions hosted through
// this backend. Defaults to a generated human-readable rendezvous string.
func WithConnectAddress(addr string) DirectoryBackendOption {
	return DirectoryBackendOptionFunc(func(opts *directoryBackendOpts) {
		opts.connectAddress = addr
	})
}

type directoryBackendOpts struct {
	advertiseTTL     time.Duration
	operationTimeout time.Duration
	connectAddress   string
}

func defaultDirectoryBackendOpts() *directoryBackendOpts {
	return &directoryBackendOpts{
		advertiseTTL:     defaultAdvertiseTTL,
		operationTimeout: defaultOperationTimeout,
	}
}

type namedSession struct {
	recordID string
	connect  string
	hosted   bool
	started  bool
	desc     *SessionDescriptor
}

// DirectoryBackend implements Backend on top of a session directory:
// create advertises a record, find lists live records, join resolves a
// record back into a connect address. Every primitive completes its callback
// on a separate goroutine.
type DirectoryBackend struct {
	name string
	dir  directory.Directory
	opts *directoryBackendOpts

	mu       sync.Mutex
	sessions map[SessionHandle]*namedSession
}

func NewDirectoryBackend(name string, dir directory.Directory, options ...DirectoryBackendOption) *DirectoryBackend {
	opts := defaultDirectoryBackendOpts()
	for _, o := range options {
		o.apply(opts)
	}
	return &DirectoryBackend{
		name:     name,
		dir:      dir,
		opts:     opts,
		sessions: map[SessionHandle]*namedSession{},
	}
}

// NewLocalBackend returns an offline backend over an in-memory directory.
// Its name marks sessions created through it as local-network transport.
func NewLocalBackend(options ...DirectoryBackendOption) *DirectoryBackend {
	return NewDirectoryBackend(LocalBackendName, directory.NewMemoryDirectory(), options...)
}

func (b *DirectoryBackend) Name() string {
	return b.name
}

func (b *DirectoryBackend) dispatch(fn func(ctx context.Context)) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.opts.operationTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (b *DirectoryBackend) CreateSession(participant LocalParticipant, handle SessionHandle, desc *SessionDescriptor, done func(wasSuccessful bool)) error {
	if participant.ID == uuid.Nil {
		return errors.New("invalid local participant")
	}
	if desc == nil {
		return errors.New("nil session descriptor")
	}

	connect := b.opts.connectAddress
	if connect == "" {
		connect = hri.Random()
	}
	rec := &directory.Record{
		ID:             xid.New().String(),
		HostID:         participant.ID.String(),
		HostName:       participant.DisplayName,
		ConnectAddress: connect,
		MaxPlayers:     desc.PublicSlotCount,
		OpenSlots:      desc.PublicSlotCount,
		LAN:            desc.IsLocalNetwork,
		UsesLobbies:    desc.UseLobbies,
		Attributes:     desc.Attributes,
		AdvertisedAt:   time.Now(),
	}

	b.dispatch(func(ctx context.Context) {
		if desc.ShouldAdvertise {
			if err := b.dir.Advertise(ctx, rec, b.opts.advertiseTTL); err != nil {
				dlog.Errorf("backend %s: failed to advertise session: %+v", b.name, err)
				done(false)
				return
			}
		}
		b.mu.Lock()
		b.sessions[handle] = &namedSession{
			recordID: rec.ID,
			connect:  connect,
			hosted:   true,
			desc:     desc,
		}
		b.mu.Unlock()
		done(true)
	})
	return nil
}

func (b *DirectoryBackend) FindSessions(participant LocalParticipant, query *SearchQuery, done func(results []SearchResult, wasSuccessful bool)) error {
	if participant.ID == uuid.Nil {
		return errors.New("invalid local participant")
	}
	if query == nil {
		return errors.New("nil search query")
	}

	b.dispatch(func(ctx context.Context) {
		recs, err := b.dir.List(ctx, int64(query.MaxResults))
		if err != nil {
			dlog.Errorf("backend %s: failed to list session records: %+v", b.name, err)
			done(nil, false)
			return
		}
		var results []SearchResult
		for _, rec := range recs {
			if query.LobbiesOnly && !rec.UsesLobbies {
				continue
			}
			if rec.LAN != query.IsLocalNetwork {
				continue
			}
			results = append(results, SearchResult{
				ConnectRef: rec.ID,
				HostName:   rec.HostName,
				OpenSlots:  rec.OpenSlots,
				Attributes: rec.Attributes,
			})
		}
		done(results, true)
	})
	return nil
}

func (b *DirectoryBackend) JoinSession(participant LocalParticipant, handle SessionHandle, result SearchResult, done func(result JoinResult)) error {
	if participant.ID == uuid.Nil {
		return errors.New("invalid local participant")
	}

	b.dispatch(func(ctx context.Context) {
		b.mu.Lock()
		_, occupied := b.sessions[handle]
		b.mu.Unlock()
		if occupied {
			done(JoinAlreadyInSession)
			return
		}

		rec, err := b.dir.Get(ctx, result.ConnectRef)
		if err != nil {
			if errors.Is(err, directory.ErrRecordNotFound) {
				done(JoinSessionDoesNotExist)
				return
			}
			dlog.Errorf("backend %s: failed to resolve session record: %+v", b.name, err)
			done(JoinUnknownError)
			return
		}
		if rec.OpenSlots <= 0 {
			done(JoinSessionIsFull)
			return
		}
		if rec.ConnectAddress == "" {
			done(JoinCouldNotRetrieveAddress)
			return
		}

		b.mu.Lock()
		b.sessions[handle] = &namedSession{
			recordID: rec.ID,
			connect:  rec.ConnectAddress,
		}
		b.mu.Unlock()
		done(JoinSuccess)
	})
	return nil
}

func (b *DirectoryBackend) DestroySession(handle SessionHandle, done func(wasSuccessful bool)) error {
	b.dispatch(func(ctx context.Context) {
		b.mu.Lock()
		sess, ok := b.sessions[handle]
		delete(b.sessions, handle)
		b.mu.Unlock()
		if !ok {
			done(false)
			return
		}
		if sess.hosted {
			if err := b.dir.Withdraw(ctx, sess.recordID); err != nil {
				dlog.Warnf("backend %s: failed to withdraw advertisement %s: %+v", b.name, sess.recordID, err)
				done(false)
				return
			}
		}
		done(true)
	})
	return nil
}

func (b *DirectoryBackend) StartSession(handle SessionHandle, done func(wasSuccessful bool)) error {
	b.dispatch(func(ctx context.Context) {
		b.mu.Lock()
		sess, ok := b.sessions[handle]
		b.mu.Unlock()
		if !ok || !sess.hosted {
			done(false)
			return
		}

		b.mu.Lock()
		sess.started = true
		desc := sess.desc
		recordID := sess.recordID
		b.mu.Unlock()

		// Sessions that refuse join-in-progress stop advertising once
		// started; the rest keep their record, flagged in-progress.
		if desc.ShouldAdvertise && !desc.AllowJoinInProgress {
			if err := b.dir.Withdraw(ctx, recordID); err != nil {
				dlog.Warnf("backend %s: failed to withdraw advertisement %s: %+v", b.name, recordID, err)
			}
		} else if desc.ShouldAdvertise {
			rec, err := b.dir.Get(ctx, recordID)
			if err == nil {
				rec.InProgress = true
				if err := b.dir.Advertise(ctx, rec, b.opts.advertiseTTL); err != nil {
					dlog.Warnf("backend %s: failed to republish advertisement %s: %+v", b.name, recordID, err)
				}
			}
		}
		done(true)
	})
	return nil
}

func (b *DirectoryBackend) HasNamedSession(handle SessionHandle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sessions[handle]
	return ok
}

func (b *DirectoryBackend) ResolveConnectAddress(handle SessionHandle) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, ok := b.sessions[handle]
	if !ok {
		return "", false
	}
	return sess.connect, true
}

// Start runs the advertisement heartbeat until ctx is cancelled, refreshing
// hosted records at a third of the advertise TTL so they outlive transient
// directory failures but expire when the host dies.
func (b *DirectoryBackend) Start(ctx context.Context) error {
	ticker := time.NewTicker(b.opts.advertiseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			b.refreshAdvertisements(ctx)
		}
	}
}

func (b *DirectoryBackend) refreshAdvertisements(ctx context.Context) {
	b.mu.Lock()
	var recordIDs []string
	for _, sess := range b.sessions {
		if sess.hosted && sess.desc.ShouldAdvertise {
			recordIDs = append(recordIDs, sess.recordID)
		}
	}
	b.mu.Unlock()

	for _, id := range recordIDs {
		backoff := retry.WithMaxRetries(refreshMaxRetries, retry.NewExponential(refreshRetryBase))
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			if err := b.dir.Refresh(ctx, id, b.opts.advertiseTTL); err != nil {
				if errors.Is(err, directory.ErrRecordNotFound) {
					return err
				}
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			dlog.Warnf("backend %s: failed to refresh advertisement %s: %+v", b.name, id, err)
		}
	}
}

var _ Backend = (*DirectoryBackend)(nil)
