package dustlink

import (
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/dustbyte/dustlink/pkg/dlog"
)

var (
	// ErrBackendUnavailable is returned when no session backend can be
	// resolved at call time. No registration is taken and no notification
	// is published.
	ErrBackendUnavailable = errors.New("session backend is unavailable")

	// ErrNoMatchingSession is returned by SelectAndJoin when no discovered
	// record carries the requested match type.
	ErrNoMatchingSession = errors.New("no discovered session matches the requested match type")
)

const defaultSearchResultCap = 20000

type OrchestratorOption interface {
	apply(opts *orchestratorOptions)
}

type OrchestratorOptionFunc func(opts *orchestratorOptions)

func (f OrchestratorOptionFunc) apply(opts *orchestratorOptions) {
	f(opts)
}

// WithMeterProvider provides an OpenTelemetry meter provider.
func WithMeterProvider(provider metric.MeterProvider) OrchestratorOption {
	return OrchestratorOptionFunc(func(opts *orchestratorOptions) {
		opts.meterProvider = provider
	})
}

// WithSessionHandle overrides the managed session slot name.
func WithSessionHandle(handle SessionHandle) OrchestratorOption {
	return OrchestratorOptionFunc(func(opts *orchestratorOptions) {
		opts.handle = handle
	})
}

// WithSearchResultCap sets the result cap used by RequestJoin.
func WithSearchResultCap(limit int) OrchestratorOption {
	return OrchestratorOptionFunc(func(opts *orchestratorOptions) {
		opts.searchResultCap = limit
	})
}

type orchestratorOptions struct {
	meterProvider   metric.MeterProvider
	handle          SessionHandle
	searchResultCap int
}

func defaultOrchestratorOptions() *orchestratorOptions {
	return &orchestratorOptions{
		meterProvider:   otel.GetMeterProvider(),
		handle:          DefaultSessionHandle,
		searchResultCap: defaultSearchResultCap,
	}
}

// MatchContext is the orchestrator's retained state between operations: the
// last-built descriptor and query, the last search results, and the desired
// slot count and match-type label recorded at setup time.
type MatchContext struct {
	SlotCount      int
	MatchType      string
	LastDescriptor *SessionDescriptor
	LastQuery      *SearchQuery
	LastResults    []SearchResult
}

// SessionListener receives the orchestrator's completion notifications. The
// presentation layer implements it; the orchestrator never depends on any
// presentation type.
type SessionListener interface {
	OnCreateComplete(wasSuccessful bool)
	OnFindComplete(completion FindCompletion)
	OnJoinComplete(completion JoinCompletion)
	OnDestroyComplete(wasSuccessful bool)
	OnStartComplete(wasSuccessful bool)
}

// Orchestrator drives the asynchronous session lifecycle against an injected
// backend: create, find, join, destroy, start. Each operation kind is
// single-flight: the registry refuses a second operation of a kind while one
// is pending. Completions are republished on the NotificationBus.
//
// One orchestrator manages one well-known session slot for the lifetime of a
// game instance.
type Orchestrator struct {
	backend     Backend
	participant LocalParticipant
	handle      SessionHandle
	bus         *NotificationBus
	registry    *operationRegistry
	metrics     *orchestratorMetrics
	options     *orchestratorOptions

	mu            sync.Mutex
	matchCtx      MatchContext
	listenerUnsub []func()
}

func NewOrchestrator(backend Backend, participant LocalParticipant, options ...OrchestratorOption) (*Orchestrator, error) {
	opts := defaultOrchestratorOptions()
	for _, o := range options {
		o.apply(opts)
	}
	metrics, err := newOrchestratorMetrics(opts.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator metrics: %w", err)
	}
	return &Orchestrator{
		backend:     backend,
		participant: participant,
		handle:      opts.handle,
		bus:         NewNotificationBus(),
		registry:    newOperationRegistry(),
		metrics:     metrics,
		options:     opts,
	}, nil
}

// Notifications exposes the completion topics for direct subscription.
func (o *Orchestrator) Notifications() *NotificationBus {
	return o.bus
}

// Handle returns the managed session slot name.
func (o *Orchestrator) Handle() SessionHandle {
	return o.handle
}

// MatchContext returns a snapshot of the retained inter-operation state.
func (o *Orchestrator) MatchContext() MatchContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.matchCtx
}

// Setup records the desired slot count and match type and, when listener is
// non-nil, subscribes it to all five completion topics. A repeat Setup
// replaces the previous listener; Teardown releases the subscriptions.
func (o *Orchestrator) Setup(slotCount int, matchType string, listener SessionListener) {
	o.mu.Lock()
	o.matchCtx.SlotCount = slotCount
	o.matchCtx.MatchType = matchType
	o.mu.Unlock()
	o.Teardown()

	if listener == nil {
		return
	}
	createSub := o.bus.CreateComplete.Subscribe(listener.OnCreateComplete)
	findSub := o.bus.FindComplete.Subscribe(listener.OnFindComplete)
	joinSub := o.bus.JoinComplete.Subscribe(listener.OnJoinComplete)
	destroySub := o.bus.DestroyComplete.Subscribe(listener.OnDestroyComplete)
	startSub := o.bus.StartComplete.Subscribe(listener.OnStartComplete)

	o.mu.Lock()
	o.listenerUnsub = append(o.listenerUnsub,
		func() { o.bus.CreateComplete.Unsubscribe(createSub) },
		func() { o.bus.FindComplete.Unsubscribe(findSub) },
		func() { o.bus.JoinComplete.Unsubscribe(joinSub) },
		func() { o.bus.DestroyComplete.Unsubscribe(destroySub) },
		func() { o.bus.StartComplete.Unsubscribe(startSub) },
	)
	o.mu.Unlock()
}

// RequestHost creates a session with the defaults recorded by Setup.
func (o *Orchestrator) RequestHost() error {
	o.mu.Lock()
	slotCount, matchType := o.matchCtx.SlotCount, o.matchCtx.MatchType
	o.mu.Unlock()
	return o.CreateSession(slotCount, matchType)
}

// RequestJoin searches for sessions and auto-joins the first result whose
// match type equals the one recorded by Setup.
func (o *Orchestrator) RequestJoin() error {
	return o.findSessions(o.options.searchResultCap, true)
}

// Teardown releases the listener subscriptions taken by Setup. It does not
// destroy the session.
func (o *Orchestrator) Teardown() {
	o.mu.Lock()
	unsubs := o.listenerUnsub
	o.listenerUnsub = nil
	o.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

func (o *Orchestrator) isLocalNetwork() bool {
	return o.backend.Name() == LocalBackendName
}

// CreateSession advertises a new session with the given capacity and match
// type under the managed handle. If a session already exists there, a
// destroy of the prior session is issued first without awaiting its
// completion (replace policy). A slow destroy completion can therefore
// arrive after the new create has started; see DESIGN.md. A create refused
// with ErrOperationPending leaves the existing session untouched.
//
// The outcome is published on CreateComplete.
func (o *Orchestrator) CreateSession(slotCount int, matchType string) error {
	if o.backend == nil {
		dlog.Warnf("orchestrator: no backend available to process session creation")
		return ErrBackendUnavailable
	}

	token, err := o.registry.register(KindCreate)
	if err != nil {
		return err
	}

	if o.backend.HasNamedSession(o.handle) {
		dlog.Debugf("orchestrator: replacing existing session %q", o.handle)
		_ = o.backend.DestroySession(o.handle, func(bool) {})
	}
	o.metrics.recordIssued(KindCreate)

	desc := NewSessionDescriptor(slotCount, matchType, o.isLocalNetwork())
	o.mu.Lock()
	o.matchCtx.LastDescriptor = desc
	o.mu.Unlock()

	err = o.backend.CreateSession(o.participant, o.handle, desc, func(wasSuccessful bool) {
		o.completeCreate(token, wasSuccessful)
	})
	if err != nil {
		// Synchronous rejection: the callback will never fire.
		dlog.Warnf("orchestrator: couldn't create session: %+v", err)
		o.completeCreate(token, false)
	}
	return nil
}

func (o *Orchestrator) completeCreate(token RegistrationToken, wasSuccessful bool) {
	latency, live := o.registry.unregister(token)
	if !live {
		return
	}
	o.metrics.recordCompleted(KindCreate, wasSuccessful, latency)
	o.bus.CreateComplete.Publish(wasSuccessful)
}

// FindSessions searches for lobby-capable sessions, up to maxResults. The
// result set and success flag are published on FindComplete; an empty result
// set is always published as a failure, regardless of what the backend
// reported.
func (o *Orchestrator) FindSessions(maxResults int) error {
	return o.findSessions(maxResults, false)
}

func (o *Orchestrator) findSessions(maxResults int, autoJoin bool) error {
	if o.backend == nil {
		dlog.Warnf("orchestrator: no backend available to process session search")
		return ErrBackendUnavailable
	}

	token, err := o.registry.register(KindFind)
	if err != nil {
		return err
	}
	o.metrics.recordIssued(KindFind)

	query := NewSearchQuery(maxResults, o.isLocalNetwork())
	o.mu.Lock()
	o.matchCtx.LastQuery = query
	o.mu.Unlock()

	err = o.backend.FindSessions(o.participant, query, func(results []SearchResult, wasSuccessful bool) {
		o.completeFind(token, results, wasSuccessful, autoJoin)
	})
	if err != nil {
		dlog.Warnf("orchestrator: couldn't search sessions: %+v", err)
		o.completeFind(token, nil, false, false)
	}
	return nil
}

func (o *Orchestrator) completeFind(token RegistrationToken, results []SearchResult, wasSuccessful bool, autoJoin bool) {
	latency, live := o.registry.unregister(token)
	if !live {
		return
	}
	// Empty results are always surfaced as failure to simplify caller logic.
	if len(results) == 0 {
		wasSuccessful = false
	}
	o.metrics.recordCompleted(KindFind, wasSuccessful, latency)

	o.mu.Lock()
	o.matchCtx.LastResults = results
	matchType := o.matchCtx.MatchType
	o.mu.Unlock()

	o.bus.FindComplete.Publish(FindCompletion{Results: results, WasSuccessful: wasSuccessful})

	if autoJoin && wasSuccessful {
		if err := o.SelectAndJoin(results, matchType); err != nil {
			dlog.Warnf("orchestrator: auto-join skipped: %v", err)
		}
	}
}

// SelectAndJoin scans results in order and joins the first record whose
// match type equals matchType exactly. Remaining candidates are ignored even
// if several match. When none match, no join is attempted and
// ErrNoMatchingSession is returned.
func (o *Orchestrator) SelectAndJoin(results []SearchResult, matchType string) error {
	for _, result := range results {
		if result.MatchType() == matchType {
			return o.JoinSession(result)
		}
	}
	return ErrNoMatchingSession
}

// JoinSession joins the session named by the given search result under the
// managed handle. The backend-reported result code is published on
// JoinComplete; on success the completion also carries the connect address
// resolved from the backend.
func (o *Orchestrator) JoinSession(result SearchResult) error {
	if o.backend == nil {
		dlog.Warnf("orchestrator: no backend available to process session join")
		o.bus.JoinComplete.Publish(JoinCompletion{Result: JoinUnknownError})
		return ErrBackendUnavailable
	}

	token, err := o.registry.register(KindJoin)
	if err != nil {
		return err
	}
	o.metrics.recordIssued(KindJoin)

	err = o.backend.JoinSession(o.participant, o.handle, result, func(res JoinResult) {
		o.completeJoin(token, res)
	})
	if err != nil {
		dlog.Warnf("orchestrator: couldn't join session: %+v", err)
		o.completeJoin(token, JoinUnknownError)
	}
	return nil
}

func (o *Orchestrator) completeJoin(token RegistrationToken, result JoinResult) {
	latency, live := o.registry.unregister(token)
	if !live {
		return
	}
	o.metrics.recordCompleted(KindJoin, result == JoinSuccess, latency)

	completion := JoinCompletion{Result: result}
	if result == JoinSuccess {
		if addr, ok := o.backend.ResolveConnectAddress(o.handle); ok {
			completion.ConnectAddress = addr
		} else {
			completion.Result = JoinCouldNotRetrieveAddress
		}
	}
	o.bus.JoinComplete.Publish(completion)
}

// DestroySession tears down the session under the managed handle. The
// outcome is published on DestroyComplete.
func (o *Orchestrator) DestroySession() error {
	if o.backend == nil {
		dlog.Warnf("orchestrator: no backend available to process session destruction")
		return ErrBackendUnavailable
	}

	token, err := o.registry.register(KindDestroy)
	if err != nil {
		return err
	}
	o.metrics.recordIssued(KindDestroy)

	err = o.backend.DestroySession(o.handle, func(wasSuccessful bool) {
		o.completeDestroy(token, wasSuccessful)
	})
	if err != nil {
		dlog.Warnf("orchestrator: couldn't destroy session: %+v", err)
		o.completeDestroy(token, false)
	}
	return nil
}

func (o *Orchestrator) completeDestroy(token RegistrationToken, wasSuccessful bool) {
	latency, live := o.registry.unregister(token)
	if !live {
		return
	}
	o.metrics.recordCompleted(KindDestroy, wasSuccessful, latency)
	o.bus.DestroyComplete.Publish(wasSuccessful)
}

// StartSession signals the start of the session under the managed handle,
// allowing gameplay to commence. The outcome is published on StartComplete.
func (o *Orchestrator) StartSession() error {
	if o.backend == nil {
		dlog.Warnf("orchestrator: no backend available to process session start")
		return ErrBackendUnavailable
	}

	token, err := o.registry.register(KindStart)
	if err != nil {
		return err
	}
	o.metrics.recordIssued(KindStart)

	err = o.backend.StartSession(o.handle, func(wasSuccessful bool) {
		o.completeStart(token, wasSuccessful)
	})
	if err != nil {
		dlog.Warnf("orchestrator: couldn't start session: %+v", err)
		o.completeStart(token, false)
	}
	return nil
}

func (o *Orchestrator) completeStart(token RegistrationToken, wasSuccessful bool) {
	latency, live := o.registry.unregister(token)
	if !live {
		return
	}
	o.metrics.recordCompleted(KindStart, wasSuccessful, latency)
	o.bus.StartComplete.Publish(wasSuccessful)
}
