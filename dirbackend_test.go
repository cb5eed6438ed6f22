package dustlink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dustbyte/dustlink/pkg/directory"
)

const completionTimeout = 5 * time.Second

func awaitCreate(t *testing.T, b Backend, p LocalParticipant, handle SessionHandle, desc *SessionDescriptor) bool {
	t.Helper()
	ch := make(chan bool, 1)
	require.NoError(t, b.CreateSession(p, handle, desc, func(ok bool) { ch <- ok }))
	select {
	case ok := <-ch:
		return ok
	case <-time.After(completionTimeout):
		t.Fatal("timeout waiting for create completion")
		return false
	}
}

func awaitFind(t *testing.T, b Backend, p LocalParticipant, query *SearchQuery) ([]SearchResult, bool) {
	t.Helper()
	type completion struct {
		results []SearchResult
		ok      bool
	}
	ch := make(chan completion, 1)
	require.NoError(t, b.FindSessions(p, query, func(results []SearchResult, ok bool) {
		ch <- completion{results: results, ok: ok}
	}))
	select {
	case c := <-ch:
		return c.results, c.ok
	case <-time.After(completionTimeout):
		t.Fatal("timeout waiting for find completion")
		return nil, false
	}
}

func awaitJoin(t *testing.T, b Backend, p LocalParticipant, handle SessionHandle, result SearchResult) JoinResult {
	t.Helper()
	ch := make(chan JoinResult, 1)
	require.NoError(t, b.JoinSession(p, handle, result, func(res JoinResult) { ch <- res }))
	select {
	case res := <-ch:
		return res
	case <-time.After(completionTimeout):
		t.Fatal("timeout waiting for join completion")
		return JoinUnknownError
	}
}

func awaitBool(t *testing.T, issue func(done func(bool)) error) bool {
	t.Helper()
	ch := make(chan bool, 1)
	require.NoError(t, issue(func(ok bool) { ch <- ok }))
	select {
	case ok := <-ch:
		return ok
	case <-time.After(completionTimeout):
		t.Fatal("timeout waiting for completion")
		return false
	}
}

func TestDirectoryBackendHostAndDiscover(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	host := NewDirectoryBackend(LocalBackendName, dir, WithConnectAddress("192.168.0.10:7777"))
	guest := NewDirectoryBackend(LocalBackendName, dir)

	hostPlayer := NewLocalParticipant("host")
	guestPlayer := NewLocalParticipant("guest")

	desc := NewSessionDescriptor(4, "Error404", true)
	require.True(t, awaitCreate(t, host, hostPlayer, DefaultSessionHandle, desc))
	require.True(t, host.HasNamedSession(DefaultSessionHandle))
	addr, ok := host.ResolveConnectAddress(DefaultSessionHandle)
	require.True(t, ok)
	require.Equal(t, "192.168.0.10:7777", addr)

	results, ok := awaitFind(t, guest, guestPlayer, NewSearchQuery(10, true))
	require.True(t, ok)
	require.Len(t, results, 1)
	require.Equal(t, "Error404", results[0].MatchType())
	require.Equal(t, "host", results[0].HostName)
	require.Equal(t, 4, results[0].OpenSlots)

	require.Equal(t, JoinSuccess, awaitJoin(t, guest, guestPlayer, DefaultSessionHandle, results[0]))
	joined, ok := guest.ResolveConnectAddress(DefaultSessionHandle)
	require.True(t, ok)
	require.Equal(t, "192.168.0.10:7777", joined)
}

func TestDirectoryBackendJoinFailures(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	backend := NewDirectoryBackend(LocalBackendName, dir)
	player := NewLocalParticipant("guest")

	t.Run("MissingRecord", func(t *testing.T) {
		res := awaitJoin(t, backend, player, DefaultSessionHandle, SearchResult{ConnectRef: "gone"})
		require.Equal(t, JoinSessionDoesNotExist, res)
	})

	t.Run("FullSession", func(t *testing.T) {
		require.NoError(t, dir.Advertise(context.Background(), &directory.Record{
			ID:             "full",
			ConnectAddress: "192.168.0.11:7777",
			UsesLobbies:    true,
			LAN:            true,
		}, time.Minute))
		res := awaitJoin(t, backend, player, DefaultSessionHandle, SearchResult{ConnectRef: "full"})
		require.Equal(t, JoinSessionIsFull, res)
	})

	t.Run("AlreadyInSession", func(t *testing.T) {
		require.NoError(t, dir.Advertise(context.Background(), &directory.Record{
			ID:             "open",
			ConnectAddress: "192.168.0.12:7777",
			OpenSlots:      2,
			UsesLobbies:    true,
			LAN:            true,
		}, time.Minute))
		res := awaitJoin(t, backend, player, DefaultSessionHandle, SearchResult{ConnectRef: "open"})
		require.Equal(t, JoinSuccess, res)
		res = awaitJoin(t, backend, player, DefaultSessionHandle, SearchResult{ConnectRef: "open"})
		require.Equal(t, JoinAlreadyInSession, res)
	})
}

func TestDirectoryBackendRejectsInvalidParticipant(t *testing.T) {
	backend := NewLocalBackend()
	var nobody LocalParticipant

	require.Error(t, backend.CreateSession(nobody, DefaultSessionHandle, NewSessionDescriptor(4, "Coop", true), func(bool) {}))
	require.Error(t, backend.FindSessions(nobody, NewSearchQuery(10, true), func([]SearchResult, bool) {}))
	require.Error(t, backend.JoinSession(nobody, DefaultSessionHandle, SearchResult{}, func(JoinResult) {}))
}

func TestDirectoryBackendDestroyWithdrawsAdvertisement(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	backend := NewDirectoryBackend(LocalBackendName, dir)
	player := NewLocalParticipant("host")

	require.True(t, awaitCreate(t, backend, player, DefaultSessionHandle, NewSessionDescriptor(4, "Coop", true)))
	require.True(t, awaitBool(t, func(done func(bool)) error {
		return backend.DestroySession(DefaultSessionHandle, done)
	}))
	require.False(t, backend.HasNamedSession(DefaultSessionHandle))

	results, _ := awaitFind(t, backend, player, NewSearchQuery(10, true))
	require.Empty(t, results)
}

func TestDirectoryBackendStartFlagsRecordInProgress(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	backend := NewDirectoryBackend(LocalBackendName, dir)
	player := NewLocalParticipant("host")

	require.True(t, awaitCreate(t, backend, player, DefaultSessionHandle, NewSessionDescriptor(4, "Coop", true)))
	require.True(t, awaitBool(t, func(done func(bool)) error {
		return backend.StartSession(DefaultSessionHandle, done)
	}))

	recs, err := dir.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.True(t, recs[0].InProgress)
}

func TestDirectoryBackendLocalityFilter(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	backend := NewDirectoryBackend(LocalBackendName, dir)
	player := NewLocalParticipant("guest")

	require.True(t, awaitCreate(t, backend, player, DefaultSessionHandle, NewSessionDescriptor(4, "Coop", true)))

	// A networked query must not surface LAN-only sessions.
	results, _ := awaitFind(t, backend, player, NewSearchQuery(10, false))
	require.Empty(t, results)
}

type flakyDirectory struct {
	directory.Directory
	failures int
	calls    int
}

func (d *flakyDirectory) Refresh(ctx context.Context, id string, ttl time.Duration) error {
	d.calls++
	if d.failures > 0 {
		d.failures--
		return errors.New("transient directory failure")
	}
	return d.Directory.Refresh(ctx, id, ttl)
}

func TestDirectoryBackendHeartbeatRetriesRefresh(t *testing.T) {
	flaky := &flakyDirectory{Directory: directory.NewMemoryDirectory(), failures: 2}
	backend := NewDirectoryBackend(LocalBackendName, flaky)
	player := NewLocalParticipant("host")

	require.True(t, awaitCreate(t, backend, player, DefaultSessionHandle, NewSessionDescriptor(4, "Coop", true)))

	backend.refreshAdvertisements(context.Background())

	// Two transient failures, then the refresh lands.
	require.Equal(t, 3, flaky.calls)
	recs, err := flaky.List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestOrchestratorOverDirectoryBackend(t *testing.T) {
	dir := directory.NewMemoryDirectory()

	hostBackend := NewDirectoryBackend(LocalBackendName, dir, WithConnectAddress("192.168.0.10:7777"))
	hostOrch, err := NewOrchestrator(hostBackend, NewLocalParticipant("host"))
	require.NoError(t, err)

	created := make(chan bool, 1)
	hostOrch.Notifications().CreateComplete.Subscribe(func(ok bool) { created <- ok })
	hostOrch.Setup(4, "Error404", nil)
	require.NoError(t, hostOrch.RequestHost())
	select {
	case ok := <-created:
		require.True(t, ok)
	case <-time.After(completionTimeout):
		t.Fatal("timeout waiting for host create")
	}

	guestBackend := NewDirectoryBackend(LocalBackendName, dir)
	guestOrch, err := NewOrchestrator(guestBackend, NewLocalParticipant("guest"))
	require.NoError(t, err)

	joined := make(chan JoinCompletion, 1)
	guestOrch.Notifications().JoinComplete.Subscribe(func(c JoinCompletion) { joined <- c })
	guestOrch.Setup(4, "Error404", nil)
	require.NoError(t, guestOrch.RequestJoin())

	select {
	case c := <-joined:
		require.Equal(t, JoinSuccess, c.Result)
		require.Equal(t, "192.168.0.10:7777", c.ConnectAddress)
	case <-time.After(completionTimeout):
		t.Fatal("timeout waiting for guest join")
	}
}
