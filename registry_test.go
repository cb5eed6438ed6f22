package dustlink

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistrySingleFlight(t *testing.T) {
	reg := newOperationRegistry()

	token, err := reg.register(KindCreate)
	require.NoError(t, err)
	require.Equal(t, KindCreate, token.Kind())
	require.True(t, reg.isPending(KindCreate))

	_, err = reg.register(KindCreate)
	require.ErrorIs(t, err, ErrOperationPending)

	// Other kinds are independent and may be concurrently pending.
	findToken, err := reg.register(KindFind)
	require.NoError(t, err)
	require.True(t, reg.isPending(KindCreate))
	require.True(t, reg.isPending(KindFind))

	_, ok := reg.unregister(token)
	require.True(t, ok)
	_, ok = reg.unregister(findToken)
	require.True(t, ok)
	require.False(t, reg.isPending(KindCreate))
	require.False(t, reg.isPending(KindFind))
}

func TestRegistryUnregisterIsExactlyOncePerToken(t *testing.T) {
	reg := newOperationRegistry()

	token, err := reg.register(KindJoin)
	require.NoError(t, err)
	_, ok := reg.unregister(token)
	require.True(t, ok)
	_, ok = reg.unregister(token)
	require.False(t, ok)

	// A stale token can never release a newer registration of the same kind.
	newToken, err := reg.register(KindJoin)
	require.NoError(t, err)
	_, ok = reg.unregister(token)
	require.False(t, ok)
	require.True(t, reg.isPending(KindJoin))
	_, ok = reg.unregister(newToken)
	require.True(t, ok)
}
