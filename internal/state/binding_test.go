// internal/state/binding_test.go
package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/user/gopherpaint/internal/types"
)

func TestBindingStore(t *testing.T) {
	dir := t.TempDir()
	store := NewBindingStore(dir)
	ctx := context.Background()

	created := 0
	create := func(context.Context) (types.ConversationID, error) {
		created++
		return types.NewConversationID(), nil
	}

	key := types.NewChannelKey("telegram", "1", "2")
	id, err := store.Resolve(ctx, key, create)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// Idempotent for the same key.
	again, err := store.Resolve(ctx, key, create)
	require.NoError(t, err)
	require.Equal(t, id, again)
	require.Equal(t, 1, created)

	// Survives a fresh store instance.
	reopened := NewBindingStore(dir)
	again, err = reopened.Resolve(ctx, key, create)
	require.NoError(t, err)
	require.Equal(t, id, again)
}

func TestBindingStoreRebind(t *testing.T) {
	store := NewBindingStore(t.TempDir())
	ctx := context.Background()

	key := types.NewChannelKey("telegram", "1", "2")
	next := types.NewConversationID()
	require.NoError(t, store.Rebind(ctx, key, next))

	id, err := store.Resolve(ctx, key, func(context.Context) (types.ConversationID, error) {
		t.Fatal("create must not be called for a bound key")
		return "", nil
	})
	require.NoError(t, err)
	require.Equal(t, next, id)

	bindings, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, bindings, 1)
	require.Equal(t, key, bindings[0].Key)
}

func TestBindingStoreCreateError(t *testing.T) {
	store := NewBindingStore(t.TempDir())
	boom := errors.New("boom")

	_, err := store.Resolve(context.Background(), "k", func(context.Context) (types.ConversationID, error) {
		return "", boom
	})
	require.ErrorIs(t, err, boom)

	bindings, err := store.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, bindings)
}
