package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenStore_SaveLoadDelete(t *testing.T) {
	mr, client := setupMiniRedis(t)
	store := NewTokenStore(client)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "sid-1", []byte(`{"access_token":"x"}`), 30*time.Minute))
	assert.Equal(t, 30*time.Minute, mr.TTL("idp:token:sid-1"))

	data, err := store.Load(ctx, "sid-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"access_token":"x"}`, string(data))

	require.NoError(t, store.Delete(ctx, "sid-1"))
	_, err = store.Load(ctx, "sid-1")
	assert.Equal(t, ErrNotFound, err)
}

func TestTokenStore_Validation(t *testing.T) {
	_, client := setupMiniRedis(t)
	store := NewTokenStoreWithPrefix(client, "t:")
	ctx := context.Background()

	assert.Error(t, store.Save(ctx, "", []byte("x"), time.Minute))
	assert.Error(t, store.Save(ctx, "sid", []byte("x"), 0))

	_, err := store.Load(ctx, "")
	assert.Equal(t, ErrNotFound, err)
	assert.NoError(t, store.Delete(ctx, ""))
}
