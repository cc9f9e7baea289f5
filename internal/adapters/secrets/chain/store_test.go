package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/bnema/botkeeper/internal/domain"
	portmocks "github.com/bnema/botkeeper/internal/ports/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const secretKey = "APPSTATE_SECRET_KEY"

func newTestChain(t *testing.T) (*Store, *portmocks.MockSecretStore, *portmocks.MockSecretStore) {
	t.Helper()

	remote := portmocks.NewMockSecretStore(t)
	local := portmocks.NewMockSecretStore(t)
	store, err := NewStore(Backend{Name: "kv", Store: remote}, Backend{Name: "file", Store: local})
	require.NoError(t, err)
	return store, remote, local
}

func TestStoreGetStopsAtFirstBackend(t *testing.T) {
	t.Parallel()

	store, remote, _ := newTestChain(t)
	remote.EXPECT().Get(mock.Anything, secretKey).Return("from-kv", nil).Once()

	value, err := store.Get(context.Background(), secretKey)
	require.NoError(t, err)
	assert.Equal(t, "from-kv", value)
}

func TestStoreGetFallsThroughWhenServiceIsDown(t *testing.T) {
	t.Parallel()

	store, remote, local := newTestChain(t)
	remote.EXPECT().Get(mock.Anything, secretKey).Return("", errors.New("kv unreachable")).Once()
	local.EXPECT().Get(mock.Anything, secretKey).Return("from-file", nil).Once()

	value, err := store.Get(context.Background(), secretKey)
	require.NoError(t, err)
	assert.Equal(t, "from-file", value)
}

func TestStoreGetNamesEveryFailedBackend(t *testing.T) {
	t.Parallel()

	store, remote, local := newTestChain(t)
	remote.EXPECT().Get(mock.Anything, secretKey).Return("", errors.New("kv failed")).Once()
	local.EXPECT().Get(mock.Anything, secretKey).Return("", domain.ErrSecretNotFound).Once()

	_, err := store.Get(context.Background(), secretKey)
	require.Error(t, err)
	assert.ErrorContains(t, err, "all 2 secret backends failed")
	assert.ErrorContains(t, err, "kv get: kv failed")
	assert.ErrorContains(t, err, "file get:")
	assert.ErrorIs(t, err, domain.ErrSecretNotFound)
}

func TestStoreGetDoesNotFallThroughOnCanceledContext(t *testing.T) {
	t.Parallel()

	store, remote, _ := newTestChain(t)
	remote.EXPECT().Get(mock.Anything, secretKey).Return("", context.Canceled).Once()

	_, err := store.Get(context.Background(), secretKey)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStorePutWritesFirstWorkingBackendOnly(t *testing.T) {
	t.Parallel()

	store, remote, _ := newTestChain(t)
	remote.EXPECT().Put(mock.Anything, secretKey, "secret").Return(nil).Once()

	require.NoError(t, store.Put(context.Background(), secretKey, "secret"))
}

func TestStorePutFallsThroughWhenServiceIsDown(t *testing.T) {
	t.Parallel()

	store, remote, local := newTestChain(t)
	remote.EXPECT().Put(mock.Anything, secretKey, "secret").Return(errors.New("kv failed")).Once()
	local.EXPECT().Put(mock.Anything, secretKey, "secret").Return(nil).Once()

	require.NoError(t, store.Put(context.Background(), secretKey, "secret"))
}

func TestStoreDeleteReachesEveryBackend(t *testing.T) {
	t.Parallel()

	store, remote, local := newTestChain(t)
	remote.EXPECT().Delete(mock.Anything, secretKey).Return(nil).Once()
	local.EXPECT().Delete(mock.Anything, secretKey).Return(domain.ErrSecretNotFound).Once()

	require.NoError(t, store.Delete(context.Background(), secretKey))
}

func TestStoreDeleteReportsFailedBackend(t *testing.T) {
	t.Parallel()

	store, remote, local := newTestChain(t)
	remote.EXPECT().Delete(mock.Anything, secretKey).Return(errors.New("kv failed")).Once()
	local.EXPECT().Delete(mock.Anything, secretKey).Return(nil).Once()

	err := store.Delete(context.Background(), secretKey)
	require.Error(t, err)
	assert.ErrorContains(t, err, "kv delete: kv failed")
}

func TestNewStoreRejectsMissingBackends(t *testing.T) {
	t.Parallel()

	_, err := NewStore()
	assert.ErrorIs(t, err, errNoBackends)

	_, err = NewStore(Backend{Name: "kv"})
	assert.ErrorContains(t, err, "backend 0 (kv) is nil")
}

func TestNewKVFirstWithFileFallbackValidatesURL(t *testing.T) {
	t.Parallel()

	_, err := NewKVFirstWithFileFallback("", nil, t.TempDir())
	assert.ErrorContains(t, err, "create kv secret store")

	store, err := NewKVFirstWithFileFallback("https://kv.example", nil, t.TempDir())
	require.NoError(t, err)
	require.Len(t, store.backends, 2)
	assert.Equal(t, "kv", store.backends[0].Name)
	assert.Equal(t, "file", store.backends[1].Name)
}
