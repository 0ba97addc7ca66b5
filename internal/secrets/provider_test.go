package secrets

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryRepository struct {
	values map[string]string
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{values: make(map[string]string)}
}

func (m *memoryRepository) GetSecret(_ context.Context, key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *memoryRepository) PutSecret(_ context.Context, key, value string) error {
	m.values[key] = value
	return nil
}

func (m *memoryRepository) DeleteSecret(_ context.Context, key string) error {
	delete(m.values, key)
	return nil
}

func (m *memoryRepository) ListSecretKeys(_ context.Context) ([]string, error) {
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func newTestStore(t *testing.T) (*Store, *memoryRepository) {
	t.Helper()
	key, err := GenerateKey()
	require.NoError(t, err)
	cipher, err := NewCipher(key)
	require.NoError(t, err)
	repo := newMemoryRepository()
	return NewStore(repo, cipher), repo
}

func TestStorePutGetRoundTrip(t *testing.T) {
	store, repo := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, KeyFPLLogin, "user@example.com"))

	// stored value is not plaintext
	assert.NotEqual(t, "user@example.com", repo.values[KeyFPLLogin])

	value, err := store.Get(ctx, KeyFPLLogin)
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", value)
}

func TestStoreRejectsUnknownKey(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.Put(context.Background(), "ARBITRARY_KEY", "value")
	assert.ErrorIs(t, err, ErrKeyNotAllowed)
}

func TestStoreGetMissingKey(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.Get(context.Background(), KeyFPLTeamID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreDeleteAndKeys(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, KeyFPLTeamID, "123456"))
	require.NoError(t, store.Put(ctx, KeyFPLPassword, "hunter2"))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{KeyFPLPassword, KeyFPLTeamID}, keys)

	require.NoError(t, store.Delete(ctx, KeyFPLPassword))
	keys, err = store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{KeyFPLTeamID}, keys)
}

func TestStaticProvider(t *testing.T) {
	provider := Static{KeyFPLTeamID: "42"}

	value, err := provider.Get(context.Background(), KeyFPLTeamID)
	require.NoError(t, err)
	assert.Equal(t, "42", value)

	_, err = provider.Get(context.Background(), KeyFPLLogin)
	assert.ErrorIs(t, err, ErrNotFound)
}
