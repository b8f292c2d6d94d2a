package securestore_test

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianbank/mobilecore/securestore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

type profile struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Tags  []string `json:"tags"`
	Inner struct {
		Count int `json:"count"`
	} `json:"inner"`
}

func TestMemoryStoreStringRoundTrip(t *testing.T) {
	store := securestore.NewMemoryStore(testLogger())
	ctx := context.Background()

	assert.True(t, store.Set(ctx, "auth_token", "tok-123"))

	value, ok := store.Get(ctx, "auth_token")
	assert.True(t, ok)
	assert.Equal(t, "tok-123", value)
}

func TestMemoryStoreJSONRoundTrip(t *testing.T) {
	store := securestore.NewMemoryStore(testLogger())
	ctx := context.Background()

	original := profile{ID: "u1", Email: "user@example.com", Tags: []string{"a", "b"}}
	original.Inner.Count = 7

	assert.True(t, store.Set(ctx, "user_profile", original))

	var decoded profile
	assert.True(t, store.GetJSON(ctx, "user_profile", &decoded))
	assert.Equal(t, original, decoded)
}

func TestMemoryStoreRawStringPassthrough(t *testing.T) {
	store := securestore.NewMemoryStore(testLogger())
	ctx := context.Background()

	assert.True(t, store.Set(ctx, "key", "not valid json"))

	var out string
	assert.True(t, store.GetJSON(ctx, "key", &out))
	assert.Equal(t, "not valid json", out)
}

func TestMemoryStoreMissingKey(t *testing.T) {
	store := securestore.NewMemoryStore(testLogger())

	_, ok := store.Get(context.Background(), "missing")
	assert.False(t, ok)
}

func TestMemoryStoreRemoveIsIdempotent(t *testing.T) {
	store := securestore.NewMemoryStore(testLogger())
	ctx := context.Background()

	store.Set(ctx, "key", "value")
	assert.True(t, store.Remove(ctx, "key"))
	assert.True(t, store.Remove(ctx, "key"))

	_, ok := store.Get(ctx, "key")
	assert.False(t, ok)
}

func TestMemoryStoreClearAll(t *testing.T) {
	store := securestore.NewMemoryStore(testLogger())
	ctx := context.Background()

	store.Set(ctx, securestore.KeyAuthToken, "tok")
	store.Set(ctx, securestore.KeyUserProfile, "profile")
	store.Set(ctx, securestore.KeyBiometricCredentials, "bundle")

	assert.True(t, store.ClearAll(ctx, securestore.SessionKeys...))

	_, ok := store.Get(ctx, securestore.KeyAuthToken)
	assert.False(t, ok)
	_, ok = store.Get(ctx, securestore.KeyUserProfile)
	assert.False(t, ok)

	// Keys outside the session set survive
	_, ok = store.Get(ctx, securestore.KeyBiometricCredentials)
	assert.True(t, ok)
}

func TestMemoryStoreFailedWriteReportsFalse(t *testing.T) {
	store := securestore.NewMemoryStore(testLogger())
	store.FailWrites = true

	assert.False(t, store.Set(context.Background(), "key", "value"))
}

func TestFileStoreRoundTripAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.bin")
	secret := []byte("platform-keystore-secret")
	ctx := context.Background()

	store, err := securestore.NewFileStore(path, secret, testLogger())
	require.NoError(t, err)

	original := profile{ID: "u2", Email: "reopen@example.com"}
	assert.True(t, store.Set(ctx, "auth_token", "tok-456"))
	assert.True(t, store.Set(ctx, "user_profile", original))

	reopened, err := securestore.NewFileStore(path, secret, testLogger())
	require.NoError(t, err)

	value, ok := reopened.Get(ctx, "auth_token")
	assert.True(t, ok)
	assert.Equal(t, "tok-456", value)

	var decoded profile
	assert.True(t, reopened.GetJSON(ctx, "user_profile", &decoded))
	assert.Equal(t, original, decoded)
}

func TestFileStoreWrongSecretFailsToOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.bin")
	ctx := context.Background()

	store, err := securestore.NewFileStore(path, []byte("right-secret"), testLogger())
	require.NoError(t, err)
	require.True(t, store.Set(ctx, "auth_token", "tok"))

	_, err = securestore.NewFileStore(path, []byte("wrong-secret"), testLogger())
	assert.Error(t, err)
}

func TestFileStoreRequiresSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.bin")

	_, err := securestore.NewFileStore(path, nil, testLogger())
	assert.Error(t, err)
}

func TestFileStoreRemovePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.bin")
	secret := []byte("platform-keystore-secret")
	ctx := context.Background()

	store, err := securestore.NewFileStore(path, secret, testLogger())
	require.NoError(t, err)

	store.Set(ctx, "key", "value")
	assert.True(t, store.Remove(ctx, "key"))

	reopened, err := securestore.NewFileStore(path, secret, testLogger())
	require.NoError(t, err)

	_, ok := reopened.Get(ctx, "key")
	assert.False(t, ok)
}
