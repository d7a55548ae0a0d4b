package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/scoutcard/internal/cache"
	"github.com/magabrotheeeer/scoutcard/internal/lib/seal"
	"github.com/magabrotheeeer/scoutcard/internal/models"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func newSealer(t *testing.T) *seal.Sealer {
	s, err := seal.NewWithKey(make([]byte, 32))
	require.NoError(t, err)
	return s
}

// KVMock мок бэкенда уровня хранилища
type KVMock struct {
	mock.Mock
}

func (m *KVMock) Get(ctx context.Context, key string, result any) (bool, error) {
	args := m.Called(ctx, key, result)
	return args.Bool(0), args.Error(1)
}

func (m *KVMock) Set(ctx context.Context, key string, value any) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *KVMock) Invalidate(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func TestSecureStore_RoundTripIsEncrypted(t *testing.T) {
	ctx := context.Background()
	kv := cache.NewMemory()
	store := NewSecureStore(kv, newSealer(t), newNoopLogger())

	require.True(t, store.SetItem(ctx, KeyAccessToken, "access-123"))

	raw, ok := kv.Raw(KeyAccessToken)
	require.True(t, ok)
	assert.NotContains(t, string(raw), "access-123")

	value, found := store.GetItem(ctx, KeyAccessToken)
	assert.True(t, found)
	assert.Equal(t, "access-123", value)

	require.True(t, store.DeleteItem(ctx, KeyAccessToken))
	_, found = store.GetItem(ctx, KeyAccessToken)
	assert.False(t, found)
}

func TestSecureStore_FailuresTreatedAsAbsent(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		setup func(kv *KVMock)
	}{
		{
			name: "backend read error",
			setup: func(kv *KVMock) {
				kv.On("Get", mock.Anything, KeyRefreshToken, mock.Anything).Return(false, errors.New("disk error")).Once()
			},
		},
		{
			name: "tampered value",
			setup: func(kv *KVMock) {
				kv.On("Get", mock.Anything, KeyRefreshToken, mock.Anything).
					Run(func(args mock.Arguments) {
						*(args.Get(2).(*string)) = "bm90IHNlYWxlZCBhdCBhbGwgYnV0IGxvbmcgZW5vdWdoIHRvIHBhc3M"
					}).Return(true, nil).Once()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := new(KVMock)
			tt.setup(kv)
			store := NewSecureStore(kv, newSealer(t), newNoopLogger())

			value, found := store.GetItem(ctx, KeyRefreshToken)
			assert.False(t, found)
			assert.Empty(t, value)
			kv.AssertExpectations(t)
		})
	}
}

func TestSecureStore_WriteAndDeleteFailures(t *testing.T) {
	ctx := context.Background()
	kv := new(KVMock)
	kv.On("Set", mock.Anything, KeyAccessToken, mock.Anything).Return(errors.New("full")).Once()
	kv.On("Invalidate", mock.Anything, KeyAccessToken).Return(errors.New("locked")).Once()

	store := NewSecureStore(kv, newSealer(t), newNoopLogger())

	assert.False(t, store.SetItem(ctx, KeyAccessToken, "v"))
	assert.False(t, store.DeleteItem(ctx, KeyAccessToken))
	kv.AssertExpectations(t)
}

func TestSecureStore_Tokens(t *testing.T) {
	ctx := context.Background()
	store := NewSecureStore(cache.NewMemory(), newSealer(t), newNoopLogger())

	assert.False(t, store.Tokens(ctx).Complete())

	require.True(t, store.SaveTokens(ctx, models.Tokens{AccessToken: "a", RefreshToken: "r"}))
	assert.Equal(t, models.Tokens{AccessToken: "a", RefreshToken: "r"}, store.Tokens(ctx))
}

func TestProfileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := cache.NewMemory()
	store := NewProfileStore(kv, newNoopLogger())

	assert.Nil(t, store.GetProfile(ctx))

	user := models.User{ID: "u1", Email: "a@b.com", FirstName: "Ann", Role: models.RoleParent}
	require.True(t, store.SetProfile(ctx, user))

	raw, ok := kv.Raw(KeyProfile)
	require.True(t, ok)
	assert.JSONEq(t, `{"user":{"id":"u1","email":"a@b.com","firstName":"Ann","lastName":"","role":"PARENT"}}`, string(raw))

	got := store.GetProfile(ctx)
	require.NotNil(t, got)
	assert.Equal(t, user, *got)

	require.True(t, store.ClearProfile(ctx))
	assert.Nil(t, store.GetProfile(ctx))
}

func TestProfileStore_ReadErrorIsAbsent(t *testing.T) {
	kv := new(KVMock)
	kv.On("Get", mock.Anything, KeyProfile, mock.Anything).Return(false, errors.New("boom")).Once()

	store := NewProfileStore(kv, newNoopLogger())
	assert.Nil(t, store.GetProfile(context.Background()))
}

func TestVault_SaveKeepsTokensOutOfProfileTier(t *testing.T) {
	ctx := context.Background()
	secureKV := cache.NewMemory()
	profileKV := cache.NewMemory()
	v := NewVault(
		NewSecureStore(secureKV, newSealer(t), newNoopLogger()),
		NewProfileStore(profileKV, newNoopLogger()),
		newNoopLogger(),
	)

	tokens := models.Tokens{AccessToken: "acc-token-value", RefreshToken: "ref-token-value"}
	v.Save(ctx, tokens, models.User{ID: "u1", Email: "a@b.com"})

	raw, ok := profileKV.Raw(KeyProfile)
	require.True(t, ok)
	assert.NotContains(t, string(raw), tokens.AccessToken)
	assert.NotContains(t, string(raw), tokens.RefreshToken)
	assert.Equal(t, tokens, v.Secure.Tokens(ctx))
}

func TestVault_ClearEachStepIndependent(t *testing.T) {
	ctx := context.Background()

	secureKV := new(KVMock)
	secureKV.On("Invalidate", mock.Anything, KeyAccessToken).Return(errors.New("keychain locked")).Once()
	secureKV.On("Invalidate", mock.Anything, KeyRefreshToken).Return(nil).Once()

	profileKV := cache.NewMemory()
	profile := NewProfileStore(profileKV, newNoopLogger())
	require.True(t, profile.SetProfile(ctx, models.User{ID: "u1"}))

	v := NewVault(NewSecureStore(secureKV, newSealer(t), newNoopLogger()), profile, newNoopLogger())
	res := v.Clear(ctx)

	assert.False(t, res.AccessToken)
	assert.True(t, res.RefreshToken)
	assert.True(t, res.Profile)
	assert.False(t, res.OK())
	assert.Nil(t, profile.GetProfile(ctx))
	secureKV.AssertExpectations(t)
}

func TestVault_ClearSurvivesSecurePanic(t *testing.T) {
	ctx := context.Background()

	secureKV := new(KVMock)
	secureKV.On("Invalidate", mock.Anything, KeyAccessToken).Panic("native keystore crashed").Once()
	secureKV.On("Invalidate", mock.Anything, KeyRefreshToken).Return(nil).Once()

	profileKV := cache.NewMemory()
	profile := NewProfileStore(profileKV, newNoopLogger())
	require.True(t, profile.SetProfile(ctx, models.User{ID: "u1"}))

	v := NewVault(NewSecureStore(secureKV, newSealer(t), newNoopLogger()), profile, newNoopLogger())

	var res ClearResult
	assert.NotPanics(t, func() { res = v.Clear(ctx) })
	assert.False(t, res.AccessToken)
	assert.True(t, res.RefreshToken)
	assert.True(t, res.Profile)
	assert.Nil(t, profile.GetProfile(ctx))
}

func TestVault_ClearProfileFailureDoesNotBlockTokens(t *testing.T) {
	ctx := context.Background()

	secureKV := cache.NewMemory()
	secure := NewSecureStore(secureKV, newSealer(t), newNoopLogger())
	require.True(t, secure.SaveTokens(ctx, models.Tokens{AccessToken: "a", RefreshToken: "r"}))

	profileKV := new(KVMock)
	profileKV.On("Invalidate", mock.Anything, KeyProfile).Return(errors.New("read-only fs")).Once()

	v := NewVault(secure, NewProfileStore(profileKV, newNoopLogger()), newNoopLogger())
	res := v.Clear(ctx)

	assert.True(t, res.AccessToken)
	assert.True(t, res.RefreshToken)
	assert.False(t, res.Profile)
	assert.False(t, secure.Tokens(ctx).Complete())
}

func TestVault_SetAccessTokenKeepsRefreshToken(t *testing.T) {
	ctx := context.Background()
	v := NewVault(
		NewSecureStore(cache.NewMemory(), newSealer(t), newNoopLogger()),
		NewProfileStore(cache.NewMemory(), newNoopLogger()),
		newNoopLogger(),
	)
	v.Save(ctx, models.Tokens{AccessToken: "a1", RefreshToken: "r1"}, models.User{ID: "u-1"})

	require.True(t, v.SetAccessToken(ctx, "a2"))

	assert.Equal(t, models.Tokens{AccessToken: "a2", RefreshToken: "r1"}, v.Tokens(ctx))
	require.NotNil(t, v.LoadProfile(ctx))
	assert.Equal(t, "u-1", v.LoadProfile(ctx).ID)
}
