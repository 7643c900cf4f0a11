package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestGenerateTokenPair_RoundTrip(t *testing.T) {
	pair, err := GenerateTokenPair(testSecret, TokenPayload{Sub: "client-1", DeviceName: "Wall Panel"})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, AccessTokenExpirySec, pair.ExpiresInSec)

	payload, err := VerifyToken(testSecret, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "client-1", payload.Sub)
	require.Equal(t, "Wall Panel", payload.DeviceName)
	require.Equal(t, TokenTypeAccess, payload.Type)

	payload, err = VerifyToken(testSecret, pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, TokenTypeRefresh, payload.Type)
}

func TestVerifyToken_WrongSecret(t *testing.T) {
	pair, err := GenerateTokenPair(testSecret, TokenPayload{Sub: "client-1", DeviceName: "Wall Panel"})
	require.NoError(t, err)

	_, err = VerifyToken("another-secret-that-is-long-enough", pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefreshAccessToken_RejectsAccessToken(t *testing.T) {
	pair, err := GenerateTokenPair(testSecret, TokenPayload{Sub: "client-1", DeviceName: "Wall Panel"})
	require.NoError(t, err)

	_, _, err = RefreshAccessToken(testSecret, pair.AccessToken)
	require.ErrorIs(t, err, ErrTokenType)
}

func TestRefreshAccessToken_IssuesNewAccessToken(t *testing.T) {
	pair, err := GenerateTokenPair(testSecret, TokenPayload{Sub: "client-1", DeviceName: "Wall Panel"})
	require.NoError(t, err)

	access, expiresIn, err := RefreshAccessToken(testSecret, pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, AccessTokenExpirySec, expiresIn)

	payload, err := VerifyToken(testSecret, access)
	require.NoError(t, err)
	require.Equal(t, TokenTypeAccess, payload.Type)
}

func TestPairingStore_RedeemIsSingleUse(t *testing.T) {
	store := NewPairingStore(time.Minute)

	code, err := store.Create()
	require.NoError(t, err)
	require.Len(t, code, 6)

	require.Equal(t, RedeemOK, store.Redeem(code))
	require.Equal(t, RedeemUnknown, store.Redeem(code))
}

func TestPairingStore_RedeemExpiredCode(t *testing.T) {
	store := NewPairingStore(0)

	code, err := store.Create()
	require.NoError(t, err)

	// TTL zero: the code is stale the moment it exists, and redeeming
	// still burns it.
	require.Equal(t, RedeemExpired, store.Redeem(code))
	require.Equal(t, RedeemUnknown, store.Redeem(code))
}
