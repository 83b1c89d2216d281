package token

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskora/taskora-api/internal/models"
	appErrors "github.com/taskora/taskora-api/pkg/errors"
)

func TestIssueAndVerify(t *testing.T) {
	issuer := NewIssuer("secret", "taskora-test", 15*time.Minute, 7*24*time.Hour)
	verifier := NewVerifier("secret")

	pair, err := issuer.Issue("acct-1", models.RoleAdmin)
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.True(t, pair.RefreshExpiresAt.After(pair.AccessExpiresAt))

	claims, err := verifier.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", claims.AccountID)
	assert.Equal(t, models.RoleAdmin, claims.Role)
	assert.Equal(t, KindAccess, claims.TokenType)
}

func TestVerifyRejectsExpired(t *testing.T) {
	issuer := NewIssuer("secret", "taskora-test", 15*time.Minute, 7*24*time.Hour)
	verifier := NewVerifier("secret").WithClock(func() time.Time {
		return time.Now().UTC().Add(16 * time.Minute)
	})

	pair, err := issuer.Issue("acct-1", models.RoleStandard)
	require.NoError(t, err)

	_, err = verifier.Verify(pair.AccessToken)
	require.Error(t, err)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	issuer := NewIssuer("secret", "taskora-test", 15*time.Minute, 7*24*time.Hour)
	verifier := NewVerifier("secret")

	pair, err := issuer.Issue("acct-1", models.RoleStandard)
	require.NoError(t, err)

	truncated := pair.AccessToken[:len(pair.AccessToken)-1]
	_, err = verifier.Verify(truncated)
	require.Error(t, err)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewIssuer("secret", "taskora-test", 15*time.Minute, 7*24*time.Hour)
	verifier := NewVerifier("other-secret")

	pair, err := issuer.Issue("acct-1", models.RoleStandard)
	require.NoError(t, err)

	_, err = verifier.Verify(pair.AccessToken)
	require.Error(t, err)
}

func TestVerifyRejectsWrongTokenKind(t *testing.T) {
	verifier := NewVerifier("secret")

	claims := &Claims{
		AccountID: "acct-1",
		Role:      models.RoleStandard,
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().UTC().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = verifier.Verify(signed)
	require.Error(t, err)
}

func TestVerifyFailuresAreIndistinguishable(t *testing.T) {
	issuer := NewIssuer("secret", "taskora-test", time.Minute, time.Hour)
	verifier := NewVerifier("secret")

	pair, err := issuer.Issue("acct-1", models.RoleStandard)
	require.NoError(t, err)

	_, malformed := verifier.Verify("not-a-token")
	_, tampered := verifier.Verify(pair.AccessToken[:len(pair.AccessToken)-1])

	late := NewVerifier("secret").WithClock(func() time.Time {
		return time.Now().UTC().Add(2 * time.Minute)
	})
	_, expired := late.Verify(pair.AccessToken)

	for _, err := range []error{malformed, tampered, expired} {
		require.Error(t, err)
		appErr := appErrors.FromError(err)
		assert.Equal(t, appErrors.ErrInvalidToken.Code, appErr.Code)
		assert.Equal(t, appErrors.ErrInvalidToken.Message, appErr.Message)
	}
}

func TestRefreshValuesAreUniqueAndHashed(t *testing.T) {
	issuer := NewIssuer("secret", "taskora-test", time.Minute, time.Hour)

	first, err := issuer.Issue("acct-1", models.RoleStandard)
	require.NoError(t, err)
	second, err := issuer.Issue("acct-1", models.RoleStandard)
	require.NoError(t, err)

	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, Hash(first.RefreshToken), Hash(second.RefreshToken))
	assert.Len(t, Hash(first.RefreshToken), 64)
	assert.Equal(t, Hash(first.RefreshToken), Hash(first.RefreshToken))
}
