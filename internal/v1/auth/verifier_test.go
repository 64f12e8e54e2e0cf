package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func signToken(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func baseClaims(sub string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
}

func newHSVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewVerifier(context.Background(), "", testSecret, "authenticated")
	require.NoError(t, err)
	return v
}

func TestVerifyValidToken(t *testing.T) {
	v := newHSVerifier(t)
	claims := baseClaims("user-1")
	claims.DisplayName = "Alice"
	claims.AvatarSeed = "seed-1"

	got, err := v.VerifyToken(signToken(t, testSecret, claims))
	require.NoError(t, err)
	assert.Equal(t, "user-1", got.Subject)
	assert.Equal(t, "Alice", got.Name())
	assert.Equal(t, "seed-1", got.AvatarSeed)
}

func TestDisplayNamePrecedence(t *testing.T) {
	v := newHSVerifier(t)

	claims := baseClaims("user-2")
	claims.UserMeta.DisplayName = "Meta Bob"
	got, err := v.VerifyToken(signToken(t, testSecret, claims))
	require.NoError(t, err)
	assert.Equal(t, "Meta Bob", got.Name())

	claims = baseClaims("user-3")
	got, err = v.VerifyToken(signToken(t, testSecret, claims))
	require.NoError(t, err)
	assert.Equal(t, "user-3", got.Name(), "subject is the fallback name")
}

func TestExpiredTokenClassified(t *testing.T) {
	v := newHSVerifier(t)
	claims := baseClaims("user-1")
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	_, err := v.VerifyToken(signToken(t, testSecret, claims))
	require.Error(t, err)
	assert.Equal(t, CodeExpired, CodeOf(err))
}

func TestWrongSecretRejected(t *testing.T) {
	v := newHSVerifier(t)
	_, err := v.VerifyToken(signToken(t, "another-secret-that-is-32-chars!", baseClaims("user-1")))
	require.Error(t, err)
	assert.Equal(t, CodeInvalid, CodeOf(err))
}

func TestAudienceMismatchRejected(t *testing.T) {
	v := newHSVerifier(t)
	claims := baseClaims("user-1")
	claims.Audience = jwt.ClaimStrings{"something-else"}

	_, err := v.VerifyToken(signToken(t, testSecret, claims))
	require.Error(t, err)
	assert.Equal(t, CodeInvalid, CodeOf(err))
}

func TestMissingSubjectRejected(t *testing.T) {
	v := newHSVerifier(t)
	_, err := v.VerifyToken(signToken(t, testSecret, baseClaims("")))
	require.Error(t, err)
	assert.Equal(t, CodeInvalid, CodeOf(err))
}

func TestGarbageTokenRejected(t *testing.T) {
	v := newHSVerifier(t)
	_, err := v.VerifyToken("not.a.token")
	require.Error(t, err)
	assert.Equal(t, CodeInvalid, CodeOf(err))
}

func TestVerifierRequiresKeySource(t *testing.T) {
	_, err := NewVerifier(context.Background(), "", "", "authenticated")
	assert.Error(t, err)
}

func TestMockVerifierDecodesPayload(t *testing.T) {
	m := &MockVerifier{}

	claims := baseClaims("dev-42")
	claims.DisplayName = "Dev Alice"
	got, err := m.VerifyToken(signToken(t, testSecret, claims))
	require.NoError(t, err)
	assert.Equal(t, "dev-42", got.Subject)
	assert.Equal(t, "Dev Alice", got.DisplayName)

	// Anything unparseable still yields a usable dev identity.
	got, err = m.VerifyToken("garbage")
	require.NoError(t, err)
	assert.Equal(t, "dev-user-123", got.Subject)
}
