package token

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/taskora/taskora-api/internal/models"
	appErrors "github.com/taskora/taskora-api/pkg/errors"
)

// KindAccess marks access credentials so a refresh value can never be
// accepted where an access credential is required, or vice versa.
const KindAccess = "access"

const refreshTokenBytes = 32

// Claims is the signed payload of an access credential.
type Claims struct {
	AccountID string      `json:"account_id"`
	Role      models.Role `json:"role"`
	TokenType string      `json:"token_type"`
	jwt.RegisteredClaims
}

// Pair is a freshly minted access/refresh credential pair. The refresh value
// is returned raw exactly once; only its hash is ever persisted.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Issuer mints token pairs. It is a pure function of (account, secret, clock)
// plus randomness and never touches storage.
type Issuer struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// NewIssuer constructs an Issuer.
func NewIssuer(secret, issuer string, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{
		secret:     []byte(secret),
		issuer:     issuer,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the issuer clock.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Issue mints a signed access credential and an opaque refresh credential
// for the given account identity.
func (i *Issuer) Issue(accountID string, role models.Role) (*Pair, error) {
	issuedAt := i.now()
	accessExpiry := issuedAt.Add(i.accessTTL)

	claims := &Claims{
		AccountID: accountID,
		Role:      role,
		TokenType: KindAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   accountID,
			ExpiresAt: jwt.NewNumericDate(accessExpiry),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}

	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh, err := newRefreshValue()
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	return &Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExpiry,
		RefreshExpiresAt: issuedAt.Add(i.refreshTTL),
	}, nil
}

// Verifier resolves inbound access credentials to an account identity. It is
// stateless and never queries storage, which is why an individual access
// credential cannot be revoked before its expiry.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier constructs a Verifier.
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the verifier clock.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Verify checks well-formedness, signature, token kind and expiry, in that
// order. Every failure collapses to the same INVALID_TOKEN outcome so the
// boundary never reveals which check tripped.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInvalidToken.Code, appErrors.ErrInvalidToken.Status, appErrors.ErrInvalidToken.Message)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.TokenType != KindAccess {
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
	}

	return claims, nil
}

// Hash returns the hex-encoded SHA-256 digest of a refresh credential.
// Session rows store this digest, never the raw value.
func Hash(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func newRefreshValue() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
