package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/taskora/taskora-api/internal/models"
	"github.com/taskora/taskora-api/internal/password"
	"github.com/taskora/taskora-api/internal/repository"
	"github.com/taskora/taskora-api/internal/token"
	appErrors "github.com/taskora/taskora-api/pkg/errors"
)

type accountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	FindByEmail(ctx context.Context, email string) (*models.Account, error)
	FindByID(ctx context.Context, id string) (*models.Account, error)
}

type sessionRepository interface {
	Create(ctx context.Context, session *models.Session) error
	FindByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	Revoke(ctx context.Context, id string, revokedAt time.Time) (bool, error)
	Rotate(ctx context.Context, oldID string, rotatedAt time.Time, next *models.Session) error
}

type tokenIssuer interface {
	Issue(accountID string, role models.Role) (*token.Pair, error)
}

// AuthService orchestrates credential verification, token issuance and
// session rotation. Session lineages move Active -> Rotated | Revoked |
// Expired and never back.
type AuthService struct {
	accounts  accountRepository
	sessions  sessionRepository
	issuer    tokenIssuer
	verifier  *token.Verifier
	hasher    *password.Hasher
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(accounts accountRepository, sessions sessionRepository, issuer tokenIssuer, verifier *token.Verifier, hasher *password.Hasher, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if hasher == nil {
		hasher = password.NewHasher(password.DefaultCost)
	}
	return &AuthService{
		accounts:  accounts,
		sessions:  sessions,
		issuer:    issuer,
		verifier:  verifier,
		hasher:    hasher,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the service clock.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// Signup registers a new account and opens its first session.
func (s *AuthService) Signup(ctx context.Context, req models.SignupRequest) (*models.TokenPairResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "invalid signup payload"), fieldDetails(err)...)
	}

	if reasons := password.Validate(req.Password); len(reasons) > 0 {
		details := make([]appErrors.FieldError, 0, len(reasons))
		for _, reason := range reasons {
			details = append(details, appErrors.FieldError{Field: "password", Message: reason})
		}
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "password does not meet the minimum strength policy"), details...)
	}

	email := normalizeEmail(req.Email)

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	account := &models.Account{
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleStandard,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "email already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create account")
	}

	res, err := s.openSession(ctx, account)
	if err != nil {
		return nil, err
	}

	s.metrics.IncSignup()
	s.logger.Info("account registered", zap.String("account_id", account.ID))
	return res, nil
}

// Login authenticates an account and opens a new session. Other sessions for
// the same account are left untouched; concurrent devices are permitted.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (*models.TokenPairResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "invalid login payload"), fieldDetails(err)...)
	}

	email := normalizeEmail(req.Email)

	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Same outcome as a bad password so the boundary never
			// reveals whether the email exists.
			s.metrics.IncLogin(false)
			return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch account")
	}

	if !s.hasher.Verify(req.Password, account.PasswordHash) {
		s.metrics.IncLogin(false)
		s.logger.Info("login rejected", zap.String("account_id", account.ID))
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	res, err := s.openSession(ctx, account)
	if err != nil {
		return nil, err
	}

	s.metrics.IncLogin(true)
	s.logger.Info("login accepted", zap.String("account_id", account.ID))
	return res, nil
}

// Refresh exchanges a refresh credential for a new token pair, rotating the
// backing session. A refresh credential is single-use: presenting an
// already-rotated one fails exactly like an unknown token.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest) (*models.TokenPairResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrValidation, "invalid refresh payload"), fieldDetails(err)...)
	}

	now := s.now()

	session, err := s.sessions.FindByTokenHash(ctx, token.Hash(req.RefreshToken))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch session")
	}

	if !session.Usable(now) {
		s.metrics.IncRefreshReuseRejected()
		s.logger.Warn("refresh credential reuse rejected",
			zap.String("account_id", session.AccountID),
			zap.String("session_id", session.ID))
		return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
	}

	account, err := s.accounts.FindByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}

	pair, err := s.issuer.Issue(account.ID, account.Role)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue tokens")
	}

	next := &models.Session{
		AccountID: account.ID,
		TokenHash: token.Hash(pair.RefreshToken),
		ExpiresAt: pair.RefreshExpiresAt,
		CreatedAt: now,
	}
	if err := s.sessions.Rotate(ctx, session.ID, now, next); err != nil {
		if errors.Is(err, repository.ErrSessionConsumed) {
			// A concurrent refresh won the conditional update.
			s.metrics.IncRefreshReuseRejected()
			return nil, appErrors.Clone(appErrors.ErrInvalidToken, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate session")
	}

	s.metrics.IncRefreshRotation()
	return &models.TokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int64(pair.AccessExpiresAt.Sub(now).Seconds()),
		ExpiresAt:    pair.AccessExpiresAt,
	}, nil
}

// Logout revokes the session behind a refresh credential. Unknown, expired
// and already-revoked credentials all succeed: logging out twice is not an
// error.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	session, err := s.sessions.FindByTokenHash(ctx, token.Hash(refreshToken))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch session")
	}

	revoked, err := s.sessions.Revoke(ctx, session.ID, s.now())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke session")
	}
	if revoked {
		s.logger.Info("session revoked", zap.String("session_id", session.ID), zap.String("account_id", session.AccountID))
	}
	return nil
}

// VerifyAccess resolves an access credential to its claims.
func (s *AuthService) VerifyAccess(accessToken string) (*token.Claims, error) {
	return s.verifier.Verify(accessToken)
}

// CurrentAccount returns the account summary behind an access credential.
func (s *AuthService) CurrentAccount(ctx context.Context, claims *token.Claims) (*models.AccountInfo, error) {
	account, err := s.accounts.FindByID(ctx, claims.AccountID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}
	return accountInfo(account), nil
}

func (s *AuthService) openSession(ctx context.Context, account *models.Account) (*models.TokenPairResponse, error) {
	pair, err := s.issuer.Issue(account.ID, account.Role)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue tokens")
	}

	now := s.now()
	session := &models.Session{
		AccountID: account.ID,
		TokenHash: token.Hash(pair.RefreshToken),
		ExpiresAt: pair.RefreshExpiresAt,
		CreatedAt: now,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist session")
	}

	return &models.TokenPairResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int64(pair.AccessExpiresAt.Sub(now).Seconds()),
		ExpiresAt:    pair.AccessExpiresAt,
		Account:      accountInfo(account),
	}, nil
}

func accountInfo(account *models.Account) *models.AccountInfo {
	return &models.AccountInfo{
		ID:       account.ID,
		Email:    account.Email,
		Role:     account.Role,
		Verified: account.Verified,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func fieldDetails(err error) []appErrors.FieldError {
	var verr validator.ValidationErrors
	if !errors.As(err, &verr) {
		return []appErrors.FieldError{{Message: "invalid payload"}}
	}
	details := make([]appErrors.FieldError, 0, len(verr))
	for _, fe := range verr {
		details = append(details, appErrors.FieldError{
			Field:   strings.ToLower(fe.Field()),
			Message: "failed on rule: " + fe.Tag(),
		})
	}
	return details
}
