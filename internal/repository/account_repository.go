package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/taskora/taskora-api/internal/models"
)

// ErrDuplicateEmail signals the accounts unique-email index rejected an
// insert. Uniqueness is enforced by the storage layer, not application code.
var ErrDuplicateEmail = errors.New("email already registered")

const pqUniqueViolation = "23505"

// AccountRepository provides database access for account records.
type AccountRepository struct {
	db *sqlx.DB
}

// NewAccountRepository creates a new instance of AccountRepository.
func NewAccountRepository(db *sqlx.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts a new account row.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	const query = `INSERT INTO accounts (id, email, password_hash, role, verified, created_at, updated_at) VALUES (:id, :email, :password_hash, :role, :verified, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, account); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// FindByEmail returns an account by normalized email address.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	const query = `SELECT id, email, password_hash, role, verified, created_at, updated_at FROM accounts WHERE email = $1 LIMIT 1`
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find account by email: %w", err)
	}
	return &account, nil
}

// FindByID returns an account by identifier.
func (r *AccountRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	const query = `SELECT id, email, password_hash, role, verified, created_at, updated_at FROM accounts WHERE id = $1 LIMIT 1`
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find account by id: %w", err)
	}
	return &account, nil
}
