package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"grip/internal/platform/models"
)

// Querier is satisfied by both *sql.DB and *sql.Tx so repositories can join a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func newID(prefix string) string {
	return prefix + uuid.NewString()
}

func now() int64 {
	return time.Now().Unix()
}

// IsUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint failure.
func IsUniqueViolation(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// RunInTx runs fn inside a transaction, rolling back on error.
func RunInTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

type UserRepository struct {
	db Querier
}

func NewUserRepository(db Querier) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) WithTx(tx *sql.Tx) *UserRepository {
	return &UserRepository{db: tx}
}

const userColumns = `id, login, name, email, github_user_id, created_at, updated_at`

func scanUser(s scanner) (*models.User, error) {
	user := &models.User{}
	err := s.Scan(&user.ID, &user.Login, &user.Name, &user.Email, &user.GitHubUserID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// UpsertByGitHubID creates the user on first login and refreshes profile fields afterwards.
func (r *UserRepository) UpsertByGitHubID(ctx context.Context, user *models.User) error {
	ts := now()
	if user.ID == "" {
		user.ID = newID("usr_")
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (id, login, name, email, github_user_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(github_user_id) DO UPDATE SET
			login = excluded.login,
			name = excluded.name,
			email = excluded.email,
			updated_at = excluded.updated_at
		RETURNING id, created_at, updated_at
	`, user.ID, user.Login, user.Name, user.Email, user.GitHubUserID, ts, ts)
	return row.Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, err
}

func (r *UserRepository) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE login = ? COLLATE NOCASE`, login))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return user, err
}

// MapGitHubIDs returns the GRIP user id for every GitHub id that has signed up. GitHub ids
// without an account are absent from the result.
func (r *UserRepository) MapGitHubIDs(ctx context.Context) (map[int64]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, github_user_id FROM users WHERE github_user_id IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[int64]string)
	for rows.Next() {
		var id string
		var githubID int64
		if err := rows.Scan(&id, &githubID); err != nil {
			return nil, err
		}
		result[githubID] = id
	}
	return result, rows.Err()
}

type AccountRepository struct {
	db Querier
}

func NewAccountRepository(db Querier) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) WithTx(tx *sql.Tx) *AccountRepository {
	return &AccountRepository{db: tx}
}

func (r *AccountRepository) Upsert(ctx context.Context, account *models.Account) error {
	ts := now()
	account.CreatedAt, account.UpdatedAt = ts, ts
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (user_id, provider, account_id, access_token, scope, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, account_id) DO UPDATE SET
			user_id = excluded.user_id,
			access_token = excluded.access_token,
			scope = excluded.scope,
			updated_at = excluded.updated_at
	`, account.UserID, account.Provider, account.AccountID, account.AccessToken, account.Scope, account.CreatedAt, account.UpdatedAt)
	return err
}

// GetToken returns the stored OAuth token for the provider, or "" when the user has not
// connected that provider.
func (r *AccountRepository) GetToken(ctx context.Context, userID, provider string) (string, error) {
	var token string
	err := r.db.QueryRowContext(ctx, `
		SELECT access_token FROM accounts WHERE user_id = ? AND provider = ? ORDER BY updated_at DESC LIMIT 1
	`, userID, provider).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return token, err
}
