package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sakif/course-portal/internal/apperror"
	"github.com/sakif/course-portal/internal/model"
	"github.com/sakif/course-portal/internal/repository"
)

// AccountStore implements repository.AccountRepository. Accounts are plain
// rows with no joins, so they are scanned column by column.
type AccountStore struct {
	db *DB
}

var _ repository.AccountRepository = (*AccountStore)(nil)

const accountColumns = `id, email, name, password_hash, github_id, created_at`

// CreateAccount inserts an account. The accounts trigger creates its
// profile as part of the same statement.
func (s *AccountStore) CreateAccount(ctx context.Context, a *model.Account) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.db.now().UTC()
	}

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Email, a.Name, a.PasswordHash, nullGitHubID(a.GitHubID), formatTime(a.CreatedAt),
	)
	if isUniqueViolation(err) {
		return apperror.Conflict("account", a.Email)
	}
	if err != nil {
		return fmt.Errorf("sqlite: inserting account: %w", err)
	}
	return nil
}

func (s *AccountStore) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	return s.getBy(ctx, "id", id)
}

func (s *AccountStore) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return s.getBy(ctx, "email", email)
}

func (s *AccountStore) GetAccountByGitHubID(ctx context.Context, githubID int64) (*model.Account, error) {
	return s.getBy(ctx, "github_id", githubID)
}

// LinkGitHub attaches a GitHub identity to an account. An identity already
// linked elsewhere is a conflict.
func (s *AccountStore) LinkGitHub(ctx context.Context, accountID string, githubID int64) error {
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE accounts SET github_id = ? WHERE id = ?`, githubID, accountID)
	if isUniqueViolation(err) {
		return apperror.Conflict("github identity", fmt.Sprint(githubID))
	}
	if err != nil {
		return fmt.Errorf("sqlite: linking GitHub identity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: linking GitHub identity: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("account", accountID)
	}
	return nil
}

// getBy looks an account up by one unique column. column is always one of
// the constants above, never caller input.
func (s *AccountStore) getBy(ctx context.Context, column string, value any) (*model.Account, error) {
	var (
		a        model.Account
		githubID sql.NullInt64
		created  string
	)
	err := s.db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE `+column+` = ?`, value,
	).Scan(&a.ID, &a.Email, &a.Name, &a.PasswordHash, &githubID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("account", fmt.Sprint(value))
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: getting account by %s: %w", column, err)
	}

	a.GitHubID = githubID.Int64
	a.CreatedAt = parseTime(created)
	return &a, nil
}

func nullGitHubID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}
