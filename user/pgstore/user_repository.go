package pgstore

import (
	"context"
	"errors"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/liestudio/studio/user"
)

const uniqueViolation = "23505"

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

var userColumns = []string{"uid", "username", "email", "password_hash", "role", "session_id"}

// querier is the part of pgxpool.Pool and pgx.Tx the repository uses.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UserRepository implements the user.Repository interface using PostgreSQL
type UserRepository struct {
	db querier
}

var _ user.Repository = (*UserRepository)(nil)

// GetByUID retrieves a user by uid
func (repo *UserRepository) GetByUID(ctx context.Context, uid int64) (*user.User, error) {
	return repo.getWhere(ctx, squirrel.Eq{"uid": uid})
}

// GetByUsername retrieves a user by username, ignoring case
func (repo *UserRepository) GetByUsername(ctx context.Context, username string) (*user.User, error) {
	if username == "" {
		return nil, nil
	}
	return repo.getWhere(ctx, squirrel.Expr("LOWER(username) = LOWER(?)", username))
}

// GetByEmail retrieves a user by email address, ignoring case
func (repo *UserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	if email == "" {
		return nil, nil
	}
	return repo.getWhere(ctx, squirrel.Expr("LOWER(email) = LOWER(?)", email))
}

// GetBySessionID retrieves the user bound to a session
func (repo *UserRepository) GetBySessionID(ctx context.Context, sessionID string) (*user.User, error) {
	if sessionID == "" {
		return nil, nil
	}
	return repo.getWhere(ctx, squirrel.Eq{"session_id": sessionID})
}

// Count returns the number of users
func (repo *UserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := repo.db.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Create creates a new user with the next free uid
func (repo *UserRepository) Create(ctx context.Context, create *user.Create) (*user.User, error) {
	tx, err := repo.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Serialize uid allocation between concurrent creators.
	if _, err := tx.Exec(ctx, "LOCK TABLE users IN SHARE ROW EXCLUSIVE MODE"); err != nil {
		return nil, err
	}

	var uid int64
	if err := tx.QueryRow(ctx, "SELECT COALESCE(MAX(uid) + 1, 0) FROM users").Scan(&uid); err != nil {
		return nil, err
	}

	sql, values, err := psql.Insert("users").
		Columns(userColumns...).
		Values(uid, create.Username, nullable(create.Email), create.PasswordHash, create.Role, nil).
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, sql, values...); err != nil {
		return nil, translate(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &user.User{
		UID:          uid,
		Username:     create.Username,
		Email:        create.Email,
		PasswordHash: create.PasswordHash,
		Role:         create.Role,
	}, nil
}

// Update updates an existing user
func (repo *UserRepository) Update(ctx context.Context, uid int64, update *user.Update) (*user.User, error) {
	query := psql.Update("users").Where(squirrel.Eq{"uid": uid})
	changed := false
	if update.Email != nil {
		query = query.Set("email", nullable(*update.Email))
		changed = true
	}
	if update.PasswordHash != nil {
		query = query.Set("password_hash", *update.PasswordHash)
		changed = true
	}
	if update.Role != nil {
		query = query.Set("role", *update.Role)
		changed = true
	}
	if update.SessionID != nil {
		query = query.Set("session_id", nullable(*update.SessionID))
		changed = true
	}

	if changed {
		sql, values, err := query.ToSql()
		if err != nil {
			return nil, err
		}
		tag, err := repo.db.Exec(ctx, sql, values...)
		if err != nil {
			return nil, translate(err)
		}
		if tag.RowsAffected() == 0 {
			return nil, user.ErrUserNotFound
		}
	}

	obj, err := repo.GetByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, user.ErrUserNotFound
	}
	return obj, nil
}

// ClearSessions unbinds every user from its session
func (repo *UserRepository) ClearSessions(ctx context.Context) (int, error) {
	tag, err := repo.db.Exec(ctx, "UPDATE users SET session_id = NULL WHERE session_id IS NOT NULL")
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Delete deletes a user by uid
func (repo *UserRepository) Delete(ctx context.Context, uid int64) error {
	_, err := repo.db.Exec(ctx, "DELETE FROM users WHERE uid = $1", uid)
	return err
}

func (repo *UserRepository) getWhere(ctx context.Context, pred any) (*user.User, error) {
	sql, values, err := psql.Select(userColumns...).From("users").Where(pred).Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	obj, err := rowToUser(repo.db.QueryRow(ctx, sql, values...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return obj, nil
}

func rowToUser(row pgx.Row) (*user.User, error) {
	var (
		obj       user.User
		email     *string
		sessionID *string
	)
	if err := row.Scan(&obj.UID, &obj.Username, &email, &obj.PasswordHash, &obj.Role, &sessionID); err != nil {
		return nil, err
	}
	if email != nil {
		obj.Email = *email
	}
	if sessionID != nil {
		obj.SessionID = *sessionID
	}
	return &obj, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func translate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch {
		case strings.Contains(pgErr.ConstraintName, "username"):
			return user.ErrUsernameTaken
		case strings.Contains(pgErr.ConstraintName, "email"):
			return user.ErrEmailTaken
		}
	}
	return err
}
