package user

import (
	"context"
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const searchLimit = 10

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var userColumns = []string{"id", "email", "name", "avatar_url", "password", "created_at"}

// Repository is the Postgres-backed user store.
type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) CreateUser(ctx context.Context, user *User) (*User, error) {
	query, args, err := psql.Insert("users").
		Columns("id", "email", "name", "avatar_url", "password").
		Values(user.ID, user.Email, user.Name, user.AvatarURL, user.Password).
		Suffix("RETURNING " + strings.Join(userColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "userRepo.CreateUser.ToSql")
	}

	created := &User{}
	if err := r.db.GetContext(ctx, created, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrEmailTaken
		}
		return nil, errors.Wrap(err, "userRepo.CreateUser.GetContext")
	}
	return created, nil
}

func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query, args, err := psql.Select(userColumns...).
		From("users").
		Where(sq.Eq{"email": email}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "userRepo.GetUserByEmail.ToSql")
	}

	u := &User{}
	if err := r.db.GetContext(ctx, u, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, errors.Wrap(err, "userRepo.GetUserByEmail.GetContext")
	}
	return u, nil
}

// GetUsersByIDs returns the users that exist among ids, in no particular order.
func (r *Repository) GetUsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return []User{}, nil
	}
	query, args, err := psql.Select(userColumns...).
		From("users").
		Where(sq.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "userRepo.GetUsersByIDs.ToSql")
	}

	var users []User
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, errors.Wrap(err, "userRepo.GetUsersByIDs.SelectContext")
	}
	return users, nil
}

// SearchUsers matches name or email, skipping excludeID.
func (r *Repository) SearchUsers(ctx context.Context, term, excludeID string) ([]User, error) {
	pattern := "%" + term + "%"
	q := psql.Select(userColumns...).
		From("users").
		Where(sq.Or{sq.ILike{"name": pattern}, sq.ILike{"email": pattern}}).
		OrderBy("name").
		Limit(searchLimit)
	if excludeID != "" {
		q = q.Where(sq.NotEq{"id": excludeID})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "userRepo.SearchUsers.ToSql")
	}

	users := []User{}
	if err := r.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, errors.Wrap(err, "userRepo.SearchUsers.SelectContext")
	}
	return users, nil
}
