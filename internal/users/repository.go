package users

import (
	"context"
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("users: not found")

// Repository is the persistence contract the matcher depends on.
type Repository interface {
	GetByID(ctx context.Context, id string) (User, error)
	GetByAgentNumber(ctx context.Context, agentNumber string) (User, error)
	// FirstAdmin returns any user holding the admin role; it is the
	// last resort of the inbound agent-resolution chain.
	FirstAdmin(ctx context.Context) (User, error)
}

type SQLRepository struct {
	db *sql.DB
}

func NewSQLRepository(db *sql.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

const userColumns = `id, name, email, role, smartflo_agent_number, created_at, updated_at`

func (r *SQLRepository) GetByID(ctx context.Context, id string) (User, error) {
	const q = `
SELECT ` + userColumns + `
FROM users
WHERE id = $1
`
	return r.scanOne(r.db.QueryRowContext(ctx, q, id))
}

func (r *SQLRepository) GetByAgentNumber(ctx context.Context, agentNumber string) (User, error) {
	const q = `
SELECT ` + userColumns + `
FROM users
WHERE smartflo_agent_number = $1
LIMIT 1
`
	return r.scanOne(r.db.QueryRowContext(ctx, q, agentNumber))
}

func (r *SQLRepository) FirstAdmin(ctx context.Context) (User, error) {
	const q = `
SELECT ` + userColumns + `
FROM users
WHERE role = $1
ORDER BY created_at
LIMIT 1
`
	return r.scanOne(r.db.QueryRowContext(ctx, q, RoleAdmin))
}

func (r *SQLRepository) scanOne(row *sql.Row) (User, error) {
	var u User
	if err := row.Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&u.Role,
		&u.SmartfloAgentNumber,
		&u.CreatedAt,
		&u.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}
