package persist

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the executor subset the repos need. Satisfied by *pgxpool.Pool
// and pgx.Tx, so the batch sync can run the same statements inside its
// per-cycle transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PlayerRow struct {
	ID           int64
	Username     string
	PasswordHash string
	MapID        string
	X            int
	Y            int
	Facing       string
	CurrentHP    int
	MaxHP        int
	Banned       bool
	TimeoutUntil *time.Time
	CreatedAt    time.Time
	LastLogin    *time.Time
}

type PlayerRepo struct {
	db *DB
}

func NewPlayerRepo(db *DB) *PlayerRepo {
	return &PlayerRepo{db: db}
}

const playerColumns = `id, username, password_hash, map_id, x, y, facing,
	        current_hp, max_hp, banned, timeout_until, created_at, last_login`

func scanPlayer(row pgx.Row) (*PlayerRow, error) {
	p := &PlayerRow{}
	err := row.Scan(
		&p.ID, &p.Username, &p.PasswordHash, &p.MapID, &p.X, &p.Y, &p.Facing,
		&p.CurrentHP, &p.MaxHP, &p.Banned, &p.TimeoutUntil, &p.CreatedAt, &p.LastLogin,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Load returns the player row, or (nil, nil) when the id is unknown.
func (r *PlayerRepo) Load(ctx context.Context, id int64) (*PlayerRow, error) {
	return scanPlayer(r.db.Pool.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE id = $1`, id))
}

func (r *PlayerRepo) LoadByUsername(ctx context.Context, username string) (*PlayerRow, error) {
	return scanPlayer(r.db.Pool.QueryRow(ctx,
		`SELECT `+playerColumns+` FROM players WHERE username = $1`, username))
}

// Create inserts a new player and fills in the generated id.
func (r *PlayerRepo) Create(ctx context.Context, p *PlayerRow) error {
	return r.db.Pool.QueryRow(ctx,
		`INSERT INTO players (username, password_hash, map_id, x, y, facing, current_hp, max_hp)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at`,
		p.Username, p.PasswordHash, p.MapID, p.X, p.Y, p.Facing, p.CurrentHP, p.MaxHP,
	).Scan(&p.ID, &p.CreatedAt)
}

// SaveState upserts the volatile player columns (position, facing, hp).
// Used by the batch sync; idempotent by primary key.
func (r *PlayerRepo) SaveState(ctx context.Context, q Querier, id int64, mapID string, x, y int, facing string, currentHP, maxHP int) error {
	_, err := q.Exec(ctx,
		`UPDATE players SET map_id = $2, x = $3, y = $4, facing = $5,
		        current_hp = $6, max_hp = $7
		 WHERE id = $1`,
		id, mapID, x, y, facing, currentHP, maxHP)
	return err
}

func (r *PlayerRepo) TouchLastLogin(ctx context.Context, id int64) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE players SET last_login = now() WHERE id = $1`, id)
	return err
}

func (r *PlayerRepo) SetBanned(ctx context.Context, id int64, banned bool) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE players SET banned = $2 WHERE id = $1`, id, banned)
	return err
}

// SetTimeout sets a temporary lockout; until == nil clears it.
func (r *PlayerRepo) SetTimeout(ctx context.Context, id int64, until *time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE players SET timeout_until = $2 WHERE id = $1`, id, until)
	return err
}
