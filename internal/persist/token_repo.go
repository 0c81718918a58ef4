package persist

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Bearer tokens are minted out of band (realmadmin or the auth service);
// the game server only ever sees the SHA-256 of a presented token.

type TokenRow struct {
	TokenHash string
	PlayerID  int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

type TokenRepo struct {
	db *DB
}

func NewTokenRepo(db *DB) *TokenRepo {
	return &TokenRepo{db: db}
}

// HashToken derives the stored lookup key from a raw bearer token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the token row by hash, or (nil, nil) when absent.
func (r *TokenRepo) Lookup(ctx context.Context, tokenHash string) (*TokenRow, error) {
	row := &TokenRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT token_hash, player_id, expires_at, created_at
		 FROM auth_tokens WHERE token_hash = $1`, tokenHash,
	).Scan(&row.TokenHash, &row.PlayerID, &row.ExpiresAt, &row.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func (r *TokenRepo) Insert(ctx context.Context, tokenHash string, playerID int64, expiresAt time.Time) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO auth_tokens (token_hash, player_id, expires_at)
		 VALUES ($1, $2, $3)`, tokenHash, playerID, expiresAt)
	return err
}

// PurgeExpired trims dead tokens; run opportunistically at boot.
func (r *TokenRepo) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM auth_tokens WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
