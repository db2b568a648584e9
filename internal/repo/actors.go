package repo

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"tradeline/internal/domain"
)

// EnsureActor records an actor the first time it is seen. An existing actor keeps its role.
func (r Repo) EnsureActor(ctx context.Context, tx *sql.Tx, a domain.Actor) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO actors(id, role, created_at) VALUES (?,?,?)`, a.ID, string(a.Role), a.CreatedAt)
	return err
}

func (r Repo) GetActor(ctx context.Context, id string) (domain.Actor, error) {
	var a domain.Actor
	var role string
	err := r.DB.QueryRowContext(ctx, `SELECT id, role, created_at FROM actors WHERE id=?`, id).Scan(&a.ID, &role, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	a.Role = domain.Role(role)
	return a, err
}

func (r Repo) ListActors(ctx context.Context, role string) ([]domain.Actor, error) {
	query := `SELECT id, role, created_at FROM actors`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Actor
	for rows.Next() {
		var a domain.Actor
		var role string
		if err := rows.Scan(&a.ID, &role, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Role = domain.Role(role)
		res = append(res, a)
	}
	return res, rows.Err()
}

// Credentials. Only the sha256 of a key is stored; a key acts with its actor's stored role.

// HashAPIKey returns the stored digest of a presented key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

const apiKeyColumns = `k.id,k.actor_id,COALESCE(k.name,''),k.key_hash,COALESCE(k.issued_by,''),k.created_at,COALESCE(k.last_used_at,'')`

func scanAPIKey(s scanner, extra ...any) (domain.APIKey, error) {
	var k domain.APIKey
	dest := append([]any{&k.ID, &k.ActorID, &k.Name, &k.KeyHash, &k.IssuedBy, &k.CreatedAt, &k.LastUsedAt}, extra...)
	err := s.Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return k, ErrNotFound
	}
	return k, err
}

// InsertAPIKey stores a key for an actor that must already exist in tx.
func (r Repo) InsertAPIKey(ctx context.Context, tx *sql.Tx, k domain.APIKey) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO api_keys(id,actor_id,name,key_hash,issued_by,created_at) VALUES (?,?,?,?,?,?)`,
		k.ID, k.ActorID, nullable(k.Name), k.KeyHash, nullable(k.IssuedBy), k.CreatedAt)
	return err
}

// AuthenticateAPIKey stamps last_used_at on the key with the given digest and returns it
// together with its owning actor.
func (r Repo) AuthenticateAPIKey(ctx context.Context, hash, usedAt string) (domain.Actor, domain.APIKey, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE api_keys SET last_used_at=? WHERE key_hash=?`, usedAt, hash)
	if err != nil {
		return domain.Actor{}, domain.APIKey{}, err
	}
	n, err := rowsAffected(res)
	if err != nil {
		return domain.Actor{}, domain.APIKey{}, err
	}
	if n == 0 {
		return domain.Actor{}, domain.APIKey{}, ErrNotFound
	}
	var a domain.Actor
	var role string
	k, err := scanAPIKey(r.DB.QueryRowContext(ctx, `SELECT `+apiKeyColumns+`,a.role,a.created_at FROM api_keys k JOIN actors a ON a.id=k.actor_id WHERE k.key_hash=?`, hash),
		&role, &a.CreatedAt)
	if err != nil {
		return domain.Actor{}, domain.APIKey{}, err
	}
	a.ID = k.ActorID
	a.Role = domain.Role(role)
	return a, k, nil
}

// ListAPIKeys returns keys newest first, optionally for one actor.
func (r Repo) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys k`
	var args []any
	if actorID != "" {
		query += ` WHERE k.actor_id=?`
		args = append(args, actorID)
	}
	rows, err := r.DB.QueryContext(ctx, query+` ORDER BY k.created_at DESC, k.id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, k)
	}
	return res, rows.Err()
}

// DeleteAPIKeyTx removes a key and returns what was removed.
func (r Repo) DeleteAPIKeyTx(ctx context.Context, tx *sql.Tx, id string) (domain.APIKey, error) {
	k, err := scanAPIKey(r.q(tx).QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys k WHERE k.id=?`, id))
	if err != nil {
		return k, err
	}
	_, err = r.q(tx).ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	return k, err
}
