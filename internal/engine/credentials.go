package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradeline/internal/domain"
	"tradeline/internal/journal"
	"tradeline/internal/repo"
)

const apiKeyPrefix = "tl_"

// IssuedKey is a freshly created API key. Secret is only available here.
type IssuedKey struct {
	domain.APIKey
	Secret string
}

// CreateAPIKey registers actor if needed and issues a key bound to it.
func (e Engine) CreateAPIKey(ctx context.Context, actor domain.Actor, name, issuedBy string) (k IssuedKey, err error) {
	const op = "create_api_key"
	defer e.observe(op, time.Now(), &err)
	actor.ID = strings.TrimSpace(actor.ID)
	if actor.ID == "" {
		return IssuedKey{}, invalidInput(op, "actor_id required")
	}
	if !actor.Role.Valid() {
		return IssuedKey{}, invalidInput(op, "invalid role %q", actor.Role)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return IssuedKey{}, wrap(op, err)
	}
	secret := apiKeyPrefix + hex.EncodeToString(buf)

	tx, err := e.begin(ctx, op)
	if err != nil {
		return IssuedKey{}, err
	}
	defer tx.Rollback()
	if err := e.ensureActor(ctx, tx, actor.ID, actor.Role); err != nil {
		return IssuedKey{}, wrap(op, err)
	}
	if issuedBy == "" {
		issuedBy = actor.ID
	}
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actor.ID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(secret),
		IssuedBy:  issuedBy,
		CreatedAt: e.stamp(),
	}
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return IssuedKey{}, wrap(op, err)
	}
	if err := e.record(ctx, tx, "apikey.created", "", journal.KindActor, actor.ID, issuedBy, journal.Payload{
		"key_id": key.ID,
		"name":   key.Name,
	}); err != nil {
		return IssuedKey{}, wrap(op, err)
	}
	if err := e.commit(op, tx); err != nil {
		return IssuedKey{}, err
	}
	return IssuedKey{APIKey: key, Secret: secret}, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	keys, err := e.Repo.ListAPIKeys(ctx, actorID)
	if err != nil {
		return nil, wrap("list_api_keys", err)
	}
	return keys, nil
}

// RevokeAPIKey deletes a key and journals who revoked it.
func (e Engine) RevokeAPIKey(ctx context.Context, id, revokedBy string) (err error) {
	const op = "revoke_api_key"
	defer e.observe(op, time.Now(), &err)
	if strings.TrimSpace(id) == "" {
		return invalidInput(op, "id required")
	}
	tx, err := e.begin(ctx, op)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	key, err := e.Repo.DeleteAPIKeyTx(ctx, tx, id)
	if err != nil {
		return wrapLookup(op, "api_key", id, err)
	}
	if revokedBy == "" {
		revokedBy = key.ActorID
	}
	if err := e.record(ctx, tx, "apikey.revoked", "", journal.KindActor, key.ActorID, revokedBy, journal.Payload{
		"key_id": key.ID,
		"name":   key.Name,
	}); err != nil {
		return wrap(op, err)
	}
	return e.commit(op, tx)
}

func (e Engine) ListActors(ctx context.Context, role string) ([]domain.Actor, error) {
	if role != "" && !domain.Role(role).Valid() {
		return nil, invalidInput("list_actors", "unknown role %q", role)
	}
	actors, err := e.Repo.ListActors(ctx, role)
	if err != nil {
		return nil, wrap("list_actors", err)
	}
	return actors, nil
}
