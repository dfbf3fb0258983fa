package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/mudwire/internal/session"
)

// ErrCharacterNotFound is returned when a character lookup yields no results.
var ErrCharacterNotFound = errors.New("character not found")

// ErrCharacterNameTaken is returned when creating a character whose name is in use.
var ErrCharacterNameTaken = errors.New("character name already taken")

const identityColumns = `id, name, group_id, emote_blocked, hero_blocked, map_x, map_y`

// IdentityRepository persists the character state broadcasts filter on.
type IdentityRepository struct {
	db *pgxpool.Pool
}

// NewIdentityRepository creates an IdentityRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewIdentityRepository(db *pgxpool.Pool) *IdentityRepository {
	return &IdentityRepository{db: db}
}

func scanIdentity(row pgx.Row) (session.Identity, error) {
	var id session.Identity
	err := row.Scan(&id.CharacterID, &id.Name, &id.GroupID, &id.EmoteBlocked, &id.HeroBlocked, &id.X, &id.Y)
	return id, err
}

// Create inserts a character named name at (x, y).
//
// Precondition: name must be non-empty and contain no whitespace.
// Postcondition: Returns the stored identity with CharacterID set, or ErrCharacterNameTaken.
func (r *IdentityRepository) Create(ctx context.Context, name string, x, y int) (session.Identity, error) {
	id, err := scanIdentity(r.db.QueryRow(ctx, `
		INSERT INTO characters (name, map_x, map_y)
		VALUES ($1, $2, $3)
		RETURNING `+identityColumns,
		name, x, y,
	))
	if err != nil {
		if isDuplicateKeyError(err) {
			return session.Identity{}, ErrCharacterNameTaken
		}
		return session.Identity{}, fmt.Errorf("inserting character: %w", err)
	}
	return id, nil
}

// Load returns the identity of the character with the given id.
//
// Precondition: characterID must be > 0.
// Postcondition: Returns the identity or ErrCharacterNotFound.
func (r *IdentityRepository) Load(ctx context.Context, characterID int64) (session.Identity, error) {
	id, err := scanIdentity(r.db.QueryRow(ctx,
		`SELECT `+identityColumns+` FROM characters WHERE id = $1`,
		characterID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return session.Identity{}, ErrCharacterNotFound
		}
		return session.Identity{}, fmt.Errorf("loading character %d: %w", characterID, err)
	}
	return id, nil
}

// SetBlocks stores the character's emote and hero block flags.
//
// Postcondition: Returns nil on success or ErrCharacterNotFound.
func (r *IdentityRepository) SetBlocks(ctx context.Context, characterID int64, emote, hero bool) error {
	return r.update(ctx, characterID, "setting blocks",
		`UPDATE characters SET emote_blocked = $2, hero_blocked = $3, updated_at = NOW() WHERE id = $1`,
		emote, hero)
}

// SetGroup stores the character's group; zero leaves the group.
//
// Postcondition: Returns nil on success or ErrCharacterNotFound.
func (r *IdentityRepository) SetGroup(ctx context.Context, characterID, groupID int64) error {
	return r.update(ctx, characterID, "setting group",
		`UPDATE characters SET group_id = $2, updated_at = NOW() WHERE id = $1`,
		groupID)
}

// SavePosition stores the character's map position.
//
// Postcondition: Returns nil on success or ErrCharacterNotFound.
func (r *IdentityRepository) SavePosition(ctx context.Context, characterID int64, x, y int) error {
	return r.update(ctx, characterID, "saving position",
		`UPDATE characters SET map_x = $2, map_y = $3, updated_at = NOW() WHERE id = $1`,
		x, y)
}

func (r *IdentityRepository) update(ctx context.Context, characterID int64, op, sql string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, append([]any{characterID}, args...)...)
	if err != nil {
		return fmt.Errorf("%s for character %d: %w", op, characterID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCharacterNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	// pgx wraps PostgreSQL errors; check for SQLSTATE 23505 (unique_violation)
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
