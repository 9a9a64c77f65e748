package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/snapconnect/persona-engine/internal/model"
)

// GetPersona loads a persona by id. A participant that exists but is not
// a persona resolves to model.ErrPersonaNotFound, same as a missing id.
func (s *Store) GetPersona(ctx context.Context, id string) (*model.Persona, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, display_name, avatar_url, archetype, traits
		FROM participants WHERE id = ? AND is_persona = 1
	`, id)

	p, err := scanPersona(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrPersonaNotFound
	}
	if err != nil {
		return nil, &model.StorageUnavailable{Op: "get persona", Err: err}
	}
	return p, nil
}

// ListPersonas returns every persona row, validated. Availability
// filtering is the registry's concern.
func (s *Store) ListPersonas(ctx context.Context) ([]model.Persona, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, display_name, avatar_url, archetype, traits
		FROM participants WHERE is_persona = 1
	`)
	if err != nil {
		return nil, &model.StorageUnavailable{Op: "list personas", Err: err}
	}
	defer rows.Close()

	var personas []model.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, &model.StorageUnavailable{Op: "list personas", Err: err}
		}
		personas = append(personas, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageUnavailable{Op: "list personas", Err: err}
	}
	return personas, nil
}

// ListHumans returns the human participants the scheduler evaluates for
// outreach.
func (s *Store) ListHumans(ctx context.Context) ([]model.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, display_name FROM participants WHERE is_persona = 0
	`)
	if err != nil {
		return nil, &model.StorageUnavailable{Op: "list humans", Err: err}
	}
	defer rows.Close()

	var humans []model.Participant
	for rows.Next() {
		var p model.Participant
		if err := rows.Scan(&p.ID, &p.Username, &p.DisplayName); err != nil {
			return nil, &model.StorageUnavailable{Op: "list humans", Err: err}
		}
		humans = append(humans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &model.StorageUnavailable{Op: "list humans", Err: err}
	}
	return humans, nil
}

// SavePersona writes a persona row. The admin process owns this table in
// production; the engine itself only writes it from fixtures and tools.
func (s *Store) SavePersona(ctx context.Context, p *model.Persona) error {
	if err := p.Validate(); err != nil {
		return err
	}
	traits, err := json.Marshal(p.Traits)
	if err != nil {
		return &model.ValidationError{Field: "traits", Reason: err.Error()}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO participants (id, username, display_name, avatar_url, is_persona, archetype, traits)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			avatar_url = excluded.avatar_url,
			archetype = excluded.archetype,
			traits = excluded.traits
	`, p.ID, p.Username, p.DisplayName, nullString(p.AvatarURL), string(p.Archetype), string(traits))
	if err != nil {
		return &model.StorageUnavailable{Op: "save persona", Err: err}
	}
	return nil
}

// SaveHuman writes a human participant row. Fixture/tool seam, as above.
func (s *Store) SaveHuman(ctx context.Context, p *model.Participant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO participants (id, username, display_name, is_persona)
		VALUES (?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name
	`, p.ID, p.Username, p.DisplayName)
	if err != nil {
		return &model.StorageUnavailable{Op: "save human", Err: err}
	}
	return nil
}

func (s *Store) participantInfo(ctx context.Context, id string) (exists, isPersona bool, err error) {
	var flag int
	err = s.db.QueryRowContext(ctx, `
		SELECT is_persona FROM participants WHERE id = ?
	`, id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, &model.StorageUnavailable{Op: "lookup participant", Err: err}
	}
	return true, flag == 1, nil
}

func scanPersona(row rowScanner) (*model.Persona, error) {
	var (
		p         model.Persona
		avatarURL sql.NullString
		archetype sql.NullString
		traitsRaw string
	)
	if err := row.Scan(&p.ID, &p.Username, &p.DisplayName, &avatarURL, &archetype, &traitsRaw); err != nil {
		return nil, err
	}
	p.AvatarURL = avatarURL.String
	p.Archetype = model.Archetype(archetype.String)

	if err := json.Unmarshal([]byte(traitsRaw), &p.Traits); err != nil {
		return nil, fmt.Errorf("persona %s: malformed traits: %w", p.ID, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("persona %s: %w", p.ID, err)
	}
	return &p, nil
}
