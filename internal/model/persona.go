// Package model defines the domain types for the persona messaging engine.
package model

import (
	"fmt"
)

// Archetype is the required style tag of a persona's trait set.
type Archetype string

const (
	ArchetypeCoach    Archetype = "coach"
	ArchetypeFoodie   Archetype = "foodie"
	ArchetypeExplorer Archetype = "explorer"
	ArchetypeArtist   Archetype = "artist"
	ArchetypeMentor   Archetype = "mentor"
)

// Archetypes lists every recognized archetype.
var Archetypes = []Archetype{
	ArchetypeCoach,
	ArchetypeFoodie,
	ArchetypeExplorer,
	ArchetypeArtist,
	ArchetypeMentor,
}

// TraitValue is a scalar trait: string, number, or boolean.
type TraitValue any

// Persona is a synthetic, non-human conversational participant.
// Immutable within this engine; written by the external admin process.
type Persona struct {
	ID          string                `json:"id"`
	Username    string                `json:"username"`
	DisplayName string                `json:"display_name"`
	AvatarURL   string                `json:"avatar_url,omitempty"`
	Archetype   Archetype             `json:"archetype"`
	Traits      map[string]TraitValue `json:"traits"`
}

// Available reports whether the persona may take part in conversations:
// it needs a username and at least one trait.
func (p *Persona) Available() bool {
	return p.Username != "" && len(p.Traits) > 0
}

// Validate checks the trait set at registry load time, so consumers never
// see an unknown archetype or a non-scalar trait value.
func (p *Persona) Validate() error {
	if p.ID == "" {
		return &ValidationError{Field: "id", Reason: "empty"}
	}
	valid := false
	for _, a := range Archetypes {
		if p.Archetype == a {
			valid = true
			break
		}
	}
	if !valid {
		return &ValidationError{Field: "archetype", Reason: fmt.Sprintf("unknown archetype %q", p.Archetype)}
	}
	for k, v := range p.Traits {
		switch v.(type) {
		case string, bool, int, int64, float64:
		default:
			return &ValidationError{Field: "traits." + k, Reason: fmt.Sprintf("non-scalar trait value %T", v)}
		}
	}
	return nil
}

// Participant is any conversation party: a human user or a persona.
type Participant struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	IsPersona   bool   `json:"is_persona"`
}
