package entity

import (
	"strings"
	"time"
)

// Type classifies what an entity refers to.
type Type string

const (
	TypePerson       Type = "person"
	TypeOrganization Type = "organization"
	TypeLocation     Type = "location"
	TypeProduct      Type = "product"
	TypeDate         Type = "date"
	TypeEvent        Type = "event"
	TypeConcept      Type = "concept"
	TypeCustom       Type = "custom"
)

// normalizeType maps a free-form type string from a model response to one of
// the defined types, defaulting to custom.
func normalizeType(s string) Type {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypePerson:
		return TypePerson
	case TypeOrganization:
		return TypeOrganization
	case TypeLocation:
		return TypeLocation
	case TypeProduct:
		return TypeProduct
	case TypeDate:
		return TypeDate
	case TypeEvent:
		return TypeEvent
	case TypeConcept:
		return TypeConcept
	}
	return TypeCustom
}

// Relationship links an entity to another one by name. TargetEntityID is
// filled when the target was extracted in the same batch.
type Relationship struct {
	TargetEntityID   string `json:"target_entity_id,omitempty"`
	TargetName       string `json:"target_name"`
	RelationshipType string `json:"relationship_type"`
}

// Entity is one tracked conversation entity. Facts are append-only and
// deduplicated; relationships are unioned by (TargetName, RelationshipType).
type Entity struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	Type           Type           `json:"type"`
	Description    string         `json:"description,omitempty"`
	Facts          []string       `json:"facts,omitempty"`
	Relationships  []Relationship `json:"relationships,omitempty"`
	FirstMentioned time.Time      `json:"first_mentioned"`
	LastUpdated    time.Time      `json:"last_updated"`
	MentionCount   int            `json:"mention_count"`
	RelevanceScore float64        `json:"relevance_score"`
}

// EntityID derives the canonical id from the normalized name and the type,
// so re-mentions of the same entity merge instead of duplicating.
func EntityID(name string, t Type) string {
	slug := strings.ToLower(strings.Join(strings.Fields(name), "_"))
	return slug + ":" + string(t)
}

func (e *Entity) clone() Entity {
	out := *e
	if e.Facts != nil {
		out.Facts = append([]string(nil), e.Facts...)
	}
	if e.Relationships != nil {
		out.Relationships = append([]Relationship(nil), e.Relationships...)
	}
	return out
}

// unionFacts appends the new facts that are not already present, preserving
// insertion order.
func unionFacts(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	for _, f := range base {
		seen[f] = struct{}{}
	}
	for _, f := range extra {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		base = append(base, f)
	}
	return base
}

// unionRelationships unions by the (TargetName, RelationshipType) pair.
func unionRelationships(base, extra []Relationship) []Relationship {
	key := func(r Relationship) string {
		return strings.ToLower(r.TargetName) + "\x00" + strings.ToLower(r.RelationshipType)
	}
	seen := make(map[string]struct{}, len(base))
	for _, r := range base {
		seen[key(r)] = struct{}{}
	}
	for _, r := range extra {
		if r.TargetName == "" || r.RelationshipType == "" {
			continue
		}
		k := key(r)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		base = append(base, r)
	}
	return base
}
