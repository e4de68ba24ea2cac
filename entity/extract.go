package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/memflow/llm"
	"github.com/BaSui01/memflow/types"
)

const extractionSystem = "You extract entities from conversation text. Respond with a single JSON object and nothing else."

const extractionPromptFormat = `Extract the entities mentioned in the conversation below.
%s
Conversation:
%s

Respond in JSON format:
{
  "entities": [
    {
      "name": "entity name",
      "type": "person|organization|location|product|date|event|concept|custom",
      "description": "one sentence",
      "facts": ["short fact"],
      "relationships": [{"target_name": "other entity", "relationship_type": "works_at"}]
    }
  ]
}`

type modelRelationship struct {
	TargetName       string `json:"target_name"`
	RelationshipType string `json:"relationship_type"`
}

type modelEntity struct {
	Name          string              `json:"name"`
	Type          string              `json:"type"`
	Description   string              `json:"description"`
	Facts         []string            `json:"facts"`
	Relationships []modelRelationship `json:"relationships"`
}

type modelExtraction struct {
	Entities []modelEntity `json:"entities"`
}

// extractWithModel asks the configured model for a structured entity list.
// Invocation failures and unparseable responses are returned as errors so the
// caller can fall back to pattern extraction.
func (t *Tracker) extractWithModel(ctx context.Context, text string, opts ExtractOptions) ([]Entity, error) {
	var typeHint string
	if len(opts.Types) > 0 {
		names := make([]string, len(opts.Types))
		for i, tp := range opts.Types {
			names[i] = string(tp)
		}
		typeHint = "Only extract entities of type: " + strings.Join(names, ", ") + ".\n"
	}

	prompt := fmt.Sprintf(extractionPromptFormat, typeHint, text)
	response, err := t.model.Invoke(ctx, []types.Message{
		types.NewSystemMessage(extractionSystem),
		types.NewUserMessage(prompt),
	})
	if err != nil {
		return nil, fmt.Errorf("invoke extraction model: %w", err)
	}

	block, ok := llm.ExtractJSONBlock(response)
	if !ok {
		return nil, fmt.Errorf("no JSON object in extraction response")
	}
	var parsed modelExtraction
	if err := json.Unmarshal([]byte(block), &parsed); err != nil {
		return nil, fmt.Errorf("parse extraction response: %w", err)
	}

	candidates := make([]Entity, 0, len(parsed.Entities))
	idByName := make(map[string]string, len(parsed.Entities))
	for _, me := range parsed.Entities {
		name := strings.TrimSpace(me.Name)
		if name == "" {
			continue
		}
		c := Entity{
			Name:        name,
			Type:        normalizeType(me.Type),
			Description: strings.TrimSpace(me.Description),
			Facts:       me.Facts,
		}
		for _, r := range me.Relationships {
			c.Relationships = append(c.Relationships, Relationship{
				TargetName:       strings.TrimSpace(r.TargetName),
				RelationshipType: strings.TrimSpace(r.RelationshipType),
			})
		}
		candidates = append(candidates, c)
		idByName[strings.ToLower(name)] = EntityID(c.Name, c.Type)
	}

	// Resolve relationship targets extracted in the same batch.
	for i := range candidates {
		for j := range candidates[i].Relationships {
			r := &candidates[i].Relationships[j]
			if id, ok := idByName[strings.ToLower(r.TargetName)]; ok {
				r.TargetEntityID = id
			}
		}
	}
	return dedupeCandidates(candidates), nil
}

// Fallback extraction patterns. Deliberately naive: full and titled names,
// emails, URLs, and numeric dates.
var (
	titledNamePattern = regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr|Prof)\.?\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`)
	fullNamePattern   = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)+\b`)
	emailPattern      = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	urlPattern        = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	datePattern       = regexp.MustCompile(`\b(?:\d{4}-\d{2}-\d{2}|\d{1,2}/\d{1,2}/\d{2,4})\b`)
)

// patternCandidates is the deterministic extractor used without a model or
// when the model response cannot be used.
func patternCandidates(text string) []Entity {
	var candidates []Entity

	for _, m := range titledNamePattern.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, Entity{Name: m[1], Type: TypePerson})
	}
	for _, m := range fullNamePattern.FindAllString(text, -1) {
		candidates = append(candidates, Entity{Name: m, Type: TypePerson})
	}
	for _, m := range emailPattern.FindAllString(text, -1) {
		candidates = append(candidates, Entity{Name: m, Type: TypeCustom})
	}
	for _, m := range urlPattern.FindAllString(text, -1) {
		candidates = append(candidates, Entity{Name: strings.TrimRight(m, ".,;:!?"), Type: TypeCustom})
	}
	for _, m := range datePattern.FindAllString(text, -1) {
		candidates = append(candidates, Entity{Name: m, Type: TypeDate})
	}
	return dedupeCandidates(candidates)
}

// dedupeCandidates keeps one candidate per derived id; a batch mentioning
// the same entity twice is still a single mention.
func dedupeCandidates(candidates []Entity) []Entity {
	seen := make(map[string]struct{}, len(candidates))
	out := candidates[:0]
	for _, c := range candidates {
		id := EntityID(c.Name, c.Type)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, c)
	}
	return out
}
