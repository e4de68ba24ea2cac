package graph

import (
	"strings"
	"unicode"
)

// Leading words that start sentences without naming anything. Kept small on
// purpose; the fallback extractor trades precision for zero dependencies.
var extractionStopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "but": {}, "for": {}, "he": {}, "her": {},
	"his": {}, "i": {}, "if": {}, "in": {}, "it": {}, "its": {}, "my": {},
	"of": {}, "on": {}, "or": {}, "our": {}, "she": {}, "so": {}, "that": {},
	"the": {}, "their": {}, "then": {}, "they": {}, "this": {}, "we": {},
	"when": {}, "you": {}, "your": {},
}

// ExtractNodesAndEdges runs the deterministic fallback extractor over text:
// consecutive capitalized tokens become entity nodes, and entities
// co-occurring in the same sentence span are linked with bidirectional
// RELATES_TO edges. Extracted nodes merge into existing ones by id, so
// repeated mentions accumulate rather than duplicate. An LLM-backed
// extractor can replace this by feeding AddNode/AddEdge directly.
func (g *Graph) ExtractNodesAndEdges(text, threadID string) ([]Node, []Edge) {
	var (
		nodes []Node
		edges []Edge
		seen  = make(map[string]struct{})
	)

	for _, span := range splitSpans(text) {
		labels := capitalizedEntities(span)
		if len(labels) == 0 {
			continue
		}

		ids := make([]string, 0, len(labels))
		for _, label := range labels {
			id := entityNodeID(threadID, label)
			node, err := g.AddNode(Node{
				ID:       id,
				Type:     NodeEntity,
				Label:    label,
				Content:  span,
				ThreadID: threadID,
			})
			if err != nil {
				continue
			}
			ids = append(ids, id)
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				nodes = append(nodes, node)
			}
		}

		// Co-occurrence in one span relates every pair.
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				edge, err := g.AddEdge(Edge{
					SourceID:      ids[i],
					TargetID:      ids[j],
					Type:          EdgeRelatesTo,
					Weight:        1.0,
					Bidirectional: true,
				})
				if err != nil {
					continue
				}
				edges = append(edges, edge)
			}
		}
	}
	return nodes, edges
}

// splitSpans breaks text into sentence-ish spans on terminal punctuation and
// newlines.
func splitSpans(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n' || r == ';'
	})
	spans := raw[:0]
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			spans = append(spans, s)
		}
	}
	return spans
}

// capitalizedEntities finds runs of capitalized tokens in a span, merging
// consecutive ones into multi-word labels ("John Smith"). Single stopwords
// like sentence-leading "The" are skipped.
func capitalizedEntities(span string) []string {
	var (
		entities []string
		run      []string
	)
	flush := func() {
		if len(run) == 0 {
			return
		}
		label := strings.Join(run, " ")
		run = run[:0]
		if len(label) < 2 {
			return
		}
		if _, stop := extractionStopwords[strings.ToLower(label)]; stop {
			return
		}
		entities = append(entities, label)
	}

	for _, tok := range strings.Fields(span) {
		word := strings.TrimFunc(tok, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if word == "" {
			flush()
			continue
		}
		first := []rune(word)[0]
		if unicode.IsUpper(first) {
			run = append(run, word)
			continue
		}
		flush()
	}
	flush()
	return entities
}

// entityNodeID derives a stable, thread-scoped node id from a label so the
// same mention merges across extractions but never across threads.
func entityNodeID(threadID, label string) string {
	slug := strings.ToLower(strings.Join(strings.Fields(label), "_"))
	if threadID == "" {
		return "entity:" + slug
	}
	return "entity:" + threadID + ":" + slug
}
