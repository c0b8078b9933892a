// Package graph maintains explicit references between notes and the inverse
// backlink edges derived from them.
package graph

import (
	"regexp"
	"strings"

	"github.com/starford/notegraph/internal/models"
	"github.com/starford/notegraph/internal/parser"
)

// idLikeRe matches identifiers that are treated as direct note ids.
var idLikeRe = regexp.MustCompile(`(?i)^[0-9a-f-]+$`)

// Reference is a resolved marker: the note it points at and the identifier
// written in the marker.
type Reference struct {
	TargetID   string
	Identifier string
}

// ExtractReferences returns the ids of notes referenced from source's content,
// deduplicated in order of first appearance. Only ids present in notes are
// returned and source never references itself. Unresolvable markers are
// dropped.
func ExtractReferences(source models.Note, notes []models.Note) []string {
	refs := Resolve(source, notes)
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.TargetID
	}
	return out
}

// Resolve is ExtractReferences keeping the identifier that resolved each target.
func Resolve(source models.Note, notes []models.Note) []Reference {
	exists := make(map[string]struct{}, len(notes))
	candidates := make([]models.Note, 0, len(notes))
	for _, n := range notes {
		exists[n.ID] = struct{}{}
		if n.ID != source.ID {
			candidates = append(candidates, n)
		}
	}

	seen := make(map[string]struct{})
	var out []Reference
	for _, mk := range parser.Markers(source.Content) {
		id := resolveMarker(mk.Identifier, candidates)
		if id == "" || id == source.ID {
			continue
		}
		if _, ok := exists[id]; !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, Reference{TargetID: id, Identifier: mk.Identifier})
	}
	return out
}

// resolveMarker maps a marker identifier to a note id. An id-like identifier
// is returned as is without any title fallback.
func resolveMarker(identifier string, candidates []models.Note) string {
	if idLikeRe.MatchString(identifier) {
		return identifier
	}
	needle := strings.ToLower(identifier)

	titles := make([]string, len(candidates))
	for i, c := range candidates {
		titles[i] = strings.ToLower(parser.HeadingTitle(c.Content))
	}
	for i, t := range titles {
		if t == needle {
			return candidates[i].ID
		}
	}
	for i, t := range titles {
		if t != "" && strings.Contains(t, needle) {
			return candidates[i].ID
		}
	}
	for _, c := range candidates {
		if strings.Contains(strings.ToLower(c.Content), needle) {
			return c.ID
		}
	}
	return ""
}

// ReferenceContext returns the sentence of content that holds the marker for
// identifier, trimmed. Sentences end with '.', '!' or '?'; a marker with no
// terminating punctuation after it yields "".
func ReferenceContext(content, identifier string) string {
	if identifier == "" {
		return ""
	}
	re, err := regexp.Compile(`[^.!?]*\[\[\s*` + regexp.QuoteMeta(identifier) + `\s*(?:\|[^\]]*)?\]\][^.!?]*[.!?]`)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(re.FindString(content))
}
