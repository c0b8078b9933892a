// Package parser extracts frontmatter, reference markers, and tags from note content.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	markerRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	tagRe    = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

// Marker is a single [[identifier]] or [[identifier|display]] occurrence.
type Marker struct {
	Identifier string
	Display    string
}

// Result holds the output of parsing a note body.
type Result struct {
	Frontmatter map[string]interface{}
	Body        string
	Markers     []Marker
	Tags        []string
	Title       string
}

// Parse extracts frontmatter, body, markers, and tags from raw note content.
func Parse(content string) *Result {
	fm, body := splitFrontmatter([]byte(content))
	return &Result{
		Frontmatter: fm,
		Body:        body,
		Markers:     Markers(body),
		Tags:        extractTags(body, fm),
		Title:       deriveTitle(fm, body),
	}
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]interface{}, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]interface{}
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: whole content is body.
		return nil, string(data)
	}

	return fm, body
}

// Markers returns every reference marker in body in order of appearance.
// Markers with an empty identifier are skipped; duplicates are kept so callers
// can decide how to resolve them.
func Markers(body string) []Marker {
	matches := markerRe.FindAllStringSubmatch(body, -1)
	out := make([]Marker, 0, len(matches))
	for _, m := range matches {
		raw := m[1]
		var mk Marker
		if i := strings.Index(raw, "|"); i >= 0 {
			mk.Identifier = raw[:i]
			mk.Display = strings.TrimSpace(raw[i+1:])
		} else {
			mk.Identifier = raw
		}
		mk.Identifier = strings.TrimSpace(mk.Identifier)
		if mk.Identifier == "" {
			continue
		}
		out = append(out, mk)
	}
	return out
}

// extractTags collects #tags from body and from frontmatter "tags" field.
func extractTags(body string, fm map[string]interface{}) []string {
	seen := make(map[string]struct{})
	var out []string

	if fm != nil {
		if raw, ok := fm["tags"]; ok {
			if v, ok := raw.([]interface{}); ok {
				for _, item := range v {
					s, ok := item.(string)
					if !ok {
						continue
					}
					s = strings.TrimSpace(s)
					if s == "" {
						continue
					}
					if _, dup := seen[s]; !dup {
						seen[s] = struct{}{}
						out = append(out, s)
					}
				}
			}
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		t := m[1]
		if _, dup := seen[t]; !dup {
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}

	return out
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// heading or line of the body.
func deriveTitle(fm map[string]interface{}, body string) string {
	if fm != nil {
		if t, ok := fm["title"]; ok {
			if s, ok := t.(string); ok && s != "" {
				return s
			}
		}
	}
	return HeadingTitle(body)
}

// HeadingTitle returns the first non-blank line of body with any leading
// Markdown heading hashes stripped.
func HeadingTitle(body string) string {
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		return strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
	}
	return ""
}
