package llm

import (
	"regexp"
	"strings"
)

var sentenceRe = regexp.MustCompile(`[^.!?]+[.!?]+`)

// SplitChunks splits text into pieces of at most size bytes, breaking on
// sentence boundaries. Sentences longer than size are split on words; a
// single word longer than size becomes its own chunk.
func SplitChunks(text string, size int) []string {
	var sentences []string
	last := 0
	for _, loc := range sentenceRe.FindAllStringIndex(text, -1) {
		sentences = append(sentences, text[loc[0]:loc[1]])
		last = loc[1]
	}
	if tail := text[last:]; strings.TrimSpace(tail) != "" {
		sentences = append(sentences, tail)
	}

	var (
		chunks  []string
		current strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			chunks = append(chunks, s)
		}
		current.Reset()
	}

	for _, s := range sentences {
		if len(s) > size {
			flush()
			chunks = append(chunks, splitWords(s, size)...)
			continue
		}
		if current.Len()+len(s) > size {
			flush()
		}
		current.WriteString(s)
	}
	flush()
	return chunks
}

func splitWords(sentence string, size int) []string {
	var (
		out     []string
		current strings.Builder
	)
	for _, w := range strings.Fields(sentence) {
		if current.Len() > 0 && current.Len()+1+len(w) > size {
			out = append(out, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(w)
	}
	if current.Len() > 0 {
		out = append(out, current.String())
	}
	return out
}
