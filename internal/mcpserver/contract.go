package mcpserver

// NoteFormatContract describes the Markdown note format notegraph understands.
// LLM consumers should follow it when creating or updating notes.
const NoteFormatContract = `# notegraph Note Format Contract

Notes are UTF-8 Markdown documents owned by a single user.

## Structure

` + "```" + `markdown
---
title: Human-readable title        # OPTIONAL – overrides the first heading
tags:                               # OPTIONAL – YAML list; used for filtering
  - tag-one
---

# Heading used as the title

Body text in standard Markdown. Inline #tags are collected too.

Reference another note with [[Its Title]] or [[note-id]].
Use [[Its Title|display text]] when the text should differ.
` + "```" + `

## References

1. A marker ` + "`" + `[[identifier]]` + "`" + ` creates a reference to another note of the same owner.
2. Identifiers made only of hex digits and dashes are treated as note ids.
3. Any other identifier is matched case-insensitively against note titles:
   exact title first, then a title containing it, then note content containing it.
4. Markers that resolve to nothing are ignored; a note never references itself.
5. The sentence around a marker (ending in ` + "`" + `.` + "`" + `, ` + "`" + `!` + "`" + ` or ` + "`" + `?` + "`" + `) becomes the
   context of the backlink shown on the target note.

## Suggestions

- ` + "`" + `get_suggestions` + "`" + ` returns notes similar enough to be worth linking.
- ` + "`" + `accept_suggestion` + "`" + ` turns a suggestion into a permanent reference.
- ` + "`" + `reject_suggestion` + "`" + ` hides it until the source note's content changes.
`
