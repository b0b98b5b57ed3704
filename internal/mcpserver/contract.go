package mcpserver

// TodoSyntaxContract describes how todos are written inside notes so LLM
// consumers can read and produce them correctly.
const TodoSyntaxContract = `# nb Todo Syntax

Todos are Markdown checkbox lines inside ordinary notes. The files are the
source of truth; the index is rebuilt from them.

## Checkboxes

` + "```" + `markdown
- [ ] pending
- [^] in progress
- [x] completed
` + "```" + `

Any other character between the brackets is not a todo. Checkbox lines inside
fenced code blocks are ignored.

## Inline metadata

- ` + "`@due(<date>)`" + ` sets the due date. Accepts ISO dates (` + "`2025-12-01`" + `,
  ` + "`2025-12-01 14:30`" + `) and relative words resolved when the note is indexed:
  ` + "`today`" + `, ` + "`tomorrow`" + `, weekday names (` + "`friday`, `next monday`" + `),
  ` + "`next week`" + `, ` + "`next month`" + `, ` + "`in 3 days`" + `.
- ` + "`@priority(1|2|3)`" + ` where 1 is highest. ` + "`@priority(low)`" + ` means 3.
- ` + "`#tag`" + ` adds a tag. Tags are lowercase; hex colours such as ` + "`#fff`" + ` are not tags.
  Frontmatter ` + "`tags:`" + ` apply to every todo in the note.

Malformed metadata is kept as plain text in the todo content.

## Nesting

Indent a checkbox under another to make it a child. Completing a parent can
complete its unfinished children when auto-complete is enabled. Indented
non-checkbox lines under a todo become its details.

## Sections

A todo belongs to the chain of Markdown headings above it, e.g.
` + "`[\"Project\", \"Milestones\"]`" + `.

## IDs

Each todo has an 8-character hex ID derived from its note path, line, nesting
depth and text (metadata excluded). Any unique prefix identifies a todo; an
ambiguous prefix is rejected with the list of candidates.

## Example

` + "```" + `markdown
---
tags: [launch]
todo_exclude: false
---
# Project

## Milestones

- [ ] Ship release @due(2025-12-01) @priority(1) #release
  - [^] Write changelog
  - [x] Freeze features
` + "```" + `
`
