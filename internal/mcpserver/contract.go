package mcpserver

// CalloutFormatContract describes the callout block format that LLM
// consumers should follow when reading or writing vault documents.
const CalloutFormatContract = `# Othala Callout Format Contract

Othala extracts callout blocks from Markdown documents. Every callout
MUST follow this structure to be recognized.

## Structure

` + "```" + `markdown
> [!type] Optional title on the header line
> Body text in standard Markdown.
> More body lines, each prefixed with "> ".
>
> Blank quoted lines separate paragraphs. ^block-id
` + "```" + `

## Rules

1. **The header line is mandatory.** It starts with ` + "`" + `> [!type]` + "`" + ` where
   ` + "`" + `type` + "`" + ` is a tag such as ` + "`" + `note` + "`" + `, ` + "`" + `warning` + "`" + `, ` + "`" + `question` + "`" + ` or ` + "`" + `todo` + "`" + `.
   Types are case-insensitive and stored lowercase. An optional fold
   marker (` + "`" + `+` + "`" + ` or ` + "`" + `-` + "`" + `) may follow the closing bracket.
2. **The title** is everything after the type tag on the header line.
   It may be empty.
3. **The body** consists of the quoted lines that follow the header.
   A blank line inside the quote continues the block; the first
   non-blank unquoted line or a new header ends it.
4. **Block identifiers** are a caret marker at the very end of the body:
   ` + "`" + `^note-a1b2c3` + "`" + `. Identifiers use only letters, digits and hyphens.
   Do NOT invent identifiers; request one with the assign_identifier
   tool so uniqueness is guaranteed.
5. **Links between callouts** use wiki syntax with a block anchor:
   ` + "`" + `[[other-doc#^note-a1b2c3]]` + "`" + ` or ` + "`" + `[[other-doc#^note-a1b2c3|label]]` + "`" + `.
   The ` + "`" + `.md` + "`" + ` extension on the target is optional.
6. **File paths** end with ` + "`" + `.md` + "`" + ` and use forward slashes.
7. **Heading context** is derived automatically from the document's
   heading structure; do not encode it in the callout itself.

## Example

` + "```" + `markdown
# Distributed systems

## Consensus

> [!note] Quorum intersection
> Any two quorums share at least one member, which is what makes
> leader handover safe.
>
> See [[raft#^note-f3a9b1|the election notes]] for the failure case. ^note-7c21d4

> [!question] Open point
> Does this hold under reconfiguration?
` + "```" + `
`
