// Package scanner discovers change specs on disk and turns them into work
// items. A change spec is a directory under the configured changes dir holding
// a proposal.md (YAML frontmatter plus markdown body) and an optional
// tasks.md. Directories named archive and directories without a proposal are
// skipped.
package scanner
