// Package config loads and merges specq configuration from its three
// precedence layers: the tracked team config (.specq/config.hcl), the
// untracked personal override (.specq/local.config.hcl), and environment
// variables, lowest to highest. A work item's own frontmatter metadata may
// additionally shadow the merged result for that item only; the Resolve*
// helpers apply that last layer.
package config
