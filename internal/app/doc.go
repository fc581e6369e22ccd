// Package app wires the application together: it loads configuration, builds
// an isolated logger, opens the state store, and assembles the pipeline from
// the configured collaborators. The command layer talks to this package, not
// to the collaborators directly.
package app
