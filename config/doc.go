// Package config loads and validates the recorder's YAML configuration.
//
// The loader applies ${VAR} and ${VAR:-default} environment substitution
// before parsing, merges the document over built-in defaults, and runs a
// validation pass so the rest of the system only ever sees a coherent
// in-memory Config.
//
// Per-topic compression and schema overrides are keyed by "/"-segmented
// glob patterns where "*" matches one segment and "**" matches any number
// of segments (see MatchTopic).
package config
