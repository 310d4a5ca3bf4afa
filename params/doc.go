// Package params parses index parameters supplied as name=value strings or as
// nested maps decoded from JSON or YAML, and exposes them through typed
// accessors. Parsing is lenient: unknown keys are kept and left to the engine
// registry to judge.
package params
