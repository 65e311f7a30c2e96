// Package workerdef loads the worker definitions supervised by the daemon.
// Definitions are YAML, validated against an embedded JSON schema, and fall
// back to embedded defaults when the user has not provided a file.
package workerdef
