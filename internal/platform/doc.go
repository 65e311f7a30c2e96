// Package platform provides cross-platform OS helpers: permission management
// and process termination. On Unix systems it uses chmod and signals
// directly. On Windows, chmod is a no-op and termination falls back to a
// hard kill because console processes cannot receive SIGTERM.
package platform
