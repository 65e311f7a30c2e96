// Package config manages the daemon settings stored at ~/.retrosoft/config.json.
//
// The file is a flat JSON object shared with the browser's settings dialog.
// Readers never fail on a malformed file: a parse failure is treated as an
// empty configuration and every key falls back to its default. Writers
// always rewrite the whole file through a temporary sibling and a rename.
package config
