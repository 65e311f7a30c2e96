// Package updater keeps a Retrosoft installation current.
//
// Two flows share the GitHub client defined here. The live flow polls the
// contents endpoint for a fixed set of tracked files, compares each blob
// sha with a persisted fingerprint, and rewrites the files that changed.
// The release flow checks the latest GitHub release, compares its tag with
// the running version, then downloads, verifies, extracts and swaps in the
// new binary. A daily-cached release check powers the startup banner.
package updater
