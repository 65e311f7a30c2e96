package updater

import (
	"context"
	"slices"
	"sync"
)

// ReleaseArtifact is the artifact name under which ReleaseSource stores
// the last seen release tag.
const ReleaseArtifact = "release"

// Source lists tracked artifacts and reports the remote content identity
// of one of them.
type Source interface {
	Artifacts() []string
	Lookup(ctx context.Context, artifact string) (string, error)
}

// ChangeDetector lets a Source decide what counts as a change. Sources
// without one treat any difference from the stored fingerprint, or the
// absence of one, as a change.
type ChangeDetector interface {
	Changed(local string, known bool, remote string) bool
}

// FileSource tracks repository files through the contents endpoint.
type FileSource struct {
	u     *Updater
	files []string
}

// NewFileSource tracks the given repository paths.
func NewFileSource(u *Updater, files []string) *FileSource {
	return &FileSource{u: u, files: slices.Clone(files)}
}

// Artifacts returns the tracked paths.
func (s *FileSource) Artifacts() []string {
	return slices.Clone(s.files)
}

// Lookup returns the blob sha of the file on the tracked branch.
func (s *FileSource) Lookup(ctx context.Context, artifact string) (string, error) {
	c, err := s.u.FetchContentInfo(ctx, artifact)
	if err != nil {
		return "", err
	}
	return c.SHA, nil
}

// ReleaseSource tracks the latest GitHub release. Its fingerprint is the
// release tag, and a change means a strictly newer version.
type ReleaseSource struct {
	u *Updater

	mu     sync.Mutex
	latest *Release
}

// NewReleaseSource tracks releases of the updater's repository.
func NewReleaseSource(u *Updater) *ReleaseSource {
	return &ReleaseSource{u: u}
}

// Artifacts returns the single release artifact.
func (s *ReleaseSource) Artifacts() []string {
	return []string{ReleaseArtifact}
}

// Lookup fetches the latest release and returns its tag.
func (s *ReleaseSource) Lookup(ctx context.Context, _ string) (string, error) {
	r, err := s.u.CheckLatestVersion(ctx)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.latest = r
	s.mu.Unlock()
	return r.Version, nil
}

// Changed compares against the stored tag, or the running version when
// no tag has been stored yet.
func (s *ReleaseSource) Changed(local string, known bool, remote string) bool {
	base := local
	if !known {
		base = s.u.CurrentVersion()
	}
	return IsNewer(remote, base)
}

// Latest returns the release seen by the most recent successful lookup.
func (s *ReleaseSource) Latest() *Release {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}
