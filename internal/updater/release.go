package updater

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/retrosoft-labs/retrosoft/internal/branding"
	"github.com/retrosoft-labs/retrosoft/internal/platform"
	"go.uber.org/zap"
)

// checksumsAsset is the release asset listing "sha256  filename" lines.
const checksumsAsset = "checksums.txt"

// DownloadAsset downloads the release archive for the current platform into
// destDir and returns its path.
func (u *Updater) DownloadAsset(ctx context.Context, release *Release, destDir string) (string, error) {
	asset, err := SelectAssetForPlatform(release.Assets)
	if err != nil {
		return "", err
	}
	destPath := filepath.Join(destDir, asset.Name)

	resp, err := u.do(ctx, asset.DownloadURL)
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", asset.Name, err)
	}
	defer resp.Body.Close()

	f, err := os.Create(destPath)
	if err != nil {
		return "", fmt.Errorf("creating download file: %w", err)
	}
	defer f.Close()

	src := io.Reader(resp.Body)
	if u.progress != nil && resp.ContentLength > 0 {
		src = &progressReader{r: resp.Body, total: resp.ContentLength, w: u.progress, last: -1}
	}
	n, err := io.Copy(f, src)
	if err != nil {
		return "", fmt.Errorf("writing download: %w", err)
	}
	if u.progress != nil && resp.ContentLength > 0 {
		fmt.Fprintln(u.progress)
	}
	u.logger.Info("release asset downloaded", zap.String("asset", asset.Name), zap.Int64("bytes", n))
	return destPath, nil
}

type progressReader struct {
	r     io.Reader
	w     io.Writer
	total int64
	done  int64
	last  int
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.done += int64(n)
	if percent := int(p.done * 100 / p.total); percent != p.last {
		fmt.Fprintf(p.w, "\rDownloading... %d%%", percent)
		p.last = percent
	}
	return n, err
}

// VerifyChecksum downloads checksums.txt from the release and verifies the archive.
func (u *Updater) VerifyChecksum(ctx context.Context, release *Release, archivePath string) error {
	var checksumURL string
	for _, a := range release.Assets {
		if a.Name == checksumsAsset {
			checksumURL = a.DownloadURL
			break
		}
	}
	if checksumURL == "" {
		return fmt.Errorf("%s not found in release assets", checksumsAsset)
	}

	body, err := u.getBytes(ctx, checksumURL)
	if err != nil {
		return fmt.Errorf("downloading checksums: %w", err)
	}

	archiveName := filepath.Base(archivePath)
	expected := ""
	for _, line := range strings.Split(string(body), "\n") {
		parts := strings.Fields(line)
		if len(parts) == 2 && parts[1] == archiveName {
			expected = parts[0]
			break
		}
	}
	if expected == "" {
		return fmt.Errorf("no checksum found for %s in %s", archiveName, checksumsAsset)
	}

	actual, err := fileSHA256(archivePath)
	if err != nil {
		return err
	}
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("checksum mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening archive for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("computing checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ExtractBinary extracts the daemon binary from a tar.gz or zip archive and
// returns its path.
func ExtractBinary(archivePath, destDir string) (string, error) {
	if strings.HasSuffix(archivePath, ".zip") {
		return extractFromZip(archivePath, destDir)
	}
	return extractFromTarGz(archivePath, destDir)
}

func isBinaryName(name string) bool {
	base := filepath.Base(name)
	return base == branding.CLIName() || base == branding.CLIName()+".exe"
}

func writeExecutable(destPath string, r io.Reader) error {
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, platform.ExecutableMode)
	if err != nil {
		return fmt.Errorf("creating binary file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("extracting binary: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}
	return platform.MakeExecutable(destPath)
}

func extractFromTarGz(archivePath, destDir string) (string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("opening archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("reading tar entry: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg || !isBinaryName(hdr.Name) {
			continue
		}
		destPath := filepath.Join(destDir, filepath.Base(hdr.Name))
		if err := writeExecutable(destPath, tr); err != nil {
			return "", err
		}
		return destPath, nil
	}
	return "", fmt.Errorf("%s binary not found in archive", branding.CLIName())
}

func extractFromZip(archivePath, destDir string) (string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", fmt.Errorf("opening zip archive: %w", err)
	}
	defer r.Close()

	for _, zf := range r.File {
		if zf.FileInfo().IsDir() || !isBinaryName(zf.Name) {
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return "", fmt.Errorf("opening zip entry: %w", err)
		}
		destPath := filepath.Join(destDir, filepath.Base(zf.Name))
		err = writeExecutable(destPath, rc)
		rc.Close()
		if err != nil {
			return "", err
		}
		return destPath, nil
	}
	return "", fmt.Errorf("%s binary not found in zip archive", branding.CLIName())
}
