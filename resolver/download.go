package resolver

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

// maxZipBytes bounds a driver archive download.
const maxZipBytes = 256 << 20

// downloadZip fetches the archive at url into memory.
func downloadZip(ctx context.Context, client *retryablehttp.Client, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("download: build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: HTTP %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxZipBytes))
	if err != nil {
		return nil, fmt.Errorf("download: read body: %w", err)
	}
	return body, nil
}

// extractZip unpacks data into dest on fs. Entries that would land outside
// dest are rejected.
func extractZip(fs afero.Fs, data []byte, dest string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("extract: open archive: %w", err)
	}

	root := filepath.Clean(dest)
	if err := fs.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("extract: create %s: %w", root, err)
	}

	for _, f := range zr.File {
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return fmt.Errorf("extract: illegal path %q in archive", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := fs.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("extract: mkdir %s: %w", target, err)
			}
			continue
		}
		if err := extractFile(fs, f, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(fs afero.Fs, f *zip.File, target string) error {
	if err := fs.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("extract: mkdir %s: %w", filepath.Dir(target), err)
	}

	mode := f.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("extract: open %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := fs.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("extract: create %s: %w", target, err)
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return fmt.Errorf("extract: write %s: %w", target, err)
	}
	return out.Close()
}

// markExecutable adds the execute bits to path.
func markExecutable(fs afero.Fs, path string) error {
	fi, err := fs.Stat(path)
	if err != nil {
		return err
	}
	return fs.Chmod(path, fi.Mode()|0o111)
}
