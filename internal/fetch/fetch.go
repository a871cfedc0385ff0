// Package fetch localizes artifact references onto the filesystem: git
// repositories, single files behind blob URLs, zip archives from the
// source-code bucket mirror, and local paths.
package fetch

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"digger/internal/logging"
	"digger/internal/types"
)

// Fetcher localizes a storage_path reference into a directory under Root.
type Fetcher struct {
	// Root receives cloned repositories and downloaded files.
	Root string
	// BucketRoot mirrors the "source-code" object bucket on disk.
	BucketRoot string

	httpClient *http.Client
}

// New returns a fetcher writing under root.
func New(root, bucketRoot string) *Fetcher {
	return &Fetcher{
		Root:       root,
		BucketRoot: bucketRoot,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// IngestError wraps a fetch failure with the ingest_error kind.
type IngestError struct {
	Ref string
	Err error
}

func (e *IngestError) Error() string {
	return fmt.Sprintf("%s: failed to fetch %q: %v", types.ErrIngest, e.Ref, e.Err)
}

func (e *IngestError) Unwrap() error { return e.Err }

// Fetch resolves ref to an existing local directory root.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (string, error) {
	log := logging.L(logging.CategoryFetch)
	log.Infow("fetching artifact", "ref", ref)

	path, err := f.fetch(ctx, ref)
	if err != nil {
		return "", &IngestError{Ref: ref, Err: err}
	}
	log.Infow("artifact localized", "ref", ref, "path", path)
	return path, nil
}

func (f *Fetcher) fetch(ctx context.Context, ref string) (string, error) {
	switch {
	case isBlobURL(ref):
		return f.downloadRaw(ctx, ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return f.cloneRepo(ctx, ref)
	case strings.HasPrefix(ref, "local://"):
		return f.useLocal(strings.TrimPrefix(ref, "local://"))
	case filepath.IsAbs(ref):
		return f.useLocal(ref)
	default:
		return f.fetchBucketObject(ref)
	}
}

// isBlobURL matches web UI file links on git hosts.
func isBlobURL(ref string) bool {
	return (strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")) &&
		strings.Contains(ref, "/blob/")
}

// downloadRaw rewrites a blob URL to its raw form and downloads the single
// file into a fresh directory.
func (f *Fetcher) downloadRaw(ctx context.Context, ref string) (string, error) {
	raw := ref
	if strings.Contains(raw, "github.com") {
		raw = strings.Replace(raw, "github.com", "raw.githubusercontent.com", 1)
		raw = strings.Replace(raw, "/blob/", "/", 1)
	} else {
		raw = strings.Replace(raw, "/blob/", "/raw/", 1)
	}

	dir, err := f.freshDir("download")
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	name := filepath.Base(raw)
	if name == "" || name == "/" || name == "." {
		name = "artifact"
	}
	dst, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	return dir, nil
}

// cloneRepo shallow-clones a repository into a fresh timestamp-suffixed
// directory. Exit status 128 with a populated .git directory is treated as
// partial success (the host cut the connection after checkout).
func (f *Fetcher) cloneRepo(ctx context.Context, url string) (string, error) {
	dir, err := f.freshDir("repo")
	if err != nil {
		return "", err
	}

	cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", url, dir)
	out, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if ok := isExitError(err, &exitErr); ok && exitErr.ExitCode() == 128 {
			if st, statErr := os.Stat(filepath.Join(dir, ".git")); statErr == nil && st.IsDir() {
				logging.L(logging.CategoryFetch).Warnw("clone exited 128, continuing with partial checkout", "url", url)
				return dir, nil
			}
		}
		return "", fmt.Errorf("git clone failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return dir, nil
}

func isExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// useLocal serves a local path: directories in place, single files copied
// into a fresh directory.
func (f *Fetcher) useLocal(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("local path not found: %w", err)
	}
	if info.IsDir() {
		return path, nil
	}

	dir, err := f.freshDir("local")
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read local file: %w", err)
	}
	dst := filepath.Join(dir, filepath.Base(path))
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return "", fmt.Errorf("failed to copy local file: %w", err)
	}
	return dir, nil
}

// fetchBucketObject resolves "source-code/{ref}" in the bucket mirror,
// decompressing zip archives.
func (f *Fetcher) fetchBucketObject(ref string) (string, error) {
	obj := filepath.Join(f.BucketRoot, "source-code", filepath.FromSlash(ref))
	info, err := os.Stat(obj)
	if err != nil {
		return "", fmt.Errorf("bucket object not found: %w", err)
	}
	if info.IsDir() {
		return obj, nil
	}
	if strings.EqualFold(filepath.Ext(obj), ".zip") {
		dir, err := f.freshDir("archive")
		if err != nil {
			return "", err
		}
		if err := unzip(obj, dir); err != nil {
			return "", fmt.Errorf("failed to extract archive: %w", err)
		}
		return dir, nil
	}

	dir, err := f.freshDir("object")
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(obj)
	if err != nil {
		return "", fmt.Errorf("failed to read bucket object: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, filepath.Base(obj)), data, 0644); err != nil {
		return "", fmt.Errorf("failed to copy bucket object: %w", err)
	}
	return dir, nil
}

func (f *Fetcher) freshDir(kind string) (string, error) {
	dir := filepath.Join(f.Root, fmt.Sprintf("%s_%d", kind, time.Now().UnixNano()))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	return dir, nil
}

func unzip(src, dst string) error {
	reader, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer reader.Close()

	for _, file := range reader.File {
		target := filepath.Join(dst, filepath.FromSlash(file.Name))
		if !strings.HasPrefix(target, filepath.Clean(dst)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination", file.Name)
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		rc, err := file.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
