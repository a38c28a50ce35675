package model

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultBaseURL is the Hugging Face hub root used to resolve model files.
const DefaultBaseURL = "https://huggingface.co"

// LockFilename records the revision and checksum of every downloaded file.
const LockFilename = "download-manifest.lock.json"

// ProgressFunc reports bytes downloaded so far and the total size, or 0 when
// the server did not send a Content-Length.
type ProgressFunc func(downloaded, total int64)

// HTTPStatusError is returned when the server answers with a non-200 status.
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("GET %s: %s", e.URL, e.Status)
}

// AccessDeniedError is returned for 401/403 responses from gated repos.
type AccessDeniedError struct {
	Repo string
	Msg  string
}

func (e *AccessDeniedError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}

	return fmt.Sprintf("access denied for %s", e.Repo)
}

// ChecksumError is returned when a downloaded file does not match its pin.
type ChecksumError struct {
	Filename string
	Want     string
	Got      string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch for %s: expected %s got %s", e.Filename, e.Want, e.Got)
}

// FetchRemoteFile downloads url to path. An existing file is kept unless
// force is set. The body is streamed to path+".tmp" and renamed into place
// only after a complete read.
func FetchRemoteFile(ctx context.Context, url, path string, force bool, progress ProgressFunc) error {
	return fetch(ctx, http.DefaultClient, url, path, "", force, progress)
}

func fetch(ctx context.Context, client *http.Client, url, path, token string, force bool, progress ProgressFunc) error {
	if !force {
		fi, err := os.Stat(path)
		if err == nil {
			if fi.IsDir() {
				return fmt.Errorf("expected file at %s, found directory", path)
			}

			return nil
		}

		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat existing file: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &HTTPStatusError{URL: url, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create local subdir: %w", err)
	}

	tmp := path + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	total := max(resp.ContentLength, 0)
	pw := &progressWriter{total: total, fn: progress}

	if _, err := io.Copy(io.MultiWriter(fh, pw), resp.Body); err != nil {
		_ = fh.Close()
		_ = os.Remove(tmp)

		return fmt.Errorf("download read failed: %w", err)
	}

	if err := fh.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("move temp file into place: %w", err)
	}

	return nil
}

type progressWriter struct {
	written int64
	total   int64
	fn      ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.fn != nil {
		p.fn(p.written, p.total)
	}

	return len(b), nil
}

type DownloadOptions struct {
	Variant string
	OutDir  string
	HFToken string
	Force   bool
	BaseURL string
	Client  *http.Client
	Logger  *slog.Logger

	// Progress, when set, returns the progress callback for one file.
	Progress func(file ModelFile) ProgressFunc
}

type lockManifest struct {
	Variant   string                `json:"variant"`
	Generated string                `json:"generated"`
	Files     map[string]lockRecord `json:"files"`
}

type lockRecord struct {
	Repo     string `json:"repo"`
	Revision string `json:"revision"`
	SHA256   string `json:"sha256"`
}

// Download fetches every file of a pinned variant into OutDir and writes a
// lock manifest with their checksums.
func Download(ctx context.Context, opts DownloadOptions) error {
	if opts.OutDir == "" {
		return errors.New("out dir is required")
	}

	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}

	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	manifest, err := PinnedManifest(opts.Variant)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return fmt.Errorf("create out dir: %w", err)
	}

	lockPath := filepath.Join(opts.OutDir, LockFilename)
	lock := readLockManifest(lockPath)
	lock.Variant = manifest.Variant
	lock.Generated = time.Now().UTC().Format(time.RFC3339)

	for _, f := range manifest.Files {
		localPath := filepath.Join(opts.OutDir, filepath.FromSlash(f.Filename))
		url := resolveURL(opts.BaseURL, f)

		var progress ProgressFunc
		if opts.Progress != nil {
			progress = opts.Progress(f)
		}

		opts.Logger.Info("fetching model file", "file", f.Filename, "url", url)

		err := fetch(ctx, opts.Client, url, localPath, opts.HFToken, opts.Force, progress)
		if err != nil {
			var status *HTTPStatusError
			if errors.As(err, &status) && (status.StatusCode == http.StatusUnauthorized || status.StatusCode == http.StatusForbidden) {
				return &AccessDeniedError{
					Repo: f.Repo,
					Msg:  fmt.Sprintf("access denied for %s; provide HF_TOKEN or --hf-token", f.Repo),
				}
			}

			return fmt.Errorf("fetch %s: %w", f.Filename, err)
		}

		actual, err := fileSHA256(localPath)
		if err != nil {
			return err
		}

		want := strings.ToLower(f.SHA256)
		if want != "" && actual != want {
			return &ChecksumError{Filename: f.Filename, Want: want, Got: actual}
		}

		lock.Files[f.Filename] = lockRecord{Repo: f.Repo, Revision: f.Revision, SHA256: actual}
		opts.Logger.Debug("model file ready", "file", f.Filename, "sha256", actual)
	}

	return writeLockManifest(lockPath, lock)
}

func resolveURL(base string, file ModelFile) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", strings.TrimRight(base, "/"), file.Repo, file.Revision, file.Remote)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read file for checksum: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func readLockManifest(path string) lockManifest {
	out := lockManifest{Files: map[string]lockRecord{}}

	b, err := os.ReadFile(path)
	if err != nil {
		return out
	}

	if err := json.Unmarshal(b, &out); err != nil || out.Files == nil {
		return lockManifest{Files: map[string]lockRecord{}}
	}

	return out
}

func writeLockManifest(path string, lock lockManifest) error {
	b, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lock manifest: %w", err)
	}

	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write lock manifest: %w", err)
	}

	return nil
}
