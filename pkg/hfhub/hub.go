// Package hfhub downloads individual files from a Hugging Face Hub
// compatible endpoint into a local cache.
package hfhub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"

	"github.com/menta2k/vision-qa/internal/utils"
)

const (
	// DefaultEndpoint is the public hub
	DefaultEndpoint = "https://huggingface.co"
	// DefaultRevision is the branch files are resolved against
	DefaultRevision = "main"
	// Scheme prefixes hub references such as hf://org/repo/file.png
	Scheme = "hf://"
)

var (
	// ErrNotFound is returned when the hub has no such repo or file
	ErrNotFound = errors.New("file not found on hub")
	// ErrUnauthorized is returned for gated or private repos without a valid token
	ErrUnauthorized = errors.New("hub access denied")
	// ErrInvalidPath is returned for repo ids, filenames or revisions that
	// would resolve outside the cache directory
	ErrInvalidPath = errors.New("invalid hub path")
)

// Ref points at one file inside a hub repo
type Ref struct {
	RepoID   string
	Filename string
}

// ParseRef splits "hf://org/name/path/to/file" into repo and file
func ParseRef(s string) (Ref, error) {
	if !strings.HasPrefix(s, Scheme) {
		return Ref{}, fmt.Errorf("not a hub reference: %q", s)
	}
	parts := strings.SplitN(strings.TrimPrefix(s, Scheme), "/", 3)
	if len(parts) < 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Ref{}, fmt.Errorf("hub reference must look like hf://org/repo/file: %q", s)
	}
	ref := Ref{RepoID: parts[0] + "/" + parts[1], Filename: parts[2]}
	if err := ref.Validate(); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

// Validate rejects empty, "." and ".." segments and backslashes in the repo id
// and filename
func (r Ref) Validate() error {
	repo := strings.Split(r.RepoID, "/")
	if len(repo) != 2 {
		return fmt.Errorf("%w: repo id must be org/name: %q", ErrInvalidPath, r.RepoID)
	}
	if err := checkSegments(repo); err != nil {
		return fmt.Errorf("%w: repo id %q", err, r.RepoID)
	}
	if err := checkSegments(strings.Split(r.Filename, "/")); err != nil {
		return fmt.Errorf("%w: filename %q", err, r.Filename)
	}
	return nil
}

func checkSegments(segments []string) error {
	for _, s := range segments {
		if s == "" || s == "." || s == ".." || strings.ContainsAny(s, "\\\x00") {
			return ErrInvalidPath
		}
	}
	return nil
}

// IsRef reports whether s is a hub reference
func IsRef(s string) bool {
	return strings.HasPrefix(s, Scheme)
}

// String formats the ref back into hf:// form
func (r Ref) String() string {
	return Scheme + r.RepoID + "/" + r.Filename
}

// Config holds hub settings
type Config struct {
	Endpoint string
	CacheDir string
	Token    string
	Revision string
	Attempts uint
}

// Client downloads and caches hub files
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
}

// New creates a hub client, filling unset fields with defaults
func New(cfg Config, logger zerolog.Logger) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	cfg.Endpoint = strings.TrimSuffix(cfg.Endpoint, "/")
	if cfg.Revision == "" {
		cfg.Revision = DefaultRevision
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir()
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 3
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		logger:     logger,
	}
}

// DefaultCacheDir returns ~/.cache/vision-qa/hub, or a temp dir without a home
func DefaultCacheDir() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "vision-qa", "hub")
	}
	return filepath.Join(dir, "vision-qa", "hub")
}

// CachePath is where a file is stored locally
func (c *Client) CachePath(ref Ref) string {
	repoDir := strings.ReplaceAll(ref.RepoID, "/", "--")
	return filepath.Join(c.cfg.CacheDir, utils.SanitizeFilename(repoDir), c.cfg.Revision, filepath.FromSlash(ref.Filename))
}

// FileURL is the resolve URL for a file
func (c *Client) FileURL(ref Ref) string {
	segments := strings.Split(ref.Filename, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/%s/resolve/%s/%s", c.cfg.Endpoint, ref.RepoID, url.PathEscape(c.cfg.Revision), strings.Join(segments, "/"))
}

// Download fetches repoID/filename unless it is already cached and returns the local path
func (c *Client) Download(ctx context.Context, repoID, filename string) (string, error) {
	return c.Fetch(ctx, Ref{RepoID: repoID, Filename: filename})
}

// Fetch is Download for a parsed Ref
func (c *Client) Fetch(ctx context.Context, ref Ref) (string, error) {
	if err := ref.Validate(); err != nil {
		return "", err
	}
	if err := checkSegments(strings.Split(c.cfg.Revision, "/")); err != nil {
		return "", fmt.Errorf("%w: revision %q", err, c.cfg.Revision)
	}
	dst := c.CachePath(ref)
	if rel, err := filepath.Rel(c.cfg.CacheDir, dst); err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s resolves outside the cache", ErrInvalidPath, ref)
	}
	if utils.FileExists(dst) {
		c.logger.Debug().Str("file", ref.String()).Str("path", dst).Msg("hub cache hit")
		return dst, nil
	}
	if err := utils.EnsureDir(filepath.Dir(dst)); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	src := c.FileURL(ref)
	err := retry.Do(
		func() error {
			return c.download(ctx, src, dst)
		},
		retry.Attempts(c.cfg.Attempts),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrUnauthorized) &&
				!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Warn().Err(err).Uint("attempt", n+1).Str("url", src).Msg("hub download failed, retrying")
		}),
	)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", ref, err)
	}

	c.logger.Info().Str("file", ref.String()).Str("path", dst).Msg("downloaded from hub")
	return dst, nil
}

// download streams src into a temp file next to dst, then renames it
func (c *Client) download(ctx context.Context, src, dst string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "vision-qa/1.0")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status: HTTP %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}
