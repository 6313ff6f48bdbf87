// Package version reports the herald build and checks for newer releases.
package version

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the GitHub API endpoint releases are read from.
	DefaultBaseURL = "https://api.github.com"
	// DefaultTimeout bounds a release check.
	DefaultTimeout = 10 * time.Second

	// Repository is the owner/name of the release repository.
	Repository = "mrz1836/herald"

	maxErrorBodySize    = 1024
	maxResponseBodySize = 64 * 1024
)

// ErrReleaseLookup is returned when the release API answers with a non-200 status.
var ErrReleaseLookup = errors.New("release lookup failed")

// Set at build time via -ldflags.
//
//nolint:gochecknoglobals // ldflags targets
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Build describes the running binary.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Current returns the build information of the running binary.
func Current() Build {
	return Build{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String renders the build as "v1.2.3 (commit: abc, built: date)".
func (b Build) String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", b.Version, b.Commit, b.Date)
}

// Release is the subset of a GitHub release herald reads.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	URL         string    `json:"html_url"`
}

// Check is the outcome of comparing the running build with the latest release.
type Check struct {
	Current string `json:"current"`
	Latest  string `json:"latest"`
	URL     string `json:"url,omitempty"`
	IsNewer bool   `json:"update_available"`
}

// Client reads releases from the GitHub API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(url, "/")
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a Client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  fmt.Sprintf("herald/%s (%s/%s)", Version, runtime.GOOS, runtime.GOARCH),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// LatestRelease fetches the latest published release of Repository.
func (c *Client) LatestRelease(ctx context.Context) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", c.baseURL, Repository)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := c.httpClient.Do(req) //nolint:gosec // URL is built from a fixed API root
	if err != nil {
		return nil, fmt.Errorf("fetching release: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		return nil, fmt.Errorf("%w: status %d: %s", ErrReleaseLookup, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var release Release
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodySize)).Decode(&release); err != nil {
		return nil, fmt.Errorf("decoding release: %w", err)
	}
	return &release, nil
}

// CheckLatest compares current with the latest release.
func (c *Client) CheckLatest(ctx context.Context, current string) (*Check, error) {
	release, err := c.LatestRelease(ctx)
	if err != nil {
		return nil, err
	}
	return &Check{
		Current: current,
		Latest:  release.TagName,
		URL:     release.URL,
		IsNewer: Compare(release.TagName, current) > 0,
	}, nil
}

// Compare orders two versions: 1 if a is newer, -1 if b is newer, 0 if equal.
// Development builds and commit hashes are older than any release.
func Compare(a, b string) int {
	a, b = strings.TrimPrefix(a, "v"), strings.TrimPrefix(b, "v")
	devA, devB := isDevelopment(a), isDevelopment(b)
	switch {
	case devA && devB:
		return 0
	case devA:
		return -1
	case devB:
		return 1
	}

	pa, pb := numbers(a), numbers(b)
	for i := range 3 {
		if pa[i] != pb[i] {
			if pa[i] > pb[i] {
				return 1
			}
			return -1
		}
	}
	return 0
}

// numbers parses major, minor and patch, ignoring pre-release and build suffixes.
func numbers(v string) [3]int {
	if i := strings.IndexAny(v, "-+"); i != -1 {
		v = v[:i]
	}
	var out [3]int
	for i, part := range strings.SplitN(v, ".", 3) {
		n, err := strconv.Atoi(part)
		if err == nil {
			out[i] = n
		}
	}
	return out
}

func isDevelopment(v string) bool {
	return v == "" || v == "dev" || isCommitHash(v)
}

// isCommitHash reports whether s looks like an abbreviated or full git hash.
// At least one hex letter is required so numeric versions are not mistaken for one.
func isCommitHash(s string) bool {
	s = strings.TrimSuffix(s, "-dirty")
	if len(s) < 7 || len(s) > 40 {
		return false
	}
	letter := false
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
			letter = true
		default:
			return false
		}
	}
	return letter
}
