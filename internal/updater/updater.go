// Package updater checks GitHub releases for a newer Zureshot version.
//
// Zureshot never downloads or installs a release itself: it is a menu-bar
// daemon with an `auto_update` settings flag that only gates whether this
// check runs and whether the result is surfaced to the user.
package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"
)

const (
	// GitHubAPIURL is the base URL for the GitHub API.
	GitHubAPIURL = "https://api.github.com"

	// DefaultOwner is the default repository owner.
	DefaultOwner = "anxiong2025"

	// DefaultRepo is the default repository name.
	DefaultRepo = "zureshot"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second
)

// Release represents a GitHub release.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	Draft       bool      `json:"draft"`
	Prerelease  bool      `json:"prerelease"`
	PublishedAt time.Time `json:"published_at"`
	Body        string    `json:"body"`
	Assets      []Asset   `json:"assets"`
	HTMLURL     string    `json:"html_url"`
}

// Asset represents a release asset (downloadable file).
type Asset struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	BrowserDownloadURL string `json:"browser_download_url"`
	ContentType        string `json:"content_type"`
}

// UpdateInfo reports whether a newer release is available.
type UpdateInfo struct {
	CurrentVersion  string
	LatestVersion   string
	UpdateAvailable bool
	ReleaseNotes    string
	HTMLURL         string
	AssetName       string
	PublishedAt     time.Time
}

// Updater checks for new releases. It never installs anything.
type Updater struct {
	owner          string
	repo           string
	httpClient     *http.Client
	currentVersion string
}

// Option is a functional option for configuring the Updater.
type Option func(*Updater)

// WithOwner sets the GitHub repository owner.
func WithOwner(owner string) Option { return func(u *Updater) { u.owner = owner } }

// WithRepo sets the GitHub repository name.
func WithRepo(repo string) Option { return func(u *Updater) { u.repo = repo } }

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option { return func(u *Updater) { u.httpClient = client } }

// WithCurrentVersion sets the current version for comparison.
func WithCurrentVersion(version string) Option {
	return func(u *Updater) { u.currentVersion = version }
}

// New creates an Updater.
func New(opts ...Option) *Updater {
	u := &Updater{
		owner:          DefaultOwner,
		repo:           DefaultRepo,
		httpClient:     &http.Client{Timeout: DefaultTimeout},
		currentVersion: "dev",
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// CheckForUpdates fetches the latest release and compares it to the
// running version.
func (u *Updater) CheckForUpdates(ctx context.Context) (*UpdateInfo, error) {
	latest, err := u.GetLatestRelease(ctx)
	if err != nil {
		return nil, fmt.Errorf("get latest release: %w", err)
	}

	info := &UpdateInfo{
		CurrentVersion:  u.currentVersion,
		LatestVersion:   latest.TagName,
		ReleaseNotes:    latest.Body,
		HTMLURL:         latest.HTMLURL,
		PublishedAt:     latest.PublishedAt,
		UpdateAvailable: isNewerVersion(latest.TagName, u.currentVersion),
	}

	assetName := expectedAssetName()
	for _, asset := range latest.Assets {
		if strings.Contains(asset.Name, assetName) {
			info.AssetName = asset.Name
			break
		}
	}

	return info, nil
}

// GetLatestRelease fetches the latest release from GitHub.
func (u *Updater) GetLatestRelease(ctx context.Context) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", GitHubAPIURL, u.owner, u.repo)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("no releases found")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GitHub API returned status %d", resp.StatusCode)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}
	return &release, nil
}

// isNewerVersion reports whether latest is newer than current, comparing
// dot-separated components numerically (a non-numeric component counts as
// 0).
func isNewerVersion(latest, current string) bool {
	if current == "dev" || current == "unknown" {
		return true
	}
	lp := strings.Split(strings.TrimPrefix(latest, "v"), ".")
	cp := strings.Split(strings.TrimPrefix(current, "v"), ".")
	for i := 0; i < len(lp) || i < len(cp); i++ {
		var l, c int
		if i < len(lp) {
			l, _ = strconv.Atoi(lp[i])
		}
		if i < len(cp) {
			c, _ = strconv.Atoi(cp[i])
		}
		if l != c {
			return l > c
		}
	}
	return false
}

// expectedAssetName returns the expected release-asset substring for this
// platform, used to surface a download link to the user (never fetched
// automatically).
func expectedAssetName() string {
	arch := runtime.GOARCH
	return fmt.Sprintf("zureshot-%s-%s", runtime.GOOS, arch)
}

// FormatUpdateInfo formats update information for display in the menu/CLI.
func FormatUpdateInfo(info *UpdateInfo) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Current version: %s\n", info.CurrentVersion))
	sb.WriteString(fmt.Sprintf("Latest version:  %s\n", info.LatestVersion))
	if info.UpdateAvailable {
		sb.WriteString("\nUpdate available: " + info.HTMLURL + "\n")
	} else {
		sb.WriteString("\nYou are running the latest version.\n")
	}
	return sb.String()
}
