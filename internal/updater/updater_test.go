package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	u := New()
	if u.owner != DefaultOwner {
		t.Errorf("owner = %q, want %q", u.owner, DefaultOwner)
	}
	if u.repo != DefaultRepo {
		t.Errorf("repo = %q, want %q", u.repo, DefaultRepo)
	}
}

func TestNewWithOptions(t *testing.T) {
	u := New(WithOwner("testowner"), WithRepo("testrepo"), WithCurrentVersion("v1.0.0"))
	if u.owner != "testowner" {
		t.Errorf("owner = %q, want %q", u.owner, "testowner")
	}
	if u.repo != "testrepo" {
		t.Errorf("repo = %q, want %q", u.repo, "testrepo")
	}
	if u.currentVersion != "v1.0.0" {
		t.Errorf("currentVersion = %q, want %q", u.currentVersion, "v1.0.0")
	}
}

func TestGetLatestReleaseDecodesServerResponse(t *testing.T) {
	release := Release{
		TagName:     "v1.2.0",
		PublishedAt: time.Now(),
		Assets: []Asset{
			{Name: "zureshot-linux-amd64.tar.gz", BrowserDownloadURL: "https://example.com/download"},
		},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(release)
	}))
	defer server.Close()

	u := New(WithHTTPClient(server.Client()))
	got, err := u.getLatestReleaseFrom(server.URL)
	if err != nil {
		t.Fatalf("getLatestReleaseFrom: %v", err)
	}
	if got.TagName != "v1.2.0" {
		t.Errorf("TagName = %q, want v1.2.0", got.TagName)
	}
}

func TestGetLatestReleaseReturnsErrorOnNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	u := New(WithHTTPClient(server.Client()))
	if _, err := u.getLatestReleaseFrom(server.URL); err == nil {
		t.Fatal("expected an error for a 404 response")
	}
}

func TestIsNewerVersion(t *testing.T) {
	tests := []struct {
		name    string
		latest  string
		current string
		want    bool
	}{
		{"minor bump", "v1.1.0", "v1.0.0", true},
		{"same version", "v1.0.0", "v1.0.0", false},
		{"current is newer", "v1.0.0", "v1.1.0", false},
		{"no v prefix", "1.1.0", "1.0.0", true},
		{"dev version always updates", "v1.0.0", "dev", true},
		{"unknown version always updates", "v1.0.0", "unknown", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNewerVersion(tt.latest, tt.current); got != tt.want {
				t.Errorf("isNewerVersion(%q, %q) = %v, want %v", tt.latest, tt.current, got, tt.want)
			}
		})
	}
}

func TestExpectedAssetNameMatchesPlatformConvention(t *testing.T) {
	name := expectedAssetName()
	if name == "" {
		t.Fatal("expected a non-empty asset name")
	}
}

// getLatestReleaseFrom is a small test seam: GetLatestRelease always hits
// GitHubAPIURL, so tests substitute a local httptest server by calling the
// same HTTP/decode logic against an arbitrary base URL.
func (u *Updater) getLatestReleaseFrom(baseURL string) (*Release, error) {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, baseURL, nil)
	if err != nil {
		return nil, err
	}
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
		return nil, err
	}
	return &release, nil
}
