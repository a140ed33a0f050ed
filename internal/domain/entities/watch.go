package entities

import "strings"

// WatchKind selects how a package's upstream is probed for new versions
type WatchKind string

// Watch kinds
const (
	WatchGitHubRelease WatchKind = "github-release"
	WatchGitHubTag     WatchKind = "github-tag"
	WatchURLRegex      WatchKind = "url-regex"
)

// Watch describes where to look for a package's newest upstream version.
// Explicit entries come from cauldron.yml; manifests whose url points at
// a known forge get one derived automatically.
type Watch struct {
	Kind WatchKind
	// Repo is the owner/name pair for forge kinds.
	Repo string
	// URL is the page scraped by url-regex watches.
	URL string
	// Pattern is the version-extracting regular expression for url-regex
	// watches; the first submatch wins, the full match when there is none.
	Pattern string
	// Strip is trimmed from the front of raw candidates. Empty means "v".
	Strip string
}

// StripPrefix returns the prefix trimmed from raw upstream versions
func (w Watch) StripPrefix() string {
	if w.Strip == "" {
		return "v"
	}
	return w.Strip
}

// WatchFromURL derives a release watch from a manifest url= value. Only
// forge URLs with an owner/repo path qualify.
func WatchFromURL(url string) (Watch, bool) {
	rest, ok := forgePath(url)
	if !ok {
		return Watch{}, false
	}

	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Watch{}, false
	}
	repo := parts[0] + "/" + strings.TrimSuffix(parts[1], ".git")
	return Watch{Kind: WatchGitHubRelease, Repo: repo}, true
}

func forgePath(url string) (string, bool) {
	for _, prefix := range []string{
		"https://github.com/",
		"http://github.com/",
		"https://www.github.com/",
	} {
		if strings.HasPrefix(url, prefix) {
			return strings.TrimPrefix(url, prefix), true
		}
	}
	return "", false
}
