package gateways

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/github"
	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
	"golang.org/x/oauth2"
)

const probeRetries = 3

// Pages larger than this are truncated before pattern matching.
const maxProbePageSize = 8 << 20

// upstreamProber answers "what is the newest upstream version" for a
// package's watch entry
type upstreamProber struct {
	gh         *github.Client
	httpClient *http.Client
	log        interfaces.Logger
}

// NewUpstreamProber creates an upstream version prober. A non-empty
// token authenticates GitHub API calls, which raises the rate limit
// from 60 to 5000 requests per hour.
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewUpstreamProber(token string, log interfaces.Logger) *upstreamProber {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}

	var ghHTTP *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		ghHTTP = oauth2.NewClient(context.Background(), ts)
	}

	return &upstreamProber{
		gh: github.NewClient(ghHTTP),
		httpClient: &http.Client{
			Timeout: 30 * time.Second, // Version probes should answer quickly
		},
		log: log,
	}
}

// Probe returns the newest raw upstream version for the watch, before
// any prefix stripping
func (p *upstreamProber) Probe(ctx context.Context, watch entities.Watch) (string, error) {
	switch watch.Kind {
	case entities.WatchGitHubRelease:
		return p.probeRelease(ctx, watch.Repo)
	case entities.WatchGitHubTag:
		return p.probeTag(ctx, watch.Repo)
	case entities.WatchURLRegex:
		return p.probePage(ctx, watch.URL, watch.Pattern)
	default:
		return "", fmt.Errorf("unsupported watch kind: %s", watch.Kind)
	}
}

// probeRelease asks the GitHub API for the latest published release.
// Drafts and prereleases never qualify.
func (p *upstreamProber) probeRelease(ctx context.Context, repo string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}

	release, _, err := p.gh.Repositories.GetLatestRelease(ctx, owner, name)
	if err != nil {
		return "", fmt.Errorf("GitHub API request failed: %w", err)
	}
	if release.GetDraft() || release.GetPrerelease() || release.GetTagName() == "" {
		return "", fmt.Errorf("no published release found for %s", repo)
	}

	p.log.Debug("probed github release",
		interfaces.F("repo", repo),
		interfaces.F("tag", release.GetTagName()))
	return release.GetTagName(), nil
}

// probeTag returns the most recent tag name. The GitHub API lists tags
// newest first.
func (p *upstreamProber) probeTag(ctx context.Context, repo string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}

	tags, _, err := p.gh.Repositories.ListTags(ctx, owner, name, &github.ListOptions{PerPage: 30})
	if err != nil {
		return "", fmt.Errorf("GitHub API request failed: %w", err)
	}
	if len(tags) == 0 {
		return "", fmt.Errorf("no tags found for %s", repo)
	}

	p.log.Debug("probed github tags",
		interfaces.F("repo", repo),
		interfaces.F("tag", tags[0].GetName()))
	return tags[0].GetName(), nil
}

// probePage scrapes a page and collects every version the watch pattern
// matches. The first capture group carries the version when the pattern
// has one, otherwise the whole match does. The highest candidate wins.
func (p *upstreamProber) probePage(ctx context.Context, pageURL, pattern string) (string, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("invalid watch pattern: %w", err)
	}

	var body []byte
	operation := func() error {
		var opErr error
		body, opErr = p.fetchPage(ctx, pageURL)
		return opErr
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), probeRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", fmt.Errorf("failed to probe %s: %w", pageURL, err)
	}

	matches := re.FindAllStringSubmatch(string(body), -1)
	if len(matches) == 0 {
		return "", fmt.Errorf("no version matched pattern %s at %s", pattern, pageURL)
	}

	best := ""
	for _, m := range matches {
		candidate := m[0]
		if len(m) > 1 && m[1] != "" {
			candidate = m[1]
		}
		if best == "" || entities.VerCmp(candidate, best) > 0 {
			best = candidate
		}
	}

	p.log.Debug("probed version page",
		interfaces.F("url", pageURL),
		interfaces.F("candidates", len(matches)),
		interfaces.F("best", best))
	return best, nil
}

// fetchPage performs a single page fetch. Client-side and 4xx failures
// are permanent; 429 and 5xx responses retry.
func (p *upstreamProber) fetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", downloadUserAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	//nolint:errcheck // Defer close on HTTP response body
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, backoff.Permanent(respErr)
		}
		return nil, respErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbePageSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

func splitRepo(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", fmt.Errorf("watch repo %q is not in owner/name form", repo)
	}
	return owner, name, nil
}
