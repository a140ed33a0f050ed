package gateways

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
)

const osvAPIURL = "https://api.osv.dev/v1/query"

// osvGateway looks up advisories in the OSV database over its HTTP API.
// No scanner binary is involved.
type osvGateway struct {
	apiURL     string
	httpClient *http.Client
	log        interfaces.Logger
}

// NewOSVGateway creates an advisory lookup against api.osv.dev
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewOSVGateway(log interfaces.Logger) *osvGateway {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &osvGateway{
		apiURL: osvAPIURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

// QueryPackage returns every advisory affecting the package at the
// given upstream version. The query carries no ecosystem, so OSV
// matches the name across all of them.
func (g *osvGateway) QueryPackage(ctx context.Context, name, version string) ([]entities.Vulnerability, error) {
	payload := osvQuery{Package: osvPackage{Name: name}, Version: version}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", downloadUserAgent)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("OSV API request failed: %w", err)
	}
	//nolint:errcheck // Defer close on HTTP response body
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OSV API error: HTTP %d", resp.StatusCode)
	}

	var decoded osvResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to parse OSV response: %w", err)
	}

	vulns := make([]entities.Vulnerability, 0, len(decoded.Vulns))
	for _, v := range decoded.Vulns {
		vulns = append(vulns, entities.Vulnerability{
			ID:       v.ID,
			Severity: normalizeSeverity(v.DatabaseSpecific.Severity),
			Summary:  v.Summary,
			FixedIn:  firstFixedVersion(v),
			Aliases:  v.Aliases,
		})
	}
	sort.Slice(vulns, func(i, j int) bool { return vulns[i].ID < vulns[j].ID })

	g.log.Debug("queried advisory database",
		interfaces.F("package", name),
		interfaces.F("version", version),
		interfaces.F("findings", len(vulns)))
	return vulns, nil
}

// normalizeSeverity maps advisory severity labels onto the
// CRITICAL/HIGH/MEDIUM/LOW vocabulary. GHSA records say MODERATE where
// this report says MEDIUM.
func normalizeSeverity(s string) string {
	switch strings.ToUpper(s) {
	case "CRITICAL":
		return "CRITICAL"
	case "HIGH":
		return "HIGH"
	case "MODERATE", "MEDIUM":
		return "MEDIUM"
	case "LOW":
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// firstFixedVersion digs the earliest fix event out of the affected
// ranges, when the advisory records one
func firstFixedVersion(v osvVulnerability) string {
	for _, affected := range v.Affected {
		for _, r := range affected.Ranges {
			for _, event := range r.Events {
				if event.Fixed != "" {
					return event.Fixed
				}
			}
		}
	}
	return ""
}

// OSV wire format, reduced to the fields the audit consumes

type osvQuery struct {
	Package osvPackage `json:"package"`
	Version string     `json:"version"`
}

type osvPackage struct {
	Name string `json:"name"`
}

type osvResponse struct {
	Vulns []osvVulnerability `json:"vulns"`
}

type osvVulnerability struct {
	ID               string        `json:"id"`
	Summary          string        `json:"summary"`
	Aliases          []string      `json:"aliases"`
	Affected         []osvAffected `json:"affected"`
	DatabaseSpecific struct {
		Severity string `json:"severity"`
	} `json:"database_specific"`
}

type osvAffected struct {
	Ranges []osvRange `json:"ranges"`
}

type osvRange struct {
	Type   string     `json:"type"`
	Events []osvEvent `json:"events"`
}

type osvEvent struct {
	Introduced string `json:"introduced"`
	Fixed      string `json:"fixed"`
}
