package services

import (
	"context"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/ochairo/cauldron/internal/domain/entities"
	"github.com/ochairo/cauldron/internal/domain/interfaces"
	"github.com/ochairo/cauldron/internal/domain/interfaces/gateways"
)

// Update relates a manifest's version to its upstream's newest release
type Update struct {
	Base     string `json:"pkgbase"`
	Current  string `json:"current"`
	Upstream string `json:"upstream,omitempty"`
	Outdated bool   `json:"outdated"`

	// Error carries the probe failure for unreachable upstreams
	Error string `json:"error,omitempty"`
}

// updatesService checks manifests against their upstream projects
type updatesService struct {
	prober gateways.UpstreamProber
	cfg    *entities.Config
	log    interfaces.Logger
}

// NewUpdatesService creates an update checker backed by prober
//
//nolint:revive // unexported-return: Intentionally returns concrete type for testability
func NewUpdatesService(prober gateways.UpstreamProber, cfg *entities.Config, log interfaces.Logger) *updatesService {
	if log == nil {
		log = &interfaces.NoOpLogger{}
	}
	return &updatesService{prober: prober, cfg: cfg, log: log}
}

// Check probes the upstream for one manifest. Probe failures land in
// the result rather than aborting, so a sweep over many manifests
// reports them all.
func (s *updatesService) Check(ctx context.Context, pkg *entities.Package) Update {
	update := Update{Base: pkg.Base, Current: pkg.Version.Ver}

	watch, ok := s.watchFor(pkg)
	if !ok {
		update.Error = "no watch entry and url does not point at a known forge"
		return update
	}

	raw, err := s.prober.Probe(ctx, watch)
	if err != nil {
		update.Error = err.Error()
		return update
	}

	update.Upstream = strings.TrimPrefix(strings.TrimSpace(raw), watch.StripPrefix())
	update.Outdated = versionBehind(update.Current, update.Upstream)

	s.log.Debug("checked upstream",
		interfaces.F("pkgbase", pkg.Base),
		interfaces.F("current", update.Current),
		interfaces.F("upstream", update.Upstream))
	return update
}

// CheckAll probes every manifest's upstream and reports them in
// pkgbase order
func (s *updatesService) CheckAll(ctx context.Context, pkgs []*entities.Package) []Update {
	updates := make([]Update, 0, len(pkgs))
	for _, pkg := range pkgs {
		updates = append(updates, s.Check(ctx, pkg))
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].Base < updates[j].Base })
	return updates
}

// watchFor resolves the watch entry for a manifest. Explicit
// configuration wins over the forge guess derived from url=.
func (s *updatesService) watchFor(pkg *entities.Package) (entities.Watch, bool) {
	if s.cfg != nil {
		if watch, ok := s.cfg.Watches[pkg.Base]; ok {
			return watch, true
		}
	}
	return entities.WatchFromURL(pkg.URL)
}

// versionBehind reports whether upstream is ahead of current. Semver
// ordering applies when both sides parse as semver, vercmp ordering
// otherwise.
func versionBehind(current, upstream string) bool {
	cv, cerr := semver.NewVersion(current)
	uv, uerr := semver.NewVersion(upstream)
	if cerr == nil && uerr == nil {
		return uv.GreaterThan(cv)
	}
	return entities.VerCmp(upstream, current) > 0
}
