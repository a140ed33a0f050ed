// Package gateways defines interfaces for external service adapters.
package gateways

import (
	"context"

	"github.com/ochairo/cauldron/internal/domain/entities"
)

// UpstreamProber looks up the newest published version of a package's
// upstream project
type UpstreamProber interface {
	// Probe returns the newest raw upstream version for the watch,
	// before any prefix stripping
	Probe(ctx context.Context, watch entities.Watch) (string, error)
}
