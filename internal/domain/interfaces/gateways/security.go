package gateways

import (
	"context"

	"github.com/ochairo/cauldron/internal/domain/entities"
)

// VulnerabilityGateway queries an advisory database for known
// vulnerabilities in a package version
type VulnerabilityGateway interface {
	// QueryPackage returns every advisory affecting the package at the
	// given upstream version
	QueryPackage(ctx context.Context, name, version string) ([]entities.Vulnerability, error)
}
