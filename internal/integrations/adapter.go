// Package integrations defines where routing problems come from.
package integrations

import (
	"context"
	"fmt"

	"fleetroute/internal/opt"
)

// ProblemSource loads a routing problem from an external format.
type ProblemSource interface {
	Name() string
	Load(ctx context.Context) (opt.Problem, error)
}

// Build loads src and builds its model. Errors name the source.
func Build(ctx context.Context, src ProblemSource) (opt.Problem, *opt.Model, error) {
	p, err := src.Load(ctx)
	if err != nil {
		return p, nil, fmt.Errorf("%s: %w", src.Name(), err)
	}
	m, err := p.Build()
	if err != nil {
		return p, nil, fmt.Errorf("%s: %w", src.Name(), err)
	}
	return p, m, nil
}
