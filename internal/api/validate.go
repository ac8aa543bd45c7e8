package api

import (
	"fmt"
	"net/url"

	"fleetroute/internal/model"
)

const maxProblemNodes = 5000

func validateOptions(o model.SolveOptions) error {
	if o.TimeLimitMs < 0 {
		return fmt.Errorf("timeLimitMs must be >= 0")
	}
	if o.MaxIterations < 0 {
		return fmt.Errorf("maxIterations must be >= 0")
	}
	if o.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	return nil
}

// validateSolveRequest checks request-level fields. The problem itself is
// validated when its model is built.
func validateSolveRequest(req *model.SolveRequest) error {
	if n := len(req.Problem.Matrix); n == 0 {
		return fmt.Errorf("problem.matrix is required")
	} else if n > maxProblemNodes {
		return fmt.Errorf("problem has %d nodes, at most %d allowed", n, maxProblemNodes)
	}
	if err := validateOptions(req.Options); err != nil {
		return err
	}
	if req.CallbackURL != "" {
		u, err := url.Parse(req.CallbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("callbackUrl must be an absolute http(s) URL")
		}
	}
	if req.CallbackSecret != "" && req.CallbackURL == "" {
		return fmt.Errorf("callbackSecret given without callbackUrl")
	}
	return nil
}
