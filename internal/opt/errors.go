package opt

import (
	"errors"
	"fmt"
)

// ErrConfiguration is matched by every error raised while building a model.
var ErrConfiguration = errors.New("opt: invalid configuration")

// ErrDuplicateDimension is returned when a dimension name is registered twice.
var ErrDuplicateDimension = errors.New("opt: duplicate dimension")

// ErrRange is matched by RangeError.
var ErrRange = errors.New("opt: lower bound exceeds upper bound")

// ConfigurationError reports a malformed topology, cost model or dimension.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("opt: invalid %s: %s", e.Field, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func configErr(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// RangeError is returned by SetBound when lo > hi.
type RangeError struct {
	Dimension string
	Node      int
	Lo, Hi    int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("opt: dimension %q node %d: bound [%d,%d] is empty", e.Dimension, e.Node, e.Lo, e.Hi)
}

func (e *RangeError) Is(target error) bool {
	return target == ErrRange || target == ErrConfiguration
}

// InvariantError is the panic value used when the engine finds its own state
// corrupted (a cycle in next pointers, a slot on two routes). It is never
// returned as an error.
type InvariantError struct {
	Reason string
}

func (e *InvariantError) Error() string { return "opt: invariant violated: " + e.Reason }

func invariant(format string, args ...any) {
	panic(&InvariantError{Reason: fmt.Sprintf(format, args...)})
}
