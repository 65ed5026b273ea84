package operator

import "github.com/pkg/errors"

// Unsupported is returned by Build when a query shape spec.md §4.1
// explicitly excludes from DIFFERENTIAL mode (a volatile function, an
// unpartitioned window, an unbounded recursive CTE past its fallback
// threshold, a bare correlated column in a scalar subquery). Callers
// should catch this with errors.As and fall back to FULL refresh mode
// rather than surfacing it as an outage.
type Unsupported struct {
	Reason string
}

func (u *Unsupported) Error() string { return "operator: unsupported for differential mode: " + u.Reason }

func unsupportedf(format string, args ...any) error {
	return errors.WithStack(&Unsupported{Reason: errors.Errorf(format, args...).Error()})
}
