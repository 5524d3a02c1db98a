// ABOUTME: Error types raised by the calculation engine.
// ABOUTME: FormulaCycleError is the only evaluation failure; missing data is never an error.
package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrUnknownFormulaKind is returned for a persisted formula whose kind is not one of the eight.
	ErrUnknownFormulaKind = errors.New("unknown formula kind")

	// ErrMetricNotFound is returned when the requested metric has no definition.
	ErrMetricNotFound = errors.New("metric not found")

	// ErrGranularityMismatch is returned when periods do not match the requested granularity.
	ErrGranularityMismatch = errors.New("period granularity mismatch")
)

// FormulaCycleError reports a calculated metric that transitively depends on itself.
// Chain starts and ends with the same metric id.
type FormulaCycleError struct {
	Chain []uuid.UUID
	Names []string
}

func (e *FormulaCycleError) Error() string {
	labels := e.Names
	if len(labels) != len(e.Chain) {
		labels = make([]string, len(e.Chain))
		for i, id := range e.Chain {
			labels[i] = id.String()[:8]
		}
	}
	return fmt.Sprintf("formula cycle detected: %s", strings.Join(labels, " → "))
}

// IsFormulaCycle reports whether err is, or wraps, a FormulaCycleError.
func IsFormulaCycle(err error) bool {
	var cycle *FormulaCycleError
	return errors.As(err, &cycle)
}
