// Package optimization implements the portfolio optimization engine:
// objective and constraint catalogs, program assembly, and the solve
// orchestrator over the numeric backend.
package optimization

import (
	"errors"
	"fmt"
	"strings"
)

// Configuration errors, detected at build time before any solve attempt.
var (
	ErrUnknownObjective  = errors.New("unknown objective name")
	ErrUnknownConstraint = errors.New("unknown constraint name")
	ErrMalformedBounds   = errors.New("malformed constraint bounds")
	ErrInvalidRequest    = errors.New("invalid solve request")
)

// SolveStatus classifies the outcome of a solve attempt.
type SolveStatus string

const (
	StatusSuccess     SolveStatus = "success"
	StatusInfeasible  SolveStatus = "infeasible"
	StatusUnbounded   SolveStatus = "unbounded"
	StatusSolverError SolveStatus = "solver_error"
)

// SolveError is the structured failure raised when the solver reports
// infeasibility, unboundedness, or a backend error. It carries the
// requested specifications for diagnosis; no partial weights are ever
// attached.
type SolveError struct {
	Status      SolveStatus
	Objectives  []ObjectiveName
	Constraints []ConstraintName
	Reason      string
	Err         error // wrapped backend error, if any
}

// Error implements the error interface
func (e *SolveError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "solve failed with status %s", e.Status)
	if e.Reason != "" {
		fmt.Fprintf(&b, ": %s", e.Reason)
	}
	if len(e.Objectives) > 0 {
		fmt.Fprintf(&b, " (objectives: %s", joinObjectiveNames(e.Objectives))
		if len(e.Constraints) > 0 {
			fmt.Fprintf(&b, "; constraints: %s", joinConstraintNames(e.Constraints))
		}
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap exposes the wrapped backend error for errors.Is/As.
func (e *SolveError) Unwrap() error {
	return e.Err
}

func joinObjectiveNames(names []ObjectiveName) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ", ")
}

func joinConstraintNames(names []ConstraintName) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ", ")
}
