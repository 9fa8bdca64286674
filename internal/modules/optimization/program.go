package optimization

import (
	"fmt"

	"github.com/aristath/optifolio/internal/modules/universe"
)

// Variable is a decision vector allocated fresh per optimization run.
// Boolean variables are auxiliary indicators introduced by cardinality
// constraints; the orchestrator enforces their integrality.
type Variable struct {
	size    int
	boolean bool
}

func newVariable(size int, boolean bool) *Variable {
	return &Variable{size: size, boolean: boolean}
}

// Size returns the variable's dimensionality.
func (v *Variable) Size() int {
	return v.size
}

// Boolean reports whether the variable is an indicator vector.
func (v *Variable) Boolean() bool {
	return v.boolean
}

// Term is one weighted scalar contribution to the program's cost
// function. Value returns the weighted contribution at x; Grad, when
// non-nil, accumulates the weighted gradient into grad.
type Term struct {
	Name   ObjectiveName
	Weight float64
	Value  func(x []float64) float64
	Grad   func(grad, x []float64)
}

// ConstraintKind distinguishes equalities from inequalities.
type ConstraintKind int

const (
	// Equality constraints require g(x) == 0.
	Equality ConstraintKind = iota
	// Inequality constraints require g(x) <= 0.
	Inequality
)

// AlgebraicConstraint is a scalar constraint over the decision variable.
// Grad, when non-nil, accumulates scale * dg/dx into grad.
type AlgebraicConstraint struct {
	Label string
	Kind  ConstraintKind
	Value func(x []float64) float64
	Grad  func(grad, x []float64, scale float64)
}

// Violation returns how far x is from satisfying the constraint.
func (c *AlgebraicConstraint) Violation(x []float64) float64 {
	g := c.Value(x)
	switch c.Kind {
	case Equality:
		if g < 0 {
			return -g
		}
		return g
	default:
		if g > 0 {
			return g
		}
		return 0
	}
}

// Program is the assembled convex program: a fresh decision variable, the
// summed weighted cost terms, and the collected constraints. Building
// performs no numerical work.
type Program struct {
	Universe    *universe.Universe
	Var         *Variable
	Terms       []Term
	Algebraic   []AlgebraicConstraint
	Objectives  []ObjectiveName
	Constraints []ConstraintName

	// Cardinality bookkeeping: the indicator variable and optional count
	// bounds. Indicator is allocated even when neither bound is supplied.
	Indicator  *Variable
	CountLower *int
	CountUpper *int
}

// requireIndicator allocates the boolean indicator vector on first use.
func (p *Program) requireIndicator() *Variable {
	if p.Indicator == nil {
		p.Indicator = newVariable(p.Var.Size(), true)
	}
	return p.Indicator
}

// BuildProgram assembles a program from the universe and the requested
// objective and constraint specifications. The constraint list may be
// empty, in which case no constraints are applied; callers wanting the
// conventional defaults must pass them explicitly.
func BuildProgram(
	u *universe.Universe,
	objectives []PortfolioObjective,
	constraints []PortfolioConstraint,
) (*Program, error) {
	if u == nil || u.Size() == 0 {
		return nil, fmt.Errorf("program requires a non-empty universe")
	}
	if len(objectives) == 0 {
		return nil, fmt.Errorf("program requires at least one objective")
	}

	p := &Program{
		Universe: u,
		Var:      newVariable(u.Size(), false),
	}

	for _, obj := range objectives {
		term, err := obj.Term(p.Var)
		if err != nil {
			return nil, fmt.Errorf("objective %s: %w", obj.Name(), err)
		}
		p.Terms = append(p.Terms, term)
		p.Objectives = append(p.Objectives, obj.Name())
	}

	for _, con := range constraints {
		if err := con.Apply(p); err != nil {
			return nil, fmt.Errorf("constraint %s: %w", con.Name(), err)
		}
		p.Constraints = append(p.Constraints, con.Name())
	}

	return p, nil
}

// CostValue evaluates the summed weighted cost at x.
func (p *Program) CostValue(x []float64) float64 {
	var total float64
	for i := range p.Terms {
		total += p.Terms[i].Value(x)
	}
	return total
}

// Differentiable reports whether every term and constraint carries a
// gradient, which decides the solver method.
func (p *Program) Differentiable() bool {
	for i := range p.Terms {
		if p.Terms[i].Grad == nil {
			return false
		}
	}
	for i := range p.Algebraic {
		if p.Algebraic[i].Grad == nil {
			return false
		}
	}
	return true
}
