package optimization

import (
	"fmt"
	"sort"
)

// ConstraintName identifies a supported constraint.
type ConstraintName string

const (
	ConstraintSumToOne       ConstraintName = "sum_to_one"
	ConstraintLongOnly       ConstraintName = "long_only"
	ConstraintNumberOfAssets ConstraintName = "number_of_assets"
)

// PortfolioConstraint translates a named constraint into algebraic
// constraints over the shared decision variable. Apply appends to the
// program; constraints compose by simple union.
type PortfolioConstraint interface {
	Name() ConstraintName
	Apply(p *Program) error
}

// ConstraintBounds carries optional integer bounds for cardinality-style
// constraints.
type ConstraintBounds struct {
	Lower *int
	Upper *int
}

// constraintMapping resolves names to constraint factories. Built at
// init, read-only afterwards.
var constraintMapping = map[ConstraintName]func(bounds ConstraintBounds) (PortfolioConstraint, error){
	ConstraintSumToOne: func(ConstraintBounds) (PortfolioConstraint, error) {
		return sumToOneConstraint{}, nil
	},
	ConstraintLongOnly: func(ConstraintBounds) (PortfolioConstraint, error) {
		return noShortSellConstraint{}, nil
	},
	ConstraintNumberOfAssets: func(bounds ConstraintBounds) (PortfolioConstraint, error) {
		return newNumberOfAssetsConstraint(bounds)
	},
}

// ToConstraint resolves a name and optional bounds to a concrete
// constraint. An unknown name is a configuration error.
func ToConstraint(name ConstraintName, bounds ConstraintBounds) (PortfolioConstraint, error) {
	factory, ok := constraintMapping[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConstraint, name)
	}
	return factory(bounds)
}

// ConstraintNames returns the supported constraint names, sorted.
func ConstraintNames() []ConstraintName {
	names := make([]ConstraintName, 0, len(constraintMapping))
	for name := range constraintMapping {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// sumToOneConstraint requires the weights to sum to exactly one.
type sumToOneConstraint struct{}

func (sumToOneConstraint) Name() ConstraintName { return ConstraintSumToOne }

func (sumToOneConstraint) Apply(p *Program) error {
	p.Algebraic = append(p.Algebraic, AlgebraicConstraint{
		Label: "sum_to_one",
		Kind:  Equality,
		Value: func(x []float64) float64 {
			var sum float64
			for _, w := range x {
				sum += w
			}
			return sum - 1
		},
		Grad: func(grad, x []float64, scale float64) {
			for i := range x {
				grad[i] += scale
			}
		},
	})
	return nil
}

// noShortSellConstraint requires every weight to be non-negative.
type noShortSellConstraint struct{}

func (noShortSellConstraint) Name() ConstraintName { return ConstraintLongOnly }

func (noShortSellConstraint) Apply(p *Program) error {
	for i := 0; i < p.Var.Size(); i++ {
		idx := i
		p.Algebraic = append(p.Algebraic, AlgebraicConstraint{
			Label: fmt.Sprintf("long_only[%d]", idx),
			Kind:  Inequality,
			Value: func(x []float64) float64 {
				return -x[idx]
			},
			Grad: func(grad, x []float64, scale float64) {
				grad[idx] -= scale
			},
		})
	}
	return nil
}

// numberOfAssetsConstraint bounds the count of active positions via an
// auxiliary boolean indicator vector b: w_i <= b_i element-wise plus
// optional count bounds on sum(b). With neither bound supplied the
// indicator is still allocated and the constraint is a no-op.
type numberOfAssetsConstraint struct {
	bounds ConstraintBounds
}

func newNumberOfAssetsConstraint(bounds ConstraintBounds) (PortfolioConstraint, error) {
	if bounds.Lower != nil && *bounds.Lower < 0 {
		return nil, fmt.Errorf("%w: lower bound %d is negative", ErrMalformedBounds, *bounds.Lower)
	}
	if bounds.Upper != nil && *bounds.Upper < 0 {
		return nil, fmt.Errorf("%w: upper bound %d is negative", ErrMalformedBounds, *bounds.Upper)
	}
	if bounds.Lower != nil && bounds.Upper != nil && *bounds.Lower > *bounds.Upper {
		return nil, fmt.Errorf("%w: lower bound %d exceeds upper bound %d",
			ErrMalformedBounds, *bounds.Lower, *bounds.Upper)
	}
	return numberOfAssetsConstraint{bounds: bounds}, nil
}

func (c numberOfAssetsConstraint) Name() ConstraintName { return ConstraintNumberOfAssets }

func (c numberOfAssetsConstraint) Apply(p *Program) error {
	p.requireIndicator()
	if c.bounds.Lower != nil {
		lower := *c.bounds.Lower
		p.CountLower = &lower
	}
	if c.bounds.Upper != nil {
		upper := *c.bounds.Upper
		p.CountUpper = &upper
	}
	return nil
}
