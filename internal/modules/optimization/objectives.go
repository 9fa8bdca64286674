package optimization

import (
	"fmt"
	"math"
	"sort"
)

// ObjectiveName identifies a supported objective.
type ObjectiveName string

const (
	ObjectiveExpectedReturns ObjectiveName = "expected_returns"
	ObjectiveVariance        ObjectiveName = "variance"
	ObjectiveCVaR            ObjectiveName = "cvar"
	ObjectiveMAD             ObjectiveName = "mad"
)

// CVaRConfidence is the tail confidence level for the CVaR objective.
const CVaRConfidence = 0.95

// AuxData carries the market-derived inputs objectives may require.
// Acquiring them is the market-data collaborator's responsibility; the
// catalog only validates dimensions.
type AuxData struct {
	ExpectedReturns []float64   // one per universe asset
	Covariance      [][]float64 // n x n
	Scenarios       [][]float64 // historical return rows, n columns
}

// PortfolioObjective contributes one weighted scalar term to the cost
// function, bound to the shared decision variable. The convention is
// minimization: an objective wanting maximization contributes its
// negated expression.
type PortfolioObjective interface {
	Name() ObjectiveName
	Term(v *Variable) (Term, error)
}

// ObjectivesMap is the objective catalog, built once at process start and
// read-only thereafter.
type ObjectivesMap struct {
	factories map[ObjectiveName]func(weight float64, aux *AuxData) PortfolioObjective
}

// NewObjectivesMap creates the catalog with all supported objectives.
func NewObjectivesMap() *ObjectivesMap {
	return &ObjectivesMap{
		factories: map[ObjectiveName]func(weight float64, aux *AuxData) PortfolioObjective{
			ObjectiveExpectedReturns: func(weight float64, aux *AuxData) PortfolioObjective {
				return &expectedReturnsObjective{weight: weight, aux: aux}
			},
			ObjectiveVariance: func(weight float64, aux *AuxData) PortfolioObjective {
				return &varianceObjective{weight: weight, aux: aux}
			},
			ObjectiveCVaR: func(weight float64, aux *AuxData) PortfolioObjective {
				return &cvarObjective{weight: weight, aux: aux}
			},
			ObjectiveMAD: func(weight float64, aux *AuxData) PortfolioObjective {
				return &madObjective{weight: weight, aux: aux}
			},
		},
	}
}

// ToObjective resolves a name and weight to a concrete objective. An
// unknown name is a configuration error, reported before any solve.
func (m *ObjectivesMap) ToObjective(name ObjectiveName, weight float64, aux *AuxData) (PortfolioObjective, error) {
	factory, ok := m.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObjective, name)
	}
	return factory(weight, aux), nil
}

// Names returns the supported objective names, sorted.
func (m *ObjectivesMap) Names() []ObjectiveName {
	names := make([]ObjectiveName, 0, len(m.factories))
	for name := range m.factories {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// expectedReturnsObjective maximizes mu'w, contributed as -weight * mu'w.
type expectedReturnsObjective struct {
	weight float64
	aux    *AuxData
}

func (o *expectedReturnsObjective) Name() ObjectiveName { return ObjectiveExpectedReturns }

func (o *expectedReturnsObjective) Term(v *Variable) (Term, error) {
	if o.aux == nil || len(o.aux.ExpectedReturns) != v.Size() {
		return Term{}, fmt.Errorf("expected returns vector must have length %d", v.Size())
	}
	mu := o.aux.ExpectedReturns
	weight := o.weight
	return Term{
		Name:   ObjectiveExpectedReturns,
		Weight: weight,
		Value: func(x []float64) float64 {
			var ret float64
			for i := range x {
				ret += mu[i] * x[i]
			}
			return -weight * ret
		},
		Grad: func(grad, x []float64) {
			for i := range x {
				grad[i] -= weight * mu[i]
			}
		},
	}, nil
}

// varianceObjective minimizes portfolio variance w'Sigma w.
type varianceObjective struct {
	weight float64
	aux    *AuxData
}

func (o *varianceObjective) Name() ObjectiveName { return ObjectiveVariance }

func (o *varianceObjective) Term(v *Variable) (Term, error) {
	n := v.Size()
	if o.aux == nil || len(o.aux.Covariance) != n {
		return Term{}, fmt.Errorf("covariance matrix must be %dx%d", n, n)
	}
	for i := range o.aux.Covariance {
		if len(o.aux.Covariance[i]) != n {
			return Term{}, fmt.Errorf("covariance matrix row %d has size %d, expected %d", i, len(o.aux.Covariance[i]), n)
		}
	}
	sigma := o.aux.Covariance
	weight := o.weight
	return Term{
		Name:   ObjectiveVariance,
		Weight: weight,
		Value: func(x []float64) float64 {
			var variance float64
			for i := range x {
				for j := range x {
					variance += x[i] * x[j] * sigma[i][j]
				}
			}
			return weight * variance
		},
		Grad: func(grad, x []float64) {
			for i := range x {
				var d float64
				for j := range x {
					d += 2 * sigma[i][j] * x[j]
				}
				grad[i] += weight * d
			}
		},
	}, nil
}

// cvarObjective minimizes the conditional value at risk of the
// portfolio's historical scenario returns. Non-smooth: no gradient, the
// orchestrator falls back to a derivative-free method.
type cvarObjective struct {
	weight float64
	aux    *AuxData
}

func (o *cvarObjective) Name() ObjectiveName { return ObjectiveCVaR }

func (o *cvarObjective) Term(v *Variable) (Term, error) {
	scenarios, err := validateScenarios(o.aux, v.Size())
	if err != nil {
		return Term{}, err
	}
	weight := o.weight
	return Term{
		Name:   ObjectiveCVaR,
		Weight: weight,
		Value: func(x []float64) float64 {
			losses := scenarioLosses(scenarios, x)
			return weight * conditionalValueAtRisk(losses, CVaRConfidence)
		},
	}, nil
}

// madObjective minimizes the mean absolute deviation of the portfolio's
// historical scenario returns. Non-smooth like CVaR.
type madObjective struct {
	weight float64
	aux    *AuxData
}

func (o *madObjective) Name() ObjectiveName { return ObjectiveMAD }

func (o *madObjective) Term(v *Variable) (Term, error) {
	scenarios, err := validateScenarios(o.aux, v.Size())
	if err != nil {
		return Term{}, err
	}
	weight := o.weight
	return Term{
		Name:   ObjectiveMAD,
		Weight: weight,
		Value: func(x []float64) float64 {
			returns := scenarioReturns(scenarios, x)
			mean := 0.0
			for _, r := range returns {
				mean += r
			}
			mean /= float64(len(returns))

			var mad float64
			for _, r := range returns {
				mad += math.Abs(r - mean)
			}
			return weight * mad / float64(len(returns))
		},
	}, nil
}

func validateScenarios(aux *AuxData, n int) ([][]float64, error) {
	if aux == nil || len(aux.Scenarios) == 0 {
		return nil, fmt.Errorf("scenario returns required")
	}
	for i := range aux.Scenarios {
		if len(aux.Scenarios[i]) != n {
			return nil, fmt.Errorf("scenario row %d has size %d, expected %d", i, len(aux.Scenarios[i]), n)
		}
	}
	return aux.Scenarios, nil
}

// scenarioReturns computes the portfolio return per scenario row.
func scenarioReturns(scenarios [][]float64, x []float64) []float64 {
	out := make([]float64, len(scenarios))
	for t, row := range scenarios {
		var r float64
		for i := range x {
			r += row[i] * x[i]
		}
		out[t] = r
	}
	return out
}

// scenarioLosses negates scenario returns so the tail of interest is a
// high loss.
func scenarioLosses(scenarios [][]float64, x []float64) []float64 {
	out := scenarioReturns(scenarios, x)
	for t := range out {
		out[t] = -out[t]
	}
	return out
}

// conditionalValueAtRisk returns the mean loss in the (1-confidence)
// worst tail of the loss distribution.
func conditionalValueAtRisk(losses []float64, confidence float64) float64 {
	sorted := make([]float64, len(losses))
	copy(sorted, losses)
	sort.Float64s(sorted)

	cutoff := int(math.Ceil(confidence * float64(len(sorted))))
	if cutoff >= len(sorted) {
		cutoff = len(sorted) - 1
	}

	tail := sorted[cutoff:]
	if len(tail) == 0 {
		tail = sorted[len(sorted)-1:]
	}

	var sum float64
	for _, l := range tail {
		sum += l
	}
	return sum / float64(len(tail))
}
