package optimization

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/optifolio/internal/modules/universe"
)

const testTolerance = 1e-4

func testUniverse(t *testing.T, tickers ...string) *universe.Universe {
	t.Helper()
	u, err := universe.New(tickers)
	require.NoError(t, err)
	return u
}

func threeAssetAux() *AuxData {
	return &AuxData{
		ExpectedReturns: []float64{0.05, 0.12, 0.08},
		Covariance: [][]float64{
			{0.04, 0.0, 0.0},
			{0.0, 0.04, 0.0},
			{0.0, 0.0, 0.04},
		},
		Scenarios: [][]float64{
			{0.01, 0.02, -0.01},
			{-0.02, 0.01, 0.03},
			{0.015, -0.005, 0.01},
			{-0.01, 0.03, -0.02},
			{0.005, -0.015, 0.02},
			{0.02, 0.01, 0.005},
			{-0.005, -0.02, -0.01},
			{0.01, 0.025, 0.015},
		},
	}
}

func buildTestProgram(t *testing.T, u *universe.Universe, aux *AuxData, objNames []ObjectiveName, conSpecs []ConstraintSpec) *Program {
	t.Helper()

	catalog := NewObjectivesMap()
	objectives := make([]PortfolioObjective, 0, len(objNames))
	for _, name := range objNames {
		obj, err := catalog.ToObjective(name, 1.0, aux)
		require.NoError(t, err)
		objectives = append(objectives, obj)
	}

	constraints := make([]PortfolioConstraint, 0, len(conSpecs))
	for _, spec := range conSpecs {
		con, err := ToConstraint(spec.Name, ConstraintBounds{Lower: spec.LowerBound, Upper: spec.UpperBound})
		require.NoError(t, err)
		constraints = append(constraints, con)
	}

	p, err := BuildProgram(u, objectives, constraints)
	require.NoError(t, err)
	return p
}

func defaultConstraintSpecs() []ConstraintSpec {
	return []ConstraintSpec{
		{Name: ConstraintSumToOne},
		{Name: ConstraintLongOnly},
	}
}

func TestSolveVarianceEqualRisk(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB", "CCC")
	p := buildTestProgram(t, u, threeAssetAux(), []ObjectiveName{ObjectiveVariance}, defaultConstraintSpecs())

	solver := NewSolver(testTolerance, zerolog.Nop())
	solution, err := solver.Solve(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, solution.Weights, 3)

	sum := 0.0
	for _, w := range solution.Weights {
		assert.GreaterOrEqual(t, w, -testTolerance)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, testTolerance)

	// Identical uncorrelated variances make equal weighting optimal.
	for _, w := range solution.Weights {
		assert.InDelta(t, 1.0/3.0, w, 0.01)
	}
}

func TestSolveExpectedReturnsConcentrates(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB", "CCC")
	p := buildTestProgram(t, u, threeAssetAux(), []ObjectiveName{ObjectiveExpectedReturns}, defaultConstraintSpecs())

	solver := NewSolver(testTolerance, zerolog.Nop())
	solution, err := solver.Solve(context.Background(), p)
	require.NoError(t, err)

	// BBB carries the highest expected return and should absorb the
	// full allocation.
	assert.Greater(t, solution.Weights[1], 0.95)

	sum := 0.0
	for _, w := range solution.Weights {
		sum += w
	}
	assert.InDelta(t, 1.0, sum, testTolerance)
}

func TestSolveCombinedObjectives(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB", "CCC")
	p := buildTestProgram(t, u, threeAssetAux(),
		[]ObjectiveName{ObjectiveExpectedReturns, ObjectiveVariance},
		defaultConstraintSpecs())

	solver := NewSolver(testTolerance, zerolog.Nop())
	solution, err := solver.Solve(context.Background(), p)
	require.NoError(t, err)

	sum := 0.0
	for _, w := range solution.Weights {
		assert.GreaterOrEqual(t, w, -testTolerance)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, testTolerance)

	// The risk term spreads mass but the return term keeps the best
	// asset overweighted.
	assert.Greater(t, solution.Weights[1], solution.Weights[0])
}

func TestSolveNonSmoothObjectives(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB", "CCC")

	for _, objective := range []ObjectiveName{ObjectiveCVaR, ObjectiveMAD} {
		t.Run(string(objective), func(t *testing.T) {
			p := buildTestProgram(t, u, threeAssetAux(), []ObjectiveName{objective}, defaultConstraintSpecs())
			assert.False(t, p.Differentiable())

			solver := NewSolver(testTolerance, zerolog.Nop())
			solution, err := solver.Solve(context.Background(), p)
			require.NoError(t, err)

			sum := 0.0
			for _, w := range solution.Weights {
				assert.GreaterOrEqual(t, w, -testTolerance)
				sum += w
			}
			assert.InDelta(t, 1.0, sum, testTolerance)
		})
	}
}

func TestSolveCardinalityUpperOne(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB", "CCC")
	one := 1
	specs := append(defaultConstraintSpecs(), ConstraintSpec{Name: ConstraintNumberOfAssets, UpperBound: &one})
	p := buildTestProgram(t, u, threeAssetAux(), []ObjectiveName{ObjectiveExpectedReturns}, specs)

	solver := NewSolver(testTolerance, zerolog.Nop())
	solution, err := solver.Solve(context.Background(), p)
	require.NoError(t, err)

	active := 0
	for _, w := range solution.Weights {
		if math.Abs(w) > 1e-3 {
			active++
			assert.InDelta(t, 1.0, w, testTolerance)
		}
	}
	assert.Equal(t, 1, active)
}

func TestSolveCardinalityUpperZeroInfeasible(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB", "CCC")
	zero := 0
	specs := append(defaultConstraintSpecs(), ConstraintSpec{Name: ConstraintNumberOfAssets, UpperBound: &zero})
	p := buildTestProgram(t, u, threeAssetAux(), []ObjectiveName{ObjectiveVariance}, specs)

	solver := NewSolver(testTolerance, zerolog.Nop())
	solution, err := solver.Solve(context.Background(), p)
	require.Error(t, err)
	assert.Nil(t, solution)

	var solveErr *SolveError
	require.True(t, errors.As(err, &solveErr))
	assert.Equal(t, StatusInfeasible, solveErr.Status)
	assert.Contains(t, solveErr.Constraints, ConstraintNumberOfAssets)
}

func TestSolveCardinalityLowerExceedsUniverse(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB")
	five := 5
	specs := append(defaultConstraintSpecs(), ConstraintSpec{Name: ConstraintNumberOfAssets, LowerBound: &five})
	p := buildTestProgram(t, u, &AuxData{
		ExpectedReturns: []float64{0.05, 0.12},
		Covariance:      [][]float64{{0.04, 0.0}, {0.0, 0.04}},
	}, []ObjectiveName{ObjectiveVariance}, specs)

	solver := NewSolver(testTolerance, zerolog.Nop())
	_, err := solver.Solve(context.Background(), p)
	require.Error(t, err)

	var solveErr *SolveError
	require.True(t, errors.As(err, &solveErr))
	assert.Equal(t, StatusInfeasible, solveErr.Status)
}

func TestSolveCardinalityLowerForcesSpread(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB", "CCC")
	three := 3
	specs := append(defaultConstraintSpecs(), ConstraintSpec{Name: ConstraintNumberOfAssets, LowerBound: &three})
	// Expected returns alone would concentrate everything on BBB.
	p := buildTestProgram(t, u, threeAssetAux(), []ObjectiveName{ObjectiveExpectedReturns}, specs)

	solver := NewSolver(testTolerance, zerolog.Nop())
	solution, err := solver.Solve(context.Background(), p)
	require.NoError(t, err)

	active := 0
	for _, w := range solution.Weights {
		if math.Abs(w) > 1e-6 {
			active++
		}
	}
	assert.GreaterOrEqual(t, active, 3)
}

func TestSolveObjectiveValuesMatchReevaluation(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB", "CCC")
	p := buildTestProgram(t, u, threeAssetAux(),
		[]ObjectiveName{ObjectiveExpectedReturns, ObjectiveVariance},
		defaultConstraintSpecs())

	solver := NewSolver(testTolerance, zerolog.Nop())
	solution, err := solver.Solve(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, solution.ObjectiveValues, 2)

	for i, value := range solution.ObjectiveValues {
		assert.Equal(t, p.Terms[i].Name, value.Name)
		assert.InDelta(t, p.Terms[i].Value(solution.Weights), value.Value, 1e-12)
	}
}

func TestSolveRepeatedBuildsAgree(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB", "CCC")
	aux := threeAssetAux()
	solver := NewSolver(testTolerance, zerolog.Nop())

	first := buildTestProgram(t, u, aux, []ObjectiveName{ObjectiveVariance}, defaultConstraintSpecs())
	second := buildTestProgram(t, u, aux, []ObjectiveName{ObjectiveVariance}, defaultConstraintSpecs())

	a, err := solver.Solve(context.Background(), first)
	require.NoError(t, err)
	b, err := solver.Solve(context.Background(), second)
	require.NoError(t, err)

	for i := range a.Weights {
		assert.InDelta(t, a.Weights[i], b.Weights[i], testTolerance)
	}
}

func TestSolveCancelledContext(t *testing.T) {
	u := testUniverse(t, "AAA", "BBB", "CCC")
	p := buildTestProgram(t, u, threeAssetAux(), []ObjectiveName{ObjectiveVariance}, defaultConstraintSpecs())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	solver := NewSolver(testTolerance, zerolog.Nop())
	_, err := solver.Solve(ctx, p)
	require.Error(t, err)

	var solveErr *SolveError
	require.True(t, errors.As(err, &solveErr))
	assert.Equal(t, StatusSolverError, solveErr.Status)
}
