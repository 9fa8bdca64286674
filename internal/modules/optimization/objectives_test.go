package optimization

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectivesMapUnknownName(t *testing.T) {
	catalog := NewObjectivesMap()
	_, err := catalog.ToObjective("sharpe_ratio", 1.0, threeAssetAux())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownObjective))
}

func TestObjectivesMapNames(t *testing.T) {
	names := NewObjectivesMap().Names()
	assert.Equal(t, []ObjectiveName{
		ObjectiveCVaR,
		ObjectiveExpectedReturns,
		ObjectiveMAD,
		ObjectiveVariance,
	}, names)
}

func TestExpectedReturnsTermNegatesReturn(t *testing.T) {
	aux := &AuxData{ExpectedReturns: []float64{0.10, 0.20}}
	catalog := NewObjectivesMap()
	obj, err := catalog.ToObjective(ObjectiveExpectedReturns, 2.0, aux)
	require.NoError(t, err)

	term, err := obj.Term(newVariable(2, false))
	require.NoError(t, err)

	// Portfolio return 0.15, weighted and negated for minimization.
	x := []float64{0.5, 0.5}
	assert.InDelta(t, -2.0*0.15, term.Value(x), 1e-12)

	grad := make([]float64, 2)
	term.Grad(grad, x)
	assert.InDelta(t, -2.0*0.10, grad[0], 1e-12)
	assert.InDelta(t, -2.0*0.20, grad[1], 1e-12)
}

func TestVarianceTermQuadraticForm(t *testing.T) {
	aux := &AuxData{Covariance: [][]float64{
		{0.04, 0.01},
		{0.01, 0.09},
	}}
	catalog := NewObjectivesMap()
	obj, err := catalog.ToObjective(ObjectiveVariance, 1.0, aux)
	require.NoError(t, err)

	term, err := obj.Term(newVariable(2, false))
	require.NoError(t, err)

	x := []float64{0.6, 0.4}
	expected := 0.6*0.6*0.04 + 2*0.6*0.4*0.01 + 0.4*0.4*0.09
	assert.InDelta(t, expected, term.Value(x), 1e-12)

	grad := make([]float64, 2)
	term.Grad(grad, x)
	assert.InDelta(t, 2*(0.04*0.6+0.01*0.4), grad[0], 1e-12)
	assert.InDelta(t, 2*(0.01*0.6+0.09*0.4), grad[1], 1e-12)
}

func TestCVaRTermAveragesTail(t *testing.T) {
	// Ten scenarios on a single asset; at 95% confidence the tail is
	// the single worst loss.
	scenarios := make([][]float64, 10)
	for i := range scenarios {
		scenarios[i] = []float64{0.01}
	}
	scenarios[3] = []float64{-0.30}

	aux := &AuxData{Scenarios: scenarios}
	catalog := NewObjectivesMap()
	obj, err := catalog.ToObjective(ObjectiveCVaR, 1.0, aux)
	require.NoError(t, err)

	term, err := obj.Term(newVariable(1, false))
	require.NoError(t, err)
	assert.Nil(t, term.Grad)

	assert.InDelta(t, 0.30, term.Value([]float64{1.0}), 1e-12)
}

func TestMADTermMeanAbsoluteDeviation(t *testing.T) {
	aux := &AuxData{Scenarios: [][]float64{
		{0.02},
		{-0.02},
		{0.02},
		{-0.02},
	}}
	catalog := NewObjectivesMap()
	obj, err := catalog.ToObjective(ObjectiveMAD, 1.0, aux)
	require.NoError(t, err)

	term, err := obj.Term(newVariable(1, false))
	require.NoError(t, err)
	assert.Nil(t, term.Grad)

	// Mean return is zero, every deviation is 0.02.
	assert.InDelta(t, 0.02, term.Value([]float64{1.0}), 1e-12)
}

func TestObjectiveTermScenarioDimensionMismatch(t *testing.T) {
	aux := &AuxData{Scenarios: [][]float64{{0.01, 0.02}}}
	catalog := NewObjectivesMap()
	obj, err := catalog.ToObjective(ObjectiveCVaR, 1.0, aux)
	require.NoError(t, err)

	_, err = obj.Term(newVariable(3, false))
	require.Error(t, err)
}
