package optimization

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/optimize"
)

const (
	initialPenaltyWeight = 1000.0
	maxPenaltyRounds     = 7    // escalates the penalty up to 1e9
	unboundedLimit       = 1e6  // iterates beyond this norm classify as unbounded
	activeWeightEps      = 1e-6 // weights below this count as zero positions
	minActiveWeight      = 1e-3 // floor imposed when a cardinality lower bound binds
	maxMajorIterations   = 1000
)

// ObjectiveValue is one objective specification's own weighted term value
// at the optimum, not the aggregate cost.
type ObjectiveValue struct {
	Name  ObjectiveName `json:"name"`
	Value float64       `json:"value"`
}

// Solution holds the solved weight vector aligned to universe order and
// the evaluated objective values. Produced once per solve, immutable.
type Solution struct {
	Weights         []float64
	ObjectiveValues []ObjectiveValue
}

// Solver invokes the numeric backend on a built program and classifies
// the outcome. The backend is gonum/optimize driven through a quadratic
// penalty formulation; boolean cardinality indicators are enforced by
// restricting the support of the decision variable.
type Solver struct {
	tolerance float64
	log       zerolog.Logger
}

// NewSolver creates a solver with the given feasibility tolerance.
func NewSolver(tolerance float64, log zerolog.Logger) *Solver {
	if tolerance <= 0 {
		tolerance = 1e-4
	}
	return &Solver{
		tolerance: tolerance,
		log:       log.With().Str("component", "solver").Logger(),
	}
}

// Solve minimizes the program's cost subject to its constraints. The
// context bounds wall-clock time; expiry is reported as a solver error.
// No partial weights are returned on any failure.
func (s *Solver) Solve(ctx context.Context, p *Program) (*Solution, error) {
	n := p.Var.Size()

	support := make([]int, n)
	for i := range support {
		support[i] = i
	}

	// Cardinality upper bound: restrict support to the strongest assets
	// of the continuous relaxation.
	if p.Indicator != nil && p.CountUpper != nil && *p.CountUpper < n {
		if *p.CountUpper == 0 {
			support = nil
		} else {
			relaxed, err := s.minimizeOnSupport(ctx, p, support, nil)
			if err != nil {
				return nil, err
			}
			support = topIndices(relaxed, *p.CountUpper)
		}
	}

	if p.CountLower != nil && *p.CountLower > len(support) {
		return nil, s.failure(p, StatusInfeasible,
			fmt.Sprintf("cardinality lower bound %d exceeds %d available assets", *p.CountLower, len(support)), nil)
	}

	var x []float64
	if len(support) == 0 {
		x = make([]float64, n)
	} else {
		solved, err := s.minimizeOnSupport(ctx, p, support, nil)
		if err != nil {
			return nil, err
		}
		x = solved
	}

	// Cardinality lower bound: when the optimum concentrates on too few
	// assets, floor the strongest candidates and re-solve.
	if p.CountLower != nil && countActive(x) < *p.CountLower {
		minActive := make(map[int]float64, *p.CountLower)
		for _, idx := range topIndices(x, *p.CountLower) {
			minActive[idx] = minActiveWeight
		}
		// topIndices of a sparse x may return fewer distinct actives than
		// needed; fall back to the leading support indices.
		for _, idx := range support {
			if len(minActive) >= *p.CountLower {
				break
			}
			if _, ok := minActive[idx]; !ok {
				minActive[idx] = minActiveWeight
			}
		}

		solved, err := s.minimizeOnSupport(ctx, p, support, minActive)
		if err != nil {
			return nil, err
		}
		x = solved

		if countActive(x) < *p.CountLower {
			return nil, s.failure(p, StatusInfeasible,
				fmt.Sprintf("could not activate %d positions", *p.CountLower), nil)
		}
	}

	for _, w := range x {
		if math.IsNaN(w) {
			return nil, s.failure(p, StatusSolverError, "solver produced NaN iterates", nil)
		}
	}

	if normInf(x) > unboundedLimit {
		return nil, s.failure(p, StatusUnbounded, "cost decreases without bound", nil)
	}

	if label, violation := s.worstViolation(p, x); violation > s.tolerance {
		return nil, s.failure(p, StatusInfeasible,
			fmt.Sprintf("constraint %s violated by %.2e", label, violation), nil)
	}

	values := make([]ObjectiveValue, len(p.Terms))
	for i := range p.Terms {
		values[i] = ObjectiveValue{
			Name:  p.Terms[i].Name,
			Value: p.Terms[i].Value(x),
		}
	}

	weights := make([]float64, n)
	copy(weights, x)

	return &Solution{
		Weights:         weights,
		ObjectiveValues: values,
	}, nil
}

// minimizeOnSupport solves the penalized program with off-support
// weights pinned at zero. minActive optionally floors selected weights.
func (s *Solver) minimizeOnSupport(
	ctx context.Context,
	p *Program,
	support []int,
	minActive map[int]float64,
) ([]float64, error) {
	n := p.Var.Size()
	m := len(support)

	scatter := func(z []float64) []float64 {
		x := make([]float64, n)
		for k, idx := range support {
			x[idx] = z[k]
		}
		return x
	}

	differentiable := p.Differentiable()
	penalty := initialPenaltyWeight
	violTol := s.tolerance * 0.1

	z := make([]float64, m)
	for k := range z {
		z[k] = 1.0 / float64(m)
	}

	for round := 0; round < maxPenaltyRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, s.failure(p, StatusSolverError, "solve deadline exceeded", err)
		}

		problem := s.penalizedProblem(p, support, scatter, minActive, penalty, differentiable)

		result, err := s.runBackend(ctx, p, problem, z, differentiable)
		if err != nil {
			return nil, err
		}
		z = result.X

		x := scatter(z)
		if s.penaltyViolation(p, x, minActive) <= violTol {
			break
		}
		// Infeasible programs never satisfy the threshold; the caller's
		// validation pass classifies them after escalation tops out.
		penalty *= 10
	}

	return scatter(z), nil
}

// penalizedProblem builds the gonum problem: summed cost terms plus
// quadratic penalties for every constraint violation.
func (s *Solver) penalizedProblem(
	p *Program,
	support []int,
	scatter func([]float64) []float64,
	minActive map[int]float64,
	penalty float64,
	differentiable bool,
) optimize.Problem {
	problem := optimize.Problem{
		Func: func(z []float64) float64 {
			x := scatter(z)
			cost := p.CostValue(x)
			for i := range p.Algebraic {
				v := penaltyOverrun(&p.Algebraic[i], x)
				cost += penalty * v * v
			}
			for idx, floor := range minActive {
				if gap := floor - x[idx]; gap > 0 {
					cost += penalty * gap * gap
				}
			}
			return cost
		},
	}

	if !differentiable {
		return problem
	}

	problem.Grad = func(grad, z []float64) {
		x := scatter(z)
		full := make([]float64, len(x))
		for i := range p.Terms {
			p.Terms[i].Grad(full, x)
		}
		for i := range p.Algebraic {
			con := &p.Algebraic[i]
			v := penaltyOverrun(con, x)
			if v != 0 {
				con.Grad(full, x, 2*penalty*v)
			}
		}
		for idx, floor := range minActive {
			if gap := floor - x[idx]; gap > 0 {
				full[idx] -= 2 * penalty * gap
			}
		}
		for k, idx := range support {
			grad[k] = full[idx]
		}
	}

	return problem
}

// runBackend executes gonum minimize with the method appropriate for the
// program, falling back to Nelder-Mead when the gradient method fails.
// Backend failures are probed for unboundedness before being wrapped.
func (s *Solver) runBackend(
	ctx context.Context,
	p *Program,
	problem optimize.Problem,
	initial []float64,
	differentiable bool,
) (*optimize.Result, error) {
	settings := &optimize.Settings{MajorIterations: maxMajorIterations}

	var firstErr error
	if differentiable {
		result, err := s.minimizeWithDeadline(ctx, problem, initial, settings, &optimize.BFGS{})
		if err == nil && converged(result.Status) {
			return result, nil
		}
		firstErr = err
	}

	result, err := s.minimizeWithDeadline(ctx, problem, initial, settings, &optimize.NelderMead{})
	if err == nil {
		return result, nil
	}

	if err == context.DeadlineExceeded || err == context.Canceled {
		return nil, s.failure(p, StatusSolverError, "solve deadline exceeded", err)
	}

	if differentiable && s.probeUnbounded(problem, initial) {
		return nil, s.failure(p, StatusUnbounded, "cost decreases without bound", nil)
	}

	if firstErr != nil {
		err = fmt.Errorf("%v (gradient method: %w)", err, firstErr)
	}
	return nil, s.failure(p, StatusSolverError, "backend optimization failed", err)
}

// minimizeWithDeadline runs gonum minimize, abandoning the wait when the
// context expires. The backend computation itself is not preemptible.
func (s *Solver) minimizeWithDeadline(
	ctx context.Context,
	problem optimize.Problem,
	initial []float64,
	settings *optimize.Settings,
	method optimize.Method,
) (*optimize.Result, error) {
	type outcome struct {
		result *optimize.Result
		err    error
	}

	start := make([]float64, len(initial))
	copy(start, initial)

	ch := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{nil, fmt.Errorf("optimizer panic: %v", r)}
			}
		}()
		result, err := optimize.Minimize(problem, start, settings, method)
		ch <- outcome{result, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-ch:
		return out.result, out.err
	}
}

// probeUnbounded checks whether the cost keeps falling far along the
// steepest-descent direction from the initial point.
func (s *Solver) probeUnbounded(problem optimize.Problem, initial []float64) bool {
	if problem.Grad == nil {
		return false
	}

	grad := make([]float64, len(initial))
	problem.Grad(grad, initial)

	norm := 0.0
	for _, g := range grad {
		norm += g * g
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return false
	}

	far := make([]float64, len(initial))
	for i := range far {
		far[i] = initial[i] - 1e8*grad[i]/norm
	}

	base := problem.Func(initial)
	probe := problem.Func(far)
	return !math.IsNaN(probe) && probe < base-1e6
}

// penaltyViolation returns the worst violation across the program's
// constraints and the optional active-weight floors.
func (s *Solver) penaltyViolation(p *Program, x []float64, minActive map[int]float64) float64 {
	worst := 0.0
	for i := range p.Algebraic {
		if v := p.Algebraic[i].Violation(x); v > worst {
			worst = v
		}
	}
	for idx, floor := range minActive {
		if gap := floor - x[idx]; gap > worst {
			worst = gap
		}
	}
	return worst
}

// worstViolation reports the most violated constraint at x.
func (s *Solver) worstViolation(p *Program, x []float64) (string, float64) {
	label := ""
	worst := 0.0
	for i := range p.Algebraic {
		if v := p.Algebraic[i].Violation(x); v > worst {
			worst = v
			label = p.Algebraic[i].Label
		}
	}
	return label, worst
}

// failure builds the structured solve error carrying the requested
// specifications.
func (s *Solver) failure(p *Program, status SolveStatus, reason string, err error) *SolveError {
	s.log.Warn().
		Str("status", string(status)).
		Str("reason", reason).
		Msg("Solve failed")
	return &SolveError{
		Status:      status,
		Objectives:  p.Objectives,
		Constraints: p.Constraints,
		Reason:      reason,
		Err:         err,
	}
}

// penaltyOverrun returns by how much the constraint contributes to the
// penalty: the signed residual for equalities, the positive part for
// inequalities.
func penaltyOverrun(c *AlgebraicConstraint, x []float64) float64 {
	g := c.Value(x)
	if c.Kind == Inequality && g < 0 {
		return 0
	}
	return g
}

// converged reports whether the backend status counts as success.
func converged(status optimize.Status) bool {
	switch status {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence, optimize.StepConvergence:
		return true
	default:
		return false
	}
}

// countActive counts meaningfully non-zero positions.
func countActive(x []float64) int {
	count := 0
	for _, w := range x {
		if math.Abs(w) > activeWeightEps {
			count++
		}
	}
	return count
}

// normInf returns the infinity norm of x.
func normInf(x []float64) float64 {
	worst := 0.0
	for _, w := range x {
		if a := math.Abs(w); a > worst {
			worst = a
		}
	}
	return worst
}

// topIndices returns the indices of the k largest |x| entries, in
// ascending index order so universe order is preserved downstream.
func topIndices(x []float64, k int) []int {
	if k >= len(x) {
		all := make([]int, len(x))
		for i := range all {
			all[i] = i
		}
		return all
	}

	indices := make([]int, len(x))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return math.Abs(x[indices[a]]) > math.Abs(x[indices[b]])
	})

	picked := indices[:k]
	sort.Ints(picked)
	return picked
}
