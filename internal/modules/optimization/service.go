package optimization

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/optifolio/internal/modules/calculations"
	"github.com/aristath/optifolio/internal/modules/market"
	"github.com/aristath/optifolio/internal/modules/portfolio"
	"github.com/aristath/optifolio/internal/modules/universe"
)

const defaultLookbackYears = 2

// ObjectiveSpec is one requested objective. Weight defaults to 1.
type ObjectiveSpec struct {
	Name   ObjectiveName `json:"name"`
	Weight float64       `json:"weight,omitempty"`
}

// ConstraintSpec is one requested constraint with its optional bounds.
type ConstraintSpec struct {
	Name       ConstraintName `json:"name"`
	LowerBound *int           `json:"lower_bound,omitempty"`
	UpperBound *int           `json:"upper_bound,omitempty"`
}

// SolveRequest describes a solve: the universe (inline tickers or a
// stored universe name), the estimation window, and the objective and
// constraint specifications. Constraints default to sum-to-one plus
// long-only when omitted.
type SolveRequest struct {
	Tickers      []string         `json:"tickers,omitempty"`
	UniverseName string           `json:"universe_name,omitempty"`
	StartDate    string           `json:"start_date,omitempty"` // YYYY-MM-DD
	EndDate      string           `json:"end_date,omitempty"`
	Objectives   []ObjectiveSpec  `json:"objectives"`
	Constraints  []ConstraintSpec `json:"constraints,omitempty"`
	RoundTo      *int             `json:"round_to,omitempty"`
	// WeightsTolerance overrides the configured feasibility tolerance
	// for this request only.
	WeightsTolerance *float64 `json:"weights_tolerance,omitempty"`
	Refresh          bool     `json:"refresh,omitempty"` // bypass the result cache
}

// SolveResponse is the successful solve outcome. Weights are rounded
// and filtered to non-zero positions and serialize in solved universe
// order; full precision stays internal.
type SolveResponse struct {
	RunID           string           `json:"run_id"`
	Status          SolveStatus      `json:"status"`
	Weights         OrderedWeights   `json:"weights"`
	Tickers         []string         `json:"tickers"` // held, universe order
	ObjectiveValues []ObjectiveValue `json:"objective_values"`
	ElapsedMs       int64            `json:"elapsed_ms"`
	Cached          bool             `json:"cached"`
}

// cachedSolve is the msgpack-encoded cache payload. Full-precision
// weights are stored so RoundTo can vary across hits.
type cachedSolve struct {
	Tickers         []string         `msgpack:"tickers"`
	Weights         []float64        `msgpack:"weights"`
	ObjectiveValues []ObjectiveValue `msgpack:"objective_values"`
}

// Service wires the catalogs, the market-data collaborator, and the
// solver into the solve operation exposed over HTTP.
type Service struct {
	universes  *universe.Repository
	market     *market.Service
	cache      *calculations.Cache
	objectives *ObjectivesMap
	solver     *Solver

	solveTimeout   time.Duration
	resultCacheTTL time.Duration
	log            zerolog.Logger
}

// NewService creates the optimization service.
func NewService(
	universes *universe.Repository,
	marketSvc *market.Service,
	cache *calculations.Cache,
	tolerance float64,
	solveTimeout time.Duration,
	resultCacheTTL time.Duration,
	log zerolog.Logger,
) *Service {
	return &Service{
		universes:      universes,
		market:         marketSvc,
		cache:          cache,
		objectives:     NewObjectivesMap(),
		solver:         NewSolver(tolerance, log),
		solveTimeout:   solveTimeout,
		resultCacheTTL: resultCacheTTL,
		log:            log.With().Str("service", "optimization").Logger(),
	}
}

// ObjectiveNames lists the catalog's objective names, sorted.
func (s *Service) ObjectiveNames() []ObjectiveName {
	return s.objectives.Names()
}

// ConstraintNames lists the catalog's constraint names, sorted.
func (s *Service) ConstraintNames() []ConstraintName {
	return ConstraintNames()
}

// Solve runs the full pipeline: resolve the universe, derive market
// inputs, assemble the program, and invoke the solver. Failed solves
// return a *SolveError; configuration mistakes surface before any
// numeric work starts.
func (s *Service) Solve(ctx context.Context, req SolveRequest) (*SolveResponse, error) {
	started := time.Now()

	u, err := s.resolveUniverse(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	start, end, err := estimationWindow(req.StartDate, req.EndDate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	if len(req.Objectives) == 0 {
		return nil, fmt.Errorf("%w: at least one objective is required", ErrInvalidRequest)
	}
	constraints := req.Constraints
	if len(constraints) == 0 {
		constraints = []ConstraintSpec{
			{Name: ConstraintSumToOne},
			{Name: ConstraintLongOnly},
		}
	}

	roundTo := portfolio.DefaultRoundDecimals
	if req.RoundTo != nil && *req.RoundTo >= 0 {
		roundTo = *req.RoundTo
	}

	solver := s.solver
	if req.WeightsTolerance != nil && *req.WeightsTolerance > 0 {
		solver = NewSolver(*req.WeightsTolerance, s.log)
	}

	key := s.resultKey(u, start, end, req.Objectives, constraints, solver.tolerance)
	if s.cache != nil && !req.Refresh {
		var cached cachedSolve
		if err := s.cache.Get(key, &cached); err == nil {
			s.log.Debug().Str("key", key).Msg("Solve result served from cache")
			return s.respond(u, cached.Weights, cached.ObjectiveValues, roundTo, started, true)
		}
	}

	inputs, err := s.market.BuildRiskInputs(u.Tickers(), start, end)
	if err != nil {
		return nil, fmt.Errorf("building risk inputs: %w", err)
	}
	aux := &AuxData{
		ExpectedReturns: inputs.ExpectedReturns,
		Covariance:      inputs.Covariance,
		Scenarios:       inputs.Scenarios,
	}

	program, err := s.buildProgram(u, req.Objectives, constraints, aux)
	if err != nil {
		return nil, err
	}

	solveCtx := ctx
	if s.solveTimeout > 0 {
		var cancel context.CancelFunc
		solveCtx, cancel = context.WithTimeout(ctx, s.solveTimeout)
		defer cancel()
	}

	solution, err := solver.Solve(solveCtx, program)
	if err != nil {
		var solveErr *SolveError
		if errors.As(err, &solveErr) {
			s.log.Warn().
				Str("status", string(solveErr.Status)).
				Int("universe_size", u.Size()).
				Msg("Solve did not produce a portfolio")
		}
		return nil, err
	}

	if s.cache != nil {
		payload := cachedSolve{
			Tickers:         u.Tickers(),
			Weights:         solution.Weights,
			ObjectiveValues: solution.ObjectiveValues,
		}
		if err := s.cache.Set(key, payload, s.resultCacheTTL); err != nil {
			s.log.Warn().Err(err).Msg("Failed to cache solve result")
		}
	}

	return s.respond(u, solution.Weights, solution.ObjectiveValues, roundTo, started, false)
}

func (s *Service) respond(
	u *universe.Universe,
	weights []float64,
	values []ObjectiveValue,
	roundTo int,
	started time.Time,
	cached bool,
) (*SolveResponse, error) {
	ptf, err := portfolio.New(u.Tickers(), weights)
	if err != nil {
		return nil, err
	}
	ptf.SetMarketData(s.market)

	byName := make(map[string]float64, len(values))
	for _, v := range values {
		byName[string(v.Name)] = v.Value
	}
	ptf.SetObjectiveValues(byName)

	return &SolveResponse{
		RunID:           uuid.NewString(),
		Status:          StatusSuccess,
		Weights:         NewOrderedWeights(ptf.Tickers(true), ptf.NonZeroWeights(roundTo)),
		Tickers:         ptf.Tickers(true),
		ObjectiveValues: values,
		ElapsedMs:       time.Since(started).Milliseconds(),
		Cached:          cached,
	}, nil
}

func (s *Service) resolveUniverse(req SolveRequest) (*universe.Universe, error) {
	if req.UniverseName != "" {
		return s.universes.Resolve(req.UniverseName)
	}
	return universe.New(req.Tickers)
}

func (s *Service) buildProgram(
	u *universe.Universe,
	objectiveSpecs []ObjectiveSpec,
	constraintSpecs []ConstraintSpec,
	aux *AuxData,
) (*Program, error) {
	objectives := make([]PortfolioObjective, 0, len(objectiveSpecs))
	for _, spec := range objectiveSpecs {
		weight := spec.Weight
		if weight == 0 {
			weight = 1.0
		}
		obj, err := s.objectives.ToObjective(spec.Name, weight, aux)
		if err != nil {
			return nil, err
		}
		objectives = append(objectives, obj)
	}

	constraints := make([]PortfolioConstraint, 0, len(constraintSpecs))
	for _, spec := range constraintSpecs {
		con, err := ToConstraint(spec.Name, ConstraintBounds{
			Lower: spec.LowerBound,
			Upper: spec.UpperBound,
		})
		if err != nil {
			return nil, err
		}
		constraints = append(constraints, con)
	}

	return BuildProgram(u, objectives, constraints)
}

// resultKey fingerprints everything that determines a solve outcome,
// including the feasibility tolerance the classification runs under.
func (s *Service) resultKey(
	u *universe.Universe,
	start, end time.Time,
	objectives []ObjectiveSpec,
	constraints []ConstraintSpec,
	tolerance float64,
) string {
	h := sha256.New()
	for _, t := range u.Tickers() {
		fmt.Fprintf(h, "%s|", t)
	}
	fmt.Fprintf(h, "%s|%s|", start.Format("2006-01-02"), end.Format("2006-01-02"))
	fmt.Fprintf(h, "tol:%g|", tolerance)

	sorted := make([]ObjectiveSpec, len(objectives))
	copy(sorted, objectives)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, o := range sorted {
		weight := o.Weight
		if weight == 0 {
			weight = 1.0
		}
		fmt.Fprintf(h, "obj:%s:%g|", o.Name, weight)
	}

	sortedCons := make([]ConstraintSpec, len(constraints))
	copy(sortedCons, constraints)
	sort.Slice(sortedCons, func(i, j int) bool { return sortedCons[i].Name < sortedCons[j].Name })
	for _, c := range sortedCons {
		fmt.Fprintf(h, "con:%s:%s:%s|", c.Name, boundString(c.LowerBound), boundString(c.UpperBound))
	}

	return "solve:" + hex.EncodeToString(h.Sum(nil))
}

func boundString(b *int) string {
	if b == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *b)
}

// estimationWindow parses the requested date range, defaulting to the
// trailing two years ending today.
func estimationWindow(startDate, endDate string) (time.Time, time.Time, error) {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	if endDate != "" {
		parsed, err := time.Parse("2006-01-02", endDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end_date %q: %w", endDate, err)
		}
		end = parsed
	}

	start := end.AddDate(-defaultLookbackYears, 0, 0)
	if startDate != "" {
		parsed, err := time.Parse("2006-01-02", startDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start_date %q: %w", startDate, err)
		}
		start = parsed
	}

	if !start.Before(end) {
		return time.Time{}, time.Time{}, fmt.Errorf("start_date %s must precede end_date %s",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return start, end, nil
}
