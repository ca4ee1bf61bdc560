package policy

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/upb/deal-guardrails/models"
	"github.com/upb/deal-guardrails/repositories"
	"github.com/upb/deal-guardrails/services"
	"go.uber.org/zap"
)

// SimulateRequest represents a what-if run for one policy
type SimulateRequest struct {
	PolicyID              uuid.UUID
	TestDeals             []TestDeal
	ProposedConfiguration json.RawMessage // optional; replaces the subject's configuration for the run
	Actor                 string
}

// SimulationResult is a persisted simulation together with its decoded summary
type SimulationResult struct {
	Simulation *models.PolicySimulation `json:"simulation"`
	Summary    *SimulationSummary       `json:"summary"`
}

// EvaluateDeal checks a deal against the policies active and in effect now.
// The active set is read once so a concurrent activation cannot split the evaluation.
func (s *PolicyService) EvaluateDeal(ctx context.Context, deal models.DealSnapshot) (*EvaluationResult, error) {
	if msgs := checkDeal(deal); len(msgs) > 0 {
		return nil, services.NewValidationErrors("invalid deal", msgs)
	}

	start := time.Now()
	policies, err := s.activeSet(ctx, nil)
	if err != nil {
		return nil, err
	}

	result := Evaluate(deal, policies)
	s.logSkipped(result)

	outcome := string(models.GuardrailStatusPassed)
	if !result.Passed {
		outcome = string(models.GuardrailStatusViolated)
	}
	s.metrics.RecordEvaluation(outcome, time.Since(start))
	for _, v := range result.Violations {
		s.metrics.RecordViolation(string(v.Type))
	}

	s.logger.Debug("deal evaluated",
		zap.Bool("passed", result.Passed),
		zap.Int("active_policies", len(policies)),
		zap.Int("violations", len(result.Violations)))
	return result, nil
}

// SimulatePolicy evaluates a batch of test deals against the full active set with the
// subject policy included. With a proposed configuration the subject runs under that
// configuration instead of its stored one. The run is persisted.
func (s *PolicyService) SimulatePolicy(ctx context.Context, req SimulateRequest) (*SimulationResult, error) {
	actor := actorOrDefault(req.Actor)

	subject, err := s.loadPolicy(ctx, req.PolicyID)
	if err != nil {
		return nil, err
	}
	for i, deal := range req.TestDeals {
		if msgs := checkDeal(deal.Snapshot()); len(msgs) > 0 {
			return nil, services.NewValidationErrors("invalid test deal", msgs).WithDetail("index", i)
		}
	}

	simulationType := models.SimulationTypeCurrent
	if req.ProposedConfiguration != nil {
		if errs := ValidateConfiguration(subject.PolicyType, req.ProposedConfiguration); len(errs) > 0 {
			return nil, services.NewValidationErrors("invalid proposed configuration", errs)
		}
		subject.Configuration = req.ProposedConfiguration
		simulationType = models.SimulationTypeProposed
	}

	active, err := s.activeSet(ctx, nil)
	if err != nil {
		return nil, err
	}
	policies := withSubject(active, subject)

	summary := Simulate(policies, req.TestDeals)

	testData, err := json.Marshal(req.TestDeals)
	if err != nil {
		return nil, services.WrapInternal("failed to encode simulation test data", err)
	}
	results, err := json.Marshal(summary)
	if err != nil {
		return nil, services.WrapInternal("failed to encode simulation results", err)
	}

	simulation := &models.PolicySimulation{
		ID:             uuid.New(),
		PolicyID:       subject.ID,
		SimulationType: simulationType,
		TestData:       testData,
		Results:        results,
		CreatedBy:      actor,
		CreatedAt:      s.now(),
	}

	err = services.WithTransaction(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		if err := s.repos.Simulations.Create(ctx, simulation); err != nil {
			return services.WrapInternal("failed to store simulation", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordSimulation(summary.TotalDeals)
	s.logger.Info("policy simulated",
		zap.String("policy_id", subject.ID.String()),
		zap.String("simulation_type", string(simulationType)),
		zap.Int("total_deals", summary.TotalDeals),
		zap.Float64("pass_rate", summary.PassRate))

	return &SimulationResult{Simulation: simulation, Summary: summary}, nil
}

// ListSimulations retrieves the simulation history of a policy, newest first
func (s *PolicyService) ListSimulations(ctx context.Context, policyID uuid.UUID) ([]*models.PolicySimulation, error) {
	if _, err := s.loadPolicy(ctx, policyID); err != nil {
		return nil, err
	}
	simulations, err := s.repos.Simulations.ListByPolicy(ctx, policyID)
	if err != nil {
		return nil, services.WrapInternal("failed to list simulations", err)
	}
	return simulations, nil
}

// GetSimulation retrieves a stored simulation and decodes its summary
func (s *PolicyService) GetSimulation(ctx context.Context, id uuid.UUID) (*SimulationResult, error) {
	simulation, err := s.repos.Simulations.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "policy simulation", "failed to get simulation")
	}

	var summary SimulationSummary
	if err := json.Unmarshal(simulation.Results, &summary); err != nil {
		return nil, services.WrapInternal("stored simulation results are malformed", err)
	}
	return &SimulationResult{Simulation: simulation, Summary: &summary}, nil
}

// logSkipped reports policies the evaluator could not apply
func (s *PolicyService) logSkipped(result *EvaluationResult) {
	for _, skipped := range result.SkippedPolicies {
		s.logger.Warn("skipped policy during evaluation",
			zap.String("policy_id", skipped.PolicyID.String()),
			zap.String("policy_name", skipped.PolicyName),
			zap.String("reason", skipped.Reason))
	}
}

// withSubject returns the active set with subject replacing its stored copy, or appended
func withSubject(active []*models.Policy, subject *models.Policy) []*models.Policy {
	policies := make([]*models.Policy, 0, len(active)+1)
	for _, p := range active {
		if p.ID != subject.ID {
			policies = append(policies, p)
		}
	}
	return append(policies, subject)
}

// checkDeal rejects deal values no guardrail can meaningfully compare
func checkDeal(deal models.DealSnapshot) []string {
	var msgs []string
	if deal.Amount.IsNegative() {
		msgs = append(msgs, "amount must not be negative")
	}
	if deal.DiscountPercent < 0 || deal.DiscountPercent > 100 {
		msgs = append(msgs, "discount_percent must be between 0 and 100")
	}
	if deal.PaymentTermsDays < 0 {
		msgs = append(msgs, "payment_terms_days must not be negative")
	}
	if deal.Risk != "" && !deal.Risk.IsValid() {
		msgs = append(msgs, "risk must be one of low, medium, high")
	}
	return msgs
}
