package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/upb/deal-guardrails/internal/observability"
	"github.com/upb/deal-guardrails/middleware"
	"github.com/upb/deal-guardrails/models"
	"github.com/upb/deal-guardrails/services/policy"
	"github.com/upb/deal-guardrails/utils"
	"go.uber.org/zap"
)

// GuardrailService defines deal evaluation and what-if operations
type GuardrailService interface {
	EvaluateDeal(ctx context.Context, deal models.DealSnapshot) (*policy.EvaluationResult, error)
	SimulatePolicy(ctx context.Context, req policy.SimulateRequest) (*policy.SimulationResult, error)
	ListSimulations(ctx context.Context, policyID uuid.UUID) ([]*models.PolicySimulation, error)
	GetSimulation(ctx context.Context, id uuid.UUID) (*policy.SimulationResult, error)
	GetCacheStats() policy.CacheStats
}

// SimulateRequest represents a simulation batch for one policy
type SimulateRequest struct {
	TestDeals             []policy.TestDeal `json:"test_deals" validate:"dive"`
	ProposedConfiguration json.RawMessage   `json:"proposed_configuration,omitempty"`
}

// EvaluateResponse carries the evaluation and the verdict to persist on the deal
type EvaluateResponse struct {
	Result  *policy.EvaluationResult `json:"result"`
	Verdict models.GuardrailVerdict  `json:"verdict"`
}

// GuardrailHandler handles deal evaluation and simulation requests
type GuardrailHandler struct {
	service GuardrailService
	logger  *zap.Logger
}

// NewGuardrailHandler creates a new GuardrailHandler
func NewGuardrailHandler(service GuardrailService, logger *zap.Logger) *GuardrailHandler {
	return &GuardrailHandler{
		service: service,
		logger:  logger,
	}
}

// HandleEvaluateDeal handles POST /api/v1/deals/evaluate
func (h *GuardrailHandler) HandleEvaluateDeal(w http.ResponseWriter, r *http.Request) {
	var deal policy.TestDeal
	if !decodeRequest(w, r, &deal, h.logger) {
		return
	}

	result, err := h.service.EvaluateDeal(r.Context(), deal.Snapshot())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	verdict := result.Verdict()
	observability.WithRequest(r.Context(), h.logger).Debug("deal evaluated",
		zap.String("guardrail_status", string(verdict.GuardrailStatus)),
		zap.Int("violations", len(result.Violations)))
	_ = utils.WriteOK(w, EvaluateResponse{Result: result, Verdict: verdict})
}

// HandleSimulatePolicy handles POST /api/v1/policies/{id}/simulate
func (h *GuardrailHandler) HandleSimulatePolicy(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid policy ID", nil)
		return
	}
	var req SimulateRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	result, err := h.service.SimulatePolicy(r.Context(), policy.SimulateRequest{
		PolicyID:              id,
		TestDeals:             req.TestDeals,
		ProposedConfiguration: req.ProposedConfiguration,
		Actor:                 middleware.GetActorFromContext(r.Context()),
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, result)
}

// HandleListSimulations handles GET /api/v1/policies/{id}/simulations
func (h *GuardrailHandler) HandleListSimulations(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid policy ID", nil)
		return
	}

	simulations, err := h.service.ListSimulations(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, simulations)
}

// HandleGetSimulation handles GET /api/v1/simulations/{id}
func (h *GuardrailHandler) HandleGetSimulation(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid simulation ID", nil)
		return
	}

	result, err := h.service.GetSimulation(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, result)
}

// HandleCacheStats handles GET /api/v1/cache/stats
func (h *GuardrailHandler) HandleCacheStats(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, h.service.GetCacheStats())
}
