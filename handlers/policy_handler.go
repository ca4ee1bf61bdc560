package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/upb/deal-guardrails/middleware"
	"github.com/upb/deal-guardrails/models"
	"github.com/upb/deal-guardrails/repositories"
	"github.com/upb/deal-guardrails/services/policy"
	"github.com/upb/deal-guardrails/utils"
	"go.uber.org/zap"
)

// defaultChangeLogLimit bounds a change log page when the caller sets no limit
const defaultChangeLogLimit = 50

// PolicyService defines the policy operations exposed over HTTP
type PolicyService interface {
	CreatePolicy(ctx context.Context, req policy.CreatePolicyRequest) (*models.Policy, error)
	GetPolicy(ctx context.Context, id uuid.UUID) (*models.Policy, error)
	ListPolicies(ctx context.Context, filter repositories.PolicyFilter) ([]*models.Policy, error)
	UpdatePolicy(ctx context.Context, id uuid.UUID, req policy.UpdatePolicyRequest) (*models.Policy, error)
	DeletePolicy(ctx context.Context, id uuid.UUID, actor, reason string) error
	ClonePolicy(ctx context.Context, id uuid.UUID, name, actor string) (*models.Policy, error)

	ActivatePolicy(ctx context.Context, id uuid.UUID, actor string) (*policy.ActivationResult, error)
	DeactivatePolicy(ctx context.Context, id uuid.UUID, actor, reason string) (*models.Policy, error)
	RollbackPolicy(ctx context.Context, id uuid.UUID, targetVersion, actor, reason string) (*models.Policy, error)
	ValidatePolicy(ctx context.Context, id uuid.UUID) ([]*models.PolicyValidation, error)
	DryValidate(policyType models.PolicyType, configuration json.RawMessage) []string

	ListVersions(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyVersion, error)
	GetVersion(ctx context.Context, policyID uuid.UUID, version string) (*models.PolicyVersion, error)
	ListValidations(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyValidation, error)
	ListChangeLog(ctx context.Context, policyID uuid.UUID, limit, offset int) ([]*models.PolicyChangeLog, error)
	ListConflicts(ctx context.Context, policyID uuid.UUID, openOnly bool) ([]*models.PolicyConflict, error)
	ResolveConflict(ctx context.Context, conflictID uuid.UUID, actor string) (*models.PolicyConflict, error)

	ExportPolicy(ctx context.Context, id uuid.UUID, format policy.ExportFormat, actor string) ([]byte, string, error)
	MigrateLegacyPolicy(ctx context.Context, path, actor string) (*policy.ActivationResult, error)
}

// CreatePolicyRequest represents a request to create a draft policy
type CreatePolicyRequest struct {
	Name           string            `json:"name" validate:"required,max=255"`
	Description    string            `json:"description"`
	PolicyType     models.PolicyType `json:"policy_type" validate:"required"`
	Configuration  json.RawMessage   `json:"configuration" validate:"required"`
	Priority       int               `json:"priority" validate:"gte=0"`
	EffectiveAt    *time.Time        `json:"effective_at,omitempty"`
	ExpiresAt      *time.Time        `json:"expires_at,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	ParentPolicyID *uuid.UUID        `json:"parent_policy_id,omitempty"`
}

// UpdatePolicyRequest represents a partial policy update
type UpdatePolicyRequest struct {
	Name          *string         `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description   *string         `json:"description,omitempty"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
	Priority      *int            `json:"priority,omitempty" validate:"omitempty,gte=0"`
	Version       *string         `json:"version,omitempty"`
	EffectiveAt   *time.Time      `json:"effective_at,omitempty"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
	ChangeSummary string          `json:"change_summary,omitempty" validate:"max=1000"`
	Reason        string          `json:"reason,omitempty" validate:"max=1000"`
}

// ReasonRequest carries an optional reason for a lifecycle change
type ReasonRequest struct {
	Reason string `json:"reason,omitempty" validate:"max=1000"`
}

// RollbackRequest represents a request to restore an earlier version
type RollbackRequest struct {
	TargetVersion string `json:"target_version" validate:"required"`
	Reason        string `json:"reason,omitempty" validate:"max=1000"`
}

// CloneRequest represents a request to copy a policy into a new draft
type CloneRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

// DryValidateRequest represents a configuration check that persists nothing
type DryValidateRequest struct {
	PolicyType    models.PolicyType `json:"policy_type" validate:"required"`
	Configuration json.RawMessage   `json:"configuration" validate:"required"`
}

// DryValidateResponse reports the outcome of a dry validation
type DryValidateResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// PolicyHandler handles policy-related HTTP requests
type PolicyHandler struct {
	service    PolicyService
	legacyPath string
	logger     *zap.Logger
}

// NewPolicyHandler creates a new PolicyHandler. legacyPath is the legacy policy file
// the migrate endpoint imports; empty disables the endpoint.
func NewPolicyHandler(service PolicyService, legacyPath string, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{
		service:    service,
		legacyPath: legacyPath,
		logger:     logger,
	}
}

// HandleListPolicies handles GET /api/v1/policies
func (h *PolicyHandler) HandleListPolicies(w http.ResponseWriter, r *http.Request) {
	var filter repositories.PolicyFilter
	if v := r.URL.Query().Get("type"); v != "" {
		policyType := models.PolicyType(v)
		filter.PolicyType = &policyType
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := models.PolicyStatus(v)
		switch status {
		case models.PolicyStatusDraft, models.PolicyStatusActive, models.PolicyStatusInactive:
		default:
			_ = utils.WriteBadRequest(w, fmt.Sprintf("unknown policy status %q", v), nil)
			return
		}
		filter.Status = &status
	}

	policies, err := h.service.ListPolicies(r.Context(), filter)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, policies)
}

// HandleCreatePolicy handles POST /api/v1/policies
func (h *PolicyHandler) HandleCreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if !h.decode(w, r, &req) {
		return
	}

	created, err := h.service.CreatePolicy(r.Context(), policy.CreatePolicyRequest{
		Name:           req.Name,
		Description:    req.Description,
		PolicyType:     req.PolicyType,
		Configuration:  req.Configuration,
		Priority:       req.Priority,
		EffectiveAt:    req.EffectiveAt,
		ExpiresAt:      req.ExpiresAt,
		Tags:           req.Tags,
		ParentPolicyID: req.ParentPolicyID,
		Actor:          middleware.GetActorFromContext(r.Context()),
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("policy created",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("policy_id", created.ID.String()),
		zap.String("policy_type", string(created.PolicyType)))
	_ = utils.WriteCreated(w, created)
}

// HandleGetPolicy handles GET /api/v1/policies/{id}
func (h *PolicyHandler) HandleGetPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}

	p, err := h.service.GetPolicy(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, p)
}

// HandleUpdatePolicy handles PUT and PATCH /api/v1/policies/{id}
func (h *PolicyHandler) HandleUpdatePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}
	var req UpdatePolicyRequest
	if !h.decode(w, r, &req) {
		return
	}

	updated, err := h.service.UpdatePolicy(r.Context(), id, policy.UpdatePolicyRequest{
		Name:          req.Name,
		Description:   req.Description,
		Configuration: req.Configuration,
		Priority:      req.Priority,
		Version:       req.Version,
		EffectiveAt:   req.EffectiveAt,
		ExpiresAt:     req.ExpiresAt,
		Tags:          req.Tags,
		ChangeSummary: req.ChangeSummary,
		Reason:        req.Reason,
		Actor:         middleware.GetActorFromContext(r.Context()),
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, updated)
}

// HandleDeletePolicy handles DELETE /api/v1/policies/{id}?reason=
func (h *PolicyHandler) HandleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}

	actor := middleware.GetActorFromContext(r.Context())
	if err := h.service.DeletePolicy(r.Context(), id, actor, r.URL.Query().Get("reason")); err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("policy deleted",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("policy_id", id.String()),
		zap.String("actor", actor))
	utils.WriteNoContent(w)
}

// HandleActivatePolicy handles POST /api/v1/policies/{id}/activate
func (h *PolicyHandler) HandleActivatePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}

	result, err := h.service.ActivatePolicy(r.Context(), id, middleware.GetActorFromContext(r.Context()))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, result)
}

// HandleDeactivatePolicy handles POST /api/v1/policies/{id}/deactivate.
// The body is optional and may carry a reason.
func (h *PolicyHandler) HandleDeactivatePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if hasBody(r) && !h.decode(w, r, &req) {
		return
	}

	p, err := h.service.DeactivatePolicy(r.Context(), id, middleware.GetActorFromContext(r.Context()), req.Reason)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, p)
}

// HandleRollbackPolicy handles POST /api/v1/policies/{id}/rollback
func (h *PolicyHandler) HandleRollbackPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}
	var req RollbackRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.service.RollbackPolicy(r.Context(), id, req.TargetVersion, middleware.GetActorFromContext(r.Context()), req.Reason)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, p)
}

// HandleClonePolicy handles POST /api/v1/policies/{id}/clone
func (h *PolicyHandler) HandleClonePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}
	var req CloneRequest
	if !h.decode(w, r, &req) {
		return
	}

	clone, err := h.service.ClonePolicy(r.Context(), id, req.Name, middleware.GetActorFromContext(r.Context()))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, clone)
}

// HandleValidatePolicy handles POST /api/v1/policies/{id}/validate.
// Reruns the configuration validator and replaces the stored validation rows.
func (h *PolicyHandler) HandleValidatePolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}

	validations, err := h.service.ValidatePolicy(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, validations)
}

// HandleListValidations handles GET /api/v1/policies/{id}/validations
func (h *PolicyHandler) HandleListValidations(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}

	validations, err := h.service.ListValidations(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, validations)
}

// HandleDryValidate handles POST /api/v1/policies/dry-validate
func (h *PolicyHandler) HandleDryValidate(w http.ResponseWriter, r *http.Request) {
	var req DryValidateRequest
	if !h.decode(w, r, &req) {
		return
	}

	errs := h.service.DryValidate(req.PolicyType, req.Configuration)
	if errs == nil {
		errs = []string{}
	}
	_ = utils.WriteOK(w, DryValidateResponse{Valid: len(errs) == 0, Errors: errs})
}

// HandleListVersions handles GET /api/v1/policies/{id}/versions
func (h *PolicyHandler) HandleListVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}

	versions, err := h.service.ListVersions(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, versions)
}

// HandleGetVersion handles GET /api/v1/policies/{id}/versions/{version}
func (h *PolicyHandler) HandleGetVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}

	version, err := h.service.GetVersion(r.Context(), id, chi.URLParam(r, "version"))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, version)
}

// HandleListChangeLog handles GET /api/v1/policies/{id}/changes?limit=&offset=
func (h *PolicyHandler) HandleListChangeLog(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", defaultChangeLogLimit)
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset", 0)
	if !ok {
		return
	}

	entries, err := h.service.ListChangeLog(r.Context(), id, limit, offset)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, entries)
}

// HandleListConflicts handles GET /api/v1/policies/{id}/conflicts?open=
func (h *PolicyHandler) HandleListConflicts(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}
	openOnly := false
	if v := r.URL.Query().Get("open"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			_ = utils.WriteBadRequest(w, "open must be a boolean", nil)
			return
		}
		openOnly = parsed
	}

	conflicts, err := h.service.ListConflicts(r.Context(), id, openOnly)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, conflicts)
}

// HandleResolveConflict handles POST /api/v1/conflicts/{id}/resolve
func (h *PolicyHandler) HandleResolveConflict(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid conflict ID", nil)
		return
	}

	conflict, err := h.service.ResolveConflict(r.Context(), id, middleware.GetActorFromContext(r.Context()))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, conflict)
}

// HandleExportPolicy handles GET /api/v1/policies/{id}/export?format=json|yaml
func (h *PolicyHandler) HandleExportPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := h.policyID(w, r)
	if !ok {
		return
	}
	format := policy.ExportFormat(r.URL.Query().Get("format"))
	if format == "" {
		format = policy.ExportFormatJSON
	}

	body, contentType, err := h.service.ExportPolicy(r.Context(), id, format, middleware.GetActorFromContext(r.Context()))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	filename := fmt.Sprintf("policy-%s.%s", id, format)
	if err := utils.WriteAttachment(w, filename, contentType, body); err != nil {
		h.logger.Error("failed to write policy export", zap.Error(err))
	}
}

// HandleMigrateLegacy handles POST /api/v1/policies/migrate-legacy.
// Only the configured legacy file is imported; callers cannot name a path.
func (h *PolicyHandler) HandleMigrateLegacy(w http.ResponseWriter, r *http.Request) {
	if h.legacyPath == "" {
		_ = utils.WriteNotFound(w, "Legacy policy import is not configured")
		return
	}

	result, err := h.service.MigrateLegacyPolicy(r.Context(), h.legacyPath, middleware.GetActorFromContext(r.Context()))
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("legacy policy imported",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("policy_id", result.Policy.ID.String()),
		zap.Int("conflicts", len(result.Conflicts)))
	_ = utils.WriteCreated(w, result)
}

// policyID parses the {id} route parameter, answering 400 when it is not a UUID
func (h *PolicyHandler) policyID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid policy ID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// decode reads and validates a JSON body, answering 400 on failure
func (h *PolicyHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	return decodeRequest(w, r, dst, h.logger)
}

func decodeRequest(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) bool {
	if err := utils.DecodeJSON(r, dst); err != nil {
		_ = utils.WriteBadRequest(w, err.Error(), nil)
		return false
	}
	if err := utils.ValidateStruct(dst); err != nil {
		HandleValidationError(w, err, logger)
		return false
	}
	return true
}

// hasBody reports whether the request carries a body worth decoding
func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}

// queryInt parses an optional integer query parameter
func queryInt(w http.ResponseWriter, r *http.Request, name string, fallback int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		_ = utils.WriteBadRequest(w, name+" must be an integer", nil)
		return 0, false
	}
	return n, true
}
