package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/upb/deal-guardrails/middleware"
	"github.com/upb/deal-guardrails/models"
	"github.com/upb/deal-guardrails/services/policy"
	"github.com/upb/deal-guardrails/utils"
	"go.uber.org/zap"
)

// TemplateService defines policy template operations
type TemplateService interface {
	CreateTemplate(ctx context.Context, req policy.CreateTemplateRequest) (*models.PolicyTemplate, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (*models.PolicyTemplate, error)
	ListTemplates(ctx context.Context) ([]*models.PolicyTemplate, error)
	CreateFromTemplate(ctx context.Context, templateID uuid.UUID, req policy.FromTemplateRequest) (*models.Policy, error)
}

// CreateTemplateRequest represents a request to store a policy template
type CreateTemplateRequest struct {
	Name                 string            `json:"name" validate:"required,max=255"`
	Description          string            `json:"description"`
	PolicyType           models.PolicyType `json:"policy_type" validate:"required"`
	DefaultConfiguration json.RawMessage   `json:"default_configuration" validate:"required"`
	SchemaDefinition     json.RawMessage   `json:"schema_definition,omitempty"`
}

// FromTemplateRequest represents a request to create a draft policy from a template
type FromTemplateRequest struct {
	Name        string          `json:"name,omitempty" validate:"max=255"` // defaults to the template name
	Description string          `json:"description"`
	Overrides   json.RawMessage `json:"overrides,omitempty"`
	Priority    int             `json:"priority" validate:"gte=0"`
	EffectiveAt *time.Time      `json:"effective_at,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
}

// TemplateHandler handles policy template requests
type TemplateHandler struct {
	service TemplateService
	logger  *zap.Logger
}

// NewTemplateHandler creates a new TemplateHandler
func NewTemplateHandler(service TemplateService, logger *zap.Logger) *TemplateHandler {
	return &TemplateHandler{
		service: service,
		logger:  logger,
	}
}

// HandleListTemplates handles GET /api/v1/templates
func (h *TemplateHandler) HandleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.service.ListTemplates(r.Context())
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, templates)
}

// HandleCreateTemplate handles POST /api/v1/templates
func (h *TemplateHandler) HandleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req CreateTemplateRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	template, err := h.service.CreateTemplate(r.Context(), policy.CreateTemplateRequest{
		Name:                 req.Name,
		Description:          req.Description,
		PolicyType:           req.PolicyType,
		DefaultConfiguration: req.DefaultConfiguration,
		SchemaDefinition:     req.SchemaDefinition,
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteCreated(w, template)
}

// HandleGetTemplate handles GET /api/v1/templates/{id}
func (h *TemplateHandler) HandleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid template ID", nil)
		return
	}

	template, err := h.service.GetTemplate(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}
	_ = utils.WriteOK(w, template)
}

// HandleCreateFromTemplate handles POST /api/v1/templates/{id}/policies
func (h *TemplateHandler) HandleCreateFromTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := utils.URLParamUUID(r, "id")
	if err != nil {
		_ = utils.WriteBadRequest(w, "Invalid template ID", nil)
		return
	}
	var req FromTemplateRequest
	if !decodeRequest(w, r, &req, h.logger) {
		return
	}

	created, err := h.service.CreateFromTemplate(r.Context(), id, policy.FromTemplateRequest{
		Name:        req.Name,
		Description: req.Description,
		Overrides:   req.Overrides,
		Priority:    req.Priority,
		EffectiveAt: req.EffectiveAt,
		ExpiresAt:   req.ExpiresAt,
		Tags:        req.Tags,
		Actor:       middleware.GetActorFromContext(r.Context()),
	})
	if err != nil {
		HandleServiceError(w, err, h.logger)
		return
	}

	h.logger.Info("policy created from template",
		zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
		zap.String("template_id", id.String()),
		zap.String("policy_id", created.ID.String()))
	_ = utils.WriteCreated(w, created)
}
