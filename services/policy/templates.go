package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/deal-guardrails/models"
	"github.com/upb/deal-guardrails/repositories"
	"github.com/upb/deal-guardrails/services"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
)

const (
	// LegacyPolicyName is used when a legacy document carries no name
	LegacyPolicyName = "Legacy Pricing Policy"
	// LegacyTag marks policies imported from a legacy document
	LegacyTag = "legacy"
)

// CreateTemplateRequest represents a request to store a policy template
type CreateTemplateRequest struct {
	Name                 string
	Description          string
	PolicyType           models.PolicyType
	DefaultConfiguration json.RawMessage
	SchemaDefinition     json.RawMessage
}

// FromTemplateRequest represents a request to create a policy from a template.
// Top-level keys of Overrides replace the template defaults.
type FromTemplateRequest struct {
	Name        string
	Description string
	Overrides   json.RawMessage
	Priority    int
	EffectiveAt *time.Time
	ExpiresAt   *time.Time
	Tags        []string
	Actor       string
}

// CreateTemplate stores a template. Its default configuration is not validated against
// the policy type rules, only the configurations derived from it are.
func (s *PolicyService) CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*models.PolicyTemplate, error) {
	var msgs []string
	if strings.TrimSpace(req.Name) == "" {
		msgs = append(msgs, "name is required")
	}
	if !req.PolicyType.IsValid() {
		msgs = append(msgs, fmt.Sprintf("unknown policy type %q", req.PolicyType))
	}
	if _, err := decodeObject(req.DefaultConfiguration); err != nil {
		msgs = append(msgs, "default_configuration must be a JSON object")
	}
	if len(req.SchemaDefinition) > 0 {
		if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(req.SchemaDefinition)); err != nil {
			msgs = append(msgs, fmt.Sprintf("schema_definition is not a valid JSON schema: %v", err))
		}
	}
	if len(msgs) > 0 {
		return nil, services.NewValidationErrors("invalid policy template", msgs)
	}

	template := &models.PolicyTemplate{
		ID:                   uuid.New(),
		Name:                 req.Name,
		Description:          req.Description,
		PolicyType:           req.PolicyType,
		DefaultConfiguration: req.DefaultConfiguration,
		SchemaDefinition:     req.SchemaDefinition,
		CreatedAt:            s.now(),
	}

	err := services.WithTransaction(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) error {
		if err := s.repos.Templates.Create(ctx, template); err != nil {
			return services.WrapInternal("failed to create policy template", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("policy template created",
		zap.String("template_id", template.ID.String()),
		zap.String("policy_type", string(template.PolicyType)))
	return template, nil
}

// GetTemplate retrieves a template by ID
func (s *PolicyService) GetTemplate(ctx context.Context, id uuid.UUID) (*models.PolicyTemplate, error) {
	template, err := s.repos.Templates.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "policy template", "failed to get policy template")
	}
	return template, nil
}

// ListTemplates retrieves all templates ordered by name
func (s *PolicyService) ListTemplates(ctx context.Context) ([]*models.PolicyTemplate, error) {
	templates, err := s.repos.Templates.List(ctx)
	if err != nil {
		return nil, services.WrapInternal("failed to list policy templates", err)
	}
	return templates, nil
}

// CreateFromTemplate creates a draft policy from a template's defaults merged with overrides.
// The merged configuration must pass the policy type rules and, when the template carries
// one, its JSON schema.
func (s *PolicyService) CreateFromTemplate(ctx context.Context, templateID uuid.UUID, req FromTemplateRequest) (*models.Policy, error) {
	template, err := s.GetTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	merged, err := mergeConfiguration(template.DefaultConfiguration, req.Overrides)
	if err != nil {
		return nil, services.NewValidation(err.Error())
	}

	errs := ValidateConfiguration(template.PolicyType, merged)
	schemaErrs, err := validateAgainstSchema(template.SchemaDefinition, merged)
	if err != nil {
		return nil, services.WrapInternal("failed to apply template schema", err)
	}
	errs = append(errs, schemaErrs...)
	if len(errs) > 0 {
		return nil, services.NewValidationErrors("invalid policy configuration", errs)
	}

	name := req.Name
	if name == "" {
		name = template.Name
	}
	return s.CreatePolicy(ctx, CreatePolicyRequest{
		Name:          name,
		Description:   req.Description,
		PolicyType:    template.PolicyType,
		Configuration: merged,
		Priority:      req.Priority,
		EffectiveAt:   req.EffectiveAt,
		ExpiresAt:     req.ExpiresAt,
		Tags:          req.Tags,
		TemplateID:    &template.ID,
		Actor:         req.Actor,
	})
}

// MigrateLegacyPolicy imports a pricing policy from a legacy JSON document and activates it.
// The document is imported even when it fails validation; the failures are kept in the
// validation rows and the evaluator skips what it cannot decode. Importing the same
// document twice is a conflict.
func (s *PolicyService) MigrateLegacyPolicy(ctx context.Context, path, actor string) (*ActivationResult, error) {
	actor = actorOrDefault(actor)

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, services.NewNotFound("legacy policy file", err)
		}
		return nil, services.WrapInternal("failed to read legacy policy file", err)
	}

	doc, err := parseLegacyDocument(data)
	if err != nil {
		return nil, services.NewValidation(err.Error())
	}

	pricing := models.PolicyTypePricing
	existing, err := s.repos.Policies.List(ctx, repositories.PolicyFilter{PolicyType: &pricing})
	if err != nil {
		return nil, services.WrapInternal("failed to list policies", err)
	}
	for _, p := range existing {
		if p.Name == doc.name && hasTag(p.Tags, LegacyTag) {
			return nil, services.NewDomainError(services.ErrorTypeConflict, "legacy policy already imported", nil).
				WithDetail("policy_id", p.ID.String())
		}
	}

	policy := s.newPolicy(CreatePolicyRequest{
		Name:          doc.name,
		Description:   doc.description,
		PolicyType:    models.PolicyTypePricing,
		Configuration: doc.configuration,
		Priority:      doc.priority,
		Tags:          []string{LegacyTag},
		Actor:         actor,
	})

	result, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*ActivationResult, error) {
		if err := s.insertPolicy(ctx, policy, "imported from legacy policy file"); err != nil {
			return nil, err
		}
		return s.activate(ctx, policy, actor)
	})
	if err != nil {
		return nil, err
	}

	if errs := ValidateConfiguration(policy.PolicyType, policy.Configuration); len(errs) > 0 {
		s.logger.Warn("legacy policy imported with validation errors",
			zap.String("policy_id", policy.ID.String()),
			zap.Strings("errors", errs))
	}
	s.metrics.RecordMutation(string(models.ChangeTypeCreated))
	s.afterMutation(result.Policy, models.ChangeTypeActivated, actor)
	for _, c := range result.Conflicts {
		s.metrics.RecordConflict(string(c.ConflictType))
	}
	return result, nil
}

type legacyDocument struct {
	name          string
	description   string
	priority      int
	configuration json.RawMessage
}

// parseLegacyDocument splits policy metadata from the pricing configuration of a legacy document
func parseLegacyDocument(data []byte) (*legacyDocument, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, fmt.Errorf("legacy policy file must contain a JSON object")
	}

	doc := &legacyDocument{name: LegacyPolicyName}
	if raw, ok := fields["name"]; ok {
		var name string
		if json.Unmarshal(raw, &name) == nil && strings.TrimSpace(name) != "" {
			doc.name = name
		}
		delete(fields, "name")
	}
	if raw, ok := fields["description"]; ok {
		_ = json.Unmarshal(raw, &doc.description)
		delete(fields, "description")
	}
	if raw, ok := fields["priority"]; ok {
		var priority int
		if json.Unmarshal(raw, &priority) == nil && priority >= 0 {
			doc.priority = priority
		}
		delete(fields, "priority")
	}
	delete(fields, "policy_type")

	configuration, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode legacy configuration: %w", err)
	}
	doc.configuration = configuration
	return doc, nil
}

// mergeConfiguration overlays the top-level keys of overrides onto defaults
func mergeConfiguration(defaults, overrides json.RawMessage) (json.RawMessage, error) {
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(defaults, &merged); err != nil || merged == nil {
		return nil, fmt.Errorf("template default configuration must be a JSON object")
	}

	if len(overrides) > 0 {
		var patch map[string]json.RawMessage
		if err := json.Unmarshal(overrides, &patch); err != nil || patch == nil {
			return nil, fmt.Errorf("configuration overrides must be a JSON object")
		}
		for key, value := range patch {
			merged[key] = value
		}
	}

	return json.Marshal(merged)
}

// validateAgainstSchema checks a configuration against an optional JSON schema
func validateAgainstSchema(schema, configuration json.RawMessage) ([]string, error) {
	if len(schema) == 0 {
		return nil, nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(configuration))
	if err != nil {
		return nil, err
	}
	if result.Valid() {
		return nil, nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, resultErr := range result.Errors() {
		field := strings.TrimPrefix(resultErr.Field(), "(root).")
		msgs = append(msgs, fmt.Sprintf("schema: %s: %s", field, resultErr.Description()))
	}
	return msgs, nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
