package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/deal-guardrails/models"
	"github.com/upb/deal-guardrails/repositories"
	"github.com/upb/deal-guardrails/services"
	"go.uber.org/zap"
)

// CreatePolicyRequest represents a request to create a draft policy
type CreatePolicyRequest struct {
	Name           string
	Description    string
	PolicyType     models.PolicyType
	Configuration  json.RawMessage
	Priority       int
	EffectiveAt    *time.Time
	ExpiresAt      *time.Time
	Tags           []string
	ParentPolicyID *uuid.UUID
	TemplateID     *uuid.UUID
	Actor          string
}

// UpdatePolicyRequest represents a partial update; nil fields are left unchanged
type UpdatePolicyRequest struct {
	Name          *string
	Description   *string
	Configuration json.RawMessage
	Priority      *int
	Version       *string // manual major/minor bump, must be newer than the current version
	EffectiveAt   *time.Time
	ExpiresAt     *time.Time
	Tags          []string
	ChangeSummary string
	Reason        string
	Actor         string
}

// ActivationResult carries the activated policy and the conflicts recorded for it
type ActivationResult struct {
	Policy    *models.Policy           `json:"policy"`
	Conflicts []*models.PolicyConflict `json:"conflicts"`
}

// CreatePolicy validates and stores a new draft policy at the initial version.
// An invalid configuration is rejected with every validation message.
func (s *PolicyService) CreatePolicy(ctx context.Context, req CreatePolicyRequest) (*models.Policy, error) {
	if msgs := checkPolicyFields(req.Name, req.PolicyType, req.Priority, req.EffectiveAt, req.ExpiresAt); len(msgs) > 0 {
		return nil, services.NewValidationErrors("invalid policy", msgs)
	}
	if errs := ValidateConfiguration(req.PolicyType, req.Configuration); len(errs) > 0 {
		return nil, services.NewValidationErrors("invalid policy configuration", errs)
	}

	policy := s.newPolicy(req)

	created, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.Policy, error) {
		if err := s.insertPolicy(ctx, policy, "policy created"); err != nil {
			return nil, err
		}
		return policy, nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMutation(created, models.ChangeTypeCreated, created.CreatedBy)
	return created, nil
}

// UpdatePolicy applies a partial update. A configuration change snapshots the previous
// configuration under the previous version and advances the patch version; other edits
// keep the version.
func (s *PolicyService) UpdatePolicy(ctx context.Context, id uuid.UUID, req UpdatePolicyRequest) (*models.Policy, error) {
	actor := actorOrDefault(req.Actor)

	updated, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.Policy, error) {
		policy, err := s.loadPolicy(ctx, id)
		if err != nil {
			return nil, err
		}
		oldConfig := policy.Configuration

		if req.Name != nil {
			policy.Name = *req.Name
		}
		if req.Description != nil {
			policy.Description = *req.Description
		}
		if req.Priority != nil {
			policy.Priority = *req.Priority
		}
		if req.EffectiveAt != nil {
			policy.EffectiveAt = req.EffectiveAt
		}
		if req.ExpiresAt != nil {
			policy.ExpiresAt = req.ExpiresAt
		}
		if req.Tags != nil {
			policy.Tags = req.Tags
		}
		if msgs := checkPolicyFields(policy.Name, policy.PolicyType, policy.Priority, policy.EffectiveAt, policy.ExpiresAt); len(msgs) > 0 {
			return nil, services.NewValidationErrors("invalid policy", msgs)
		}

		configChanged := req.Configuration != nil && !sameJSON(oldConfig, req.Configuration)
		if configChanged {
			if errs := ValidateConfiguration(policy.PolicyType, req.Configuration); len(errs) > 0 {
				return nil, services.NewValidationErrors("invalid policy configuration", errs)
			}
		}

		nextVersion := policy.Version
		if req.Version != nil {
			cmp, err := CompareVersions(*req.Version, policy.Version)
			if err != nil {
				return nil, services.NewValidation(err.Error())
			}
			if cmp <= 0 {
				return nil, services.NewValidation(fmt.Sprintf("version %s must be newer than %s", *req.Version, policy.Version))
			}
			nextVersion = *req.Version
		}

		if configChanged {
			if err := s.recordVersion(ctx, policy, req.ChangeSummary, actor); err != nil {
				return nil, err
			}
			if req.Version == nil {
				if nextVersion, err = NextPatchVersion(policy.Version); err != nil {
					return nil, services.WrapInternal("stored policy version is malformed", err)
				}
			}
			policy.Configuration = req.Configuration
		}
		policy.Version = nextVersion
		policy.UpdatedAt = s.now()

		summary := req.ChangeSummary
		if summary == "" {
			summary = "policy updated"
		}
		if err := s.savePolicy(ctx, policy, models.ChangeTypeUpdated, oldConfig, summary, req.Reason, actor); err != nil {
			return nil, err
		}
		return policy, nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMutation(updated, models.ChangeTypeUpdated, actor)
	return updated, nil
}

// ActivatePolicy makes a draft or inactive policy active. The configuration must validate.
// Conflicts with other active policies of the same type are recorded and returned but do
// not prevent activation. The activating actor is recorded as approver.
func (s *PolicyService) ActivatePolicy(ctx context.Context, id uuid.UUID, actor string) (*ActivationResult, error) {
	actor = actorOrDefault(actor)

	result, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*ActivationResult, error) {
		policy, err := s.loadPolicy(ctx, id)
		if err != nil {
			return nil, err
		}
		if policy.IsActive() {
			return nil, services.NewValidation("policy is already active")
		}
		if errs := ValidateConfiguration(policy.PolicyType, policy.Configuration); len(errs) > 0 {
			return nil, services.NewValidationErrors("policy configuration must validate before activation", errs)
		}
		return s.activate(ctx, policy, actor)
	})
	if err != nil {
		return nil, err
	}

	s.afterMutation(result.Policy, models.ChangeTypeActivated, actor)
	for _, c := range result.Conflicts {
		s.metrics.RecordConflict(string(c.ConflictType))
	}
	return result, nil
}

// DeactivatePolicy removes an active policy from the active set
func (s *PolicyService) DeactivatePolicy(ctx context.Context, id uuid.UUID, actor, reason string) (*models.Policy, error) {
	actor = actorOrDefault(actor)

	policy, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.Policy, error) {
		policy, err := s.loadPolicy(ctx, id)
		if err != nil {
			return nil, err
		}
		if !policy.IsActive() {
			return nil, services.NewValidation("policy is not active")
		}

		policy.Status = models.PolicyStatusInactive
		policy.UpdatedAt = s.now()
		if err := s.savePolicy(ctx, policy, models.ChangeTypeDeactivated, policy.Configuration, "policy deactivated", reason, actor); err != nil {
			return nil, err
		}
		return policy, nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMutation(policy, models.ChangeTypeDeactivated, actor)
	return policy, nil
}

// RollbackPolicy restores the configuration stored under targetVersion as a new forward
// version. History is never removed. A restored configuration that no longer validates is
// still applied and the failure is recorded in the validation rows.
func (s *PolicyService) RollbackPolicy(ctx context.Context, id uuid.UUID, targetVersion, actor, reason string) (*models.Policy, error) {
	actor = actorOrDefault(actor)

	policy, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.Policy, error) {
		policy, err := s.loadPolicy(ctx, id)
		if err != nil {
			return nil, err
		}
		if targetVersion == policy.Version {
			return nil, services.NewValidation(fmt.Sprintf("policy is already at version %s", targetVersion))
		}

		snapshot, err := s.repos.Versions.GetByPolicyAndVersion(ctx, id, targetVersion)
		if err != nil {
			return nil, mapRepoError(err, "policy version", "failed to get policy version")
		}

		oldConfig := policy.Configuration
		summary := fmt.Sprintf("rolled back to version %s", targetVersion)
		if err := s.recordVersion(ctx, policy, summary, actor); err != nil {
			return nil, err
		}
		next, err := NextPatchVersion(policy.Version)
		if err != nil {
			return nil, services.WrapInternal("stored policy version is malformed", err)
		}

		policy.Configuration = append(json.RawMessage(nil), snapshot.Configuration...)
		policy.Version = next
		policy.UpdatedAt = s.now()

		if err := s.savePolicy(ctx, policy, models.ChangeTypeRolledBack, oldConfig, summary, reason, actor); err != nil {
			return nil, err
		}
		return policy, nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMutation(policy, models.ChangeTypeRolledBack, actor)
	return policy, nil
}

// DeletePolicy removes a policy that is not active. Its change log survives.
func (s *PolicyService) DeletePolicy(ctx context.Context, id uuid.UUID, actor, reason string) error {
	actor = actorOrDefault(actor)

	policy, err := services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.Policy, error) {
		policy, err := s.loadPolicy(ctx, id)
		if err != nil {
			return nil, err
		}
		if policy.IsActive() {
			return nil, services.NewValidation("active policies must be deactivated before deletion")
		}

		if err := s.repos.Policies.Delete(ctx, id); err != nil {
			return nil, mapRepoError(err, "policy", "failed to delete policy")
		}
		entry := s.newChangeLog(policy.ID, models.ChangeTypeDeleted, actor).
			WithConfigurations(policy.Configuration, nil).
			WithSummary("policy deleted", reason)
		if err := s.repos.ChangeLogs.Insert(ctx, entry); err != nil {
			return nil, services.WrapInternal("failed to write change log", err)
		}
		return policy, nil
	})
	if err != nil {
		return err
	}

	s.afterMutation(policy, models.ChangeTypeDeleted, actor)
	return nil
}

// ClonePolicy copies a policy into a new draft that references it as parent
func (s *PolicyService) ClonePolicy(ctx context.Context, id uuid.UUID, name, actor string) (*models.Policy, error) {
	source, err := s.loadPolicy(ctx, id)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = source.Name + " (copy)"
	}

	return s.CreatePolicy(ctx, CreatePolicyRequest{
		Name:           name,
		Description:    source.Description,
		PolicyType:     source.PolicyType,
		Configuration:  source.Configuration,
		Priority:       source.Priority,
		EffectiveAt:    source.EffectiveAt,
		ExpiresAt:      source.ExpiresAt,
		Tags:           source.Tags,
		ParentPolicyID: &source.ID,
		TemplateID:     source.TemplateID,
		Actor:          actor,
	})
}

// ValidatePolicy re-runs the validator on a stored policy and replaces its validation rows.
// A failing configuration is reported through the rows, not as an error.
func (s *PolicyService) ValidatePolicy(ctx context.Context, id uuid.UUID) ([]*models.PolicyValidation, error) {
	return services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) ([]*models.PolicyValidation, error) {
		policy, err := s.loadPolicy(ctx, id)
		if err != nil {
			return nil, err
		}
		return s.replaceValidations(ctx, policy)
	})
}

// newPolicy builds a draft from a create request
func (s *PolicyService) newPolicy(req CreatePolicyRequest) *models.Policy {
	policy := models.NewPolicy(req.Name, req.PolicyType, req.Configuration, req.Priority, actorOrDefault(req.Actor))
	policy.Description = req.Description
	policy.EffectiveAt = req.EffectiveAt
	policy.ExpiresAt = req.ExpiresAt
	if req.Tags != nil {
		policy.Tags = append([]string{}, req.Tags...)
	}
	policy.ParentPolicyID = req.ParentPolicyID
	policy.TemplateID = req.TemplateID
	now := s.now()
	policy.CreatedAt = now
	policy.UpdatedAt = now
	return policy
}

// insertPolicy stores a new policy with its validation rows and created change log entry.
// Must run inside a transaction.
func (s *PolicyService) insertPolicy(ctx context.Context, policy *models.Policy, summary string) error {
	if err := s.repos.Policies.Create(ctx, policy); err != nil {
		return services.WrapInternal("failed to create policy", err)
	}
	if _, err := s.replaceValidations(ctx, policy); err != nil {
		return err
	}

	entry := s.newChangeLog(policy.ID, models.ChangeTypeCreated, policy.CreatedBy).
		WithConfigurations(nil, policy.Configuration).
		WithSummary(summary, "")
	if err := s.repos.ChangeLogs.Insert(ctx, entry); err != nil {
		return services.WrapInternal("failed to write change log", err)
	}
	return nil
}

// activate flips a loaded policy to active and records conflicts with its peers.
// Must run inside a transaction.
func (s *PolicyService) activate(ctx context.Context, policy *models.Policy, actor string) (*ActivationResult, error) {
	policy.Status = models.PolicyStatusActive
	policy.ApprovedBy = &actor
	policy.UpdatedAt = s.now()

	if err := s.savePolicy(ctx, policy, models.ChangeTypeActivated, policy.Configuration, "policy activated", "", actor); err != nil {
		return nil, err
	}

	conflicts, err := s.scanConflicts(ctx, policy)
	if err != nil {
		return nil, err
	}
	return &ActivationResult{Policy: policy, Conflicts: conflicts}, nil
}

// scanConflicts compares policy with every other active policy of its type and stores the findings
func (s *PolicyService) scanConflicts(ctx context.Context, policy *models.Policy) ([]*models.PolicyConflict, error) {
	peers, err := s.repos.Policies.ListActive(ctx, &policy.PolicyType)
	if err != nil {
		return nil, services.WrapInternal("failed to load active policies", err)
	}

	recorded := make([]*models.PolicyConflict, 0)
	for _, peer := range peers {
		for _, conflict := range DetectConflicts(policy, peer, s.now()) {
			if s.conflictMode == ConflictModeDedupeOpen {
				existing, err := s.repos.Conflicts.FindOpen(ctx, conflict.Policy1ID, conflict.Policy2ID, conflict.ConflictType)
				if err == nil {
					recorded = append(recorded, existing)
					continue
				}
				if mapped := mapRepoError(err, "policy conflict", "failed to look up open conflicts"); !services.IsNotFoundError(mapped) {
					return nil, mapped
				}
			}

			if err := s.repos.Conflicts.Create(ctx, conflict); err != nil {
				return nil, services.WrapInternal("failed to record policy conflict", err)
			}
			recorded = append(recorded, conflict)
			s.logger.Warn("policy conflict detected",
				zap.String("policy_id", conflict.Policy1ID.String()),
				zap.String("peer_policy_id", conflict.Policy2ID.String()),
				zap.String("conflict_type", string(conflict.ConflictType)),
				zap.String("severity", string(conflict.Severity)))
		}
	}
	return recorded, nil
}

// recordVersion snapshots the policy's current configuration under its current version.
// Must run inside a transaction, before the policy advances.
func (s *PolicyService) recordVersion(ctx context.Context, policy *models.Policy, summary, actor string) error {
	snapshot := &models.PolicyVersion{
		ID:            uuid.New(),
		PolicyID:      policy.ID,
		Version:       policy.Version,
		Configuration: append(json.RawMessage(nil), policy.Configuration...),
		ChangeSummary: summary,
		CreatedBy:     actor,
		CreatedAt:     s.now(),
	}
	if err := s.repos.Versions.Create(ctx, snapshot); err != nil {
		return services.WrapInternal("failed to record policy version", err)
	}
	return nil
}

// savePolicy updates the policy, re-validates it and appends a change log entry.
// Must run inside a transaction.
func (s *PolicyService) savePolicy(ctx context.Context, policy *models.Policy, changeType models.ChangeType, oldConfig json.RawMessage, summary, reason, actor string) error {
	if err := s.repos.Policies.Update(ctx, policy); err != nil {
		return mapRepoError(err, "policy", "failed to update policy")
	}
	if changeType == models.ChangeTypeUpdated || changeType == models.ChangeTypeRolledBack {
		if _, err := s.replaceValidations(ctx, policy); err != nil {
			return err
		}
	}

	entry := s.newChangeLog(policy.ID, changeType, actor).
		WithConfigurations(oldConfig, policy.Configuration).
		WithSummary(summary, reason)
	if err := s.repos.ChangeLogs.Insert(ctx, entry); err != nil {
		return services.WrapInternal("failed to write change log", err)
	}
	return nil
}

// replaceValidations stores the outcome of validating the policy's current configuration
func (s *PolicyService) replaceValidations(ctx context.Context, policy *models.Policy) ([]*models.PolicyValidation, error) {
	rows := validationRows(policy.ID, ValidateConfiguration(policy.PolicyType, policy.Configuration), s.now())
	if err := s.repos.Validations.ReplaceForPolicy(ctx, policy.ID, rows); err != nil {
		return nil, services.WrapInternal("failed to store validation results", err)
	}
	return rows, nil
}

func (s *PolicyService) newChangeLog(policyID uuid.UUID, changeType models.ChangeType, actor string) *models.PolicyChangeLog {
	entry := models.NewPolicyChangeLog(policyID, changeType, actor)
	entry.Timestamp = s.now()
	return entry
}

// afterMutation runs once a mutation has committed
func (s *PolicyService) afterMutation(policy *models.Policy, changeType models.ChangeType, actor string) {
	s.invalidate(policy.PolicyType)
	s.metrics.RecordMutation(string(changeType))
	s.logger.Info("policy "+strings.ReplaceAll(string(changeType), "_", " "),
		zap.String("policy_id", policy.ID.String()),
		zap.String("version", policy.Version),
		zap.String("status", string(policy.Status)),
		zap.String("actor", actor))
}

// validationRows builds one passed row, or one failed row per message
func validationRows(policyID uuid.UUID, errs []string, now time.Time) []*models.PolicyValidation {
	if len(errs) == 0 {
		return []*models.PolicyValidation{{
			ID:             uuid.New(),
			PolicyID:       policyID,
			ValidationType: models.ValidationTypeConfiguration,
			Status:         models.ValidationStatusPassed,
			Message:        "configuration is valid",
			CreatedAt:      now,
		}}
	}

	rows := make([]*models.PolicyValidation, 0, len(errs))
	for _, msg := range errs {
		rows = append(rows, &models.PolicyValidation{
			ID:             uuid.New(),
			PolicyID:       policyID,
			ValidationType: models.ValidationTypeConfiguration,
			Status:         models.ValidationStatusFailed,
			Message:        msg,
			CreatedAt:      now,
		})
	}
	return rows
}

// checkPolicyFields validates the non-configuration fields of a policy
func checkPolicyFields(name string, policyType models.PolicyType, priority int, effectiveAt, expiresAt *time.Time) []string {
	var msgs []string
	if strings.TrimSpace(name) == "" {
		msgs = append(msgs, "name is required")
	}
	if !policyType.IsValid() {
		msgs = append(msgs, fmt.Sprintf("unknown policy type %q", policyType))
	}
	if priority < 0 {
		msgs = append(msgs, "priority must not be negative")
	}
	if effectiveAt != nil && expiresAt != nil && !expiresAt.After(*effectiveAt) {
		msgs = append(msgs, "expires_at must be after effective_at")
	}
	return msgs
}
