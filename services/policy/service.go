package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/upb/deal-guardrails/internal/observability"
	"github.com/upb/deal-guardrails/models"
	"github.com/upb/deal-guardrails/repositories"
	"github.com/upb/deal-guardrails/services"
	"go.uber.org/zap"
)

// DefaultActor is recorded when a caller does not identify itself
const DefaultActor = "system"

// ConflictMode controls how repeated activations record conflicts
type ConflictMode string

const (
	// ConflictModeAppend inserts a new conflict row on every activation
	ConflictModeAppend ConflictMode = "append"
	// ConflictModeDedupeOpen skips a conflict already open for the same pair and type
	ConflictModeDedupeOpen ConflictMode = "dedupe_open"
)

// Option configures a PolicyService
type Option func(*PolicyService)

// WithConflictMode sets how conflicts are recorded on activation
func WithConflictMode(mode ConflictMode) Option {
	return func(s *PolicyService) {
		s.conflictMode = mode
	}
}

// WithClock replaces the wall clock, used for timestamps and effective windows
func WithClock(now func() time.Time) Option {
	return func(s *PolicyService) {
		s.now = now
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics observability.Metrics) Option {
	return func(s *PolicyService) {
		s.metrics = metrics
	}
}

// PolicyService orchestrates policy storage, validation, conflict detection,
// versioning, guardrail evaluation and simulation
type PolicyService struct {
	repos        *repositories.Repositories
	txMgr        repositories.TransactionManager
	cache        *PolicyCache
	conflictMode ConflictMode
	metrics      observability.Metrics
	now          func() time.Time
	logger       *zap.Logger
}

// NewPolicyService creates a new PolicyService instance
func NewPolicyService(repos *repositories.Repositories, txMgr repositories.TransactionManager, cache *PolicyCache, logger *zap.Logger, opts ...Option) *PolicyService {
	s := &PolicyService{
		repos:        repos,
		txMgr:        txMgr,
		cache:        cache,
		conflictMode: ConflictModeAppend,
		metrics:      observability.NopMetrics{},
		now:          func() time.Time { return time.Now().UTC() },
		logger:       logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetPolicy retrieves a policy by ID
func (s *PolicyService) GetPolicy(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	return s.loadPolicy(ctx, id)
}

// ListPolicies retrieves policies matching the filter in evaluation order
func (s *PolicyService) ListPolicies(ctx context.Context, filter repositories.PolicyFilter) ([]*models.Policy, error) {
	if filter.PolicyType != nil && !filter.PolicyType.IsValid() {
		return nil, services.NewValidation("unknown policy type " + string(*filter.PolicyType))
	}
	policies, err := s.repos.Policies.List(ctx, filter)
	if err != nil {
		return nil, services.WrapInternal("failed to list policies", err)
	}
	return policies, nil
}

// ListVersions retrieves the stored snapshots of a policy, newest first
func (s *PolicyService) ListVersions(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyVersion, error) {
	if _, err := s.loadPolicy(ctx, policyID); err != nil {
		return nil, err
	}
	versions, err := s.repos.Versions.ListByPolicy(ctx, policyID)
	if err != nil {
		return nil, services.WrapInternal("failed to list policy versions", err)
	}
	return versions, nil
}

// GetVersion retrieves the snapshot stored under a version label
func (s *PolicyService) GetVersion(ctx context.Context, policyID uuid.UUID, version string) (*models.PolicyVersion, error) {
	snapshot, err := s.repos.Versions.GetByPolicyAndVersion(ctx, policyID, version)
	if err != nil {
		return nil, mapRepoError(err, "policy version", "failed to get policy version")
	}
	return snapshot, nil
}

// ListValidations retrieves the latest validation pass of a policy
func (s *PolicyService) ListValidations(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyValidation, error) {
	if _, err := s.loadPolicy(ctx, policyID); err != nil {
		return nil, err
	}
	validations, err := s.repos.Validations.ListByPolicy(ctx, policyID)
	if err != nil {
		return nil, services.WrapInternal("failed to list policy validations", err)
	}
	return validations, nil
}

// ListChangeLog retrieves the audit trail of a policy, newest first.
// Entries outlive the policy, so a deleted policy still has a change log.
func (s *PolicyService) ListChangeLog(ctx context.Context, policyID uuid.UUID, limit, offset int) ([]*models.PolicyChangeLog, error) {
	if limit < 0 || offset < 0 {
		return nil, services.NewValidation("limit and offset must not be negative")
	}
	entries, err := s.repos.ChangeLogs.ListByPolicy(ctx, policyID, limit, offset)
	if err != nil {
		return nil, services.WrapInternal("failed to list policy change log", err)
	}
	return entries, nil
}

// ListConflicts retrieves conflicts involving a policy, newest first
func (s *PolicyService) ListConflicts(ctx context.Context, policyID uuid.UUID, openOnly bool) ([]*models.PolicyConflict, error) {
	conflicts, err := s.repos.Conflicts.ListByPolicy(ctx, policyID, openOnly)
	if err != nil {
		return nil, services.WrapInternal("failed to list policy conflicts", err)
	}
	return conflicts, nil
}

// ResolveConflict marks an open conflict resolved by actor
func (s *PolicyService) ResolveConflict(ctx context.Context, conflictID uuid.UUID, actor string) (*models.PolicyConflict, error) {
	actor = actorOrDefault(actor)

	return services.WithTransactionResult(ctx, s.txMgr, func(ctx context.Context, tx repositories.Transaction) (*models.PolicyConflict, error) {
		conflict, err := s.repos.Conflicts.GetByID(ctx, conflictID)
		if err != nil {
			return nil, mapRepoError(err, "policy conflict", "failed to get policy conflict")
		}
		if !conflict.IsOpen() {
			return nil, services.NewValidation("policy conflict is already resolved")
		}

		now := s.now()
		conflict.ResolvedAt = &now
		conflict.ResolvedBy = &actor
		if err := s.repos.Conflicts.Resolve(ctx, conflict); err != nil {
			return nil, mapRepoError(err, "policy conflict", "failed to resolve policy conflict")
		}

		s.logger.Info("policy conflict resolved",
			zap.String("conflict_id", conflict.ID.String()),
			zap.String("actor", actor))
		return conflict, nil
	})
}

// DryValidate runs the configuration validator without persisting anything
func (s *PolicyService) DryValidate(policyType models.PolicyType, configuration json.RawMessage) []string {
	return ValidateConfiguration(policyType, configuration)
}

// GetCacheStats returns active-set cache statistics
func (s *PolicyService) GetCacheStats() CacheStats {
	return s.cache.Stats()
}

// StartCacheCleanup starts a background worker to clean up expired cache entries
func (s *PolicyService) StartCacheCleanup(interval time.Duration, stopCh <-chan struct{}) {
	s.logger.Info("started cache cleanup worker",
		zap.Duration("interval", interval))
	s.cache.StartCleanupWorker(interval, stopCh)
}

// loadPolicy fetches a policy and maps a missing row to a not found error
func (s *PolicyService) loadPolicy(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	policy, err := s.repos.Policies.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "policy", "failed to get policy")
	}
	return policy, nil
}

// activeSet returns the active policies in effect now, optionally of one type.
// The set comes from a single repository read or a cached copy of one.
func (s *PolicyService) activeSet(ctx context.Context, policyType *models.PolicyType) ([]*models.Policy, error) {
	key := CacheKey{PolicyType: policyType}

	policies, ok := s.cache.GetPolicies(key)
	if !ok {
		generation := s.cache.Generation(key)
		var err error
		policies, err = s.repos.Policies.ListActive(ctx, policyType)
		if err != nil {
			return nil, services.WrapInternal("failed to load active policies", err)
		}
		// a mutation committed during the read leaves the snapshot uncached
		stored := s.cache.SetPoliciesAt(key, generation, policies)
		s.logger.Debug("cache miss for active policies",
			zap.String("key", key.String()),
			zap.Int("count", len(policies)),
			zap.Bool("cached", stored))
	}

	now := s.now()
	inEffect := make([]*models.Policy, 0, len(policies))
	for _, p := range policies {
		if p.IsInEffect(now) {
			inEffect = append(inEffect, p)
		}
	}
	return inEffect, nil
}

// invalidate drops cached active sets that may include a policy of the given type
func (s *PolicyService) invalidate(policyType models.PolicyType) {
	s.cache.InvalidateType(policyType)
	s.logger.Debug("invalidated active policy cache",
		zap.String("policy_type", string(policyType)))
}

// mapRepoError turns a repository miss into a not found error and anything else into an internal one
func mapRepoError(err error, entity, message string) error {
	var domainErr *services.DomainError
	if errors.As(err, &domainErr) {
		return err
	}
	if errors.Is(err, repositories.ErrNotFound) {
		return services.NewNotFound(entity, err)
	}
	return services.WrapInternal(message, err)
}

func actorOrDefault(actor string) string {
	if actor == "" {
		return DefaultActor
	}
	return actor
}

// sameJSON reports whether two JSON documents are equal ignoring insignificant whitespace
func sameJSON(a, b json.RawMessage) bool {
	var ca, cb bytes.Buffer
	if json.Compact(&ca, a) != nil || json.Compact(&cb, b) != nil {
		return bytes.Equal(a, b)
	}
	return bytes.Equal(ca.Bytes(), cb.Bytes())
}
