package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/upb/deal-guardrails/models"
	"github.com/upb/deal-guardrails/repositories"
)

// PolicyRepository implements repositories.PolicyRepository
type PolicyRepository struct {
	store *Store
}

func (r *PolicyRepository) Create(ctx context.Context, policy *models.Policy) error {
	return r.store.write(ctx, func(st *state) error {
		if _, exists := st.policies[policy.ID]; exists {
			return fmt.Errorf("policy %s already exists", policy.ID)
		}
		st.policies[policy.ID] = policy.Clone()
		return nil
	})
}

func (r *PolicyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Policy, error) {
	var out *models.Policy
	err := r.store.read(ctx, func(st *state) error {
		p, ok := st.policies[id]
		if !ok {
			return fmt.Errorf("policy %s: %w", id, repositories.ErrNotFound)
		}
		out = p.Clone()
		return nil
	})
	return out, err
}

func (r *PolicyRepository) List(ctx context.Context, filter repositories.PolicyFilter) ([]*models.Policy, error) {
	out := []*models.Policy{}
	err := r.store.read(ctx, func(st *state) error {
		for _, p := range st.policies {
			if filter.PolicyType != nil && p.PolicyType != *filter.PolicyType {
				continue
			}
			if filter.Status != nil && p.Status != *filter.Status {
				continue
			}
			out = append(out, p.Clone())
		}
		return nil
	})
	models.SortByPrecedence(out)
	return out, err
}

func (r *PolicyRepository) ListActive(ctx context.Context, policyType *models.PolicyType) ([]*models.Policy, error) {
	status := models.PolicyStatusActive
	return r.List(ctx, repositories.PolicyFilter{PolicyType: policyType, Status: &status})
}

func (r *PolicyRepository) Update(ctx context.Context, policy *models.Policy) error {
	return r.store.write(ctx, func(st *state) error {
		if _, ok := st.policies[policy.ID]; !ok {
			return fmt.Errorf("policy %s: %w", policy.ID, repositories.ErrNotFound)
		}
		st.policies[policy.ID] = policy.Clone()
		return nil
	})
}

func (r *PolicyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.store.write(ctx, func(st *state) error {
		if _, ok := st.policies[id]; !ok {
			return fmt.Errorf("policy %s: %w", id, repositories.ErrNotFound)
		}
		delete(st.policies, id)
		delete(st.validations, id)
		st.versions = filterByPolicy(st.versions, id, func(v *models.PolicyVersion) uuid.UUID { return v.PolicyID })
		st.simulations = filterByPolicy(st.simulations, id, func(s *models.PolicySimulation) uuid.UUID { return s.PolicyID })
		return nil
	})
}

// filterByPolicy drops rows owned by a deleted policy, mirroring ON DELETE CASCADE
func filterByPolicy[T any](rows []T, policyID uuid.UUID, owner func(T) uuid.UUID) []T {
	kept := make([]T, 0, len(rows))
	for _, row := range rows {
		if owner(row) != policyID {
			kept = append(kept, row)
		}
	}
	return kept
}

// PolicyVersionRepository implements repositories.PolicyVersionRepository
type PolicyVersionRepository struct {
	store *Store
}

func (r *PolicyVersionRepository) Create(ctx context.Context, version *models.PolicyVersion) error {
	return r.store.write(ctx, func(st *state) error {
		for _, v := range st.versions {
			if v.PolicyID == version.PolicyID && v.Version == version.Version {
				return fmt.Errorf("policy %s version %s already exists", version.PolicyID, version.Version)
			}
		}
		c := *version
		c.Configuration = append([]byte(nil), version.Configuration...)
		st.versions = append(st.versions, &c)
		return nil
	})
}

func (r *PolicyVersionRepository) GetByPolicyAndVersion(ctx context.Context, policyID uuid.UUID, version string) (*models.PolicyVersion, error) {
	var out *models.PolicyVersion
	err := r.store.read(ctx, func(st *state) error {
		for _, v := range st.versions {
			if v.PolicyID == policyID && v.Version == version {
				c := *v
				out = &c
				return nil
			}
		}
		return fmt.Errorf("policy %s version %s: %w", policyID, version, repositories.ErrNotFound)
	})
	return out, err
}

func (r *PolicyVersionRepository) ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyVersion, error) {
	out := []*models.PolicyVersion{}
	err := r.store.read(ctx, func(st *state) error {
		// newest first: versions are appended in creation order
		for i := len(st.versions) - 1; i >= 0; i-- {
			if v := st.versions[i]; v.PolicyID == policyID {
				c := *v
				out = append(out, &c)
			}
		}
		return nil
	})
	return out, err
}

// PolicyValidationRepository implements repositories.PolicyValidationRepository
type PolicyValidationRepository struct {
	store *Store
}

func (r *PolicyValidationRepository) ReplaceForPolicy(ctx context.Context, policyID uuid.UUID, validations []*models.PolicyValidation) error {
	return r.store.write(ctx, func(st *state) error {
		rows := make([]*models.PolicyValidation, 0, len(validations))
		for _, v := range validations {
			c := *v
			c.PolicyID = policyID
			rows = append(rows, &c)
		}
		st.validations[policyID] = rows
		return nil
	})
}

func (r *PolicyValidationRepository) ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*models.PolicyValidation, error) {
	out := []*models.PolicyValidation{}
	err := r.store.read(ctx, func(st *state) error {
		for _, v := range st.validations[policyID] {
			c := *v
			out = append(out, &c)
		}
		return nil
	})
	return out, err
}

// PolicyConflictRepository implements repositories.PolicyConflictRepository
type PolicyConflictRepository struct {
	store *Store
}

func (r *PolicyConflictRepository) Create(ctx context.Context, conflict *models.PolicyConflict) error {
	return r.store.write(ctx, func(st *state) error {
		c := *conflict
		st.conflicts = append(st.conflicts, &c)
		return nil
	})
}

func (r *PolicyConflictRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PolicyConflict, error) {
	var out *models.PolicyConflict
	err := r.store.read(ctx, func(st *state) error {
		for _, c := range st.conflicts {
			if c.ID == id {
				cp := *c
				out = &cp
				return nil
			}
		}
		return fmt.Errorf("policy conflict %s: %w", id, repositories.ErrNotFound)
	})
	return out, err
}

func (r *PolicyConflictRepository) FindOpen(ctx context.Context, policy1ID, policy2ID uuid.UUID, conflictType models.ConflictType) (*models.PolicyConflict, error) {
	var out *models.PolicyConflict
	err := r.store.read(ctx, func(st *state) error {
		for i := len(st.conflicts) - 1; i >= 0; i-- {
			c := st.conflicts[i]
			if c.IsOpen() && c.ConflictType == conflictType && c.Involves(policy1ID) && c.Involves(policy2ID) {
				cp := *c
				out = &cp
				return nil
			}
		}
		return fmt.Errorf("open policy conflict: %w", repositories.ErrNotFound)
	})
	return out, err
}

func (r *PolicyConflictRepository) ListByPolicy(ctx context.Context, policyID uuid.UUID, openOnly bool) ([]*models.PolicyConflict, error) {
	out := []*models.PolicyConflict{}
	err := r.store.read(ctx, func(st *state) error {
		for i := len(st.conflicts) - 1; i >= 0; i-- {
			c := st.conflicts[i]
			if !c.Involves(policyID) || (openOnly && !c.IsOpen()) {
				continue
			}
			cp := *c
			out = append(out, &cp)
		}
		return nil
	})
	return out, err
}

func (r *PolicyConflictRepository) Resolve(ctx context.Context, conflict *models.PolicyConflict) error {
	return r.store.write(ctx, func(st *state) error {
		for i, c := range st.conflicts {
			if c.ID == conflict.ID {
				cp := *c
				cp.ResolvedAt = conflict.ResolvedAt
				cp.ResolvedBy = conflict.ResolvedBy
				st.conflicts[i] = &cp
				return nil
			}
		}
		return fmt.Errorf("policy conflict %s: %w", conflict.ID, repositories.ErrNotFound)
	})
}

// PolicySimulationRepository implements repositories.PolicySimulationRepository
type PolicySimulationRepository struct {
	store *Store
}

func (r *PolicySimulationRepository) Create(ctx context.Context, simulation *models.PolicySimulation) error {
	return r.store.write(ctx, func(st *state) error {
		c := *simulation
		st.simulations = append(st.simulations, &c)
		return nil
	})
}

func (r *PolicySimulationRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PolicySimulation, error) {
	var out *models.PolicySimulation
	err := r.store.read(ctx, func(st *state) error {
		for _, s := range st.simulations {
			if s.ID == id {
				c := *s
				out = &c
				return nil
			}
		}
		return fmt.Errorf("policy simulation %s: %w", id, repositories.ErrNotFound)
	})
	return out, err
}

func (r *PolicySimulationRepository) ListByPolicy(ctx context.Context, policyID uuid.UUID) ([]*models.PolicySimulation, error) {
	out := []*models.PolicySimulation{}
	err := r.store.read(ctx, func(st *state) error {
		for i := len(st.simulations) - 1; i >= 0; i-- {
			if s := st.simulations[i]; s.PolicyID == policyID {
				c := *s
				out = append(out, &c)
			}
		}
		return nil
	})
	return out, err
}

// PolicyChangeLogRepository implements repositories.PolicyChangeLogRepository
type PolicyChangeLogRepository struct {
	store *Store
}

func (r *PolicyChangeLogRepository) Insert(ctx context.Context, entry *models.PolicyChangeLog) error {
	return r.store.write(ctx, func(st *state) error {
		c := *entry
		st.changeLogs = append(st.changeLogs, &c)
		return nil
	})
}

func (r *PolicyChangeLogRepository) ListByPolicy(ctx context.Context, policyID uuid.UUID, limit, offset int) ([]*models.PolicyChangeLog, error) {
	out := []*models.PolicyChangeLog{}
	err := r.store.read(ctx, func(st *state) error {
		skipped := 0
		for i := len(st.changeLogs) - 1; i >= 0; i-- {
			e := st.changeLogs[i]
			if e.PolicyID != policyID {
				continue
			}
			if skipped < offset {
				skipped++
				continue
			}
			if limit > 0 && len(out) >= limit {
				break
			}
			c := *e
			out = append(out, &c)
		}
		return nil
	})
	return out, err
}

// PolicyTemplateRepository implements repositories.PolicyTemplateRepository
type PolicyTemplateRepository struct {
	store *Store
}

func (r *PolicyTemplateRepository) Create(ctx context.Context, template *models.PolicyTemplate) error {
	return r.store.write(ctx, func(st *state) error {
		c := *template
		st.templates[template.ID] = &c
		return nil
	})
}

func (r *PolicyTemplateRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.PolicyTemplate, error) {
	var out *models.PolicyTemplate
	err := r.store.read(ctx, func(st *state) error {
		t, ok := st.templates[id]
		if !ok {
			return fmt.Errorf("policy template %s: %w", id, repositories.ErrNotFound)
		}
		c := *t
		out = &c
		return nil
	})
	return out, err
}

func (r *PolicyTemplateRepository) List(ctx context.Context) ([]*models.PolicyTemplate, error) {
	out := []*models.PolicyTemplate{}
	err := r.store.read(ctx, func(st *state) error {
		for _, t := range st.templates {
			c := *t
			out = append(out, &c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, err
}
