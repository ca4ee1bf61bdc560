// Package memory provides an in-process implementation of the repository
// interfaces for local runs and service tests.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/upb/deal-guardrails/models"
	"github.com/upb/deal-guardrails/repositories"
)

type txContextKey struct{}

// state holds every table. Stored records are never mutated in place;
// writers replace them, so cloning the containers is enough to snapshot.
type state struct {
	policies    map[uuid.UUID]*models.Policy
	versions    []*models.PolicyVersion
	validations map[uuid.UUID][]*models.PolicyValidation
	conflicts   []*models.PolicyConflict
	simulations []*models.PolicySimulation
	changeLogs  []*models.PolicyChangeLog
	templates   map[uuid.UUID]*models.PolicyTemplate
}

func newState() *state {
	return &state{
		policies:    make(map[uuid.UUID]*models.Policy),
		validations: make(map[uuid.UUID][]*models.PolicyValidation),
		templates:   make(map[uuid.UUID]*models.PolicyTemplate),
	}
}

func (s *state) clone() *state {
	c := &state{
		policies:    make(map[uuid.UUID]*models.Policy, len(s.policies)),
		versions:    append([]*models.PolicyVersion(nil), s.versions...),
		validations: make(map[uuid.UUID][]*models.PolicyValidation, len(s.validations)),
		conflicts:   append([]*models.PolicyConflict(nil), s.conflicts...),
		simulations: append([]*models.PolicySimulation(nil), s.simulations...),
		changeLogs:  append([]*models.PolicyChangeLog(nil), s.changeLogs...),
		templates:   make(map[uuid.UUID]*models.PolicyTemplate, len(s.templates)),
	}
	for id, p := range s.policies {
		c.policies[id] = p
	}
	for id, rows := range s.validations {
		c.validations[id] = rows
	}
	for id, t := range s.templates {
		c.templates[id] = t
	}
	return c
}

// Store is an in-memory database. Transactions are serialized and work on a
// private copy of the state that replaces the committed state on Commit.
// Readers outside a transaction only ever see committed state.
type Store struct {
	mu    sync.RWMutex
	txMu  sync.Mutex
	state *state
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{state: newState()}
}

// NewRepositories creates all repository instances backed by the store
func (s *Store) NewRepositories() *repositories.Repositories {
	return &repositories.Repositories{
		Policies:    &PolicyRepository{store: s},
		Versions:    &PolicyVersionRepository{store: s},
		Validations: &PolicyValidationRepository{store: s},
		Conflicts:   &PolicyConflictRepository{store: s},
		Simulations: &PolicySimulationRepository{store: s},
		ChangeLogs:  &PolicyChangeLogRepository{store: s},
		Templates:   &PolicyTemplateRepository{store: s},
	}
}

// TransactionManager returns a transaction manager for the store
func (s *Store) TransactionManager() repositories.TransactionManager {
	return &TransactionManager{store: s}
}

// read runs fn against the state visible to ctx
func (s *Store) read(ctx context.Context, fn func(st *state) error) error {
	if tx, ok := s.txFrom(ctx); ok {
		return fn(tx.state)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.state)
}

// write runs fn against the transaction's state, or commits it directly when ctx carries no transaction
func (s *Store) write(ctx context.Context, fn func(st *state) error) error {
	if tx, ok := s.txFrom(ctx); ok {
		return fn(tx.state)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	next := s.currentState().clone()
	if err := fn(next); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = next
	s.mu.Unlock()
	return nil
}

func (s *Store) currentState() *state {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) txFrom(ctx context.Context) (*Transaction, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*Transaction)
	if !ok || tx.store != s || tx.done {
		return nil, false
	}
	return tx, true
}

// TransactionManager implements repositories.TransactionManager for the store
type TransactionManager struct {
	store *Store
}

// Begin starts a new transaction, waiting for any running one to finish
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tm.store.txMu.Lock()

	tx := &Transaction{
		store: tm.store,
		state: tm.store.currentState().clone(),
	}
	tx.ctx = context.WithValue(ctx, txContextKey{}, tx)
	return tx, nil
}

// InTransaction executes fn within a transaction.
// Commits if fn succeeds, rolls back on error or panic.
func (tm *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, err := tm.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx.Context(), tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Transaction is a unit of work over a private copy of the store state
type Transaction struct {
	store *Store
	state *state
	ctx   context.Context
	done  bool
}

// Commit publishes the transaction's state
func (t *Transaction) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Lock()
	t.store.state = t.state
	t.store.mu.Unlock()
	t.store.txMu.Unlock()
	return nil
}

// Rollback discards the transaction's state
func (t *Transaction) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.state = nil
	t.store.txMu.Unlock()
	return nil
}

// Context returns the transaction context
func (t *Transaction) Context() context.Context {
	return t.ctx
}
