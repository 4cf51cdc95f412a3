package authz

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nexusiam/controlplane/internal/data"
)

var ErrPolicyNotFound = errors.New("authz: policy not found")

// CompiledPolicy is a data.Policy with its Target/Condition decoded into
// matchable/evaluable form.
type CompiledPolicy struct {
	ID          uuid.UUID
	Version     int
	Effect      Effect
	Priority    int
	Target      Target
	Condition   *Condition
	Obligations json.RawMessage
	Advice      json.RawMessage
	UpdatedAt   time.Time
}

func compile(p *data.Policy) (*CompiledPolicy, error) {
	cp := &CompiledPolicy{
		ID: p.ID, Version: p.Version, Effect: Effect(p.Effect), Priority: p.Priority,
		Obligations: p.Obligations, Advice: p.Advice, UpdatedAt: p.UpdatedAt,
	}
	if len(p.Target) > 0 {
		if err := json.Unmarshal(p.Target, &cp.Target); err != nil {
			return nil, err
		}
	}
	if len(p.Condition) > 0 {
		var cond Condition
		if err := json.Unmarshal(p.Condition, &cond); err != nil {
			return nil, err
		}
		cp.Condition = &cond
	}
	return cp, nil
}

// PolicyInput is the request body for creating/updating a policy.
type PolicyInput struct {
	Effect      Effect          `json:"effect"`
	Priority    int             `json:"priority"`
	Target      Target          `json:"target"`
	Condition   *Condition      `json:"condition,omitempty"`
	Obligations json.RawMessage `json:"obligations,omitempty"`
	Advice      json.RawMessage `json:"advice,omitempty"`
	IsActive    *bool           `json:"is_active,omitempty"`
}

// PolicyService wraps the policy repository with engine cache invalidation:
// every mutation clears the entire decision cache, per §4.2's "simpler and
// safer than selective invalidation" rule.
type PolicyService struct {
	model  data.PolicyModel
	engine *Engine
}

func NewPolicyService(model data.PolicyModel, engine *Engine) *PolicyService {
	return &PolicyService{model: model, engine: engine}
}

func (s *PolicyService) Get(ctx context.Context, id uuid.UUID) (*data.Policy, error) {
	p, err := s.model.GetByID(ctx, id)
	if errors.Is(err, data.ErrNotFound) {
		return nil, ErrPolicyNotFound
	}
	return p, err
}

func (s *PolicyService) List(ctx context.Context, limit, offset int) ([]*data.Policy, error) {
	return s.model.List(ctx, limit, offset)
}

func (in PolicyInput) toPolicy() (*data.Policy, error) {
	target, err := json.Marshal(in.Target)
	if err != nil {
		return nil, err
	}
	var condition json.RawMessage
	if in.Condition != nil {
		condition, err = json.Marshal(in.Condition)
		if err != nil {
			return nil, err
		}
	}
	isActive := true
	if in.IsActive != nil {
		isActive = *in.IsActive
	}
	return &data.Policy{
		Effect: string(in.Effect), Priority: in.Priority, Target: target,
		Condition: condition, Obligations: in.Obligations, Advice: in.Advice, IsActive: isActive,
	}, nil
}

// Create validates the policy compiles, then persists it and invalidates
// the decision cache (a fresh policy can only ever widen or narrow future
// decisions, never an already-cached one, but clearing is the simple,
// always-correct rule the spec asks for).
func (s *PolicyService) Create(ctx context.Context, in PolicyInput) (*data.Policy, error) {
	p, err := in.toPolicy()
	if err != nil {
		return nil, err
	}
	if _, err := compile(p); err != nil {
		return nil, err
	}
	if err := s.model.Create(ctx, p); err != nil {
		return nil, err
	}
	s.engine.InvalidateCache()
	return p, nil
}

func (s *PolicyService) Update(ctx context.Context, id uuid.UUID, in PolicyInput) (*data.Policy, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	updated, err := in.toPolicy()
	if err != nil {
		return nil, err
	}
	if _, err := compile(updated); err != nil {
		return nil, err
	}
	updated.ID = existing.ID
	updated.Version = existing.Version
	if err := s.model.Update(ctx, updated); err != nil {
		if errors.Is(err, data.ErrOptimisticLock) {
			return nil, errors.New("authz: policy was concurrently modified")
		}
		return nil, err
	}
	s.engine.InvalidateCache()
	return updated, nil
}

func (s *PolicyService) Disable(ctx context.Context, id uuid.UUID) error {
	if err := s.model.Disable(ctx, id); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return ErrPolicyNotFound
		}
		return err
	}
	s.engine.InvalidateCache()
	return nil
}

func (s *PolicyService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.model.Delete(ctx, id); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			return ErrPolicyNotFound
		}
		return err
	}
	s.engine.InvalidateCache()
	return nil
}
