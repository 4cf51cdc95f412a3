package authz

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/nexusiam/controlplane/internal/audit"
	"github.com/nexusiam/controlplane/internal/data"
)

// Config tunes the decision cache and default combining behavior.
type Config struct {
	CacheSize     int
	CacheTTL      time.Duration
	DefaultEffect Effect
	BulkConcurrency int
}

func DefaultConfig() Config {
	return Config{
		CacheSize:       10_000,
		CacheTTL:        30 * time.Second,
		DefaultEffect:   Deny,
		BulkConcurrency: 8,
	}
}

// Engine is the authorization decision point: policy matching, condition
// evaluation, the deny-overrides-with-priority combiner, decision caching,
// and request coalescing.
type Engine struct {
	policies data.PolicyModel
	audit    *audit.Service
	cfg      Config
	cache    *decisionCache
	coalesce *coalescer
}

func NewEngine(policies data.PolicyModel, auditSvc *audit.Service, cfg Config) *Engine {
	return &Engine{
		policies: policies, audit: auditSvc, cfg: cfg,
		cache:    newDecisionCache(cfg.CacheSize, cfg.CacheTTL),
		coalesce: newCoalescer(),
	}
}

func (e *Engine) InvalidateCache() { e.cache.clear() }

func (e *Engine) activePolicies(ctx context.Context) ([]*CompiledPolicy, error) {
	policies, err := e.policies.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	compiled := make([]*CompiledPolicy, 0, len(policies))
	for _, p := range policies {
		cp, err := compile(p)
		if err != nil {
			continue
		}
		compiled = append(compiled, cp)
	}
	return compiled, nil
}

// policyEffect evaluates one compiled policy against req, returning its
// effect (permit/deny) and whether it was determinate. A false return for
// matched means the target didn't select this request at all, so it never
// contributes to the combining algorithm.
func policyEffect(p *CompiledPolicy, req Request) (effect Effect, matched bool, determinate bool) {
	if !p.Target.matches(req) {
		return "", false, false
	}
	r := evaluate(p.Condition, req.attributes())
	if !r.determinate {
		return Indeterminate, true, false
	}
	if !r.value {
		// Condition evaluated definitively false: this policy simply
		// doesn't apply to this request, same as a target miss.
		return "", false, false
	}
	return p.Effect, true, true
}

// Authorize evaluates req against the active policy set per the combining
// algorithm in §4.2: sort matched policies by priority (then recency), and
// let the highest-priority tier with a determinate member decide, with deny
// overriding permit within that tier.
func (e *Engine) Authorize(ctx context.Context, req Request, requestID string) (Decision, error) {
	fp := req.Fingerprint()

	if cached, ok := e.cache.get(fp); ok {
		cached.CacheHit = true
		cached.RequestID = requestID
		e.emitAudit(ctx, req, cached)
		return cached, nil
	}

	decision, _, joined := e.coalesce.do(fp, func() (Decision, error) {
		return e.evaluate(ctx, req, fp)
	})
	decision.CacheHit = joined
	decision.RequestID = requestID

	if !joined {
		e.cache.put(fp, decision)
	}
	e.emitAudit(ctx, req, decision)
	return decision, nil
}

func (e *Engine) evaluate(ctx context.Context, req Request, fp string) (Decision, error) {
	start := time.Now()

	policies, err := e.activePolicies(ctx)
	if err != nil {
		return Decision{
			Fingerprint: fp, Effect: Indeterminate, Reason: "policy store error",
			Timestamp: time.Now().UTC(), EvaluationMS: msSince(start),
		}, err
	}

	return combine(req, fp, policies, e.cfg.DefaultEffect, start), nil
}

// evaluateAgainst combines req against an already-filtered policy slice,
// bypassing policy-store lookup and the decision cache entirely; used by
// BatchOptimized, which pre-filters by subject role before matching.
func (e *Engine) evaluateAgainst(req Request, policies []*CompiledPolicy, requestID string) (Decision, error) {
	start := time.Now()
	d := combine(req, req.Fingerprint(), policies, e.cfg.DefaultEffect, start)
	d.RequestID = requestID
	return d, nil
}

// combine applies the deny-overrides-with-priority algorithm of §4.2:
// matched policies are grouped into priority tiers (descending priority,
// ties broken by descending updated_at); the highest tier containing at
// least one determinate policy decides the outcome, with deny overriding
// permit within that tier.
func combine(req Request, fp string, policies []*CompiledPolicy, defaultEffect Effect, start time.Time) Decision {
	var candidates []evaluatedPolicy
	for _, p := range policies {
		effect, matched, determinate := policyEffect(p, req)
		if !matched {
			continue
		}
		candidates = append(candidates, evaluatedPolicy{p, effect, determinate})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := candidates[i].policy, candidates[j].policy
		if pi.Priority != pj.Priority {
			return pi.Priority > pj.Priority
		}
		return pi.UpdatedAt.After(pj.UpdatedAt)
	})

	decision := Decision{Fingerprint: fp, Timestamp: time.Now().UTC()}

	sawIndeterminate := false
	i := 0
	for i < len(candidates) {
		tierPriority := candidates[i].policy.Priority
		j := i
		var denyIDs, permitIDs []string
		tierHasDeterminate := false
		for j < len(candidates) && candidates[j].policy.Priority == tierPriority {
			c := candidates[j]
			if !c.determinate {
				sawIndeterminate = true
			} else {
				tierHasDeterminate = true
				if c.effect == Deny {
					denyIDs = append(denyIDs, c.policy.ID.String())
				} else {
					permitIDs = append(permitIDs, c.policy.ID.String())
				}
			}
			j++
		}

		if tierHasDeterminate {
			if len(denyIDs) > 0 {
				decision.Effect = Deny
				decision.Reason = "deny policy matched at highest contributing priority"
				decision.MatchedPolicyIDs = denyIDs
			} else {
				decision.Effect = Permit
				decision.Reason = "permit policy matched at highest contributing priority"
				decision.MatchedPolicyIDs = permitIDs
			}
			decision.Obligations, decision.Advice = aggregateObligations(candidates, decision.MatchedPolicyIDs)
			decision.EvaluationMS = msSince(start)
			return decision
		}
		i = j
	}

	if sawIndeterminate {
		decision.Effect = Indeterminate
		decision.Reason = "all matching policies indeterminate"
	} else {
		decision.Effect = defaultEffect
		decision.Reason = "no policy matched; default effect"
	}
	decision.EvaluationMS = msSince(start)
	return decision
}

// evaluatedPolicy pairs a compiled policy with its per-request outcome.
type evaluatedPolicy struct {
	policy      *CompiledPolicy
	effect      Effect
	determinate bool
}

func aggregateObligations(candidates []evaluatedPolicy, matchedIDs []string) (json.RawMessage, json.RawMessage) {
	idSet := make(map[string]bool, len(matchedIDs))
	for _, id := range matchedIDs {
		idSet[id] = true
	}
	var obligations, advice []json.RawMessage
	for _, c := range candidates {
		if !idSet[c.policy.ID.String()] {
			continue
		}
		if len(c.policy.Obligations) > 0 {
			obligations = append(obligations, c.policy.Obligations)
		}
		if len(c.policy.Advice) > 0 {
			advice = append(advice, c.policy.Advice)
		}
	}
	return marshalList(obligations), marshalList(advice)
}

func marshalList(items []json.RawMessage) json.RawMessage {
	if len(items) == 0 {
		return nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil
	}
	return b
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func (e *Engine) emitAudit(ctx context.Context, req Request, d Decision) {
	if e.audit == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"resource": req.Resource, "action": req.Action,
		"matched_policy_ids": d.MatchedPolicyIDs, "evaluation_ms": d.EvaluationMS, "cache_hit": d.CacheHit,
	})
	var actor *uuid.UUID
	if id, err := uuid.Parse(req.Subject.ID); err == nil {
		actor = &id
	}
	evt := audit.AuditEvent{
		EventID:     uuid.New(),
		ActorUserID: actor,
		Action:      "authz.decision",
		TargetType:  "authorize",
		TargetID:    req.Resource,
		Result:      string(d.Effect),
		ReasonCode:  d.Reason,
		RequestID:   d.RequestID,
		Metadata:    meta,
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.audit.WriteEvent(ctx, evt); err != nil {
		log.Printf("authz: audit write failed: %v", err)
	}
}

// WarmCache replays a fixed set of requests, populating the decision cache
// ahead of traffic.
func (e *Engine) WarmCache(ctx context.Context, requests []Request) {
	for _, req := range requests {
		_, _ = e.Authorize(ctx, req, "")
	}
}
