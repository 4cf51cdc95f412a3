package authz

import (
	"context"
	"sync"
)

// BulkItem is one (resource, action, context) tuple within a bulk request
// for a single subject.
type BulkItem struct {
	Resource string         `json:"resource"`
	Action   string         `json:"action"`
	Context  map[string]any `json:"context,omitempty"`
}

// BulkResult pairs each input item with its decision, in input order.
type BulkResult struct {
	Decisions []Decision `json:"decisions"`
	Summary   struct {
		Permit        int `json:"permit"`
		Deny          int `json:"deny"`
		Indeterminate int `json:"indeterminate"`
	} `json:"summary"`
}

// Bulk evaluates items for one subject: fingerprints are deduplicated, and
// the unique set is evaluated with bounded concurrency; Authorize's own
// coalescing means duplicate fingerprints share one evaluation regardless,
// but deduplicating here avoids even queuing the redundant work.
func (e *Engine) Bulk(ctx context.Context, subject Subject, items []BulkItem, requestID string) BulkResult {
	requests := make([]Request, len(items))
	for i, it := range items {
		requests[i] = Request{Subject: subject, Resource: it.Resource, Action: it.Action, Context: it.Context}
	}
	return e.evaluateMany(ctx, requests, requestID, e.cfg.BulkConcurrency)
}

// BatchOptimized has the same contract as Bulk but additionally pre-filters
// the active policy set by the subject's roles before matching each entry,
// for large bulk calls where policy load dominates evaluation cost.
func (e *Engine) BatchOptimized(ctx context.Context, subject Subject, items []BulkItem, requestID string) (BulkResult, error) {
	policies, err := e.activePolicies(ctx)
	if err != nil {
		return BulkResult{}, err
	}
	roleFiltered := make([]*CompiledPolicy, 0, len(policies))
	for _, p := range policies {
		if len(p.Target.Subjects) == 0 || matchesSubject(p.Target.Subjects, subject) {
			roleFiltered = append(roleFiltered, p)
		}
	}

	requests := make([]Request, len(items))
	for i, it := range items {
		requests[i] = Request{Subject: subject, Resource: it.Resource, Action: it.Action, Context: it.Context}
	}
	return e.evaluateManyWithPolicies(ctx, requests, roleFiltered, requestID, e.cfg.BulkConcurrency), nil
}

// evaluateMany runs Authorize (with its cache + coalescing) for each unique
// fingerprint among requests, bounded to concurrency in flight, and returns
// results in input order with a permit/deny/indeterminate summary.
func (e *Engine) evaluateMany(ctx context.Context, requests []Request, requestID string, concurrency int) BulkResult {
	return e.runBulk(requests, requestID, concurrency, func(req Request) (Decision, error) {
		return e.Authorize(ctx, req, requestID)
	})
}

// evaluateManyWithPolicies bypasses the shared decision cache and evaluates
// directly against a pre-filtered policy slice, since the cache is keyed
// independent of any role pre-filter and would otherwise return decisions
// computed against the full policy set.
func (e *Engine) evaluateManyWithPolicies(ctx context.Context, requests []Request, policies []*CompiledPolicy, requestID string, concurrency int) BulkResult {
	return e.runBulk(requests, requestID, concurrency, func(req Request) (Decision, error) {
		return e.evaluateAgainst(req, policies, requestID)
	})
}

func (e *Engine) runBulk(requests []Request, requestID string, concurrency int, evalOne func(Request) (Decision, error)) BulkResult {
	fingerprints := make([]string, len(requests))
	firstIndexOf := make(map[string]int, len(requests))
	var uniqueIdx []int
	for i, req := range requests {
		fp := req.Fingerprint()
		fingerprints[i] = fp
		if _, seen := firstIndexOf[fp]; !seen {
			firstIndexOf[fp] = i
			uniqueIdx = append(uniqueIdx, i)
		}
	}

	decisionByFP := make(map[string]Decision, len(uniqueIdx))
	var mu sync.Mutex
	sem := make(chan struct{}, max(1, concurrency))
	var wg sync.WaitGroup

	for _, idx := range uniqueIdx {
		idx := idx
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			d, err := evalOne(requests[idx])
			if err != nil {
				d = Decision{Fingerprint: fingerprints[idx], Effect: Indeterminate, Reason: err.Error()}
			}
			mu.Lock()
			decisionByFP[fingerprints[idx]] = d
			mu.Unlock()
		}()
	}
	wg.Wait()

	result := BulkResult{Decisions: make([]Decision, len(requests))}
	for i, fp := range fingerprints {
		d := decisionByFP[fp]
		d.RequestID = requestID
		result.Decisions[i] = d
		switch d.Effect {
		case Permit:
			result.Summary.Permit++
		case Deny:
			result.Summary.Deny++
		default:
			result.Summary.Indeterminate++
		}
	}
	return result
}
