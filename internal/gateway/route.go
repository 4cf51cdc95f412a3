package gateway

import "strings"

// resolvedRoute is the outcome of matching a request path against the
// route table: which upstream to forward to, the path to forward, and
// what gating the pipeline must apply first.
type resolvedRoute struct {
	Upstream      string
	ForwardPath   string
	RequiresAuth  bool
	RequiresAdmin bool
}

// resolveRoute implements the §4.3 route table: the longest matching
// prefix wins, so the more specific authz/policies and authz/audit rules
// take priority over the blanket authz/ rule.
func resolveRoute(routes []RouteRule, path string) (resolvedRoute, bool) {
	var best *RouteRule
	for i := range routes {
		r := &routes[i]
		if strings.HasPrefix(path, r.Prefix) {
			if best == nil || len(r.Prefix) > len(best.Prefix) {
				best = r
			}
		}
	}
	if best == nil {
		return resolvedRoute{}, false
	}
	forward := path
	if best.StripPrefix != "" {
		forward = strings.TrimPrefix(path, best.StripPrefix)
		if forward == "" {
			forward = "/"
		}
	}
	return resolvedRoute{
		Upstream:      best.Upstream,
		ForwardPath:   forward,
		RequiresAuth:  best.RequiresAuth,
		RequiresAdmin: best.RequiresAdmin,
	}, true
}
