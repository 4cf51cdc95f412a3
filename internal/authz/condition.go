package authz

// triState is the result of evaluating a condition subtree: determinate
// true/false, or indeterminate when an operand attribute is missing.
type triState struct {
	determinate bool
	value       bool
}

var (
	triTrue          = triState{determinate: true, value: true}
	triFalse         = triState{determinate: true, value: false}
	triIndeterminate = triState{determinate: false}
)

// evaluate walks the condition tree against attrs. A nil condition (no
// condition configured on the policy) is vacuously true.
func evaluate(c *Condition, attrs map[string]any) triState {
	if c == nil || c.Op == "" {
		return triTrue
	}

	switch c.Op {
	case "and":
		return evalAnd(c.Children, attrs)
	case "or":
		return evalOr(c.Children, attrs)
	case "not":
		if len(c.Children) != 1 {
			return triIndeterminate
		}
		r := evaluate(&c.Children[0], attrs)
		if !r.determinate {
			return triIndeterminate
		}
		return triState{determinate: true, value: !r.value}
	case "eq", "ne", "gt", "gte", "lt", "lte":
		return evalComparison(c, attrs)
	case "in", "not_in":
		return evalSetOp(c, attrs)
	default:
		return triIndeterminate
	}
}

func evalAnd(children []Condition, attrs map[string]any) triState {
	sawIndeterminate := false
	for i := range children {
		r := evaluate(&children[i], attrs)
		if r.determinate && !r.value {
			return triFalse
		}
		if !r.determinate {
			sawIndeterminate = true
		}
	}
	if sawIndeterminate {
		return triIndeterminate
	}
	return triTrue
}

func evalOr(children []Condition, attrs map[string]any) triState {
	sawIndeterminate := false
	for i := range children {
		r := evaluate(&children[i], attrs)
		if r.determinate && r.value {
			return triTrue
		}
		if !r.determinate {
			sawIndeterminate = true
		}
	}
	if sawIndeterminate {
		return triIndeterminate
	}
	return triFalse
}

func evalComparison(c *Condition, attrs map[string]any) triState {
	actual, ok := attrs[c.Attr]
	if !ok {
		return triIndeterminate
	}

	cmp, ok := compare(actual, c.Value)
	if !ok {
		return triIndeterminate
	}

	var result bool
	switch c.Op {
	case "eq":
		result = cmp == 0
	case "ne":
		result = cmp != 0
	case "gt":
		result = cmp > 0
	case "gte":
		result = cmp >= 0
	case "lt":
		result = cmp < 0
	case "lte":
		result = cmp <= 0
	}
	return triState{determinate: true, value: result}
}

func evalSetOp(c *Condition, attrs map[string]any) triState {
	actual, ok := attrs[c.Attr]
	if !ok {
		return triIndeterminate
	}
	set, ok := c.Value.([]any)
	if !ok {
		return triIndeterminate
	}

	member := false
	for _, candidate := range set {
		if cmp, ok := compare(actual, candidate); ok && cmp == 0 {
			member = true
			break
		}
	}
	if c.Op == "not_in" {
		member = !member
	}
	return triState{determinate: true, value: member}
}

// compare returns -1/0/1 comparing a against b, trying numeric then string
// comparison; ok is false when the two operands aren't comparable.
func compare(a, b any) (int, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}

	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1, true
		case as > bs:
			return 1, true
		default:
			return 0, true
		}
	}

	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			if ab == bb {
				return 0, true
			}
			return -1, true
		}
	}

	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
