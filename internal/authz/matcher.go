package authz

// matches reports whether t applies to req: each predicate is a wildcard
// (empty) or a set the request's corresponding value must belong to.
func (t Target) matches(req Request) bool {
	return matchesSubject(t.Subjects, req.Subject) &&
		matchesSet(t.Resources, req.Resource) &&
		matchesSet(t.Actions, req.Action)
}

func matchesSet(set []string, value string) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == "*" || s == value {
			return true
		}
	}
	return false
}

// matchesSubject matches against either the subject's id or any of its
// roles, so a target naming a bare role (e.g. ["admin"]) selects by role
// while a target naming a user id selects that user specifically. Entries
// are compared verbatim; a "role:" prefix is not stripped.
func matchesSubject(set []string, subj Subject) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == "*" || s == subj.ID {
			return true
		}
		for _, role := range subj.Roles {
			if s == role {
				return true
			}
		}
	}
	return false
}
