package permission

// Set is a request-scoped effective permission list. Owners and platform
// admins carry the universal set; subusers carry their stored, already
// expanded grant.
type Set struct {
	owner bool
	admin bool
	perms map[string]struct{}
}

// NewSet builds a Set from the resolved authorization facts.
func NewSet(owner, admin bool, perms []string) Set {
	m := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		m[p] = struct{}{}
	}
	return Set{owner: owner, admin: admin, perms: m}
}

// Allows is the single predicate gating every operation: true iff the
// caller is the owner, a platform admin, holds the universal wildcard, or
// holds the literal permission.
func (s Set) Allows(perm string) bool {
	if s.owner || s.admin {
		return true
	}
	if _, ok := s.perms[Wildcard]; ok {
		return true
	}
	_, ok := s.perms[perm]
	return ok
}

// List returns the stored permission strings; nil for owner/admin sets,
// which are reported externally as ["*"].
func (s Set) List() []string {
	if s.owner || s.admin {
		return []string{Wildcard}
	}
	out := make([]string, 0, len(s.perms))
	for p := range s.perms {
		out = append(out, p)
	}
	return out
}
