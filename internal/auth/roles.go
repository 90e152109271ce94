package auth

// permissions are strings like "analysis:submit", "evaluation:run", "admin:*"
const (
	PermAnalysisSubmit  = "analysis:submit"
	PermAnalysisReadOwn = "analysis:read_own"
	PermAnalysisReadAll = "analysis:read_all"
	PermEvaluationRun   = "evaluation:run"
	PermAdminAll        = "admin:*"
)

const (
	RoleUser       = "user"
	RoleResearcher = "researcher"
	RoleAdmin      = "admin"
)

var roleToPerms = map[string][]string{
	RoleUser:       {PermAnalysisSubmit, PermAnalysisReadOwn},
	RoleResearcher: {PermAnalysisSubmit, PermAnalysisReadOwn, PermAnalysisReadAll, PermEvaluationRun},
	RoleAdmin:      {PermAnalysisSubmit, PermAnalysisReadAll, PermEvaluationRun, PermAdminAll},
}

func KnownRole(role string) bool {
	_, ok := roleToPerms[role]
	return ok
}

func PermsForRoles(roles []string) map[string]struct{} {
	out := make(map[string]struct{}, 8)
	for _, r := range roles {
		if perms, ok := roleToPerms[r]; ok {
			for _, p := range perms {
				out[p] = struct{}{}
			}
		}
	}
	return out
}

// HasPerm reports whether roles grant perm, directly or through admin:*.
func HasPerm(roles []string, perm string) bool {
	perms := PermsForRoles(roles)
	if _, ok := perms[PermAdminAll]; ok {
		return true
	}
	_, ok := perms[perm]
	return ok
}
