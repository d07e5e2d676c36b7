package auth

// Capable is the single authorization policy check: a caller may act in a
// role when they are an admin or hold the role themselves. Every per-request
// capability decision in the broker goes through this function.
func Capable(isAdmin bool, roles []string, required string) bool {
	if isAdmin {
		return true
	}
	if required == "" {
		return false
	}
	for _, role := range roles {
		if role == required {
			return true
		}
	}
	return false
}
