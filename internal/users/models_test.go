package users

import "testing"

func TestIsValidRole(t *testing.T) {
	for _, role := range []string{"USER", "ADMIN"} {
		if !IsValidRole(role) {
			t.Errorf("IsValidRole(%q) = false", role)
		}
	}
	for _, role := range []string{"", "user", "ORGANIZER"} {
		if IsValidRole(role) {
			t.Errorf("IsValidRole(%q) = true", role)
		}
	}
}
