package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "expert participates", role: RoleExpert, action: ActionParticipate, allow: true},
		{name: "expert manages", role: RoleExpert, action: ActionManageProjects, allow: false},
		{name: "researcher manages", role: RoleResearcher, action: ActionManageProjects, allow: true},
		{name: "researcher participates", role: RoleResearcher, action: ActionParticipate, allow: false},
		{name: "researcher admin", role: RoleResearcher, action: ActionAdmin, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "admin manages", role: RoleAdmin, action: ActionManageProjects, allow: true},
		{name: "unknown role", role: Role("guest"), action: ActionParticipate, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("researcher"); got != RoleResearcher {
		t.Fatalf("Normalize(researcher) = %q", got)
	}
	if got := Normalize("editor"); got != RoleExpert {
		t.Fatalf("Normalize(editor) = %q, want expert", got)
	}
}
