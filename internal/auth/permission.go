package auth

import (
	"fmt"
	"strings"
)

// Action is an operation class that can be granted on a subject.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	// ActionManage implies every other action on the same subject.
	ActionManage Action = "manage"
)

// Subject is a business area permissions are granted against.
type Subject string

const (
	SubjectVehicles    Subject = "vehicles"
	SubjectCustomers   Subject = "customers"
	SubjectServices    Subject = "services"
	SubjectQuotes      Subject = "quotes"
	SubjectInventory   Subject = "inventory"
	SubjectBilling     Subject = "billing"
	SubjectSettings    Subject = "settings"
	SubjectReports     Subject = "reports"
	SubjectDashboard   Subject = "dashboard"
	SubjectInspections Subject = "inspections"
	SubjectTeam        Subject = "team"
)

var validActions = map[Action]struct{}{
	ActionCreate: {}, ActionRead: {}, ActionUpdate: {}, ActionDelete: {}, ActionManage: {},
}

var validSubjects = map[Subject]struct{}{
	SubjectVehicles: {}, SubjectCustomers: {}, SubjectServices: {}, SubjectQuotes: {},
	SubjectInventory: {}, SubjectBilling: {}, SubjectSettings: {}, SubjectReports: {},
	SubjectDashboard: {}, SubjectInspections: {}, SubjectTeam: {},
}

// Grant is a single (action, subject) permission pair.
type Grant struct {
	Action  Action
	Subject Subject
}

func (g Grant) String() string {
	return string(g.Action) + ":" + string(g.Subject)
}

// ParseGrant parses an "action:subject" string into a Grant.
func ParseGrant(s string) (Grant, error) {
	action, subject, ok := strings.Cut(s, ":")
	if !ok {
		return Grant{}, fmt.Errorf("malformed grant %q: want action:subject", s)
	}
	g := Grant{Action: Action(action), Subject: Subject(subject)}
	if _, ok := validActions[g.Action]; !ok {
		return Grant{}, fmt.Errorf("unknown action %q in grant %q", action, s)
	}
	if _, ok := validSubjects[g.Subject]; !ok {
		return Grant{}, fmt.Errorf("unknown subject %q in grant %q", subject, s)
	}
	return g, nil
}

// ParseGrants parses a list of "action:subject" strings.
func ParseGrants(ss []string) ([]Grant, error) {
	grants := make([]Grant, 0, len(ss))
	for _, s := range ss {
		g, err := ParseGrant(s)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, nil
}

// Role is a built-in membership role.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"

	// RoleSuperAdmin only ever appears on an AuthContext, never on a
	// membership record.
	RoleSuperAdmin Role = "super_admin"
)

// ParseRole validates a built-in membership role string.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleOwner, RoleAdmin, RoleMember:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}

// CustomRole is an organization-scoped permission set attached to a member.
type CustomRole struct {
	ID             string
	OrganizationID string
	Name           string
	IsAdmin        bool
	Permissions    []Grant
}

// Membership is a user's resolved role within one organization.
type Membership struct {
	OrganizationID string
	UserID         string
	Role           Role
	CustomRole     *CustomRole // nil when no custom role is attached
}

// Evaluate decides whether a membership satisfies the required permissions.
// It is a pure function of its inputs. The bypass order is deliberate:
//
//  1. super-admin: global bypass, independent of membership
//  2. owner/admin built-in roles
//  3. custom role flagged as admin (may coexist with a permission list)
//  4. plain member with no custom role: unrestricted; custom roles exist to
//     restrict, so absence of one means default full access
//  5. every required grant must be present, where a stored "manage" grant on
//     a subject satisfies any action on it
//
// An empty required list always allows.
func Evaluate(superAdmin bool, m *Membership, required []Grant) bool {
	if superAdmin {
		return true
	}
	if m == nil {
		return false
	}
	if m.Role == RoleOwner || m.Role == RoleAdmin {
		return true
	}
	if m.CustomRole != nil && m.CustomRole.IsAdmin {
		return true
	}
	if m.CustomRole == nil {
		return true
	}

	held := make(map[Grant]struct{}, len(m.CustomRole.Permissions))
	for _, g := range m.CustomRole.Permissions {
		held[g] = struct{}{}
	}
	for _, req := range required {
		if _, ok := held[req]; ok {
			continue
		}
		if _, ok := held[Grant{Action: ActionManage, Subject: req.Subject}]; ok {
			continue
		}
		return false
	}
	return true
}
