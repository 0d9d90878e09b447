package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/wrenchio/workshop-backend/internal/storage"
)

// fakeStore backs the gate with in-memory records keyed the way the resolvers
// look them up. Call counts let tests assert memoization.
type fakeStore struct {
	sessions    map[string]*storage.Session
	tokens      map[string]*storage.APIToken
	users       map[string]*storage.User
	memberships map[string]*storage.Membership // orgID + "/" + userID

	failSessions    bool
	failUsers       bool
	failMemberships bool

	userCalls       int
	membershipCalls int
}

var errStore = errors.New("disk on fire")

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions:    make(map[string]*storage.Session),
		tokens:      make(map[string]*storage.APIToken),
		users:       make(map[string]*storage.User),
		memberships: make(map[string]*storage.Membership),
	}
}

func (f *fakeStore) GetSession(_ context.Context, tokenHash string) (*storage.Session, error) {
	if f.failSessions {
		return nil, errStore
	}
	return f.sessions[tokenHash], nil
}

func (f *fakeStore) GetAPIToken(_ context.Context, tokenHash string) (*storage.APIToken, error) {
	return f.tokens[tokenHash], nil
}

func (f *fakeStore) GetUser(_ context.Context, id string) (*storage.User, error) {
	f.userCalls++
	if f.failUsers {
		return nil, errStore
	}
	return f.users[id], nil
}

func (f *fakeStore) GetMembership(_ context.Context, orgID, userID string) (*storage.Membership, error) {
	f.membershipCalls++
	if f.failMemberships {
		return nil, errStore
	}
	return f.memberships[orgID+"/"+userID], nil
}

func (f *fakeStore) FirstMembershipForUser(_ context.Context, userID string) (*storage.Membership, error) {
	f.membershipCalls++
	if f.failMemberships {
		return nil, errStore
	}
	for _, m := range f.memberships {
		if m.UserID == userID {
			return m, nil
		}
	}
	return nil, nil
}

// seedSession creates a user plus a live session and returns the raw token.
func (f *fakeStore) seedSession(t *testing.T, userID, email, activeOrg string) string {
	t.Helper()
	raw, err := GenerateToken(SessionTokenPrefix)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	f.users[userID] = &storage.User{ID: userID, Email: email}
	f.sessions[HashToken(raw)] = &storage.Session{
		TokenHash:   HashToken(raw),
		UserID:      userID,
		ActiveOrgID: activeOrg,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	return raw
}

func (f *fakeStore) seedMembership(orgID, userID, role string, custom *storage.CustomRole) {
	m := &storage.Membership{OrganizationID: orgID, UserID: userID, Role: role, CustomRole: custom}
	f.memberships[orgID+"/"+userID] = m
}

func newTestGate(f *fakeStore) *Gate {
	return NewGate(NewPrincipalResolver(f, f, f), NewMembershipResolver(f, f))
}

func echo(ctx context.Context, ac *AuthContext) (string, error) {
	return ac.OrganizationID + ":" + ac.Role, nil
}

func TestRun_MissingOrInvalidSession(t *testing.T) {
	f := newFakeStore()
	g := newTestGate(f)

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"unknown token", "wks-" + strings.Repeat("a", 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Run(context.Background(), g, SessionCredentials{SessionToken: tt.token}, Options{Operation: "test"}, echo)
			if res.Success {
				t.Fatal("expected denial")
			}
			if res.Error != ErrUnauthorized.Error() {
				t.Fatalf("error = %q, want %q", res.Error, ErrUnauthorized.Error())
			}
		})
	}
}

func TestRun_ExpiredSession(t *testing.T) {
	f := newFakeStore()
	raw := f.seedSession(t, "u1", "u1@example.com", "")
	f.sessions[HashToken(raw)].ExpiresAt = time.Now().Add(-time.Minute)
	g := newTestGate(f)

	res := Run(context.Background(), g, SessionCredentials{SessionToken: raw}, Options{}, echo)
	if res.Error != ErrUnauthorized.Error() {
		t.Fatalf("error = %q, want %q", res.Error, ErrUnauthorized.Error())
	}
}

func TestRun_DisabledUser(t *testing.T) {
	f := newFakeStore()
	raw := f.seedSession(t, "u1", "u1@example.com", "")
	f.users["u1"].Disabled = true
	g := newTestGate(f)

	res := Run(context.Background(), g, SessionCredentials{SessionToken: raw}, Options{}, echo)
	if res.Error != ErrUnauthorized.Error() {
		t.Fatalf("error = %q, want %q", res.Error, ErrUnauthorized.Error())
	}
}

func TestRun_NoMembership(t *testing.T) {
	f := newFakeStore()
	raw := f.seedSession(t, "u1", "u1@example.com", "")
	g := newTestGate(f)

	res := Run(context.Background(), g, SessionCredentials{SessionToken: raw}, Options{}, echo)
	if res.Error != ErrNoOrganization.Error() {
		t.Fatalf("error = %q, want %q", res.Error, ErrNoOrganization.Error())
	}
}

func TestRun_ActiveOrgSelectsMembership(t *testing.T) {
	f := newFakeStore()
	raw := f.seedSession(t, "u1", "u1@example.com", "org-a")
	f.seedMembership("org-a", "u1", "member", nil)
	f.seedMembership("org-b", "u1", "owner", nil)
	g := newTestGate(f)

	// Session default.
	res := Run(context.Background(), g, SessionCredentials{SessionToken: raw}, Options{}, echo)
	if !res.Success || res.Data != "org-a:member" {
		t.Fatalf("session default: got %+v", res)
	}

	// Explicit selector overrides the session.
	res = Run(context.Background(), g, SessionCredentials{SessionToken: raw, ActiveOrg: "org-b"}, Options{}, echo)
	if !res.Success || res.Data != "org-b:owner" {
		t.Fatalf("explicit selector: got %+v", res)
	}

	// Selector for an org the user does not belong to.
	res = Run(context.Background(), g, SessionCredentials{SessionToken: raw, ActiveOrg: "org-c"}, Options{}, echo)
	if res.Success || res.Error != ErrNoOrganization.Error() {
		t.Fatalf("foreign selector: got %+v", res)
	}
}

func TestRun_InsufficientPermissions(t *testing.T) {
	f := newFakeStore()
	raw := f.seedSession(t, "u1", "u1@example.com", "org-a")
	f.seedMembership("org-a", "u1", "member", &storage.CustomRole{
		ID: "r1", OrganizationID: "org-a", Name: "viewer", Permissions: []string{"read:vehicles"},
	})
	g := newTestGate(f)

	opts := Options{Operation: "deleteVehicle", RequiredPermissions: grants("delete:vehicles")}
	res := Run(context.Background(), g, SessionCredentials{SessionToken: raw}, opts, echo)
	if res.Error != ErrInsufficientPermissions.Error() {
		t.Fatalf("error = %q, want %q", res.Error, ErrInsufficientPermissions.Error())
	}

	opts.RequiredPermissions = grants("read:vehicles")
	res = Run(context.Background(), g, SessionCredentials{SessionToken: raw}, opts, echo)
	if !res.Success {
		t.Fatalf("matching grant denied: %+v", res)
	}
}

func TestRun_SuperAdminWithoutMembership(t *testing.T) {
	f := newFakeStore()
	raw := f.seedSession(t, "u1", "admin@example.com", "")
	f.users["u1"].SuperAdmin = true
	g := newTestGate(f)

	res := Run(context.Background(), g, SessionCredentials{SessionToken: raw}, Options{RequiredPermissions: grants("manage:settings")}, echo)
	if !res.Success {
		t.Fatalf("super admin denied: %+v", res)
	}
	if res.Data != ":super_admin" {
		t.Fatalf("Data = %q, want empty org with super_admin role", res.Data)
	}
}

func TestRun_StoreErrorMasked(t *testing.T) {
	f := newFakeStore()
	raw := f.seedSession(t, "u1", "u1@example.com", "org-a")
	f.seedMembership("org-a", "u1", "member", nil)
	f.failMemberships = true
	g := newTestGate(f)

	res := Run(context.Background(), g, SessionCredentials{SessionToken: raw}, Options{}, echo)
	if res.Success {
		t.Fatal("expected denial")
	}
	if res.Error != "internal error" {
		t.Fatalf("error = %q, want masked internal error", res.Error)
	}
	if strings.Contains(res.Error, errStore.Error()) {
		t.Fatal("store error leaked to caller")
	}
}

func TestRun_PanicContained(t *testing.T) {
	f := newFakeStore()
	raw := f.seedSession(t, "u1", "u1@example.com", "org-a")
	f.seedMembership("org-a", "u1", "owner", nil)
	g := newTestGate(f)

	res := Run(context.Background(), g, SessionCredentials{SessionToken: raw}, Options{}, func(context.Context, *AuthContext) (string, error) {
		panic("boom")
	})
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error != "an unexpected error occurred" {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestRun_ActionErrors(t *testing.T) {
	f := newFakeStore()
	raw := f.seedSession(t, "u1", "u1@example.com", "org-a")
	f.seedMembership("org-a", "u1", "owner", nil)
	g := newTestGate(f)
	creds := SessionCredentials{SessionToken: raw}

	res := Run(context.Background(), g, creds, Options{}, func(context.Context, *AuthContext) (string, error) {
		return "", NewValidationError("name", "is required", "status", "unknown value")
	})
	if res.Error != "name: is required, status: unknown value" {
		t.Fatalf("validation error = %q", res.Error)
	}

	res = Run(context.Background(), g, creds, Options{}, func(context.Context, *AuthContext) (string, error) {
		return "", errors.New("customer not found")
	})
	if res.Error != "customer not found" {
		t.Fatalf("plain error = %q", res.Error)
	}
}

func TestRun_AuthContextReachesAction(t *testing.T) {
	f := newFakeStore()
	raw := f.seedSession(t, "u1", "u1@example.com", "org-a")
	f.seedMembership("org-a", "u1", "admin", nil)
	g := newTestGate(f)

	res := Run(context.Background(), g, SessionCredentials{SessionToken: raw}, Options{}, func(ctx context.Context, ac *AuthContext) (string, error) {
		fromCtx := AuthContextFromContext(ctx)
		if fromCtx == nil || fromCtx != ac {
			return "", errors.New("context missing auth")
		}
		return ac.UserID, nil
	})
	if !res.Success || res.Data != "u1" {
		t.Fatalf("got %+v", res)
	}
}

func TestRun_MembershipMemoizedPerRequest(t *testing.T) {
	f := newFakeStore()
	raw := f.seedSession(t, "u1", "u1@example.com", "org-a")
	f.seedMembership("org-a", "u1", "member", nil)
	g := newTestGate(f)

	resolver := NewMembershipResolver(f, f)
	res := Run(context.Background(), g, SessionCredentials{SessionToken: raw}, Options{}, func(ctx context.Context, ac *AuthContext) (string, error) {
		// A second resolve inside the action uses its own scope and hits the
		// store again; the gate's own scope already memoized its lookups.
		scope := NewScope()
		before := f.membershipCalls
		if _, err := resolver.Resolve(ctx, scope, ac.UserID, ac.OrganizationID); err != nil {
			return "", err
		}
		if _, err := resolver.Resolve(ctx, scope, ac.UserID, ac.OrganizationID); err != nil {
			return "", err
		}
		if f.membershipCalls != before+1 {
			return "", errors.New("scope did not memoize membership lookup")
		}
		return "ok", nil
	})
	if !res.Success {
		t.Fatalf("got %+v", res)
	}
}

func TestRunWithToken(t *testing.T) {
	f := newFakeStore()
	f.users["u1"] = &storage.User{ID: "u1", Email: "u1@example.com"}
	f.seedMembership("org-a", "u1", "member", nil)

	raw, err := GenerateToken(APITokenPrefix)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	f.tokens[HashToken(raw)] = &storage.APIToken{
		TokenHash:      HashToken(raw),
		OrganizationID: "org-a",
		UserID:         "u1",
	}
	g := newTestGate(f)

	res := RunWithToken(context.Background(), g, raw, Options{}, echo)
	if !res.Success || res.Data != "org-a:member" {
		t.Fatalf("got %+v", res)
	}

	// Revoked token.
	now := time.Now()
	f.tokens[HashToken(raw)].RevokedAt = &now
	res = RunWithToken(context.Background(), g, raw, Options{}, echo)
	if res.Error != ErrUnauthorized.Error() {
		t.Fatalf("revoked: error = %q", res.Error)
	}

	// Expired token.
	f.tokens[HashToken(raw)].RevokedAt = nil
	past := now.Add(-time.Minute)
	f.tokens[HashToken(raw)].ExpiresAt = &past
	res = RunWithToken(context.Background(), g, raw, Options{}, echo)
	if res.Error != ErrUnauthorized.Error() {
		t.Fatalf("expired: error = %q", res.Error)
	}
}

func TestRunWithToken_OrgFixedByToken(t *testing.T) {
	f := newFakeStore()
	f.users["u1"] = &storage.User{ID: "u1", Email: "u1@example.com"}
	f.seedMembership("org-a", "u1", "owner", nil)

	raw, err := GenerateToken(APITokenPrefix)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	// Token bound to an org the user no longer belongs to.
	f.tokens[HashToken(raw)] = &storage.APIToken{
		TokenHash:      HashToken(raw),
		OrganizationID: "org-gone",
		UserID:         "u1",
	}
	g := newTestGate(f)

	res := RunWithToken(context.Background(), g, raw, Options{}, echo)
	if res.Success || res.Error != ErrNoOrganization.Error() {
		t.Fatalf("got %+v", res)
	}
}

func TestRunPrincipal(t *testing.T) {
	f := newFakeStore()
	raw := f.seedSession(t, "u1", "u1@example.com", "")
	g := newTestGate(f)

	// No membership required.
	res := RunPrincipal(context.Background(), g, SessionCredentials{SessionToken: raw}, Options{Operation: "createOrganization"}, func(_ context.Context, ac *AuthContext) (string, error) {
		if ac.OrganizationID != "" {
			return "", errors.New("unexpected organization")
		}
		return ac.UserID, nil
	})
	if !res.Success || res.Data != "u1" {
		t.Fatalf("got %+v", res)
	}

	// Still requires a valid session.
	res = RunPrincipal(context.Background(), g, SessionCredentials{}, Options{}, echo)
	if res.Error != ErrUnauthorized.Error() {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestDeniedError(t *testing.T) {
	for _, msg := range []string{"Unauthorized", "No organization found", "Insufficient permissions", "internal error"} {
		if !DeniedError(msg) {
			t.Errorf("DeniedError(%q) = false", msg)
		}
	}
	for _, msg := range []string{"customer not found", "", "name: is required"} {
		if DeniedError(msg) {
			t.Errorf("DeniedError(%q) = true", msg)
		}
	}
}

func TestCorruptMembershipRecordIsMasked(t *testing.T) {
	f := newFakeStore()
	raw := f.seedSession(t, "u1", "u1@example.com", "org-a")
	f.seedMembership("org-a", "u1", "emperor", nil)
	g := newTestGate(f)

	res := Run(context.Background(), g, SessionCredentials{SessionToken: raw}, Options{}, echo)
	if res.Success {
		t.Fatal("expected denial")
	}
	if res.Error != "internal error" {
		t.Fatalf("error = %q, want masked internal error", res.Error)
	}
}

// captureLogs swaps the default logger for a JSON handler over a buffer and
// restores it when the test finishes.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestRun_AuditsGrantedOperations(t *testing.T) {
	f := newFakeStore()
	raw := f.seedSession(t, "u1", "u1@example.com", "org-a")
	f.seedMembership("org-a", "u1", "owner", nil)
	g := newTestGate(f)

	buf := captureLogs(t)
	res := Run(context.Background(), g, SessionCredentials{SessionToken: raw}, Options{Operation: "createCustomer"}, echo)
	if !res.Success {
		t.Fatalf("run failed: %q", res.Error)
	}
	logged := buf.String()
	for _, want := range []string{
		`"status":"granted"`,
		`"action":"createCustomer"`,
		`"actor":"u1@example.com"`,
		`"org":"org-a"`,
	} {
		if !strings.Contains(logged, want) {
			t.Errorf("audit entry missing %s (got %s)", want, logged)
		}
	}
}

func TestRun_AuditsFailedActions(t *testing.T) {
	f := newFakeStore()
	raw := f.seedSession(t, "u1", "u1@example.com", "org-a")
	f.seedMembership("org-a", "u1", "owner", nil)
	g := newTestGate(f)

	buf := captureLogs(t)
	res := Run(context.Background(), g, SessionCredentials{SessionToken: raw}, Options{Operation: "getCustomer"},
		func(ctx context.Context, ac *AuthContext) (string, error) {
			return "", errors.New("customer not found")
		})
	if res.Success || res.Error != "customer not found" {
		t.Fatalf("result = %+v", res)
	}
	logged := buf.String()
	for _, want := range []string{`"status":"failed"`, `"reason":"customer not found"`, `"action":"getCustomer"`} {
		if !strings.Contains(logged, want) {
			t.Errorf("audit entry missing %s (got %s)", want, logged)
		}
	}
}
