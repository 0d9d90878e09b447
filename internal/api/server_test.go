package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	stdjson "encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/wrenchio/workshop-backend/internal/auth"
	"github.com/wrenchio/workshop-backend/internal/gziputil"
	"github.com/wrenchio/workshop-backend/internal/storage"
)

// testEnv runs the full router against a real SQLite store in a temp dir.
type testEnv struct {
	t       *testing.T
	store   *storage.SQLiteStore
	handler http.Handler
}

func newTestEnv(t *testing.T, opts ...ServerOption) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	issuer, err := auth.NewFileTokenIssuer(bytes.Repeat([]byte{5}, 32), time.Minute)
	if err != nil {
		t.Fatalf("NewFileTokenIssuer: %v", err)
	}

	principals := auth.NewPrincipalResolver(store, store, store)
	memberships := auth.NewMembershipResolver(store, store)
	gate := auth.NewGate(principals, memberships)

	opts = append([]ServerOption{WithFileTokens(issuer, time.Minute)}, opts...)
	srv := NewServer(store, gate, opts...)
	return &testEnv{t: t, store: store, handler: srv.Router()}
}

func (e *testEnv) seedUser(id, email string, superAdmin bool) {
	e.t.Helper()
	u := &storage.User{ID: id, Email: email, Name: id, SuperAdmin: superAdmin, CreatedAt: time.Now()}
	if err := e.store.CreateUser(context.Background(), u); err != nil {
		e.t.Fatalf("CreateUser(%s): %v", id, err)
	}
}

func (e *testEnv) seedOrg(id, name string) {
	e.t.Helper()
	now := time.Now()
	if err := e.store.CreateOrganization(context.Background(), &storage.Organization{ID: id, Name: name, CreatedAt: now, UpdatedAt: now}); err != nil {
		e.t.Fatalf("CreateOrganization(%s): %v", id, err)
	}
}

func (e *testEnv) seedMembership(orgID, userID, role string, customRoleID *string) {
	e.t.Helper()
	m := &storage.Membership{OrganizationID: orgID, UserID: userID, Role: role, CustomRoleID: customRoleID, CreatedAt: time.Now()}
	if err := e.store.CreateMembership(context.Background(), m); err != nil {
		e.t.Fatalf("CreateMembership(%s/%s): %v", orgID, userID, err)
	}
}

// login creates a live session for the user and returns the raw token.
func (e *testEnv) login(userID, activeOrg string) string {
	e.t.Helper()
	raw, err := auth.GenerateToken(auth.SessionTokenPrefix)
	if err != nil {
		e.t.Fatalf("GenerateToken: %v", err)
	}
	sess := &storage.Session{
		TokenHash:   auth.HashToken(raw),
		UserID:      userID,
		ActiveOrgID: activeOrg,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	if err := e.store.CreateSession(context.Background(), sess); err != nil {
		e.t.Fatalf("CreateSession: %v", err)
	}
	return raw
}

func (e *testEnv) do(method, path, session string, headers map[string]string, body []byte) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: session})
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func jsonBody(t *testing.T, v any) []byte {
	t.Helper()
	b, err := stdjson.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return b
}

type envelope struct {
	Success bool               `json:"success"`
	Data    stdjson.RawMessage `json:"data"`
	Error   string             `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	if err := stdjson.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body: %s)", err, rec.Body.String())
	}
	if data != nil && env.Data != nil {
		if err := stdjson.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("decode data: %v (body: %s)", err, rec.Body.String())
		}
	}
	return env
}

func wantDenied(t *testing.T, rec *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body: %s)", rec.Code, status, rec.Body.String())
	}
	env := decodeEnvelope(t, rec, nil)
	if env.Success {
		t.Fatalf("success = true, want denial (body: %s)", rec.Body.String())
	}
	if env.Error != msg {
		t.Fatalf("error = %q, want %q", env.Error, msg)
	}
}

func TestHealthCheck(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(http.MethodGet, "/", "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := stdjson.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Status != "ok" {
		t.Fatalf("body = %s (%v)", rec.Body.String(), err)
	}
}

func TestUnauthenticated(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/api/user", "/api/customers", "/api/team/members", "/api/organizations/current"} {
		rec := e.do(http.MethodGet, path, "", nil, nil)
		wantDenied(t, rec, http.StatusUnauthorized, "Unauthorized")
	}
}

func TestGetUser(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser("u1", "u1@example.com", false)
	e.seedOrg("org-a", "Shop A")
	e.seedMembership("org-a", "u1", "owner", nil)
	sess := e.login("u1", "org-a")

	rec := e.do(http.MethodGet, "/api/user", sess, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var user UserInfo
	env := decodeEnvelope(t, rec, &user)
	if !env.Success {
		t.Fatalf("success = false: %s", env.Error)
	}
	if user.ID != "u1" || user.Role != "owner" || user.OrgID != "org-a" {
		t.Fatalf("user = %+v", user)
	}
	if len(user.Organizations) != 1 || user.Organizations[0].OrgName != "Shop A" {
		t.Fatalf("organizations = %+v", user.Organizations)
	}
}

func TestActiveOrgIsolation(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser("u1", "u1@example.com", false)
	e.seedUser("u2", "u2@example.com", false)
	e.seedOrg("org-a", "Shop A")
	e.seedOrg("org-b", "Shop B")
	e.seedMembership("org-a", "u1", "owner", nil)
	e.seedMembership("org-b", "u2", "owner", nil)
	sessA := e.login("u1", "org-a")
	sessB := e.login("u2", "org-b")

	// Create a customer in org-a.
	rec := e.do(http.MethodPost, "/api/customers", sessA, nil, jsonBody(t, map[string]string{"name": "Alice"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("create: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created CustomerInfo
	decodeEnvelope(t, rec, &created)

	// The other organization cannot read it by id.
	rec = e.do(http.MethodGet, "/api/customers/"+created.ID, sessB, nil, nil)
	wantDenied(t, rec, http.StatusBadRequest, "customer not found")

	// Selecting a foreign organization via header is rejected outright.
	rec = e.do(http.MethodGet, "/api/customers", sessA, map[string]string{"X-Active-Org": "org-b"}, nil)
	wantDenied(t, rec, http.StatusForbidden, "No organization found")

	// The owner still sees their own record.
	rec = e.do(http.MethodGet, "/api/customers/"+created.ID, sessA, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("own read: status = %d", rec.Code)
	}
}

func TestPermissionEnforcement(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser("owner", "owner@example.com", false)
	e.seedUser("viewer", "viewer@example.com", false)
	e.seedOrg("org-a", "Shop A")
	e.seedMembership("org-a", "owner", "owner", nil)
	ownerSess := e.login("owner", "org-a")

	// Owner creates a read-only customers role.
	rec := e.do(http.MethodPost, "/api/team/roles", ownerSess, nil, jsonBody(t, map[string]any{
		"name":        "Viewer",
		"permissions": []string{"read:customers"},
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("create role: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var role RoleInfo
	decodeEnvelope(t, rec, &role)

	e.seedMembership("org-a", "viewer", "member", &role.ID)
	viewerSess := e.login("viewer", "org-a")

	// Reading is allowed.
	rec = e.do(http.MethodGet, "/api/customers", viewerSess, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("viewer list: status = %d (body: %s)", rec.Code, rec.Body.String())
	}

	// Writing is not.
	rec = e.do(http.MethodPost, "/api/customers", viewerSess, nil, jsonBody(t, map[string]string{"name": "Bob"}))
	wantDenied(t, rec, http.StatusForbidden, "Insufficient permissions")

	// Team management is not.
	rec = e.do(http.MethodGet, "/api/team/members", viewerSess, nil, nil)
	wantDenied(t, rec, http.StatusForbidden, "Insufficient permissions")
}

func TestCreateOrganizationBootstrap(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser("fresh", "fresh@example.com", false)
	sess := e.login("fresh", "")

	// No membership yet: ordinary endpoints refuse.
	rec := e.do(http.MethodGet, "/api/customers", sess, nil, nil)
	wantDenied(t, rec, http.StatusForbidden, "No organization found")

	// Creating an organization is allowed with identity alone.
	rec = e.do(http.MethodPost, "/api/organizations", sess, nil, jsonBody(t, map[string]string{"name": "Fresh Garage"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("create org: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var org OrgInfo
	env := decodeEnvelope(t, rec, &org)
	if !env.Success || org.Name != "Fresh Garage" {
		t.Fatalf("org = %+v (%s)", org, env.Error)
	}

	// The creator is now the owner and the session points at the new org.
	rec = e.do(http.MethodGet, "/api/user", sess, nil, nil)
	var user UserInfo
	decodeEnvelope(t, rec, &user)
	if user.Role != "owner" || user.OrgID != org.ID {
		t.Fatalf("user after create = %+v", user)
	}

	// Missing name is a validation failure.
	rec = e.do(http.MethodPost, "/api/organizations", sess, nil, jsonBody(t, map[string]string{"name": ""}))
	wantDenied(t, rec, http.StatusBadRequest, "name: organization name is required")
}

func TestSelectOrganization(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser("u1", "u1@example.com", false)
	e.seedOrg("org-a", "Shop A")
	e.seedOrg("org-b", "Shop B")
	e.seedMembership("org-a", "u1", "owner", nil)
	e.seedMembership("org-b", "u1", "member", nil)
	sess := e.login("u1", "org-a")

	rec := e.do(http.MethodPost, "/api/user/select-org", sess, nil, jsonBody(t, map[string]string{"orgId": "org-b"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("select: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var m MembershipInfo
	decodeEnvelope(t, rec, &m)
	if m.OrgID != "org-b" || m.Role != "member" {
		t.Fatalf("selection = %+v", m)
	}

	// The session record was updated.
	stored, err := e.store.GetSession(context.Background(), auth.HashToken(sess))
	if err != nil || stored == nil || stored.ActiveOrgID != "org-b" {
		t.Fatalf("session = %+v, %v", stored, err)
	}

	// A non-member organization cannot be selected.
	rec = e.do(http.MethodPost, "/api/user/select-org", sess, nil, jsonBody(t, map[string]string{"orgId": "org-c"}))
	wantDenied(t, rec, http.StatusForbidden, "No organization found")
}

func TestLogout(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser("u1", "u1@example.com", false)
	e.seedOrg("org-a", "Shop A")
	e.seedMembership("org-a", "u1", "owner", nil)
	sess := e.login("u1", "org-a")

	rec := e.do(http.MethodPost, "/api/logout", sess, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("logout: status = %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = e.do(http.MethodGet, "/api/user", sess, nil, nil)
	wantDenied(t, rec, http.StatusUnauthorized, "Unauthorized")
}

func TestAPITokenFlow(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser("u1", "u1@example.com", false)
	e.seedOrg("org-a", "Shop A")
	e.seedOrg("org-b", "Shop B")
	e.seedMembership("org-a", "u1", "owner", nil)
	sess := e.login("u1", "org-a")

	// Create a token through the settings surface.
	rec := e.do(http.MethodPost, "/api/tokens", sess, nil, jsonBody(t, map[string]string{"description": "desktop"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("create token: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created CreatedTokenInfo
	decodeEnvelope(t, rec, &created)
	if created.TokenValue == "" || created.TokenValue[:4] != "wkt-" {
		t.Fatalf("token value = %q", created.TokenValue)
	}

	// Use it for the desktop handshake.
	authz := map[string]string{"Authorization": "Bearer " + created.TokenValue}
	rec = e.do(http.MethodPost, "/api/sync/handshake", "", authz, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("handshake: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var hs HandshakeInfo
	decodeEnvelope(t, rec, &hs)
	if hs.OrgID != "org-a" || hs.OrgName != "Shop A" || hs.LatestSequence != 0 {
		t.Fatalf("handshake = %+v", hs)
	}

	// The token's organization is fixed; a selector header changes nothing.
	authz["X-Active-Org"] = "org-b"
	rec = e.do(http.MethodPost, "/api/sync/handshake", "", authz, nil)
	var hs2 HandshakeInfo
	decodeEnvelope(t, rec, &hs2)
	if hs2.OrgID != "org-a" {
		t.Fatalf("selector header moved token to %q", hs2.OrgID)
	}

	// Listing shows the prefix, never the value.
	rec = e.do(http.MethodGet, "/api/tokens", sess, nil, nil)
	var tokens []TokenInfo
	decodeEnvelope(t, rec, &tokens)
	if len(tokens) != 1 || tokens[0].Prefix != created.TokenValue[:8] || tokens[0].Revoked {
		t.Fatalf("tokens = %+v", tokens)
	}
	if bytes.Contains(rec.Body.Bytes(), []byte(created.TokenValue)) {
		t.Fatal("raw token leaked in listing")
	}

	// Revoking kills the desktop path.
	rec = e.do(http.MethodDelete, "/api/tokens/"+created.ID, sess, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("revoke: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = e.do(http.MethodPost, "/api/sync/handshake", "", map[string]string{"Authorization": "Bearer " + created.TokenValue}, nil)
	wantDenied(t, rec, http.StatusUnauthorized, "Unauthorized")
}

func TestSyncSnapshots(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser("u1", "u1@example.com", false)
	e.seedOrg("org-a", "Shop A")
	e.seedMembership("org-a", "u1", "owner", nil)
	sess := e.login("u1", "org-a")

	payload := []byte(`{"vehicles":[{"id":"v1"}]}`)
	compressed, err := gziputil.Compress(payload)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	sum := sha256.Sum256(payload)
	wantHash := hex.EncodeToString(sum[:])

	// Upload.
	req := httptest.NewRequest(http.MethodPost, "/api/sync/snapshots", bytes.NewReader(compressed))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess})
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var snap SnapshotInfo
	decodeEnvelope(t, rec, &snap)
	if snap.Sequence != 1 || snap.Hash != wantHash {
		t.Fatalf("snapshot = %+v, want sequence 1 hash %s", snap, wantHash)
	}

	// Uncompressed uploads are rejected.
	req = httptest.NewRequest(http.MethodPost, "/api/sync/snapshots", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess})
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	wantDenied(t, rec, http.StatusBadRequest, "body: snapshot must be gzip-compressed")

	// Download the latest.
	rec2 := e.do(http.MethodGet, "/api/sync/snapshots/latest", sess, nil, nil)
	if rec2.Code != http.StatusOK {
		t.Fatalf("download: status = %d", rec2.Code)
	}
	if got := rec2.Header().Get("X-Snapshot-Sequence"); got != "1" {
		t.Fatalf("X-Snapshot-Sequence = %q", got)
	}
	if got := rec2.Header().Get("X-Snapshot-Hash"); got != wantHash {
		t.Fatalf("X-Snapshot-Hash = %q", got)
	}
	if !bytes.Equal(rec2.Body.Bytes(), compressed) {
		t.Fatal("downloaded payload differs from upload")
	}
}

func TestSignedFileDownload(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser("u1", "u1@example.com", false)
	e.seedOrg("org-a", "Shop A")
	e.seedMembership("org-a", "u1", "owner", nil)
	sess := e.login("u1", "org-a")

	compressed, err := gziputil.Compress([]byte(`{"x":1}`))
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/sync/snapshots", bytes.NewReader(compressed))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess})
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: status = %d", rec.Code)
	}

	// Issue a signed URL for the stored snapshot.
	rec = e.do(http.MethodPost, "/api/sync/files/snapshot-1/url", sess, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("file url: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var fu FileURLInfo
	decodeEnvelope(t, rec, &fu)
	if fu.URL == "" {
		t.Fatal("empty file URL")
	}

	// Download with the signed token only, no session.
	rec = e.do(http.MethodGet, fu.URL, "", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("file download: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	if !bytes.Equal(rec.Body.Bytes(), compressed) {
		t.Fatal("file payload differs")
	}

	// Garbage or missing tokens fail.
	rec = e.do(http.MethodGet, "/api/sync/files/snapshot-1?token=garbage", "", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token: status = %d", rec.Code)
	}
}

func TestInvitationFlow(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser("owner", "owner@example.com", false)
	e.seedUser("invitee", "invitee@example.com", false)
	e.seedUser("other", "other@example.com", false)
	e.seedOrg("org-a", "Shop A")
	e.seedMembership("org-a", "owner", "owner", nil)
	ownerSess := e.login("owner", "org-a")

	rec := e.do(http.MethodPost, "/api/team/invitations", ownerSess, nil, jsonBody(t, map[string]string{
		"email": "invitee@example.com",
		"role":  "member",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("invite: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var inv InvitationInfo
	decodeEnvelope(t, rec, &inv)

	// The wrong user cannot accept it.
	otherSess := e.login("other", "")
	rec = e.do(http.MethodPost, "/api/invitations/"+inv.ID+"/accept", otherSess, nil, nil)
	wantDenied(t, rec, http.StatusBadRequest, "invitation is for a different email")

	// The invitee, with no membership at all, can.
	inviteeSess := e.login("invitee", "")
	rec = e.do(http.MethodPost, "/api/invitations/"+inv.ID+"/accept", inviteeSess, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var m MembershipInfo
	decodeEnvelope(t, rec, &m)
	if m.OrgID != "org-a" || m.Role != "member" {
		t.Fatalf("membership = %+v", m)
	}

	// Accepting twice conflicts.
	rec = e.do(http.MethodPost, "/api/invitations/"+inv.ID+"/accept", inviteeSess, nil, nil)
	wantDenied(t, rec, http.StatusBadRequest, "invitation already accepted")

	// The invitee now resolves into the organization.
	rec = e.do(http.MethodGet, "/api/user", inviteeSess, nil, nil)
	var user UserInfo
	decodeEnvelope(t, rec, &user)
	if user.OrgID != "org-a" || user.Role != "member" {
		t.Fatalf("user after accept = %+v", user)
	}
}

func TestTeamManagement(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser("owner", "owner@example.com", false)
	e.seedUser("member", "member@example.com", false)
	e.seedOrg("org-a", "Shop A")
	e.seedMembership("org-a", "owner", "owner", nil)
	e.seedMembership("org-a", "member", "member", nil)
	ownerSess := e.login("owner", "org-a")

	rec := e.do(http.MethodGet, "/api/team/members", ownerSess, nil, nil)
	var members []MemberInfo
	decodeEnvelope(t, rec, &members)
	if len(members) != 2 {
		t.Fatalf("members = %+v", members)
	}

	// Promote the member to admin.
	rec = e.do(http.MethodPatch, "/api/team/members/member", ownerSess, nil, jsonBody(t, map[string]string{"role": "admin"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("promote: status = %d (body: %s)", rec.Code, rec.Body.String())
	}

	// An invalid role is a validation failure.
	rec = e.do(http.MethodPatch, "/api/team/members/member", ownerSess, nil, jsonBody(t, map[string]string{"role": "emperor"}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad role: status = %d", rec.Code)
	}

	// Owners cannot remove themselves.
	rec = e.do(http.MethodDelete, "/api/team/members/owner", ownerSess, nil, nil)
	wantDenied(t, rec, http.StatusBadRequest, "cannot remove yourself")

	// Removing the other member works.
	rec = e.do(http.MethodDelete, "/api/team/members/member", ownerSess, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCrossOrgCustomRoleRejected(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser("owner", "owner@example.com", false)
	e.seedUser("member", "member@example.com", false)
	e.seedOrg("org-a", "Shop A")
	e.seedOrg("org-b", "Shop B")
	e.seedMembership("org-a", "owner", "owner", nil)
	e.seedMembership("org-a", "member", "member", nil)
	ownerSess := e.login("owner", "org-a")

	// A role owned by a different organization.
	now := time.Now()
	if err := e.store.CreateCustomRole(context.Background(), &storage.CustomRole{
		ID: "foreign-role", OrganizationID: "org-b", Name: "Foreign", IsAdmin: true, Permissions: []string{}, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("CreateCustomRole: %v", err)
	}

	rec := e.do(http.MethodPatch, "/api/team/members/member", ownerSess, nil, jsonBody(t, map[string]any{
		"role":         "member",
		"customRoleId": "foreign-role",
	}))
	wantDenied(t, rec, http.StatusBadRequest, "customRoleId: custom role not found")
}

func TestQuoteLifecycle(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser("u1", "u1@example.com", false)
	e.seedOrg("org-a", "Shop A")
	e.seedMembership("org-a", "u1", "owner", nil)
	sess := e.login("u1", "org-a")

	// Customer and vehicle first.
	rec := e.do(http.MethodPost, "/api/customers", sess, nil, jsonBody(t, map[string]string{"name": "Alice"}))
	var cust CustomerInfo
	decodeEnvelope(t, rec, &cust)

	rec = e.do(http.MethodPost, "/api/vehicles", sess, nil, jsonBody(t, map[string]any{
		"customerId": cust.ID, "make": "Toyota", "model": "Hilux", "year": 2019,
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("create vehicle: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var veh VehicleInfo
	decodeEnvelope(t, rec, &veh)

	// A vehicle for a nonexistent customer is rejected.
	rec = e.do(http.MethodPost, "/api/vehicles", sess, nil, jsonBody(t, map[string]string{"customerId": "nope"}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("orphan vehicle: status = %d (body: %s)", rec.Code, rec.Body.String())
	}

	// New quotes start as drafts.
	rec = e.do(http.MethodPost, "/api/quotes", sess, nil, jsonBody(t, map[string]any{
		"vehicleId": veh.ID, "description": "brake pads", "totalCents": 24900,
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("create quote: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var quote QuoteInfo
	decodeEnvelope(t, rec, &quote)
	if quote.Status != "draft" || quote.TotalCents != 24900 {
		t.Fatalf("quote = %+v", quote)
	}

	// Status moves through the lifecycle.
	rec = e.do(http.MethodPost, "/api/quotes/"+quote.ID+"/status", sess, nil, jsonBody(t, map[string]string{"status": "sent"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var updated QuoteInfo
	decodeEnvelope(t, rec, &updated)
	if updated.Status != "sent" {
		t.Fatalf("status = %q", updated.Status)
	}

	// Unknown statuses are rejected.
	rec = e.do(http.MethodPost, "/api/quotes/"+quote.ID+"/status", sess, nil, jsonBody(t, map[string]string{"status": "paid"}))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status: status = %d", rec.Code)
	}
}

func TestAdminSurface(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser("owner", "owner@example.com", false)
	e.seedUser("root", "root@example.com", true)
	e.seedUser("victim", "victim@example.com", false)
	e.seedOrg("org-a", "Shop A")
	e.seedOrg("org-b", "Shop B")
	e.seedMembership("org-a", "owner", "owner", nil)
	ownerSess := e.login("owner", "org-a")
	rootSess := e.login("root", "")

	// Organization owners carry no platform authority.
	rec := e.do(http.MethodGet, "/api/admin/organizations", ownerSess, nil, nil)
	wantDenied(t, rec, http.StatusForbidden, "Insufficient permissions")

	// A super-admin with no memberships sees everything.
	rec = e.do(http.MethodGet, "/api/admin/organizations", rootSess, nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("admin list: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var orgs []OrgInfo
	decodeEnvelope(t, rec, &orgs)
	if len(orgs) != 2 {
		t.Fatalf("orgs = %+v", orgs)
	}

	// Disable a user; their sessions stop resolving.
	victimSess := e.login("victim", "")
	rec = e.do(http.MethodPost, "/api/admin/users/victim/disable", rootSess, nil, jsonBody(t, map[string]bool{"disabled": true}))
	if rec.Code != http.StatusOK {
		t.Fatalf("disable: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	rec = e.do(http.MethodGet, "/api/user", victimSess, nil, nil)
	wantDenied(t, rec, http.StatusUnauthorized, "Unauthorized")

	// Self-disable is refused.
	rec = e.do(http.MethodPost, "/api/admin/users/root/disable", rootSess, nil, jsonBody(t, map[string]bool{"disabled": true}))
	wantDenied(t, rec, http.StatusBadRequest, "cannot disable yourself")
}

func TestGzipRequestBodies(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser("u1", "u1@example.com", false)
	e.seedOrg("org-a", "Shop A")
	e.seedMembership("org-a", "u1", "owner", nil)
	sess := e.login("u1", "org-a")

	body, err := gziputil.Compress(jsonBody(t, map[string]string{"name": "Compressed Customer"}))
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/customers", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess})
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("gzip create: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var c CustomerInfo
	decodeEnvelope(t, rec, &c)
	if c.Name != "Compressed Customer" {
		t.Fatalf("customer = %+v", c)
	}

	// A bad gzip body is rejected at the middleware.
	req = httptest.NewRequest(http.MethodPost, "/api/customers", bytes.NewReader([]byte("not gzip")))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sess})
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	wantDenied(t, rec, http.StatusBadRequest, "invalid gzip body")
}

func TestCredentialLastUsedTouched(t *testing.T) {
	e := newTestEnv(t)
	e.seedUser("u1", "u1@example.com", false)
	e.seedOrg("org-a", "Shop A")
	e.seedMembership("org-a", "u1", "owner", nil)
	sess := e.login("u1", "org-a")

	rec := e.do(http.MethodPost, "/api/tokens", sess, nil, jsonBody(t, map[string]string{"description": "desktop"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("create token: status = %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created CreatedTokenInfo
	decodeEnvelope(t, rec, &created)

	rec = e.do(http.MethodGet, "/api/customers", "", map[string]string{"Authorization": "Bearer " + created.TokenValue}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("token read: status = %d (body: %s)", rec.Code, rec.Body.String())
	}

	// Touches land off the request path; poll until they do.
	waitForTouch(t, "api token", func() (*time.Time, error) {
		tok, err := e.store.GetAPIToken(context.Background(), auth.HashToken(created.TokenValue))
		if err != nil || tok == nil {
			return nil, err
		}
		return tok.LastUsedAt, nil
	})
	waitForTouch(t, "session", func() (*time.Time, error) {
		s, err := e.store.GetSession(context.Background(), auth.HashToken(sess))
		if err != nil || s == nil {
			return nil, err
		}
		return s.LastUsedAt, nil
	})

	// Listings surface the timestamp.
	rec = e.do(http.MethodGet, "/api/tokens", sess, nil, nil)
	var tokens []TokenInfo
	decodeEnvelope(t, rec, &tokens)
	if len(tokens) != 1 || tokens[0].LastUsedAt == nil {
		t.Fatalf("tokens = %+v, want lastUsedAt set", tokens)
	}
}

func waitForTouch(t *testing.T, what string, read func() (*time.Time, error)) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		ts, err := read()
		if err != nil {
			t.Fatalf("read %s last-used: %v", what, err)
		}
		if ts != nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s last-used never set", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
