package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/wrenchio/workshop-backend/internal/storage"
)

// SessionStore looks up browser sessions by token hash.
type SessionStore interface {
	GetSession(ctx context.Context, tokenHash string) (*storage.Session, error)
}

// APITokenStore looks up organization-bound API tokens by token hash.
type APITokenStore interface {
	GetAPIToken(ctx context.Context, tokenHash string) (*storage.APIToken, error)
}

// UserStore fetches user records.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*storage.User, error)
}

// MembershipStore fetches membership records with their custom role joined.
type MembershipStore interface {
	GetMembership(ctx context.Context, orgID, userID string) (*storage.Membership, error)
	FirstMembershipForUser(ctx context.Context, userID string) (*storage.Membership, error)
}

// PrincipalResolver extracts the calling identity from request credentials.
// Read-only; performs no writes.
type PrincipalResolver struct {
	sessions SessionStore
	tokens   APITokenStore
	users    UserStore
}

// NewPrincipalResolver creates a resolver over the given stores.
func NewPrincipalResolver(sessions SessionStore, tokens APITokenStore, users UserStore) *PrincipalResolver {
	return &PrincipalResolver{sessions: sessions, tokens: tokens, users: users}
}

// ResolveSession validates a session token and returns the principal plus the
// session record. Unknown, expired, or disabled-user sessions fail with
// ErrUnauthorized.
func (r *PrincipalResolver) ResolveSession(ctx context.Context, sessionToken string) (*Principal, *storage.Session, error) {
	if sessionToken == "" {
		return nil, nil, ErrUnauthorized
	}
	sess, err := r.sessions.GetSession(ctx, HashToken(sessionToken))
	if err != nil {
		return nil, nil, fmt.Errorf("session lookup: %w", err)
	}
	if sess == nil || time.Now().After(sess.ExpiresAt) {
		return nil, nil, ErrUnauthorized
	}
	user, err := r.users.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("user lookup: %w", err)
	}
	if user == nil || user.Disabled {
		return nil, nil, ErrUnauthorized
	}
	return &Principal{UserID: user.ID, Email: user.Email}, sess, nil
}

// ResolveAPIToken validates a bearer API token and returns the principal plus
// the token record. Unknown, revoked, or expired tokens fail with
// ErrUnauthorized.
func (r *PrincipalResolver) ResolveAPIToken(ctx context.Context, token string) (*Principal, *storage.APIToken, error) {
	if token == "" {
		return nil, nil, ErrUnauthorized
	}
	tok, err := r.tokens.GetAPIToken(ctx, HashToken(token))
	if err != nil {
		return nil, nil, fmt.Errorf("token lookup: %w", err)
	}
	if tok == nil || tok.RevokedAt != nil {
		return nil, nil, ErrUnauthorized
	}
	if tok.ExpiresAt != nil && time.Now().After(*tok.ExpiresAt) {
		return nil, nil, ErrUnauthorized
	}
	user, err := r.users.GetUser(ctx, tok.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("user lookup: %w", err)
	}
	if user == nil || user.Disabled {
		return nil, nil, ErrUnauthorized
	}
	return &Principal{UserID: user.ID, Email: user.Email}, tok, nil
}

// MembershipResolver resolves organization memberships and the platform
// super-admin flag, memoized through a per-request Scope.
type MembershipResolver struct {
	memberships MembershipStore
	users       UserStore
}

// NewMembershipResolver creates a resolver over the given stores.
func NewMembershipResolver(memberships MembershipStore, users UserStore) *MembershipResolver {
	return &MembershipResolver{memberships: memberships, users: users}
}

// Resolve returns the user's membership for orgID, or for the user's first
// organization when orgID is empty. Returns nil (no error) when the user has
// no matching membership. Results are memoized in scope for the call chain.
func (r *MembershipResolver) Resolve(ctx context.Context, scope *Scope, userID, orgID string) (*Membership, error) {
	if m, ok := scope.membership(userID, orgID); ok {
		return m, nil
	}

	var rec *storage.Membership
	var err error
	if orgID != "" {
		rec, err = r.memberships.GetMembership(ctx, orgID, userID)
	} else {
		rec, err = r.memberships.FirstMembershipForUser(ctx, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("membership lookup: %w", err)
	}

	m, err := membershipFromRecord(rec)
	if err != nil {
		return nil, err
	}
	scope.setMembership(userID, orgID, m)
	return m, nil
}

// IsSuperAdmin reports whether the user carries the platform super-admin
// flag. Memoized in scope for the call chain.
func (r *MembershipResolver) IsSuperAdmin(ctx context.Context, scope *Scope, userID string) (bool, error) {
	if v, ok := scope.superAdmin(userID); ok {
		return v, nil
	}
	user, err := r.users.GetUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("user lookup: %w", err)
	}
	v := user != nil && user.SuperAdmin
	scope.setSuperAdmin(userID, v)
	return v, nil
}

// membershipFromRecord converts a storage record into the evaluation model,
// parsing the custom role's stored grant strings.
func membershipFromRecord(rec *storage.Membership) (*Membership, error) {
	if rec == nil {
		return nil, nil
	}
	role, err := ParseRole(rec.Role)
	if err != nil {
		return nil, fmt.Errorf("membership %s/%s: %w", rec.OrganizationID, rec.UserID, err)
	}
	m := &Membership{
		OrganizationID: rec.OrganizationID,
		UserID:         rec.UserID,
		Role:           role,
	}
	if rec.CustomRole != nil {
		grants, err := ParseGrants(rec.CustomRole.Permissions)
		if err != nil {
			return nil, fmt.Errorf("custom role %s: %w", rec.CustomRole.ID, err)
		}
		m.CustomRole = &CustomRole{
			ID:             rec.CustomRole.ID,
			OrganizationID: rec.CustomRole.OrganizationID,
			Name:           rec.CustomRole.Name,
			IsAdmin:        rec.CustomRole.IsAdmin,
			Permissions:    grants,
		}
	}
	return m, nil
}
