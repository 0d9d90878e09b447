package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/wrenchio/workshop-backend/internal/audit"
)

// Result is the uniform outcome shape every gated action produces. Callers
// always receive a Result, never a raw error or panic.
type Result[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Options configures a single gate invocation.
type Options struct {
	// Operation names the action for audit entries (e.g. "createCustomer").
	Operation string
	// RequiredPermissions lists the grants the caller's membership must
	// satisfy. Empty means any resolved membership (or super-admin) may run
	// the action.
	RequiredPermissions []Grant
}

// SessionCredentials carries the cookie-path request credentials.
type SessionCredentials struct {
	SessionToken string
	// ActiveOrg is the cookie-held organization selector. It is untrusted
	// input: it only chooses among the caller's own memberships.
	ActiveOrg string
}

// Gate composes principal resolution, membership resolution, and permission
// evaluation into a single checkpoint every business action runs behind. The
// gate performs no writes; cancellation mid-resolution is always safe.
type Gate struct {
	principals  *PrincipalResolver
	memberships *MembershipResolver
}

// NewGate creates a gate over the given resolvers.
func NewGate(principals *PrincipalResolver, memberships *MembershipResolver) *Gate {
	return &Gate{principals: principals, memberships: memberships}
}

// errInternal masks store failures during resolution. The cause is logged,
// never surfaced.
var errInternal = errors.New("internal error")

// errPanic masks recovered panics from business actions.
var errPanic = errors.New("an unexpected error occurred")

// Run resolves the caller from session credentials, authorizes the request,
// and invokes the action with the resolved AuthContext. The session's active
// organization (or the explicit selector) picks which membership applies;
// without either, the user's first membership is used.
func Run[T any](ctx context.Context, g *Gate, creds SessionCredentials, opts Options, action func(context.Context, *AuthContext) (T, error)) Result[T] {
	principal, sess, err := g.principals.ResolveSession(ctx, creds.SessionToken)
	if err != nil {
		return denied[T](opts, "", err)
	}
	orgHint := creds.ActiveOrg
	if orgHint == "" {
		orgHint = sess.ActiveOrgID
	}
	return runResolved(ctx, g, principal, orgHint, opts, action)
}

// RunWithToken is the machine-client variant of Run: the caller is resolved
// from a bearer API token and the organization is fixed by the token; there
// is no active-organization selection.
func RunWithToken[T any](ctx context.Context, g *Gate, token string, opts Options, action func(context.Context, *AuthContext) (T, error)) Result[T] {
	principal, tok, err := g.principals.ResolveAPIToken(ctx, token)
	if err != nil {
		return denied[T](opts, "", err)
	}
	return runResolved(ctx, g, principal, tok.OrganizationID, opts, action)
}

// RunPrincipal authorizes on identity alone: the session must be valid but no
// organization membership is required. This is the path for actions that
// legitimately precede membership, such as creating a first organization or
// accepting an invitation. Options.RequiredPermissions is ignored here; there
// is no membership to evaluate against.
func RunPrincipal[T any](ctx context.Context, g *Gate, creds SessionCredentials, opts Options, action func(context.Context, *AuthContext) (T, error)) Result[T] {
	principal, _, err := g.principals.ResolveSession(ctx, creds.SessionToken)
	if err != nil {
		return denied[T](opts, "", err)
	}
	scope := NewScope()
	superAdmin, err := g.memberships.IsSuperAdmin(ctx, scope, principal.UserID)
	if err != nil {
		return denied[T](opts, principal.Email, err)
	}
	ac := &AuthContext{UserID: principal.UserID, IsSuperAdmin: superAdmin}
	out, err := invoke(ctx, ac, action)
	if err != nil {
		return failed[T](opts, principal.Email, ac, err)
	}
	granted(opts, principal.Email, ac)
	return Result[T]{Success: true, Data: out}
}

// runResolved is the shared step sequence after principal resolution:
// super-admin flag → membership → AuthContext → permission evaluation →
// action invocation → error mapping. Resolution steps are strictly
// sequential; each depends on the previous result.
func runResolved[T any](ctx context.Context, g *Gate, principal *Principal, orgID string, opts Options, action func(context.Context, *AuthContext) (T, error)) Result[T] {
	scope := NewScope()

	superAdmin, err := g.memberships.IsSuperAdmin(ctx, scope, principal.UserID)
	if err != nil {
		return denied[T](opts, principal.Email, err)
	}
	membership, err := g.memberships.Resolve(ctx, scope, principal.UserID, orgID)
	if err != nil {
		return denied[T](opts, principal.Email, err)
	}
	if membership == nil && !superAdmin {
		return denied[T](opts, principal.Email, ErrNoOrganization)
	}

	ac := &AuthContext{UserID: principal.UserID, IsSuperAdmin: superAdmin}
	if membership != nil {
		ac.OrganizationID = membership.OrganizationID
		ac.Role = string(membership.Role)
	} else {
		ac.Role = string(RoleSuperAdmin)
	}

	if len(opts.RequiredPermissions) > 0 && !Evaluate(superAdmin, membership, opts.RequiredPermissions) {
		return denied[T](opts, principal.Email, ErrInsufficientPermissions)
	}

	out, err := invoke(ctx, ac, action)
	if err != nil {
		return failed[T](opts, principal.Email, ac, err)
	}
	granted(opts, principal.Email, ac)
	return Result[T]{Success: true, Data: out}
}

// invoke runs the action with panic containment. A panicking action yields a
// generic error; the panic value is logged, never surfaced.
func invoke[T any](ctx context.Context, ac *AuthContext, action func(context.Context, *AuthContext) (T, error)) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in gated action", "panic", r, "user", ac.UserID, "org", ac.OrganizationID)
			err = errPanic
		}
	}()
	return action(WithAuthContext(ctx, ac), ac)
}

// denied maps a gate failure to a Result and emits an audit entry. Store
// errors are masked as an internal failure; the fixed gate errors pass
// through with their exact messages.
func denied[T any](opts Options, actor string, err error) Result[T] {
	reason := err.Error()
	if !errors.Is(err, ErrUnauthorized) && !errors.Is(err, ErrNoOrganization) && !errors.Is(err, ErrInsufficientPermissions) {
		slog.Error("authorization resolution failed", "operation", opts.Operation, "error", err)
		err = errInternal
		reason = "resolution error"
	}
	if actor == "" {
		actor = "anonymous"
	}
	audit.Event{
		Actor:  actor,
		Action: opts.Operation,
		Status: "denied",
		Reason: reason,
	}.Warn("Audit Log: Access Denied")
	return Result[T]{Error: err.Error()}
}

// granted emits the audit entry for a completed authenticated operation.
func granted(opts Options, actor string, ac *AuthContext) {
	audit.Event{
		Actor:  actor,
		Action: opts.Operation,
		Status: "granted",
		Org:    ac.OrganizationID,
	}.Info("Audit Log")
}

// failed maps an action error to a Result and emits an audit entry. The
// caller was authorized; the operation itself did not complete.
func failed[T any](opts Options, actor string, ac *AuthContext, err error) Result[T] {
	msg := actionErrorMessage(err)
	audit.Event{
		Actor:  actor,
		Action: opts.Operation,
		Status: "failed",
		Org:    ac.OrganizationID,
		Reason: msg,
	}.Info("Audit Log")
	return Result[T]{Error: msg}
}

// actionErrorMessage maps an action error to its user-visible message.
// Validation errors surface their field-qualified messages verbatim; other
// errors surface their message without the stack.
func actionErrorMessage(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	return err.Error()
}

// DeniedError reports whether a Result's error is one of the fixed gate
// denial messages, as opposed to an action-supplied failure.
func DeniedError(msg string) bool {
	switch msg {
	case ErrUnauthorized.Error(), ErrNoOrganization.Error(), ErrInsufficientPermissions.Error(), errInternal.Error():
		return true
	}
	return false
}
