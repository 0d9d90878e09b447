package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/wrenchio/workshop-backend/internal/audit"
	"github.com/wrenchio/workshop-backend/internal/secretbox"
	"github.com/wrenchio/workshop-backend/internal/storage"
)

// RevalidationStore is the session access the revalidator needs.
type RevalidationStore interface {
	ListSessionsWithRefreshTokens(ctx context.Context) ([]storage.Session, error)
	DeleteSession(ctx context.Context, tokenHash string) error
}

// SessionRevalidator periodically re-checks session holders against the
// identity provider using their stored refresh tokens. A provider that
// rejects the refresh has deactivated the account; the session is revoked so
// the user is signed out before it would otherwise expire.
type SessionRevalidator struct {
	sessions RevalidationStore
	oidc     OIDCAuthenticator
	secrets  *secretbox.Box
}

// NewSessionRevalidator creates a revalidator. The box must be the one the
// login flow sealed the refresh tokens with.
func NewSessionRevalidator(sessions RevalidationStore, oidc OIDCAuthenticator, secrets *secretbox.Box) *SessionRevalidator {
	return &SessionRevalidator{sessions: sessions, oidc: oidc, secrets: secrets}
}

// Run revalidates every session that carries a refresh token and returns how
// many sessions were revoked. Sessions whose stored token cannot be opened
// are skipped, not revoked; a re-login replaces them.
func (r *SessionRevalidator) Run(ctx context.Context) (int, error) {
	sessions, err := r.sessions.ListSessionsWithRefreshTokens(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	revoked := 0
	for i := range sessions {
		sess := &sessions[i]
		refresh, err := r.secrets.Open(sess.RefreshToken)
		if err != nil {
			slog.Warn("stored refresh token unreadable", "user", sess.UserID, "error", err)
			continue
		}
		if err := r.oidc.Revalidate(ctx, string(refresh)); err == nil {
			continue
		}
		if err := r.sessions.DeleteSession(ctx, sess.TokenHash); err != nil {
			slog.Error("session revocation failed", "user", sess.UserID, "error", err)
			continue
		}
		revoked++
		audit.Event{
			Action:     "revalidateSession",
			Status:     "denied",
			TargetUser: sess.UserID,
			Reason:     "refresh token rejected by provider",
			AuthMethod: "oidc",
		}.Warn("Audit Log: Session Revoked")
	}
	return revoked, nil
}
