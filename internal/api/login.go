package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/wrenchio/workshop-backend/internal/audit"
	"github.com/wrenchio/workshop-backend/internal/auth"
	"github.com/wrenchio/workshop-backend/internal/storage"
)

// loginStateTTL bounds how long a login redirect may stay pending.
const loginStateTTL = 10 * time.Minute

type loginRedirectOutput struct {
	Status   int
	Location string `header:"Location"`
}

type loginCallbackInput struct {
	Code  string `query:"code" doc:"Authorization code from the provider"`
	State string `query:"state" doc:"Opaque state issued at login start"`
}

type loginCallbackOutput struct {
	Status    int
	Location  string      `header:"Location"`
	SetCookie http.Cookie `header:"Set-Cookie"`
}

// registerLogin wires the OIDC browser login flow: a redirect to the
// provider, and the callback that exchanges the code for a session.
func (s *Server) registerLogin(api huma.API) {
	nonces := newNonceStore(loginStateTTL)

	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodGet,
		Path:        "/auth/login",
		Tags:        []string{"Auth"},
	}, func(ctx context.Context, input *struct{}) (*loginRedirectOutput, error) {
		state := randomState()
		url, nonce := s.oidcAuth.AuthCodeURL(state)
		nonces.Set(state, nonce)
		return &loginRedirectOutput{Status: http.StatusFound, Location: url}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "loginCallback",
		Method:      http.MethodGet,
		Path:        "/auth/callback",
		Tags:        []string{"Auth"},
		Errors:      []int{401},
	}, func(ctx context.Context, input *loginCallbackInput) (*loginCallbackOutput, error) {
		nonce, ok := nonces.Take(input.State)
		if !ok {
			return nil, huma.NewError(http.StatusUnauthorized, "invalid or expired login state")
		}

		result, err := s.oidcAuth.ExchangeCode(ctx, input.Code, nonce)
		if err != nil {
			slog.Warn("OIDC code exchange failed", "error", err)
			return nil, huma.NewError(http.StatusUnauthorized, auth.ErrUnauthorized.Error())
		}

		user, err := s.upsertUser(ctx, result.Claims)
		if err != nil {
			slog.Error("user upsert failed", "error", err)
			return nil, huma.NewError(http.StatusInternalServerError, "internal error")
		}
		if user.Disabled {
			return nil, huma.NewError(http.StatusUnauthorized, auth.ErrUnauthorized.Error())
		}

		rawToken, err := auth.GenerateToken(auth.SessionTokenPrefix)
		if err != nil {
			return nil, huma.NewError(http.StatusInternalServerError, "internal error")
		}

		sess := &storage.Session{
			TokenHash: auth.HashToken(rawToken),
			UserID:    user.ID,
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(s.sessionTTL),
		}
		// Default to the user's first organization so the gate resolves
		// without an explicit selector.
		if m, err := s.store.FirstMembershipForUser(ctx, user.ID); err == nil && m != nil {
			sess.ActiveOrgID = m.OrganizationID
		}
		if result.RefreshToken != "" && s.secrets != nil {
			sealed, err := s.secrets.Seal([]byte(result.RefreshToken))
			if err != nil {
				return nil, huma.NewError(http.StatusInternalServerError, "internal error")
			}
			sess.RefreshToken = sealed
		}
		if err := s.store.CreateSession(ctx, sess); err != nil {
			return nil, huma.NewError(http.StatusInternalServerError, "internal error")
		}

		audit.Event{
			Actor:      user.Email,
			Action:     "login",
			Status:     "success",
			AuthMethod: "oidc",
		}.Info("Audit Log: Login")

		return &loginCallbackOutput{
			Status:   http.StatusFound,
			Location: "/",
			SetCookie: http.Cookie{
				Name:     sessionCookieName,
				Value:    rawToken,
				Path:     "/",
				HttpOnly: true,
				Secure:   true,
				SameSite: http.SameSiteLaxMode,
				MaxAge:   int(s.sessionTTL.Seconds()),
			},
		}, nil
	})
}

// upsertUser finds the user by email or creates a fresh record from the
// verified claims.
func (s *Server) upsertUser(ctx context.Context, claims auth.OIDCClaims) (*storage.User, error) {
	user, err := s.store.GetUserByEmail(ctx, claims.Email)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}
	user = &storage.User{
		ID:        uuid.NewString(),
		Email:     claims.Email,
		Name:      claims.Name,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if err == storage.ErrConflict {
			return s.store.GetUserByEmail(ctx, claims.Email)
		}
		return nil, err
	}
	return user, nil
}

func randomState() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
