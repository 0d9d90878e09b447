package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/wrenchio/workshop-backend/internal/auth"
	"github.com/wrenchio/workshop-backend/internal/storage"
)

var settingsManage = []auth.Grant{{Action: auth.ActionManage, Subject: auth.SubjectSettings}}

func (s *Server) registerTokens(api huma.API) {
	// --- List API tokens ---
	huma.Register(api, huma.Operation{
		OperationID: "listTokens",
		Method:      http.MethodGet,
		Path:        "/api/tokens",
		Tags:        []string{"Tokens"},
		Errors:      []int{401, 403},
	}, func(ctx context.Context, input *ListTokensInput) (*Envelope[[]TokenInfo], error) {
		opts := auth.Options{Operation: "listTokens", RequiredPermissions: settingsManage}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) ([]TokenInfo, error) {
				tokens, err := s.store.ListAPITokens(ctx, ac.OrganizationID)
				if err != nil {
					return nil, err
				}
				out := make([]TokenInfo, 0, len(tokens))
				for _, t := range tokens {
					info := TokenInfo{
						ID:          t.TokenHash,
						Prefix:      t.DisplayPrefix,
						Description: t.Description,
						CreatedAt:   t.CreatedAt.Unix(),
						Revoked:     t.RevokedAt != nil,
					}
					if t.LastUsedAt != nil {
						v := t.LastUsedAt.Unix()
						info.LastUsedAt = &v
					}
					if t.ExpiresAt != nil {
						v := t.ExpiresAt.Unix()
						info.ExpiresAt = &v
					}
					out = append(out, info)
				}
				return out, nil
			})
	})

	// --- Create API token ---
	// The raw token value appears exactly once, in this response.
	huma.Register(api, huma.Operation{
		OperationID: "createToken",
		Method:      http.MethodPost,
		Path:        "/api/tokens",
		Tags:        []string{"Tokens"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *CreateTokenInput) (*Envelope[CreatedTokenInfo], error) {
		opts := auth.Options{Operation: "createToken", RequiredPermissions: settingsManage}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (CreatedTokenInfo, error) {
				if input.Body.Description == "" {
					return CreatedTokenInfo{}, auth.NewValidationError("description", "description is required")
				}
				if ac.OrganizationID == "" {
					return CreatedTokenInfo{}, errors.New("tokens must be created within an organization")
				}

				rawToken, err := auth.GenerateToken(auth.APITokenPrefix)
				if err != nil {
					return CreatedTokenInfo{}, err
				}

				tok := &storage.APIToken{
					TokenHash:      auth.HashToken(rawToken),
					DisplayPrefix:  rawToken[:len(auth.APITokenPrefix)+4],
					OrganizationID: ac.OrganizationID,
					UserID:         ac.UserID,
					Description:    input.Body.Description,
					CreatedAt:      time.Now(),
				}
				if input.Body.Expires > 0 {
					exp := time.Unix(input.Body.Expires, 0)
					tok.ExpiresAt = &exp
				} else if s.apiTokenTTL > 0 {
					exp := time.Now().Add(s.apiTokenTTL)
					tok.ExpiresAt = &exp
				}

				if err := s.store.CreateAPIToken(ctx, tok); err != nil {
					return CreatedTokenInfo{}, err
				}
				return CreatedTokenInfo{ID: tok.TokenHash, TokenValue: rawToken}, nil
			})
	})

	// --- Revoke API token ---
	huma.Register(api, huma.Operation{
		OperationID: "revokeToken",
		Method:      http.MethodDelete,
		Path:        "/api/tokens/{tokenID}",
		Tags:        []string{"Tokens"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *RevokeTokenInput) (*Envelope[Empty], error) {
		opts := auth.Options{Operation: "revokeToken", RequiredPermissions: settingsManage}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (Empty, error) {
				n, err := s.store.RevokeAPIToken(ctx, ac.OrganizationID, input.TokenID)
				if err != nil {
					return Empty{}, err
				}
				if n == 0 {
					return Empty{}, errors.New("token not found")
				}
				return Empty{}, nil
			})
	})
}
