package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/wrenchio/workshop-backend/internal/auth"
	"github.com/wrenchio/workshop-backend/internal/storage"
)

func orgToInfo(o *storage.Organization) OrgInfo {
	return OrgInfo{
		ID:        o.ID,
		Name:      o.Name,
		Address:   o.Address,
		Phone:     o.Phone,
		CreatedAt: o.CreatedAt.Unix(),
	}
}

func (s *Server) registerOrg(api huma.API) {
	// --- Create organization ---
	// Available to any authenticated user, including one with no memberships
	// yet; the creator becomes the owner.
	huma.Register(api, huma.Operation{
		OperationID: "createOrganization",
		Method:      http.MethodPost,
		Path:        "/api/organizations",
		Tags:        []string{"Organizations"},
		Errors:      []int{400, 401},
	}, func(ctx context.Context, input *CreateOrgInput) (*Envelope[OrgInfo], error) {
		res := auth.RunPrincipal(ctx, s.gate, auth.SessionCredentials{SessionToken: input.SessionToken},
			auth.Options{Operation: "createOrganization"},
			func(ctx context.Context, ac *auth.AuthContext) (OrgInfo, error) {
				if err := validateName(input.Body.Name, "organization"); err != nil {
					return OrgInfo{}, auth.NewValidationError("name", err.Error())
				}

				now := time.Now()
				org := &storage.Organization{
					ID:        uuid.NewString(),
					Name:      input.Body.Name,
					Address:   input.Body.Address,
					Phone:     input.Body.Phone,
					CreatedAt: now,
					UpdatedAt: now,
				}
				if err := s.store.CreateOrganization(ctx, org); err != nil {
					return OrgInfo{}, err
				}
				membership := &storage.Membership{
					OrganizationID: org.ID,
					UserID:         ac.UserID,
					Role:           string(auth.RoleOwner),
					CreatedAt:      now,
				}
				if err := s.store.CreateMembership(ctx, membership); err != nil {
					return OrgInfo{}, err
				}
				if input.SessionToken != "" {
					if err := s.store.SetSessionActiveOrg(ctx, auth.HashToken(input.SessionToken), org.ID); err != nil {
						return OrgInfo{}, err
					}
				}
				return orgToInfo(org), nil
			})
		recordDecision("createOrganization", res.Success)
		if !res.Success {
			return nil, gateFailure(res.Error)
		}
		return &Envelope[OrgInfo]{Body: res}, nil
	})

	// --- Current organization ---
	huma.Register(api, huma.Operation{
		OperationID: "getOrganization",
		Method:      http.MethodGet,
		Path:        "/api/organizations/current",
		Tags:        []string{"Organizations"},
		Errors:      []int{401, 403},
	}, func(ctx context.Context, input *GetOrgInput) (*Envelope[OrgInfo], error) {
		return run(ctx, s, input.Credentials, auth.Options{Operation: "getOrganization"},
			func(ctx context.Context, ac *auth.AuthContext) (OrgInfo, error) {
				org, err := s.orgs.get(ctx, ac.OrganizationID)
				if err != nil {
					return OrgInfo{}, err
				}
				if org == nil {
					return OrgInfo{}, errors.New("organization not found")
				}
				return orgToInfo(org), nil
			})
	})

	// --- Update current organization ---
	huma.Register(api, huma.Operation{
		OperationID: "updateOrganization",
		Method:      http.MethodPatch,
		Path:        "/api/organizations/current",
		Tags:        []string{"Organizations"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *UpdateOrgInput) (*Envelope[OrgInfo], error) {
		opts := auth.Options{
			Operation:           "updateOrganization",
			RequiredPermissions: []auth.Grant{{Action: auth.ActionUpdate, Subject: auth.SubjectSettings}},
		}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (OrgInfo, error) {
				org, err := s.store.GetOrganization(ctx, ac.OrganizationID)
				if err != nil {
					return OrgInfo{}, err
				}
				if org == nil {
					return OrgInfo{}, errors.New("organization not found")
				}
				if input.Body.Name != "" {
					if err := validateName(input.Body.Name, "organization"); err != nil {
						return OrgInfo{}, auth.NewValidationError("name", err.Error())
					}
					org.Name = input.Body.Name
				}
				if input.Body.Address != "" {
					org.Address = input.Body.Address
				}
				if input.Body.Phone != "" {
					org.Phone = input.Body.Phone
				}
				org.UpdatedAt = time.Now()
				if err := s.store.UpdateOrganization(ctx, org); err != nil {
					return OrgInfo{}, err
				}
				s.orgs.invalidate(org.ID)
				return orgToInfo(org), nil
			})
	})
}
