package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/wrenchio/workshop-backend/internal/auth"
)

func (s *Server) registerUser(api huma.API) {
	// --- Current user ---
	huma.Register(api, huma.Operation{
		OperationID: "getUser",
		Method:      http.MethodGet,
		Path:        "/api/user",
		Tags:        []string{"User"},
	}, func(ctx context.Context, input *GetUserInput) (*Envelope[UserInfo], error) {
		return run(ctx, s, input.Credentials, auth.Options{Operation: "getUser"},
			func(ctx context.Context, ac *auth.AuthContext) (UserInfo, error) {
				user, err := s.store.GetUser(ctx, ac.UserID)
				if err != nil {
					return UserInfo{}, err
				}
				if user == nil {
					return UserInfo{}, errors.New("user not found")
				}

				memberships, err := s.store.ListMembershipsForUser(ctx, ac.UserID)
				if err != nil {
					return UserInfo{}, err
				}
				orgs := make([]MembershipInfo, 0, len(memberships))
				for _, m := range memberships {
					info := MembershipInfo{OrgID: m.OrganizationID, Role: m.Role}
					if org, err := s.orgs.get(ctx, m.OrganizationID); err == nil && org != nil {
						info.OrgName = org.Name
					}
					orgs = append(orgs, info)
				}

				return UserInfo{
					ID:            user.ID,
					Email:         user.Email,
					Name:          user.Name,
					Role:          ac.Role,
					OrgID:         ac.OrganizationID,
					IsSuperAdmin:  ac.IsSuperAdmin,
					Organizations: orgs,
				}, nil
			})
	})

	// --- Select active organization ---
	huma.Register(api, huma.Operation{
		OperationID: "selectOrganization",
		Method:      http.MethodPost,
		Path:        "/api/user/select-org",
		Tags:        []string{"User"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *SelectOrgInput) (*Envelope[MembershipInfo], error) {
		if input.Body.OrgID == "" {
			return nil, gateFailure(auth.NewValidationError("orgId", "organization id is required").Error())
		}
		// Force resolution against the requested organization: the gate
		// rejects the selection unless the caller is a member (or a
		// super-admin).
		creds := input.Credentials
		creds.ActiveOrg = input.Body.OrgID
		return run(ctx, s, creds, auth.Options{Operation: "selectOrganization"},
			func(ctx context.Context, ac *auth.AuthContext) (MembershipInfo, error) {
				if input.SessionToken != "" {
					if err := s.store.SetSessionActiveOrg(ctx, auth.HashToken(input.SessionToken), input.Body.OrgID); err != nil {
						return MembershipInfo{}, err
					}
				}
				info := MembershipInfo{OrgID: input.Body.OrgID, Role: ac.Role}
				if org, err := s.orgs.get(ctx, input.Body.OrgID); err == nil && org != nil {
					info.OrgName = org.Name
				}
				return info, nil
			})
	})

	// --- Logout ---
	huma.Register(api, huma.Operation{
		OperationID: "logout",
		Method:      http.MethodPost,
		Path:        "/api/logout",
		Tags:        []string{"User"},
	}, func(ctx context.Context, input *LogoutInput) (*Envelope[Empty], error) {
		out, err := run(ctx, s, input.Credentials, auth.Options{Operation: "logout"},
			func(ctx context.Context, ac *auth.AuthContext) (Empty, error) {
				if input.SessionToken != "" {
					if err := s.store.DeleteSession(ctx, auth.HashToken(input.SessionToken)); err != nil {
						return Empty{}, err
					}
				}
				return Empty{}, nil
			})
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}
