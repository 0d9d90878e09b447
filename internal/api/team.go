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

var (
	teamRead   = []auth.Grant{{Action: auth.ActionRead, Subject: auth.SubjectTeam}}
	teamManage = []auth.Grant{{Action: auth.ActionManage, Subject: auth.SubjectTeam}}
)

func (s *Server) registerTeam(api huma.API) {
	// --- List members ---
	huma.Register(api, huma.Operation{
		OperationID: "listMembers",
		Method:      http.MethodGet,
		Path:        "/api/team/members",
		Tags:        []string{"Team"},
		Errors:      []int{401, 403},
	}, func(ctx context.Context, input *ListMembersInput) (*Envelope[[]MemberInfo], error) {
		opts := auth.Options{Operation: "listMembers", RequiredPermissions: teamRead}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) ([]MemberInfo, error) {
				members, err := s.store.ListMembers(ctx, ac.OrganizationID)
				if err != nil {
					return nil, err
				}
				out := make([]MemberInfo, 0, len(members))
				for _, m := range members {
					out = append(out, MemberInfo{
						UserID:       m.UserID,
						Email:        m.UserEmail,
						Name:         m.UserName,
						Role:         m.Role,
						CustomRoleID: m.CustomRoleID,
						JoinedAt:     m.CreatedAt.Unix(),
					})
				}
				return out, nil
			})
	})

	// --- Change a member's role ---
	huma.Register(api, huma.Operation{
		OperationID: "updateMember",
		Method:      http.MethodPatch,
		Path:        "/api/team/members/{userID}",
		Tags:        []string{"Team"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *UpdateMemberInput) (*Envelope[MemberInfo], error) {
		opts := auth.Options{Operation: "updateMember", RequiredPermissions: teamManage}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (MemberInfo, error) {
				if _, err := auth.ParseRole(input.Body.Role); err != nil {
					return MemberInfo{}, auth.NewValidationError("role", err.Error())
				}
				// A custom role must belong to the caller's organization; the
				// scoped lookup makes a cross-organization id look nonexistent.
				if input.Body.CustomRoleID != nil {
					role, err := s.store.GetCustomRole(ctx, ac.OrganizationID, *input.Body.CustomRoleID)
					if err != nil {
						return MemberInfo{}, err
					}
					if role == nil {
						return MemberInfo{}, auth.NewValidationError("customRoleId", "custom role not found")
					}
				}
				n, err := s.store.UpdateMembershipRole(ctx, ac.OrganizationID, input.UserID, input.Body.Role, input.Body.CustomRoleID)
				if err != nil {
					return MemberInfo{}, err
				}
				if n == 0 {
					return MemberInfo{}, errors.New("member not found")
				}
				return MemberInfo{
					UserID:       input.UserID,
					Role:         input.Body.Role,
					CustomRoleID: input.Body.CustomRoleID,
				}, nil
			})
	})

	// --- Remove a member ---
	huma.Register(api, huma.Operation{
		OperationID: "removeMember",
		Method:      http.MethodDelete,
		Path:        "/api/team/members/{userID}",
		Tags:        []string{"Team"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *RemoveMemberInput) (*Envelope[Empty], error) {
		opts := auth.Options{Operation: "removeMember", RequiredPermissions: teamManage}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (Empty, error) {
				if input.UserID == ac.UserID {
					return Empty{}, errors.New("cannot remove yourself")
				}
				n, err := s.store.DeleteMembership(ctx, ac.OrganizationID, input.UserID)
				if err != nil {
					return Empty{}, err
				}
				if n == 0 {
					return Empty{}, errors.New("member not found")
				}
				return Empty{}, nil
			})
	})

	s.registerRoles(api)
	s.registerInvitations(api)
}

func (s *Server) registerRoles(api huma.API) {
	// --- List custom roles ---
	huma.Register(api, huma.Operation{
		OperationID: "listRoles",
		Method:      http.MethodGet,
		Path:        "/api/team/roles",
		Tags:        []string{"Team"},
		Errors:      []int{401, 403},
	}, func(ctx context.Context, input *ListRolesInput) (*Envelope[[]RoleInfo], error) {
		opts := auth.Options{Operation: "listRoles", RequiredPermissions: teamRead}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) ([]RoleInfo, error) {
				roles, err := s.store.ListCustomRoles(ctx, ac.OrganizationID)
				if err != nil {
					return nil, err
				}
				out := make([]RoleInfo, 0, len(roles))
				for _, r := range roles {
					out = append(out, RoleInfo{
						ID:          r.ID,
						Name:        r.Name,
						IsAdmin:     r.IsAdmin,
						Permissions: r.Permissions,
					})
				}
				return out, nil
			})
	})

	// --- Create custom role ---
	huma.Register(api, huma.Operation{
		OperationID: "createRole",
		Method:      http.MethodPost,
		Path:        "/api/team/roles",
		Tags:        []string{"Team"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *CreateRoleInput) (*Envelope[RoleInfo], error) {
		opts := auth.Options{Operation: "createRole", RequiredPermissions: teamManage}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (RoleInfo, error) {
				if err := validateName(input.Body.Name, "role"); err != nil {
					return RoleInfo{}, auth.NewValidationError("name", err.Error())
				}
				if _, err := auth.ParseGrants(input.Body.Permissions); err != nil {
					return RoleInfo{}, auth.NewValidationError("permissions", err.Error())
				}

				now := time.Now()
				role := &storage.CustomRole{
					ID:             uuid.NewString(),
					OrganizationID: ac.OrganizationID,
					Name:           input.Body.Name,
					IsAdmin:        input.Body.IsAdmin,
					Permissions:    input.Body.Permissions,
					CreatedAt:      now,
					UpdatedAt:      now,
				}
				if role.Permissions == nil {
					role.Permissions = []string{}
				}
				if err := s.store.CreateCustomRole(ctx, role); err != nil {
					return RoleInfo{}, err
				}
				return RoleInfo{
					ID:          role.ID,
					Name:        role.Name,
					IsAdmin:     role.IsAdmin,
					Permissions: role.Permissions,
				}, nil
			})
	})

	// --- Delete custom role ---
	huma.Register(api, huma.Operation{
		OperationID: "deleteRole",
		Method:      http.MethodDelete,
		Path:        "/api/team/roles/{roleID}",
		Tags:        []string{"Team"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *DeleteRoleInput) (*Envelope[Empty], error) {
		opts := auth.Options{Operation: "deleteRole", RequiredPermissions: teamManage}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (Empty, error) {
				n, err := s.store.DeleteCustomRole(ctx, ac.OrganizationID, input.RoleID)
				if err != nil {
					return Empty{}, err
				}
				if n == 0 {
					return Empty{}, errors.New("role not found")
				}
				return Empty{}, nil
			})
	})

	// --- Role presets ---
	huma.Register(api, huma.Operation{
		OperationID: "listRolePresets",
		Method:      http.MethodGet,
		Path:        "/api/team/role-presets",
		Tags:        []string{"Team"},
		Errors:      []int{401, 403},
	}, func(ctx context.Context, input *ListRolePresetsInput) (*Envelope[[]RolePresetInfo], error) {
		opts := auth.Options{Operation: "listRolePresets", RequiredPermissions: teamRead}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) ([]RolePresetInfo, error) {
				out := make([]RolePresetInfo, 0, len(s.presets))
				for _, p := range s.presets {
					out = append(out, RolePresetInfo{
						Name:        p.Name,
						IsAdmin:     p.IsAdmin,
						Permissions: p.Permissions,
					})
				}
				return out, nil
			})
	})
}

func (s *Server) registerInvitations(api huma.API) {
	// --- List invitations ---
	huma.Register(api, huma.Operation{
		OperationID: "listInvitations",
		Method:      http.MethodGet,
		Path:        "/api/team/invitations",
		Tags:        []string{"Team"},
		Errors:      []int{401, 403},
	}, func(ctx context.Context, input *ListInvitationsInput) (*Envelope[[]InvitationInfo], error) {
		opts := auth.Options{Operation: "listInvitations", RequiredPermissions: teamRead}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) ([]InvitationInfo, error) {
				invs, err := s.store.ListInvitations(ctx, ac.OrganizationID)
				if err != nil {
					return nil, err
				}
				out := make([]InvitationInfo, 0, len(invs))
				for _, inv := range invs {
					out = append(out, InvitationInfo{
						ID:           inv.ID,
						Email:        inv.Email,
						Role:         inv.Role,
						CustomRoleID: inv.CustomRoleID,
						CreatedAt:    inv.CreatedAt.Unix(),
						Accepted:     inv.AcceptedAt != nil,
					})
				}
				return out, nil
			})
	})

	// --- Create invitation ---
	huma.Register(api, huma.Operation{
		OperationID: "createInvitation",
		Method:      http.MethodPost,
		Path:        "/api/team/invitations",
		Tags:        []string{"Team"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *CreateInvitationInput) (*Envelope[InvitationInfo], error) {
		opts := auth.Options{Operation: "createInvitation", RequiredPermissions: teamManage}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (InvitationInfo, error) {
				if input.Body.Email == "" {
					return InvitationInfo{}, auth.NewValidationError("email", "email is required")
				}
				if _, err := auth.ParseRole(input.Body.Role); err != nil {
					return InvitationInfo{}, auth.NewValidationError("role", err.Error())
				}
				if input.Body.CustomRoleID != nil {
					role, err := s.store.GetCustomRole(ctx, ac.OrganizationID, *input.Body.CustomRoleID)
					if err != nil {
						return InvitationInfo{}, err
					}
					if role == nil {
						return InvitationInfo{}, auth.NewValidationError("customRoleId", "custom role not found")
					}
				}

				inv := &storage.Invitation{
					ID:             uuid.NewString(),
					OrganizationID: ac.OrganizationID,
					Email:          input.Body.Email,
					Role:           input.Body.Role,
					CustomRoleID:   input.Body.CustomRoleID,
					CreatedAt:      time.Now(),
				}
				if err := s.store.CreateInvitation(ctx, inv); err != nil {
					return InvitationInfo{}, err
				}
				return InvitationInfo{
					ID:           inv.ID,
					Email:        inv.Email,
					Role:         inv.Role,
					CustomRoleID: inv.CustomRoleID,
					CreatedAt:    inv.CreatedAt.Unix(),
				}, nil
			})
	})

	// --- Delete invitation ---
	huma.Register(api, huma.Operation{
		OperationID: "deleteInvitation",
		Method:      http.MethodDelete,
		Path:        "/api/team/invitations/{invitationID}",
		Tags:        []string{"Team"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *DeleteInvitationInput) (*Envelope[Empty], error) {
		opts := auth.Options{Operation: "deleteInvitation", RequiredPermissions: teamManage}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (Empty, error) {
				n, err := s.store.DeleteInvitation(ctx, ac.OrganizationID, input.InvitationID)
				if err != nil {
					return Empty{}, err
				}
				if n == 0 {
					return Empty{}, errors.New("invitation not found")
				}
				return Empty{}, nil
			})
	})

	// --- Accept invitation ---
	// Requires a valid session but no existing membership; the invitation's
	// own organization and role decide what is granted.
	huma.Register(api, huma.Operation{
		OperationID: "acceptInvitation",
		Method:      http.MethodPost,
		Path:        "/api/invitations/{invitationID}/accept",
		Tags:        []string{"Team"},
		Errors:      []int{400, 401},
	}, func(ctx context.Context, input *AcceptInvitationInput) (*Envelope[MembershipInfo], error) {
		res := auth.RunPrincipal(ctx, s.gate, auth.SessionCredentials{SessionToken: input.SessionToken},
			auth.Options{Operation: "acceptInvitation"},
			func(ctx context.Context, ac *auth.AuthContext) (MembershipInfo, error) {
				user, err := s.store.GetUser(ctx, ac.UserID)
				if err != nil {
					return MembershipInfo{}, err
				}
				inv, err := s.store.GetInvitation(ctx, input.InvitationID)
				if err != nil {
					return MembershipInfo{}, err
				}
				if inv == nil {
					return MembershipInfo{}, errors.New("invitation not found")
				}
				if user == nil || user.Email != inv.Email {
					return MembershipInfo{}, errors.New("invitation is for a different email")
				}

				m, err := s.store.AcceptInvitation(ctx, inv.ID, ac.UserID)
				if err != nil {
					if errors.Is(err, storage.ErrConflict) {
						return MembershipInfo{}, errors.New("invitation already accepted")
					}
					return MembershipInfo{}, err
				}
				if m == nil {
					return MembershipInfo{}, errors.New("invitation not found")
				}
				if input.SessionToken != "" {
					if err := s.store.SetSessionActiveOrg(ctx, auth.HashToken(input.SessionToken), m.OrganizationID); err != nil {
						return MembershipInfo{}, err
					}
				}

				info := MembershipInfo{OrgID: m.OrganizationID, Role: m.Role}
				if org, err := s.orgs.get(ctx, m.OrganizationID); err == nil && org != nil {
					info.OrgName = org.Name
				}
				return info, nil
			})
		recordDecision("acceptInvitation", res.Success)
		if !res.Success {
			return nil, gateFailure(res.Error)
		}
		return &Envelope[MembershipInfo]{Body: res}, nil
	})
}
