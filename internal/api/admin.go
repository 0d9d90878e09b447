package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/wrenchio/workshop-backend/internal/auth"
)

// requireSuperAdmin guards the platform admin surface. Organization roles,
// including owner, carry no weight here.
func requireSuperAdmin(ac *auth.AuthContext) error {
	if !ac.IsSuperAdmin {
		return auth.ErrInsufficientPermissions
	}
	return nil
}

func (s *Server) registerAdmin(api huma.API) {
	// --- List all organizations ---
	huma.Register(api, huma.Operation{
		OperationID: "adminListOrganizations",
		Method:      http.MethodGet,
		Path:        "/api/admin/organizations",
		Tags:        []string{"Admin"},
		Errors:      []int{401, 403},
	}, func(ctx context.Context, input *AdminListOrgsInput) (*Envelope[[]OrgInfo], error) {
		opts := auth.Options{Operation: "adminListOrganizations"}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) ([]OrgInfo, error) {
				if err := requireSuperAdmin(ac); err != nil {
					return nil, err
				}
				orgs, err := s.store.ListOrganizations(ctx)
				if err != nil {
					return nil, err
				}
				out := make([]OrgInfo, 0, len(orgs))
				for i := range orgs {
					out = append(out, orgToInfo(&orgs[i]))
				}
				return out, nil
			})
	})

	// --- Disable or re-enable a user platform-wide ---
	huma.Register(api, huma.Operation{
		OperationID: "adminSetUserDisabled",
		Method:      http.MethodPost,
		Path:        "/api/admin/users/{userID}/disable",
		Tags:        []string{"Admin"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *AdminDisableUserInput) (*Envelope[Empty], error) {
		opts := auth.Options{Operation: "adminSetUserDisabled"}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (Empty, error) {
				if err := requireSuperAdmin(ac); err != nil {
					return Empty{}, err
				}
				if input.UserID == ac.UserID {
					return Empty{}, errors.New("cannot disable yourself")
				}
				user, err := s.store.GetUser(ctx, input.UserID)
				if err != nil {
					return Empty{}, err
				}
				if user == nil {
					return Empty{}, errors.New("user not found")
				}
				if err := s.store.SetUserDisabled(ctx, input.UserID, input.Body.Disabled); err != nil {
					return Empty{}, err
				}
				return Empty{}, nil
			})
	})

	// --- On-demand backup ---
	huma.Register(api, huma.Operation{
		OperationID: "adminBackup",
		Method:      http.MethodPost,
		Path:        "/api/admin/backup",
		Tags:        []string{"Admin"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *AdminBackupInput) (*Envelope[Empty], error) {
		opts := auth.Options{Operation: "adminBackup"}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (Empty, error) {
				if err := requireSuperAdmin(ac); err != nil {
					return Empty{}, err
				}
				if s.backups == nil {
					return Empty{}, errors.New("backups are not configured")
				}
				if err := s.backups.Run(ctx); err != nil {
					return Empty{}, err
				}
				return Empty{}, nil
			})
	})
}
