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

func vehicleToInfo(v *storage.Vehicle) VehicleInfo {
	return VehicleInfo{
		ID:         v.ID,
		CustomerID: v.CustomerID,
		Make:       v.Make,
		Model:      v.Model,
		Year:       v.Year,
		Plate:      v.Plate,
		VIN:        v.VIN,
		CreatedAt:  v.CreatedAt.Unix(),
		UpdatedAt:  v.UpdatedAt.Unix(),
	}
}

func vehicleGrant(action auth.Action) []auth.Grant {
	return []auth.Grant{{Action: action, Subject: auth.SubjectVehicles}}
}

// requireCustomer checks that the referenced customer exists within the
// caller's organization.
func (s *Server) requireCustomer(ctx context.Context, orgID, customerID string) error {
	c, err := s.store.GetCustomer(ctx, orgID, customerID)
	if err != nil {
		return err
	}
	if c == nil {
		return auth.NewValidationError("customerId", "customer not found")
	}
	return nil
}

func (s *Server) registerVehicles(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listVehicles",
		Method:      http.MethodGet,
		Path:        "/api/vehicles",
		Tags:        []string{"Vehicles"},
		Errors:      []int{401, 403},
	}, func(ctx context.Context, input *ListVehiclesInput) (*Envelope[[]VehicleInfo], error) {
		opts := auth.Options{Operation: "listVehicles", RequiredPermissions: vehicleGrant(auth.ActionRead)}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) ([]VehicleInfo, error) {
				vehicles, err := s.store.ListVehicles(ctx, ac.OrganizationID, input.CustomerID)
				if err != nil {
					return nil, err
				}
				out := make([]VehicleInfo, 0, len(vehicles))
				for i := range vehicles {
					out = append(out, vehicleToInfo(&vehicles[i]))
				}
				return out, nil
			})
	})

	huma.Register(api, huma.Operation{
		OperationID: "createVehicle",
		Method:      http.MethodPost,
		Path:        "/api/vehicles",
		Tags:        []string{"Vehicles"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *CreateVehicleInput) (*Envelope[VehicleInfo], error) {
		opts := auth.Options{Operation: "createVehicle", RequiredPermissions: vehicleGrant(auth.ActionCreate)}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (VehicleInfo, error) {
				if input.Body.CustomerID == "" {
					return VehicleInfo{}, auth.NewValidationError("customerId", "customer id is required")
				}
				if err := s.requireCustomer(ctx, ac.OrganizationID, input.Body.CustomerID); err != nil {
					return VehicleInfo{}, err
				}
				now := time.Now()
				v := &storage.Vehicle{
					ID:             uuid.NewString(),
					OrganizationID: ac.OrganizationID,
					CustomerID:     input.Body.CustomerID,
					Make:           input.Body.Make,
					Model:          input.Body.Model,
					Year:           input.Body.Year,
					Plate:          input.Body.Plate,
					VIN:            input.Body.VIN,
					CreatedAt:      now,
					UpdatedAt:      now,
				}
				if err := s.store.CreateVehicle(ctx, v); err != nil {
					return VehicleInfo{}, err
				}
				return vehicleToInfo(v), nil
			})
	})

	huma.Register(api, huma.Operation{
		OperationID: "getVehicle",
		Method:      http.MethodGet,
		Path:        "/api/vehicles/{vehicleID}",
		Tags:        []string{"Vehicles"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *GetVehicleInput) (*Envelope[VehicleInfo], error) {
		opts := auth.Options{Operation: "getVehicle", RequiredPermissions: vehicleGrant(auth.ActionRead)}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (VehicleInfo, error) {
				v, err := s.store.GetVehicle(ctx, ac.OrganizationID, input.VehicleID)
				if err != nil {
					return VehicleInfo{}, err
				}
				if v == nil {
					return VehicleInfo{}, errors.New("vehicle not found")
				}
				return vehicleToInfo(v), nil
			})
	})

	huma.Register(api, huma.Operation{
		OperationID: "updateVehicle",
		Method:      http.MethodPatch,
		Path:        "/api/vehicles/{vehicleID}",
		Tags:        []string{"Vehicles"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *UpdateVehicleInput) (*Envelope[VehicleInfo], error) {
		opts := auth.Options{Operation: "updateVehicle", RequiredPermissions: vehicleGrant(auth.ActionUpdate)}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (VehicleInfo, error) {
				v, err := s.store.GetVehicle(ctx, ac.OrganizationID, input.VehicleID)
				if err != nil {
					return VehicleInfo{}, err
				}
				if v == nil {
					return VehicleInfo{}, errors.New("vehicle not found")
				}
				if input.Body.CustomerID != "" {
					if err := s.requireCustomer(ctx, ac.OrganizationID, input.Body.CustomerID); err != nil {
						return VehicleInfo{}, err
					}
					v.CustomerID = input.Body.CustomerID
				}
				if input.Body.Make != "" {
					v.Make = input.Body.Make
				}
				if input.Body.Model != "" {
					v.Model = input.Body.Model
				}
				if input.Body.Year != 0 {
					v.Year = input.Body.Year
				}
				if input.Body.Plate != "" {
					v.Plate = input.Body.Plate
				}
				if input.Body.VIN != "" {
					v.VIN = input.Body.VIN
				}
				v.UpdatedAt = time.Now()
				if _, err := s.store.UpdateVehicle(ctx, v); err != nil {
					return VehicleInfo{}, err
				}
				return vehicleToInfo(v), nil
			})
	})

	huma.Register(api, huma.Operation{
		OperationID: "deleteVehicle",
		Method:      http.MethodDelete,
		Path:        "/api/vehicles/{vehicleID}",
		Tags:        []string{"Vehicles"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *DeleteVehicleInput) (*Envelope[Empty], error) {
		opts := auth.Options{Operation: "deleteVehicle", RequiredPermissions: vehicleGrant(auth.ActionDelete)}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (Empty, error) {
				n, err := s.store.DeleteVehicle(ctx, ac.OrganizationID, input.VehicleID)
				if err != nil {
					return Empty{}, err
				}
				if n == 0 {
					return Empty{}, errors.New("vehicle not found")
				}
				return Empty{}, nil
			})
	})
}
