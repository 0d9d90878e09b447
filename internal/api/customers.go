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

func customerToInfo(c *storage.Customer) CustomerInfo {
	return CustomerInfo{
		ID:        c.ID,
		Name:      c.Name,
		Email:     c.Email,
		Phone:     c.Phone,
		CreatedAt: c.CreatedAt.Unix(),
		UpdatedAt: c.UpdatedAt.Unix(),
	}
}

func customerGrant(action auth.Action) []auth.Grant {
	return []auth.Grant{{Action: action, Subject: auth.SubjectCustomers}}
}

func (s *Server) registerCustomers(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listCustomers",
		Method:      http.MethodGet,
		Path:        "/api/customers",
		Tags:        []string{"Customers"},
		Errors:      []int{401, 403},
	}, func(ctx context.Context, input *ListCustomersInput) (*Envelope[[]CustomerInfo], error) {
		opts := auth.Options{Operation: "listCustomers", RequiredPermissions: customerGrant(auth.ActionRead)}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) ([]CustomerInfo, error) {
				customers, err := s.store.ListCustomers(ctx, ac.OrganizationID)
				if err != nil {
					return nil, err
				}
				out := make([]CustomerInfo, 0, len(customers))
				for i := range customers {
					out = append(out, customerToInfo(&customers[i]))
				}
				return out, nil
			})
	})

	huma.Register(api, huma.Operation{
		OperationID: "createCustomer",
		Method:      http.MethodPost,
		Path:        "/api/customers",
		Tags:        []string{"Customers"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *CreateCustomerInput) (*Envelope[CustomerInfo], error) {
		opts := auth.Options{Operation: "createCustomer", RequiredPermissions: customerGrant(auth.ActionCreate)}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (CustomerInfo, error) {
				if err := validateName(input.Body.Name, "customer"); err != nil {
					return CustomerInfo{}, auth.NewValidationError("name", err.Error())
				}
				now := time.Now()
				c := &storage.Customer{
					ID:             uuid.NewString(),
					OrganizationID: ac.OrganizationID,
					Name:           input.Body.Name,
					Email:          input.Body.Email,
					Phone:          input.Body.Phone,
					CreatedAt:      now,
					UpdatedAt:      now,
				}
				if err := s.store.CreateCustomer(ctx, c); err != nil {
					return CustomerInfo{}, err
				}
				return customerToInfo(c), nil
			})
	})

	huma.Register(api, huma.Operation{
		OperationID: "getCustomer",
		Method:      http.MethodGet,
		Path:        "/api/customers/{customerID}",
		Tags:        []string{"Customers"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *GetCustomerInput) (*Envelope[CustomerInfo], error) {
		opts := auth.Options{Operation: "getCustomer", RequiredPermissions: customerGrant(auth.ActionRead)}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (CustomerInfo, error) {
				c, err := s.store.GetCustomer(ctx, ac.OrganizationID, input.CustomerID)
				if err != nil {
					return CustomerInfo{}, err
				}
				if c == nil {
					return CustomerInfo{}, errors.New("customer not found")
				}
				return customerToInfo(c), nil
			})
	})

	huma.Register(api, huma.Operation{
		OperationID: "updateCustomer",
		Method:      http.MethodPatch,
		Path:        "/api/customers/{customerID}",
		Tags:        []string{"Customers"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *UpdateCustomerInput) (*Envelope[CustomerInfo], error) {
		opts := auth.Options{Operation: "updateCustomer", RequiredPermissions: customerGrant(auth.ActionUpdate)}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (CustomerInfo, error) {
				c, err := s.store.GetCustomer(ctx, ac.OrganizationID, input.CustomerID)
				if err != nil {
					return CustomerInfo{}, err
				}
				if c == nil {
					return CustomerInfo{}, errors.New("customer not found")
				}
				if input.Body.Name != "" {
					c.Name = input.Body.Name
				}
				if input.Body.Email != "" {
					c.Email = input.Body.Email
				}
				if input.Body.Phone != "" {
					c.Phone = input.Body.Phone
				}
				c.UpdatedAt = time.Now()
				if _, err := s.store.UpdateCustomer(ctx, c); err != nil {
					return CustomerInfo{}, err
				}
				return customerToInfo(c), nil
			})
	})

	huma.Register(api, huma.Operation{
		OperationID: "deleteCustomer",
		Method:      http.MethodDelete,
		Path:        "/api/customers/{customerID}",
		Tags:        []string{"Customers"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *DeleteCustomerInput) (*Envelope[Empty], error) {
		opts := auth.Options{Operation: "deleteCustomer", RequiredPermissions: customerGrant(auth.ActionDelete)}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (Empty, error) {
				n, err := s.store.DeleteCustomer(ctx, ac.OrganizationID, input.CustomerID)
				if err != nil {
					return Empty{}, err
				}
				if n == 0 {
					return Empty{}, errors.New("customer not found")
				}
				return Empty{}, nil
			})
	})
}
