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

func quoteToInfo(q *storage.Quote) QuoteInfo {
	return QuoteInfo{
		ID:          q.ID,
		VehicleID:   q.VehicleID,
		Status:      q.Status,
		Description: q.Description,
		TotalCents:  q.TotalCents,
		CreatedAt:   q.CreatedAt.Unix(),
		UpdatedAt:   q.UpdatedAt.Unix(),
	}
}

func quoteGrant(action auth.Action) []auth.Grant {
	return []auth.Grant{{Action: action, Subject: auth.SubjectQuotes}}
}

func (s *Server) registerQuotes(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listQuotes",
		Method:      http.MethodGet,
		Path:        "/api/quotes",
		Tags:        []string{"Quotes"},
		Errors:      []int{401, 403},
	}, func(ctx context.Context, input *ListQuotesInput) (*Envelope[[]QuoteInfo], error) {
		opts := auth.Options{Operation: "listQuotes", RequiredPermissions: quoteGrant(auth.ActionRead)}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) ([]QuoteInfo, error) {
				quotes, err := s.store.ListQuotes(ctx, ac.OrganizationID)
				if err != nil {
					return nil, err
				}
				out := make([]QuoteInfo, 0, len(quotes))
				for i := range quotes {
					out = append(out, quoteToInfo(&quotes[i]))
				}
				return out, nil
			})
	})

	huma.Register(api, huma.Operation{
		OperationID: "createQuote",
		Method:      http.MethodPost,
		Path:        "/api/quotes",
		Tags:        []string{"Quotes"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *CreateQuoteInput) (*Envelope[QuoteInfo], error) {
		opts := auth.Options{Operation: "createQuote", RequiredPermissions: quoteGrant(auth.ActionCreate)}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (QuoteInfo, error) {
				if input.Body.VehicleID == "" {
					return QuoteInfo{}, auth.NewValidationError("vehicleId", "vehicle id is required")
				}
				if input.Body.TotalCents < 0 {
					return QuoteInfo{}, auth.NewValidationError("totalCents", "total must not be negative")
				}
				v, err := s.store.GetVehicle(ctx, ac.OrganizationID, input.Body.VehicleID)
				if err != nil {
					return QuoteInfo{}, err
				}
				if v == nil {
					return QuoteInfo{}, auth.NewValidationError("vehicleId", "vehicle not found")
				}

				now := time.Now()
				q := &storage.Quote{
					ID:             uuid.NewString(),
					OrganizationID: ac.OrganizationID,
					VehicleID:      input.Body.VehicleID,
					Status:         "draft",
					Description:    input.Body.Description,
					TotalCents:     input.Body.TotalCents,
					CreatedAt:      now,
					UpdatedAt:      now,
				}
				if err := s.store.CreateQuote(ctx, q); err != nil {
					return QuoteInfo{}, err
				}
				return quoteToInfo(q), nil
			})
	})

	huma.Register(api, huma.Operation{
		OperationID: "getQuote",
		Method:      http.MethodGet,
		Path:        "/api/quotes/{quoteID}",
		Tags:        []string{"Quotes"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *GetQuoteInput) (*Envelope[QuoteInfo], error) {
		opts := auth.Options{Operation: "getQuote", RequiredPermissions: quoteGrant(auth.ActionRead)}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (QuoteInfo, error) {
				q, err := s.store.GetQuote(ctx, ac.OrganizationID, input.QuoteID)
				if err != nil {
					return QuoteInfo{}, err
				}
				if q == nil {
					return QuoteInfo{}, errors.New("quote not found")
				}
				return quoteToInfo(q), nil
			})
	})

	huma.Register(api, huma.Operation{
		OperationID: "updateQuoteStatus",
		Method:      http.MethodPost,
		Path:        "/api/quotes/{quoteID}/status",
		Tags:        []string{"Quotes"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *UpdateQuoteStatusInput) (*Envelope[QuoteInfo], error) {
		opts := auth.Options{Operation: "updateQuoteStatus", RequiredPermissions: quoteGrant(auth.ActionUpdate)}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (QuoteInfo, error) {
				if err := validateQuoteStatus(input.Body.Status); err != nil {
					return QuoteInfo{}, auth.NewValidationError("status", err.Error())
				}
				n, err := s.store.UpdateQuoteStatus(ctx, ac.OrganizationID, input.QuoteID, input.Body.Status)
				if err != nil {
					return QuoteInfo{}, err
				}
				if n == 0 {
					return QuoteInfo{}, errors.New("quote not found")
				}
				q, err := s.store.GetQuote(ctx, ac.OrganizationID, input.QuoteID)
				if err != nil {
					return QuoteInfo{}, err
				}
				// The quote can vanish between the update and the re-read.
				if q == nil {
					return QuoteInfo{}, errors.New("quote not found")
				}
				return quoteToInfo(q), nil
			})
	})

	huma.Register(api, huma.Operation{
		OperationID: "deleteQuote",
		Method:      http.MethodDelete,
		Path:        "/api/quotes/{quoteID}",
		Tags:        []string{"Quotes"},
		Errors:      []int{400, 401, 403},
	}, func(ctx context.Context, input *DeleteQuoteInput) (*Envelope[Empty], error) {
		opts := auth.Options{Operation: "deleteQuote", RequiredPermissions: quoteGrant(auth.ActionDelete)}
		return run(ctx, s, input.Credentials, opts,
			func(ctx context.Context, ac *auth.AuthContext) (Empty, error) {
				n, err := s.store.DeleteQuote(ctx, ac.OrganizationID, input.QuoteID)
				if err != nil {
					return Empty{}, err
				}
				if n == 0 {
					return Empty{}, errors.New("quote not found")
				}
				return Empty{}, nil
			})
	})
}
