// Package api exposes the deal resolution pipeline over HTTP. Handlers
// decode and validate request payloads, delegate to the domain services,
// and encode responses with jx.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/dealhound/dealhound/internal/domain/deals"
	"github.com/dealhound/dealhound/internal/domain/offer"
	"github.com/dealhound/dealhound/internal/domain/product"
	"github.com/dealhound/dealhound/internal/domain/suggest"
)

// DealsService resolves deal batches and featured deals.
type DealsService interface {
	ResolveDeals(ctx context.Context, req deals.Request) ([]deals.Result, error)
	BestDeals(ctx context.Context, limit int) ([]offer.Offer, error)
}

// SuggestService answers autocomplete queries.
type SuggestService interface {
	Suggest(ctx context.Context, query string) ([]suggest.Suggestion, error)
}

// Handler serves the public API, delegating business logic to the injected
// domain services.
type Handler struct {
	deals    DealsService
	suggests SuggestService
	validate *validator.Validate
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(dealsSvc DealsService, suggestSvc SuggestService) *Handler {
	return &Handler{
		deals:    dealsSvc,
		suggests: suggestSvc,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Register mounts the API routes on the given mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/deals", h.handleDeals)
	mux.HandleFunc("GET /api/deals/best", h.handleBestDeals)
	mux.HandleFunc("GET /api/autocomplete", h.handleAutocomplete)
}

// productRef is one requested product: an existing ID or a free-form name.
type productRef struct {
	ID   string `json:"id"`
	Name string `json:"name" validate:"required_without=ID"`
}

// dealsRequest is the POST /api/deals payload.
type dealsRequest struct {
	Products []productRef `json:"products" validate:"required,min=1,dive"`
}

func (h *Handler) handleDeals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req dealsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "each product needs an id or a name")
		return
	}

	offset := 0
	if raw := r.URL.Query().Get("start"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "start must be a non-negative integer")
			return
		}
		offset = n
	}

	refs := make([]product.Ref, len(req.Products))
	for i, p := range req.Products {
		refs[i] = product.Ref{ID: p.ID, Name: p.Name}
	}

	results, err := h.deals.ResolveDeals(ctx, deals.Request{
		Products:      refs,
		PageOffset:    offset,
		Authenticated: Authenticated(ctx),
	})
	if err != nil {
		h.writeDealsError(ctx, w, err)
		return
	}
	writeResults(w, results)
}

func (h *Handler) writeDealsError(ctx context.Context, w http.ResponseWriter, err error) {
	var limitErr *deals.BatchLimitError
	switch {
	case errors.Is(err, deals.ErrNoProducts):
		writeError(w, http.StatusBadRequest, "bad_request", "at least one product is required")
	case errors.Is(err, deals.ErrNoValidProducts):
		writeError(w, http.StatusBadRequest, "bad_request", "no valid products in request")
	case errors.As(err, &limitErr):
		writeError(w, http.StatusBadRequest, "batch_limit", limitErr.Error())
	default:
		zctx.From(ctx).Error("Deal resolution failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

func (h *Handler) handleBestDeals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	best, err := h.deals.BestDeals(ctx, limit)
	if err != nil {
		zctx.From(ctx).Error("Best deals lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	writeOffers(w, best)
}

func (h *Handler) handleAutocomplete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query().Get("q")
	suggestions, err := h.suggests.Suggest(ctx, query)
	if err != nil {
		if errors.Is(err, suggest.ErrQueryTooShort) {
			writeError(w, http.StatusBadRequest, "bad_request", "query must be at least 2 characters")
			return
		}
		zctx.From(ctx).Error("Autocomplete failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
		return
	}
	writeSuggestions(w, suggestions)
}
