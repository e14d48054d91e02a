package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/checkout-service/internal/cart"
)

type AddCartItemRequest struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	ProductName string          `json:"product_name" validate:"required,max=255"`
	Quantity    int             `json:"quantity" validate:"required,gt=0"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// UpdateCartItemRequest sets a line's quantity; zero or less removes it.
type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type CartHandler struct {
	service  cart.Service
	validate *validator.Validate
}

func NewCartHandler(service cart.Service) *CartHandler {
	return &CartHandler{
		service:  service,
		validate: validator.New(),
	}
}

func (h *CartHandler) RegisterRoutes(router chi.Router) {
	router.Get("/cart", h.handleGetCart)
	router.Delete("/cart", h.handleClear)
	router.Get("/cart/estimate", h.handleEstimate)
	router.Post("/cart/items", h.handleAddItem)
	router.Put("/cart/items/{productID}", h.handleUpdateItem)
	router.Delete("/cart/items/{productID}", h.handleRemoveItem)
}

func (h *CartHandler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.service.GetCart(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		respondWithServiceError(w, err, "Failed to load cart")
		return
	}
	respondWithJSON(w, http.StatusOK, c)
}

func (h *CartHandler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req AddCartItemRequest
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}

	item, err := h.service.AddItem(r.Context(), &cart.Item{
		UserID:      userIDFrom(r.Context()),
		ProductID:   req.ProductID,
		ProductName: req.ProductName,
		Quantity:    req.Quantity,
		UnitPrice:   req.UnitPrice,
	})
	if err != nil {
		respondWithServiceError(w, err, "Failed to add cart item")
		return
	}
	respondWithJSON(w, http.StatusCreated, item)
}

func (h *CartHandler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateCartItemRequest
	if !decodeJSON(w, r, h.validate, &req) {
		return
	}

	if err := h.service.UpdateQuantity(r.Context(), userIDFrom(r.Context()), productID, req.Quantity); err != nil {
		respondWithServiceError(w, err, "Failed to update cart item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	if err := h.service.RemoveItem(r.Context(), userIDFrom(r.Context()), productID); err != nil {
		respondWithServiceError(w, err, "Failed to remove cart item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Clear(r.Context(), userIDFrom(r.Context())); err != nil {
		respondWithServiceError(w, err, "Failed to clear cart")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) handleEstimate(w http.ResponseWriter, r *http.Request) {
	stateCode := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("state")))
	if err := h.validate.Var(stateCode, "omitempty,len=2,alpha"); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid state parameter")
		return
	}

	var shipping *decimal.Decimal
	if raw := r.URL.Query().Get("shipping"); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil || amount.IsNegative() {
			respondWithError(w, http.StatusBadRequest, "Invalid shipping parameter")
			return
		}
		shipping = &amount
	}

	totals, err := h.service.Estimate(r.Context(), userIDFrom(r.Context()), stateCode, shipping)
	if err != nil {
		respondWithServiceError(w, err, "Failed to estimate cart")
		return
	}
	respondWithJSON(w, http.StatusOK, totals)
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "productID")
	productID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || productID <= 0 {
		log.Warn().Str("product_id", raw).Msg("handler: failed to parse product id from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid product id")
		return 0, false
	}
	return productID, true
}
