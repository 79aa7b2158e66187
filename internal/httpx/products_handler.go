package httpx

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ariefcatur/storefront-orders/internal/apperr"
	"github.com/ariefcatur/storefront-orders/internal/inventory"
	"github.com/ariefcatur/storefront-orders/internal/logger"
	"github.com/ariefcatur/storefront-orders/internal/validation"
)

type ProductService interface {
	CreateProduct(ctx context.Context, in inventory.CreateProductInput) (*inventory.Product, error)
	GetProduct(ctx context.Context, id uuid.UUID) (*inventory.Product, error)
	ListProducts(ctx context.Context) ([]inventory.Product, error)
}

type ProductsHandler struct {
	Products ProductService
	Logger   *logger.Logger
}

type productListResponse struct {
	Products []inventory.Product `json:"products"`
}

type productResponse struct {
	Message string             `json:"message,omitempty"`
	Product *inventory.Product `json:"product"`
}

// Register mounts the catalog routes. Reading products is public.
func (h *ProductsHandler) Register(r chi.Router, auth func(http.Handler) http.Handler) {
	if h.Logger == nil {
		h.Logger = logger.Nop()
	}
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
	r.With(auth).Post("/products", h.createProduct)
}

func (h *ProductsHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var in inventory.CreateProductInput
	if err := validation.DecodeJSON(r.Body, &in); err != nil {
		writeError(ctx, h.Logger, w, err)
		return
	}
	p, err := h.Products.CreateProduct(ctx, in)
	if err != nil {
		writeError(ctx, h.Logger, w, err)
		return
	}
	writeJSON(w, http.StatusCreated, productResponse{Message: "product created", Product: p})
}

func (h *ProductsHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(ctx, h.Logger, w, apperr.Validation("id", "must be a valid id"))
		return
	}
	p, err := h.Products.GetProduct(ctx, id)
	if err != nil {
		writeError(ctx, h.Logger, w, err)
		return
	}
	writeJSON(w, http.StatusOK, productResponse{Product: p})
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	list, err := h.Products.ListProducts(r.Context())
	if err != nil {
		writeError(r.Context(), h.Logger, w, err)
		return
	}
	writeJSON(w, http.StatusOK, productListResponse{Products: list})
}
