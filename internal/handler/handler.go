// Package handler exposes the order management services over HTTP.
package handler

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/order-management/internal/domain/customer"
	"github.com/xenking/order-management/internal/domain/discount"
	"github.com/xenking/order-management/internal/domain/order"
	"github.com/xenking/order-management/internal/domain/product"
	"github.com/xenking/order-management/pkg/httpmiddleware"
)

// maxBodySize bounds request bodies.
const maxBodySize = 1 << 20

// Handler serves the /api routes, delegating business logic to the domain
// services.
type Handler struct {
	orders    *order.Service
	customers *customer.Service
	products  product.Repository
	engine    *discount.Engine
}

// New constructs a Handler with the required domain dependencies.
func New(
	orders *order.Service,
	customers *customer.Service,
	products product.Repository,
	engine *discount.Engine,
) *Handler {
	return &Handler{
		orders:    orders,
		customers: customers,
		products:  products,
		engine:    engine,
	}
}

// Routes registers the API routes on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Post("/", h.createOrder)
		r.Get("/analytics", h.analytics)
		r.Get("/customer/{customerID}", h.listCustomerOrders)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getOrder)
			r.Delete("/", h.deleteOrder)
			r.Put("/status", h.updateStatus)
			r.Get("/history", h.history)
		})
	})
	r.Route("/customers", func(r chi.Router) {
		r.Get("/", h.listCustomers)
		r.Post("/", h.createCustomer)
		r.Get("/{id}", h.getCustomer)
	})
	r.Route("/products", func(r chi.Router) {
		r.Get("/", h.listProducts)
		r.Get("/{id}", h.getProduct)
	})
	r.Route("/discounts", func(r chi.Router) {
		r.Get("/rules", h.listRules)
		r.Post("/quote", h.quote)
	})
}

// badRequestError marks malformed input detected by the handler itself.
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &badRequestError{msg: fmt.Sprintf(format, args...)}
}

// writeError maps domain errors to HTTP status codes. Unknown errors are
// logged and reported as 500 without details.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		badReq   *badRequestError
		orderVal *order.ValidationError
		custVal  *customer.ValidationError
		qtyErr   *order.InvalidQuantityError
		prodErr  *order.ProductNotFoundError
	)
	switch {
	case errors.As(err, &badReq),
		errors.As(err, &orderVal),
		errors.As(err, &custVal),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrInvalidRange):
		httpmiddleware.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &qtyErr), errors.As(err, &prodErr):
		httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, customer.ErrNotFound),
		errors.Is(err, product.ErrNotFound):
		httpmiddleware.WriteError(w, http.StatusNotFound, err.Error())
	default:
		zctx.From(r.Context()).Error("Request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		httpmiddleware.WriteError(w, http.StatusInternalServerError, "internal server error")
	}
}
