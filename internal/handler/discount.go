package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/order-management/internal/domain/customer"
	"github.com/xenking/order-management/internal/domain/order"
	"github.com/xenking/order-management/pkg/httpmiddleware"
)

// listRules reports the active discount rules in evaluation order.
func (h *Handler) listRules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeRules(e, h.engine.Rules(), h.engine.Stacking())
	})
}

// quote prices a prospective order without placing it.
func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	var req order.CreateRequest
	if err := readBody(r, func(d *jx.Decoder) (err error) {
		req, err = decodeCreateOrder(d)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	q, err := h.orders.Quote(r.Context(), req)
	if err != nil {
		if errors.Is(err, customer.ErrNotFound) {
			httpmiddleware.WriteError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeQuote(e, q) })
}
