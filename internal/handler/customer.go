package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/jx"

	"github.com/xenking/order-management/internal/domain/customer"
)

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	var req customer.CreateRequest
	if err := readBody(r, func(d *jx.Decoder) (err error) {
		req, err = decodeCreateCustomer(d)
		return err
	}); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.customers.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/customers/"+strconv.FormatInt(c.ID, 10))
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { encodeCustomer(e, c) })
}

func (h *Handler) getCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.customers.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { encodeCustomer(e, c) })
}

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.customers.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for i := range customers {
			encodeCustomer(e, &customers[i])
		}
		e.ArrEnd()
	})
}
