package handler

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/order-management/internal/domain/customer"
	"github.com/xenking/order-management/internal/domain/discount"
	"github.com/xenking/order-management/internal/domain/order"
	"github.com/xenking/order-management/internal/domain/product"
)

func writeJSON(w http.ResponseWriter, code int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

// readBody reads a bounded request body and decodes it with fn.
func readBody(r *http.Request, fn func(d *jx.Decoder) error) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(data) == 0 {
		return badRequest("request body is required")
	}
	if err := fn(jx.DecodeBytes(data)); err != nil {
		var badReq *badRequestError
		if errors.As(err, &badReq) {
			return err
		}
		return badRequest("invalid JSON: %s", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

func money(e *jx.Encoder, v decimal.Decimal) {
	e.Raw([]byte(v.StringFixed(2)))
}

func timestamp(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(o.ID)
	e.FieldStart("orderNumber")
	e.Str(o.Number)
	e.FieldStart("orderDate")
	timestamp(e, o.PlacedAt)
	e.FieldStart("status")
	e.Str(o.Status.String())
	e.FieldStart("totalAmount")
	money(e, o.TotalAmount)
	e.FieldStart("discountAmount")
	money(e, o.DiscountAmount)
	e.FieldStart("finalAmount")
	money(e, o.FinalAmount)
	e.FieldStart("customerId")
	e.Int64(o.CustomerID)
	e.FieldStart("customerName")
	e.Str(o.CustomerName)
	e.FieldStart("customerSegment")
	e.Str(o.Segment.String())

	e.FieldStart("orderItems")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(it.ID)
		e.FieldStart("productId")
		e.Int64(it.ProductID)
		e.FieldStart("productName")
		e.Str(it.ProductName)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("unitPrice")
		money(e, it.UnitPrice)
		e.FieldStart("discount")
		money(e, it.Discount)
		e.FieldStart("totalPrice")
		money(e, it.LineTotal())
		e.ObjEnd()
	}
	e.ArrEnd()

	e.FieldStart("discounts")
	encodeApplied(e, o.Discounts)

	e.FieldStart("statusHistory")
	encodeHistory(e, o.History)
	e.ObjEnd()
}

func encodeApplied(e *jx.Encoder, applied []order.AppliedDiscount) {
	e.ArrStart()
	for _, a := range applied {
		e.ObjStart()
		e.FieldStart("rule")
		e.Str(a.Rule)
		e.FieldStart("amount")
		money(e, a.Amount)
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeHistory(e *jx.Encoder, history []order.StatusChange) {
	e.ArrStart()
	for _, h := range history {
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(h.ID)
		e.FieldStart("oldStatus")
		e.Str(h.OldStatus.String())
		e.FieldStart("newStatus")
		e.Str(h.NewStatus.String())
		e.FieldStart("changedAt")
		timestamp(e, h.ChangedAt)
		e.FieldStart("changedBy")
		e.Str(h.ChangedBy)
		if h.Notes != "" {
			e.FieldStart("notes")
			e.Str(h.Notes)
		}
		e.ObjEnd()
	}
	e.ArrEnd()
}

func encodeOrders(e *jx.Encoder, orders []order.Order) {
	e.ArrStart()
	for i := range orders {
		encodeOrder(e, &orders[i])
	}
	e.ArrEnd()
}

func encodeAnalytics(e *jx.Encoder, a *order.Analytics) {
	e.ObjStart()
	e.FieldStart("startDate")
	timestamp(e, a.From)
	e.FieldStart("endDate")
	timestamp(e, a.To)
	e.FieldStart("totalOrders")
	e.Int(a.TotalOrders)
	e.FieldStart("totalRevenue")
	money(e, a.TotalRevenue)
	e.FieldStart("averageOrderValue")
	money(e, a.AverageOrderValue)
	e.FieldStart("averageFulfillmentTime")
	e.Str(a.AverageFulfillmentTime.String())
	e.FieldStart("ordersByStatus")
	e.ObjStart()
	for _, s := range order.Statuses() {
		if n, ok := a.OrdersByStatus[s]; ok {
			e.FieldStart(s.String())
			e.Int(n)
		}
	}
	e.ObjEnd()
	e.FieldStart("ordersByCustomerSegment")
	e.ObjStart()
	for _, s := range customer.Segments() {
		if n, ok := a.OrdersBySegment[s]; ok {
			e.FieldStart(s.String())
			e.Int(n)
		}
	}
	e.ObjEnd()
	e.ObjEnd()
}

func encodeCustomer(e *jx.Encoder, c *customer.Customer) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(c.ID)
	e.FieldStart("name")
	e.Str(c.Name)
	if c.Email != "" {
		e.FieldStart("email")
		e.Str(c.Email)
	}
	e.FieldStart("segment")
	e.Str(c.Segment.String())
	e.FieldStart("createdAt")
	timestamp(e, c.CreatedAt)
	if c.UpdatedAt != nil {
		e.FieldStart("updatedAt")
		timestamp(e, *c.UpdatedAt)
	}
	e.ObjEnd()
}

func encodeProduct(e *jx.Encoder, p *product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	if p.Description != "" {
		e.FieldStart("description")
		e.Str(p.Description)
	}
	e.FieldStart("price")
	money(e, p.Price)
	e.FieldStart("stockQuantity")
	e.Int(p.StockQuantity)
	e.ObjEnd()
}

func encodeRules(e *jx.Encoder, rules []discount.Rule, stacking discount.Stacking) {
	e.ObjStart()
	e.FieldStart("stacking")
	e.Str(stacking.String())
	e.FieldStart("rules")
	e.ArrStart()
	for _, r := range rules {
		e.ObjStart()
		e.FieldStart("name")
		e.Str(r.Name())
		e.FieldStart("priority")
		e.Int(r.Priority())
		e.ObjEnd()
	}
	e.ArrEnd()
	e.ObjEnd()
}

func encodeQuote(e *jx.Encoder, q *order.Quote) {
	e.ObjStart()
	e.FieldStart("customerId")
	e.Int64(q.Customer.ID)
	e.FieldStart("customerSegment")
	e.Str(q.Customer.Segment.String())
	e.FieldStart("totalAmount")
	money(e, q.TotalAmount)
	e.FieldStart("discountAmount")
	money(e, q.DiscountAmount)
	e.FieldStart("finalAmount")
	money(e, q.FinalAmount)
	e.FieldStart("discounts")
	encodeApplied(e, q.Discounts)
	e.ObjEnd()
}

// decodeCreateOrder accepts {"customerId", "orderItems": [{"productId",
// "quantity"}]}. "items" is accepted as an alias of "orderItems"; unit
// prices sent by clients are ignored in favour of catalog prices.
func decodeCreateOrder(d *jx.Decoder) (order.CreateRequest, error) {
	var req order.CreateRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "customerId":
			v, err := d.Int64()
			req.CustomerID = v
			return err
		case "orderItems", "items":
			return d.Arr(func(d *jx.Decoder) error {
				var it order.ItemRequest
				err := d.Obj(func(d *jx.Decoder, key string) error {
					switch key {
					case "productId":
						v, err := d.Int64()
						it.ProductID = v
						return err
					case "quantity":
						v, err := d.Int()
						it.Quantity = v
						return err
					default:
						return d.Skip()
					}
				})
				req.Items = append(req.Items, it)
				return err
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return req, err
	}
	if req.CustomerID <= 0 {
		return req, badRequest("customerId is required")
	}
	return req, nil
}

// decodeStatusUpdate accepts newStatus as a status name or its number.
func decodeStatusUpdate(d *jx.Decoder) (order.StatusUpdate, error) {
	var (
		upd     order.StatusUpdate
		present bool
	)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "newStatus":
			present = true
			if d.Next() == jx.Number {
				v, err := d.Int()
				upd.NewStatus = order.Status(v)
				return err
			}
			v, err := d.Str()
			if err != nil {
				return err
			}
			s, err := order.ParseStatus(v)
			if err != nil {
				return badRequest("%s", err)
			}
			upd.NewStatus = s
			return nil
		case "changedBy":
			v, err := d.Str()
			upd.ChangedBy = v
			return err
		case "notes":
			if d.Next() == jx.Null {
				return d.Null()
			}
			v, err := d.Str()
			upd.Notes = v
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return upd, err
	}
	if !present {
		return upd, badRequest("newStatus is required")
	}
	return upd, nil
}

func decodeCreateCustomer(d *jx.Decoder) (customer.CreateRequest, error) {
	var req customer.CreateRequest
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "name":
			v, err := d.Str()
			req.Name = v
			return err
		case "email":
			v, err := d.Str()
			req.Email = v
			return err
		case "segment":
			v, err := d.Str()
			if err != nil {
				return err
			}
			s, err := customer.ParseSegment(v)
			if err != nil {
				return badRequest("%s", err)
			}
			req.Segment = s
			return nil
		default:
			return d.Skip()
		}
	})
	return req, err
}
