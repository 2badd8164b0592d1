package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/masar-academy/api/internal/domain"
	"github.com/masar-academy/api/internal/platform/auth"
	"github.com/masar-academy/api/internal/services"
)

const (
	maxOrderBodySize     = 16 * 1024
	idempotencyKeyHeader = "Idempotency-Key"
)

type createOrderRequest struct {
	Kind          string               `json:"kind"`
	BookingID     string               `json:"booking_id"`
	CourseID      string               `json:"course_id"`
	CouponCode    string               `json:"coupon_code"`
	PaymentMethod string               `json:"payment_method"`
	BankTransfer  *bankTransferRequest `json:"bank_transfer"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type paymentSessionResponse struct {
	OrderID      string `json:"order_id"`
	Provider     string `json:"provider"`
	IntentID     string `json:"intent_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`
	RedirectURL  string `json:"redirect_url,omitempty"`
}

// OrderHandlers exposes order endpoints for authenticated users.
type OrderHandlers struct {
	authn  *auth.Authenticator
	orders services.OrderService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:  authn,
		orders: orders,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:pay", h.startPayment)
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	var req createOrderRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, false, &req) {
		return
	}

	purchase := domain.Purchase{
		Kind:      domain.PurchaseKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		BookingID: strings.TrimSpace(req.BookingID),
		CourseID:  strings.TrimSpace(req.CourseID),
	}
	if purchase.Kind == "" {
		switch {
		case purchase.BookingID != "":
			purchase.Kind = domain.PurchaseKindConsultation
		case purchase.CourseID != "":
			purchase.Kind = domain.PurchaseKindCourse
		}
	}
	transfer, err := req.BankTransfer.submission()
	if err != nil {
		writeInvalid(ctx, w, "bank_transfer.transfer_date must be YYYY-MM-DD")
		return
	}

	order, err := h.orders.CreateOrder(ctx, services.CreateOrderCommand{
		Actor:         userActor(identity),
		Purchase:      purchase,
		CouponCode:    req.CouponCode,
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		BankTransfer:  transfer,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	filter, ok := parseOrderFilter(w, r)
	if !ok {
		return
	}
	filter.UserID = strings.TrimSpace(identity.UID)

	page, err := h.orders.ListOrders(ctx, userActor(identity), filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildList(page, buildOrderPayload))
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID", "order")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, userActor(identity))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) startPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		writeUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := pathID(w, r, "orderID", "order")
	if !ok {
		return
	}

	session, err := h.orders.StartPayment(ctx, services.StartPaymentCommand{
		OrderID:        orderID,
		Actor:          userActor(identity),
		IdempotencyKey: strings.TrimSpace(r.Header.Get(idempotencyKeyHeader)),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, paymentSessionResponse{
		OrderID:      session.OrderID,
		Provider:     session.Provider,
		IntentID:     session.IntentID,
		ClientSecret: session.ClientSecret,
		RedirectURL:  session.RedirectURL,
	})
}

func parseOrderFilter(w http.ResponseWriter, r *http.Request) (services.OrderListFilter, bool) {
	ctx := r.Context()
	query, err := parseListQuery(r)
	if err != nil {
		writeInvalid(ctx, w, err.Error())
		return services.OrderListFilter{}, false
	}
	values := r.URL.Query()
	filter := services.OrderListFilter{
		BookingID:  strings.TrimSpace(values.Get("booking_id")),
		DateRange:  query.dateRange,
		Pagination: query.page,
	}
	for _, raw := range parseFilterValues(values["status"]) {
		status := domain.OrderStatus(raw)
		if !status.Valid() {
			writeInvalid(ctx, w, "status "+raw+" is not an order status")
			return services.OrderListFilter{}, false
		}
		filter.Status = append(filter.Status, status)
	}
	if raw := strings.ToLower(strings.TrimSpace(values.Get("payment_method"))); raw != "" {
		method := domain.PaymentMethod(raw)
		if !method.Valid() {
			writeInvalid(ctx, w, "payment_method "+raw+" is not supported")
			return services.OrderListFilter{}, false
		}
		filter.PaymentMethod = method
	}
	return filter, true
}
